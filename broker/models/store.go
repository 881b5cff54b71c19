package models

// Store aggregates one model per entity. Components that need the full data
// model (Dispatch, the cache loaders) take a Store rather than one
// interface per entity, matching how sylvia-iot-broker's Rust `Model`
// bundles its per-collection traits behind one connection object.
type Store interface {
	Units() UnitModel
	Applications() ApplicationModel
	Networks() NetworkModel
	Devices() DeviceModel
	DeviceRoutes() DeviceRouteModel
	NetworkRoutes() NetworkRouteModel
	DlDataBuffers() DlDataBufferModel
}
