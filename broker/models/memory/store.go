package memory

import (
	"time"

	"github.com/sylvia-iot/broker/broker/models"
	"github.com/sylvia-iot/broker/broker/observability"
)

// Store is the one models.Store implementation this repository ships: one
// in-memory model per entity, aggregated behind models.Store the way
// sylvia-iot-broker's Rust `Model` trait bundles its per-collection traits
// behind one connection object (see broker/models/store.go).
type Store struct {
	units         *UnitModel
	applications  *ApplicationModel
	networks      *NetworkModel
	devices       *DeviceModel
	deviceRoutes  *DeviceRouteModel
	networkRoutes *NetworkRouteModel
	dlDataBuffers *DlDataBufferModel
}

// NewStore builds a fresh, empty in-memory Store. logger is passed to the
// DlDataBuffer model's sweep loop; it may be nil.
func NewStore(logger observability.Logger) *Store {
	return &Store{
		units:         NewUnitModel(),
		applications:  NewApplicationModel(),
		networks:      NewNetworkModel(),
		devices:       NewDeviceModel(),
		deviceRoutes:  NewDeviceRouteModel(),
		networkRoutes: NewNetworkRouteModel(),
		dlDataBuffers: NewDlDataBufferModel(logger),
	}
}

func (s *Store) Units() models.UnitModel                 { return s.units }
func (s *Store) Applications() models.ApplicationModel   { return s.applications }
func (s *Store) Networks() models.NetworkModel           { return s.networks }
func (s *Store) Devices() models.DeviceModel             { return s.devices }
func (s *Store) DeviceRoutes() models.DeviceRouteModel   { return s.deviceRoutes }
func (s *Store) NetworkRoutes() models.NetworkRouteModel { return s.networkRoutes }
func (s *Store) DlDataBuffers() models.DlDataBufferModel { return s.dlDataBuffers }

// StartDlDataBufferSweep starts the DlDataBuffer TTL sweep loop, returning
// its stop function.
func (s *Store) StartDlDataBufferSweep(interval time.Duration) func() {
	return s.dlDataBuffers.StartSweepLoop(interval)
}
