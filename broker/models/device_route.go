package models

import (
	"context"
	"time"
)

// DeviceRoute binds one Device to one Application, unique per
// (ApplicationID, DeviceID). Denormalized fields let Dispatch build an
// ApplicationUlData envelope without a join.
type DeviceRoute struct {
	RouteID         string
	UnitID          string
	UnitCode        string // Application's unit code.
	ApplicationID   string
	ApplicationCode string
	DeviceID        string
	NetworkID       string
	NetworkCode     string
	NetworkAddr     string
	Profile         string
	CreatedAt       time.Time
	ModifiedAt      time.Time
}

// CacheUlData is the Routing Cache's uplink entry: the application-manager
// keys ("unit_code.application_code") every delivery to DeviceID must reach.
type CacheUlData struct {
	AppMgrKeys []string
}

// CacheDlData is the Routing Cache's downlink entry: everything Dispatch
// needs to resolve a (unit, network, addr) or (unit, device) selector to a
// NetworkMgr send.
type CacheDlData struct {
	NetMgrKey   string
	NetworkID   string
	NetworkAddr string
	DeviceID    string
	Profile     string
}

type DeviceRouteSortKey int

const (
	DeviceRouteSortCreatedAt DeviceRouteSortKey = iota
	DeviceRouteSortModifiedAt
	DeviceRouteSortApplicationCode
	DeviceRouteSortNetworkCode
	DeviceRouteSortNetworkAddr
)

type DeviceRouteSortCond struct {
	Key   DeviceRouteSortKey
	Order SortOrder
}

// DeviceRouteQueryCond selects one or more routes for Del.
type DeviceRouteQueryCond struct {
	RouteID       *string
	UnitID        *string
	ApplicationID *string
	NetworkID     *string
	DeviceID      *string
	NetworkAddrs  []string
}

type DeviceRouteListQueryCond struct {
	RouteID         *string
	UnitID          *string
	UnitCode        *string
	ApplicationID   *string
	ApplicationCode *string
	NetworkID       *string
	NetworkCode     *string
	NetworkAddr     *string
	NetworkAddrs    []string
	DeviceID        *string
}

type DeviceRouteListOptions struct {
	Cond DeviceRouteListQueryCond
	Sort []DeviceRouteSortCond
	ListOptions
}

// DeviceRouteUpdateQueryCond targets one route's device for Update.
type DeviceRouteUpdateQueryCond struct {
	DeviceID string
}

type DeviceRouteUpdates struct {
	ModifiedAt *time.Time
	Profile    *string
}

// GetCacheQueryCond resolves a downlink by (unit, network, address).
type GetCacheQueryCond struct {
	UnitCode    string
	NetworkCode string
	NetworkAddr string
}

// DelCacheQueryCond purges downlink cache entries by prefix: a nil
// NetworkCode/NetworkAddr means "all routes under this prefix", matching
// device_route.rs's Option-based prefix purge.
type DelCacheQueryCond struct {
	UnitCode    string // "" for public network
	NetworkCode *string
	NetworkAddr *string
}

// GetCachePubQueryCond resolves a public-network downlink by device.
type GetCachePubQueryCond struct {
	UnitID   string
	DeviceID string
}

// DelCachePubQueryCond purges public-network cache entries for one unit, or
// one device within it when DeviceID is set.
type DelCachePubQueryCond struct {
	UnitID   string
	DeviceID *string
}

// DeviceRouteModel is the data-store contract for DeviceRoute.
type DeviceRouteModel interface {
	Get(ctx context.Context, routeID string) (*DeviceRoute, error)
	Add(ctx context.Context, route *DeviceRoute) error
	AddBulk(ctx context.Context, routes []DeviceRoute) error
	Del(ctx context.Context, cond DeviceRouteQueryCond) error
	Update(ctx context.Context, cond DeviceRouteUpdateQueryCond, updates DeviceRouteUpdates) error
	Count(ctx context.Context, cond DeviceRouteListQueryCond) (int, error)
	List(ctx context.Context, opts DeviceRouteListOptions) ([]DeviceRoute, *Cursor, error)
}
