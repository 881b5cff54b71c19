package models

import (
	"context"
	"time"
)

// NetworkRoute binds a whole Network to an Application: every Device on
// that Network is routed, unique per (ApplicationID, NetworkID).
type NetworkRoute struct {
	RouteID         string
	UnitID          string
	UnitCode        string
	ApplicationID   string
	ApplicationCode string
	NetworkID       string
	NetworkCode     string
	CreatedAt       time.Time
}

type NetworkRouteSortKey int

const (
	NetworkRouteSortCreatedAt NetworkRouteSortKey = iota
	NetworkRouteSortApplicationCode
	NetworkRouteSortNetworkCode
)

type NetworkRouteSortCond struct {
	Key   NetworkRouteSortKey
	Order SortOrder
}

type NetworkRouteQueryCond struct {
	RouteID       *string
	UnitID        *string
	ApplicationID *string
	NetworkID     *string
}

type NetworkRouteListQueryCond struct {
	UnitID          *string
	ApplicationID   *string
	ApplicationCode *string
	NetworkID       *string
	NetworkCode     *string
}

type NetworkRouteListOptions struct {
	Cond NetworkRouteListQueryCond
	Sort []NetworkRouteSortCond
	ListOptions
}

// NetworkRouteModel is the data-store contract for NetworkRoute. There is no
// Update: a NetworkRoute carries no mutable field beyond its identity.
type NetworkRouteModel interface {
	Get(ctx context.Context, routeID string) (*NetworkRoute, error)
	Add(ctx context.Context, route *NetworkRoute) error
	Del(ctx context.Context, cond NetworkRouteQueryCond) error
	Count(ctx context.Context, cond NetworkRouteListQueryCond) (int, error)
	List(ctx context.Context, opts NetworkRouteListOptions) ([]NetworkRoute, *Cursor, error)
}
