package models

import (
	"context"
	"time"
)

// PublicNetworkUnitID is the sentinel unit_id value marking a Network as
// public: usable cross-unit, authorable only by platform administrators.
const PublicNetworkUnitID = ""

// Network has the same shape as Application, plus the public-network
// sentinel on UnitID.
type Network struct {
	NetworkID  string
	Code       string
	UnitID     string // "" for a public network
	UnitCode   string // "" for a public network
	CreatedAt  time.Time
	ModifiedAt time.Time
	HostURI    string
	Name       string
	Info       Info
}

// IsPublic reports whether n is a public, cross-unit network.
func (n *Network) IsPublic() bool { return n.UnitID == PublicNetworkUnitID }

type NetworkSortKey int

const (
	NetworkSortCreatedAt NetworkSortKey = iota
	NetworkSortModifiedAt
	NetworkSortCode
	NetworkSortName
)

type NetworkSortCond struct {
	Key   NetworkSortKey
	Order SortOrder
}

// NetworkQueryCond selects at most one Network. A nil UnitID matches any
// unit including public; use a pointer to "" to restrict to public only.
type NetworkQueryCond struct {
	NetworkID *string
	UnitID    *string
	Code      *string
}

type NetworkListQueryCond struct {
	UnitID     *string
	CodeLike   *string
	PublicOnly bool
}

type NetworkListOptions struct {
	Cond NetworkListQueryCond
	Sort []NetworkSortCond
	ListOptions
}

type NetworkUpdates struct {
	ModifiedAt *time.Time
	HostURI    *string
	Name       *string
	Info       *Info
}

// NetworkModel is the data-store contract for Network.
type NetworkModel interface {
	Get(ctx context.Context, cond NetworkQueryCond) (*Network, error)
	Add(ctx context.Context, network *Network) error
	Del(ctx context.Context, cond NetworkQueryCond) error
	Update(ctx context.Context, cond NetworkQueryCond, updates NetworkUpdates) error
	Count(ctx context.Context, cond NetworkListQueryCond) (int, error)
	List(ctx context.Context, opts NetworkListOptions) ([]Network, *Cursor, error)
}
