package models

import (
	"context"
	"time"
)

// Device belongs to exactly one Network; UnitCode is absent (empty) iff the
// device is attached to a public network. The triple
// (EffectiveUnitCode, NetworkCode, NetworkAddr) is globally unique.
type Device struct {
	DeviceID    string
	UnitID      string
	UnitCode    string // "" iff attached to a public network
	NetworkID   string
	NetworkCode string
	NetworkAddr string
	Profile     string
	CreatedAt   time.Time
	ModifiedAt  time.Time
	Name        string
	Info        Info
}

// EffectiveUnitCode is UnitCode, or "" for devices on a public network.
func (d *Device) EffectiveUnitCode() string { return d.UnitCode }

type DeviceSortKey int

const (
	DeviceSortCreatedAt DeviceSortKey = iota
	DeviceSortModifiedAt
	DeviceSortNetworkCode
	DeviceSortNetworkAddr
	DeviceSortName
)

type DeviceSortCond struct {
	Key   DeviceSortKey
	Order SortOrder
}

type DeviceQueryCond struct {
	DeviceID *string
	UnitID   *string
	// NetworkAddr lookup, scoped by (UnitCode, NetworkCode) for the
	// globally-unique triple.
	UnitCode    *string
	NetworkID   *string
	NetworkCode *string
	NetworkAddr *string
}

type DeviceListQueryCond struct {
	UnitID      *string
	NetworkID   *string
	NetworkAddr *string
	Profile     *string
}

type DeviceListOptions struct {
	Cond DeviceListQueryCond
	Sort []DeviceSortCond
	ListOptions
}

type DeviceUpdates struct {
	ModifiedAt *time.Time
	Profile    *string
	Name       *string
	Info       *Info
}

// DeviceModel is the data-store contract for Device.
type DeviceModel interface {
	Get(ctx context.Context, cond DeviceQueryCond) (*Device, error)
	Add(ctx context.Context, device *Device) error
	AddBulk(ctx context.Context, devices []Device) error
	Del(ctx context.Context, cond DeviceQueryCond) error
	Update(ctx context.Context, cond DeviceQueryCond, updates DeviceUpdates) error
	Count(ctx context.Context, cond DeviceListQueryCond) (int, error)
	List(ctx context.Context, opts DeviceListOptions) ([]Device, *Cursor, error)
}
