package models

import (
	"context"
	"time"
)

// Unit is a tenant boundary: owner_id must always be a member of member_ids.
type Unit struct {
	UnitID     string
	Code       string
	CreatedAt  time.Time
	ModifiedAt time.Time
	OwnerID    string
	MemberIDs  []string
	Name       string
	Info       Info
}

// UnitSortKey is the closed set of fields List may sort by.
type UnitSortKey int

const (
	UnitSortCreatedAt UnitSortKey = iota
	UnitSortModifiedAt
	UnitSortCode
	UnitSortName
)

// UnitSortCond is one (key, order) pair; List applies them in slice order.
type UnitSortCond struct {
	Key   UnitSortKey
	Order SortOrder
}

// UnitQueryCond selects at most one Unit.
type UnitQueryCond struct {
	UnitID *string
	Code   *string
}

// UnitListQueryCond narrows List/Count to a subset of Units.
type UnitListQueryCond struct {
	UnitID   *string
	CodeLike *string
	OwnerID  *string
	MemberID *string
}

// UnitListOptions combines a filter with sort and paging.
type UnitListOptions struct {
	Cond UnitListQueryCond
	Sort []UnitSortCond
	ListOptions
}

// UnitUpdates carries only the fields an Update call should change; nil
// leaves the stored value untouched.
type UnitUpdates struct {
	ModifiedAt *time.Time
	OwnerID    *string
	MemberIDs  *[]string
	Name       *string
	Info       *Info
}

// UnitModel is the data-store contract for Unit (sylvia-iot-broker's
// UnitModel trait).
type UnitModel interface {
	Get(ctx context.Context, cond UnitQueryCond) (*Unit, error)
	Add(ctx context.Context, unit *Unit) error
	Del(ctx context.Context, cond UnitQueryCond) error
	Update(ctx context.Context, cond UnitQueryCond, updates UnitUpdates) error
	Count(ctx context.Context, cond UnitListQueryCond) (int, error)
	List(ctx context.Context, opts UnitListOptions) ([]Unit, *Cursor, error)
}
