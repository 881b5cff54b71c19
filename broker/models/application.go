package models

import (
	"context"
	"time"
)

// Application belongs to exactly one Unit and is cascade-deleted with it.
// UnitCode is denormalized and must match the referenced Unit at write time.
type Application struct {
	ApplicationID string
	Code          string
	UnitID        string
	UnitCode      string
	CreatedAt     time.Time
	ModifiedAt    time.Time
	HostURI       string
	Name          string
	Info          Info
}

type ApplicationSortKey int

const (
	ApplicationSortCreatedAt ApplicationSortKey = iota
	ApplicationSortModifiedAt
	ApplicationSortCode
	ApplicationSortName
)

type ApplicationSortCond struct {
	Key   ApplicationSortKey
	Order SortOrder
}

// ApplicationQueryCond selects at most one Application, optionally scoped to
// one Unit.
type ApplicationQueryCond struct {
	ApplicationID *string
	UnitID        *string
	Code          *string
}

type ApplicationListQueryCond struct {
	UnitID   *string
	CodeLike *string
}

type ApplicationListOptions struct {
	Cond ApplicationListQueryCond
	Sort []ApplicationSortCond
	ListOptions
}

type ApplicationUpdates struct {
	ModifiedAt *time.Time
	HostURI    *string
	Name       *string
	Info       *Info
}

// ApplicationModel is the data-store contract for Application.
type ApplicationModel interface {
	Get(ctx context.Context, cond ApplicationQueryCond) (*Application, error)
	Add(ctx context.Context, app *Application) error
	Del(ctx context.Context, cond ApplicationQueryCond) error
	Update(ctx context.Context, cond ApplicationQueryCond, updates ApplicationUpdates) error
	Count(ctx context.Context, cond ApplicationListQueryCond) (int, error)
	List(ctx context.Context, opts ApplicationListOptions) ([]Application, *Cursor, error)
}
