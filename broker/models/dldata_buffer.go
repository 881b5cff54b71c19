package models

import (
	"context"
	"time"
)

// DlDataBuffer is the transient correlation record for one in-flight
// downlink, keyed by DataID. Created at downlink admission, deleted on
// dldata-result or TTL expiry.
type DlDataBuffer struct {
	DataID          string
	UnitID          string
	UnitCode        string
	ApplicationID   string
	ApplicationCode string
	NetworkID       string
	NetworkAddr     string
	DeviceID        string
	CreatedAt       time.Time
	ExpiredAt       time.Time
}

type DlDataBufferListQueryCond struct {
	DataID        *string
	UnitID        *string
	ApplicationID *string
	NetworkID     *string
	DeviceID      *string
	// ExpiredBefore is set by the TTL sweeper to find rows past their
	// ExpiredAt.
	ExpiredBefore *time.Time
}

type DlDataBufferListOptions struct {
	Cond DlDataBufferListQueryCond
	ListOptions
}

// DlDataBufferModel is the data-store contract for DlDataBuffer.
type DlDataBufferModel interface {
	Get(ctx context.Context, dataID string) (*DlDataBuffer, error)
	Add(ctx context.Context, buf *DlDataBuffer) error
	Del(ctx context.Context, dataID string) error
	// DelByDevice purges every buffer row referencing deviceID — used when a
	// Device is deleted, so matching buffer rows don't outlive it or block
	// the delete.
	DelByDevice(ctx context.Context, deviceID string) error
	Count(ctx context.Context, cond DlDataBufferListQueryCond) (int, error)
	List(ctx context.Context, opts DlDataBufferListOptions) ([]DlDataBuffer, *Cursor, error)
}
