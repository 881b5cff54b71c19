// Package idgen generates identifiers: time-sortable data ids for the
// envelopes Dispatch hands out, and random ids for ephemeral
// handler-style registrations.
package idgen

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// DataID returns a fresh time-sortable id for an ApplicationUlData or
// NetworkDlData envelope. KSUID embeds a second-precision timestamp in its
// first four bytes, so ids sort chronologically without a separate index.
func DataID() string {
	return ksuid.New().String()
}

// HandlerID returns a fresh v4 UUID for AddHandler-style registrations,
// where ordering doesn't matter. No package in this module calls it:
// mq/amqp, mq/mqtt and broker/bus number their handlers with counters.
func HandlerID() string {
	return uuid.NewString()
}
