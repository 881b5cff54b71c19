// Package memory provides a process-local, mutex-guarded implementation of
// every broker/models interface, grounded on
// sylvia-iot-broker/src/models/memory/device_route.rs's in-memory Cache.
// It exists so the dispatch engine, managers, and routing cache are
// independently testable without an external store; a SQL or document-store
// implementation is an out-of-scope external collaborator.
package memory

import (
	"strconv"
	"time"

	"github.com/sylvia-iot/broker/broker/models"
)

const defaultPageSize = 100

// paginate slices items per opts, encoding the resume point as a decimal
// offset cursor. Returns a nil cursor once the caller has seen everything.
func paginate[T any](items []T, opts models.ListOptions) ([]T, *models.Cursor) {
	offset := 0
	if opts.Cursor != nil {
		if n, err := strconv.Atoi(string(*opts.Cursor)); err == nil && n > 0 {
			offset = n
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if offset >= len(items) {
		return nil, nil
	}
	end := offset + limit
	if end >= len(items) {
		return items[offset:], nil
	}
	next := models.Cursor(strconv.Itoa(end))
	return items[offset:end], &next
}

func strEq(p *string, v string) bool { return p == nil || *p == v }

func timeCompare(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
