package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sylvia-iot/broker/broker/models"
	"github.com/sylvia-iot/broker/broker/observability"
)

// DlDataBufferModel is the in-memory models.DlDataBufferModel. Besides the
// CRUD surface it runs its own TTL sweep loop, since expiring rows is the
// backing store's responsibility and this is the only store shipped in
// this repository. Sweep-loop shape grounded on
// coreengine/kernel/cleanup.go's StartCleanupLoop (ticker + done channel +
// panic-recovered cycle).
type DlDataBufferModel struct {
	mu   sync.RWMutex
	byID map[string]models.DlDataBuffer

	logger observability.Logger
}

// NewDlDataBufferModel creates an empty in-memory DlDataBuffer store.
func NewDlDataBufferModel(logger observability.Logger) *DlDataBufferModel {
	if logger == nil {
		logger = observability.NoopLogger()
	}
	return &DlDataBufferModel{
		byID:   make(map[string]models.DlDataBuffer),
		logger: logger,
	}
}

func (m *DlDataBufferModel) Get(ctx context.Context, dataID string) (*models.DlDataBuffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byID[dataID]
	if !ok {
		return nil, nil
	}
	cp := b
	return &cp, nil
}

func (m *DlDataBufferModel) Add(ctx context.Context, buf *models.DlDataBuffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[buf.DataID] = *buf
	return nil
}

func (m *DlDataBufferModel) Del(ctx context.Context, dataID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, dataID)
	return nil
}

// DelByDevice purges every row referencing deviceID, without blocking on any
// in-flight send.
func (m *DlDataBufferModel) DelByDevice(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.byID {
		if b.DeviceID == deviceID {
			delete(m.byID, id)
		}
	}
	return nil
}

func (m *DlDataBufferModel) matches(b models.DlDataBuffer, cond models.DlDataBufferListQueryCond) bool {
	if !strEq(cond.UnitID, b.UnitID) {
		return false
	}
	if !strEq(cond.ApplicationID, b.ApplicationID) {
		return false
	}
	if !strEq(cond.NetworkID, b.NetworkID) {
		return false
	}
	if !strEq(cond.DeviceID, b.DeviceID) {
		return false
	}
	if cond.ExpiredBefore != nil && !b.ExpiredAt.Before(*cond.ExpiredBefore) {
		return false
	}
	return true
}

func (m *DlDataBufferModel) Count(ctx context.Context, cond models.DlDataBufferListQueryCond) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, b := range m.byID {
		if m.matches(b, cond) {
			count++
		}
	}
	return count, nil
}

func (m *DlDataBufferModel) List(ctx context.Context, opts models.DlDataBufferListOptions) ([]models.DlDataBuffer, *models.Cursor, error) {
	m.mu.RLock()
	filtered := make([]models.DlDataBuffer, 0, len(m.byID))
	for _, b := range m.byID {
		if m.matches(b, opts.Cond) {
			filtered = append(filtered, b)
		}
	}
	m.mu.RUnlock()

	page, next := paginate(filtered, opts.ListOptions)
	return page, next, nil
}

// StartSweepLoop runs a ticker that deletes every row past its ExpiredAt
// every interval, returning a stop function. interval <= 0 defaults to one
// minute.
func (m *DlDataBufferModel) StartSweepLoop(interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				m.runSweepCycle()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

func (m *DlDataBufferModel) runSweepCycle() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("dldata_buffer_sweep_panic_recovered", "error", r)
		}
	}()

	now := time.Now()
	m.mu.Lock()
	swept := 0
	for id, b := range m.byID {
		if !b.ExpiredAt.After(now) {
			delete(m.byID, id)
			swept++
		}
	}
	m.mu.Unlock()

	if swept > 0 {
		m.logger.Debug("dldata_buffer_swept", "count", swept)
	}
}

var _ models.DlDataBufferModel = (*DlDataBufferModel)(nil)
