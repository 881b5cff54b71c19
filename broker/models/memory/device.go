package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sylvia-iot/broker/broker/errs"
	"github.com/sylvia-iot/broker/broker/models"
)

// DeviceModel is the in-memory models.DeviceModel. byAddrKey enforces the
// global (effective_unit_code, network_code, network_addr) uniqueness
// invariant.
type DeviceModel struct {
	mu        sync.RWMutex
	byID      map[string]models.Device
	byAddrKey map[string]string // "unitCode\x00networkCode\x00networkAddr" -> device_id
}

// NewDeviceModel creates an empty in-memory Device store.
func NewDeviceModel() *DeviceModel {
	return &DeviceModel{
		byID:      make(map[string]models.Device),
		byAddrKey: make(map[string]string),
	}
}

func addrKey(unitCode, networkCode, networkAddr string) string {
	return unitCode + "\x00" + networkCode + "\x00" + networkAddr
}

func (m *DeviceModel) resolveID(cond models.DeviceQueryCond) (string, bool) {
	if cond.DeviceID != nil {
		return *cond.DeviceID, true
	}
	if cond.NetworkCode != nil && cond.NetworkAddr != nil {
		unitCode := ""
		if cond.UnitCode != nil {
			unitCode = *cond.UnitCode
		}
		id, ok := m.byAddrKey[addrKey(unitCode, *cond.NetworkCode, *cond.NetworkAddr)]
		return id, ok
	}
	return "", false
}

func (m *DeviceModel) Get(ctx context.Context, cond models.DeviceQueryCond) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.resolveID(cond)
	if !ok {
		return nil, nil
	}
	d, ok := m.byID[id]
	if !ok || (cond.UnitID != nil && d.UnitID != *cond.UnitID) {
		return nil, nil
	}
	cp := d
	return &cp, nil
}

func (m *DeviceModel) addLocked(device *models.Device) error {
	if _, exists := m.byID[device.DeviceID]; exists {
		return errs.NewProgrammerError("device_id already exists")
	}
	key := addrKey(device.UnitCode, device.NetworkCode, device.NetworkAddr)
	if _, exists := m.byAddrKey[key]; exists {
		return errs.ErrNetworkAddrExist
	}
	m.byID[device.DeviceID] = *device
	m.byAddrKey[key] = device.DeviceID
	return nil
}

func (m *DeviceModel) Add(ctx context.Context, device *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(device)
}

// AddBulk adds every device, silently skipping ones whose device id or
// address key already exists (device_route.rs's add_bulk semantics).
func (m *DeviceModel) AddBulk(ctx context.Context, devices []models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range devices {
		if err := m.addLocked(&devices[i]); err != nil {
			continue
		}
	}
	return nil
}

func (m *DeviceModel) Del(ctx context.Context, cond models.DeviceQueryCond) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, d := range m.byID {
		if cond.DeviceID != nil && id != *cond.DeviceID {
			continue
		}
		if cond.UnitID != nil && d.UnitID != *cond.UnitID {
			continue
		}
		if cond.NetworkID != nil && d.NetworkID != *cond.NetworkID {
			continue
		}
		delete(m.byID, id)
		delete(m.byAddrKey, addrKey(d.UnitCode, d.NetworkCode, d.NetworkAddr))
	}
	return nil
}

func (m *DeviceModel) Update(ctx context.Context, cond models.DeviceQueryCond, updates models.DeviceUpdates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resolveID(cond)
	if !ok {
		return errs.ErrDeviceNotExist
	}
	d, ok := m.byID[id]
	if !ok {
		return errs.ErrDeviceNotExist
	}
	if updates.ModifiedAt != nil {
		d.ModifiedAt = *updates.ModifiedAt
	}
	if updates.Profile != nil {
		d.Profile = *updates.Profile
	}
	if updates.Name != nil {
		d.Name = *updates.Name
	}
	if updates.Info != nil {
		d.Info = *updates.Info
	}
	m.byID[id] = d
	return nil
}

func (m *DeviceModel) matches(d models.Device, cond models.DeviceListQueryCond) bool {
	if !strEq(cond.UnitID, d.UnitID) {
		return false
	}
	if !strEq(cond.NetworkID, d.NetworkID) {
		return false
	}
	if !strEq(cond.NetworkAddr, d.NetworkAddr) {
		return false
	}
	if !strEq(cond.Profile, d.Profile) {
		return false
	}
	return true
}

func (m *DeviceModel) Count(ctx context.Context, cond models.DeviceListQueryCond) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, d := range m.byID {
		if m.matches(d, cond) {
			count++
		}
	}
	return count, nil
}

func (m *DeviceModel) List(ctx context.Context, opts models.DeviceListOptions) ([]models.Device, *models.Cursor, error) {
	m.mu.RLock()
	filtered := make([]models.Device, 0, len(m.byID))
	for _, d := range m.byID {
		if m.matches(d, opts.Cond) {
			filtered = append(filtered, d)
		}
	}
	m.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool { return deviceLess(filtered[i], filtered[j], opts.Sort) })
	page, next := paginate(filtered, opts.ListOptions)
	return page, next, nil
}

func deviceLess(a, b models.Device, conds []models.DeviceSortCond) bool {
	if len(conds) == 0 {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	for _, c := range conds {
		var cmp int
		switch c.Key {
		case models.DeviceSortModifiedAt:
			cmp = timeCompare(a.ModifiedAt, b.ModifiedAt)
		case models.DeviceSortNetworkCode:
			cmp = strings.Compare(a.NetworkCode, b.NetworkCode)
		case models.DeviceSortNetworkAddr:
			cmp = strings.Compare(a.NetworkAddr, b.NetworkAddr)
		case models.DeviceSortName:
			cmp = strings.Compare(a.Name, b.Name)
		default:
			cmp = timeCompare(a.CreatedAt, b.CreatedAt)
		}
		if cmp == 0 {
			continue
		}
		if c.Order == models.Desc {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

var _ models.DeviceModel = (*DeviceModel)(nil)
