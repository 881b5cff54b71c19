package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sylvia-iot/broker/broker/errs"
	"github.com/sylvia-iot/broker/broker/models"
)

// DeviceRouteModel is the in-memory models.DeviceRouteModel, grounded on
// sylvia-iot-broker/src/models/memory/device_route.rs.
type DeviceRouteModel struct {
	mu   sync.RWMutex
	byID map[string]models.DeviceRoute
	// byAppDevice[applicationID][deviceID] = routeID, enforcing the
	// (application_id, device_id) uniqueness invariant.
	byAppDevice map[string]map[string]string
}

// NewDeviceRouteModel creates an empty in-memory DeviceRoute store.
func NewDeviceRouteModel() *DeviceRouteModel {
	return &DeviceRouteModel{
		byID:        make(map[string]models.DeviceRoute),
		byAppDevice: make(map[string]map[string]string),
	}
}

func (m *DeviceRouteModel) addLocked(r *models.DeviceRoute) error {
	if _, exists := m.byID[r.RouteID]; exists {
		return errs.ErrRouteExist
	}
	byDevice, ok := m.byAppDevice[r.ApplicationID]
	if !ok {
		byDevice = make(map[string]string)
		m.byAppDevice[r.ApplicationID] = byDevice
	}
	if _, exists := byDevice[r.DeviceID]; exists {
		return errs.ErrRouteExist
	}
	m.byID[r.RouteID] = *r
	byDevice[r.DeviceID] = r.RouteID
	return nil
}

func (m *DeviceRouteModel) Get(ctx context.Context, routeID string) (*models.DeviceRoute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[routeID]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (m *DeviceRouteModel) Add(ctx context.Context, route *models.DeviceRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(route)
}

// AddBulk adds every route, silently skipping duplicates (mirrors
// device_route.rs's add_bulk).
func (m *DeviceRouteModel) AddBulk(ctx context.Context, routes []models.DeviceRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range routes {
		_ = m.addLocked(&routes[i])
	}
	return nil
}

func routeMatchesQuery(r models.DeviceRoute, cond models.DeviceRouteQueryCond) bool {
	if !strEq(cond.RouteID, r.RouteID) {
		return false
	}
	if !strEq(cond.UnitID, r.UnitID) {
		return false
	}
	if !strEq(cond.ApplicationID, r.ApplicationID) {
		return false
	}
	if !strEq(cond.NetworkID, r.NetworkID) {
		return false
	}
	if !strEq(cond.DeviceID, r.DeviceID) {
		return false
	}
	if len(cond.NetworkAddrs) > 0 {
		found := false
		for _, addr := range cond.NetworkAddrs {
			if addr == r.NetworkAddr {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *DeviceRouteModel) Del(ctx context.Context, cond models.DeviceRouteQueryCond) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.byID {
		if !routeMatchesQuery(r, cond) {
			continue
		}
		delete(m.byID, id)
		if byDevice, ok := m.byAppDevice[r.ApplicationID]; ok {
			delete(byDevice, r.DeviceID)
		}
	}
	return nil
}

func (m *DeviceRouteModel) Update(ctx context.Context, cond models.DeviceRouteUpdateQueryCond, updates models.DeviceRouteUpdates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.byID {
		if r.DeviceID != cond.DeviceID {
			continue
		}
		if updates.ModifiedAt != nil {
			r.ModifiedAt = *updates.ModifiedAt
		}
		if updates.Profile != nil {
			r.Profile = *updates.Profile
		}
		m.byID[id] = r
	}
	return nil
}

func routeMatchesList(r models.DeviceRoute, cond models.DeviceRouteListQueryCond) bool {
	if !strEq(cond.RouteID, r.RouteID) {
		return false
	}
	if !strEq(cond.UnitID, r.UnitID) {
		return false
	}
	if !strEq(cond.UnitCode, r.UnitCode) {
		return false
	}
	if !strEq(cond.ApplicationID, r.ApplicationID) {
		return false
	}
	if !strEq(cond.ApplicationCode, r.ApplicationCode) {
		return false
	}
	if !strEq(cond.NetworkID, r.NetworkID) {
		return false
	}
	if !strEq(cond.NetworkCode, r.NetworkCode) {
		return false
	}
	if !strEq(cond.NetworkAddr, r.NetworkAddr) {
		return false
	}
	if !strEq(cond.DeviceID, r.DeviceID) {
		return false
	}
	if len(cond.NetworkAddrs) > 0 {
		found := false
		for _, addr := range cond.NetworkAddrs {
			if addr == r.NetworkAddr {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *DeviceRouteModel) Count(ctx context.Context, cond models.DeviceRouteListQueryCond) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.byID {
		if routeMatchesList(r, cond) {
			count++
		}
	}
	return count, nil
}

func (m *DeviceRouteModel) List(ctx context.Context, opts models.DeviceRouteListOptions) ([]models.DeviceRoute, *models.Cursor, error) {
	m.mu.RLock()
	filtered := make([]models.DeviceRoute, 0, len(m.byID))
	for _, r := range m.byID {
		if routeMatchesList(r, opts.Cond) {
			filtered = append(filtered, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool { return deviceRouteLess(filtered[i], filtered[j], opts.Sort) })
	page, next := paginate(filtered, opts.ListOptions)
	return page, next, nil
}

func deviceRouteLess(a, b models.DeviceRoute, conds []models.DeviceRouteSortCond) bool {
	if len(conds) == 0 {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	for _, c := range conds {
		var cmp int
		switch c.Key {
		case models.DeviceRouteSortModifiedAt:
			cmp = timeCompare(a.ModifiedAt, b.ModifiedAt)
		case models.DeviceRouteSortApplicationCode:
			cmp = strings.Compare(a.ApplicationCode, b.ApplicationCode)
		case models.DeviceRouteSortNetworkCode:
			cmp = strings.Compare(a.NetworkCode, b.NetworkCode)
		case models.DeviceRouteSortNetworkAddr:
			cmp = strings.Compare(a.NetworkAddr, b.NetworkAddr)
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

var _ models.DeviceRouteModel = (*DeviceRouteModel)(nil)
