package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sylvia-iot/broker/broker/errs"
	"github.com/sylvia-iot/broker/broker/models"
)

// NetworkRouteModel is the in-memory models.NetworkRouteModel.
type NetworkRouteModel struct {
	mu   sync.RWMutex
	byID map[string]models.NetworkRoute
	// byAppNetwork[applicationID][networkID] = routeID
	byAppNetwork map[string]map[string]string
}

// NewNetworkRouteModel creates an empty in-memory NetworkRoute store.
func NewNetworkRouteModel() *NetworkRouteModel {
	return &NetworkRouteModel{
		byID:         make(map[string]models.NetworkRoute),
		byAppNetwork: make(map[string]map[string]string),
	}
}

func (m *NetworkRouteModel) Get(ctx context.Context, routeID string) (*models.NetworkRoute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[routeID]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (m *NetworkRouteModel) Add(ctx context.Context, route *models.NetworkRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[route.RouteID]; exists {
		return errs.ErrRouteExist
	}
	byNetwork, ok := m.byAppNetwork[route.ApplicationID]
	if !ok {
		byNetwork = make(map[string]string)
		m.byAppNetwork[route.ApplicationID] = byNetwork
	}
	if _, exists := byNetwork[route.NetworkID]; exists {
		return errs.ErrRouteExist
	}
	m.byID[route.RouteID] = *route
	byNetwork[route.NetworkID] = route.RouteID
	return nil
}

func networkRouteMatches(r models.NetworkRoute, unitID, appID, networkID *string) bool {
	if !strEq(unitID, r.UnitID) {
		return false
	}
	if !strEq(appID, r.ApplicationID) {
		return false
	}
	if !strEq(networkID, r.NetworkID) {
		return false
	}
	return true
}

func (m *NetworkRouteModel) Del(ctx context.Context, cond models.NetworkRouteQueryCond) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.byID {
		if cond.RouteID != nil && id != *cond.RouteID {
			continue
		}
		if !networkRouteMatches(r, cond.UnitID, cond.ApplicationID, cond.NetworkID) {
			continue
		}
		delete(m.byID, id)
		if byNetwork, ok := m.byAppNetwork[r.ApplicationID]; ok {
			delete(byNetwork, r.NetworkID)
		}
	}
	return nil
}

func (m *NetworkRouteModel) matchesList(r models.NetworkRoute, cond models.NetworkRouteListQueryCond) bool {
	if !strEq(cond.UnitID, r.UnitID) {
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
	return true
}

func (m *NetworkRouteModel) Count(ctx context.Context, cond models.NetworkRouteListQueryCond) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.byID {
		if m.matchesList(r, cond) {
			count++
		}
	}
	return count, nil
}

func (m *NetworkRouteModel) List(ctx context.Context, opts models.NetworkRouteListOptions) ([]models.NetworkRoute, *models.Cursor, error) {
	m.mu.RLock()
	filtered := make([]models.NetworkRoute, 0, len(m.byID))
	for _, r := range m.byID {
		if m.matchesList(r, opts.Cond) {
			filtered = append(filtered, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool { return networkRouteLess(filtered[i], filtered[j], opts.Sort) })
	page, next := paginate(filtered, opts.ListOptions)
	return page, next, nil
}

func networkRouteLess(a, b models.NetworkRoute, conds []models.NetworkRouteSortCond) bool {
	if len(conds) == 0 {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	for _, c := range conds {
		var cmp int
		switch c.Key {
		case models.NetworkRouteSortApplicationCode:
			cmp = strings.Compare(a.ApplicationCode, b.ApplicationCode)
		case models.NetworkRouteSortNetworkCode:
			cmp = strings.Compare(a.NetworkCode, b.NetworkCode)
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

var _ models.NetworkRouteModel = (*NetworkRouteModel)(nil)
