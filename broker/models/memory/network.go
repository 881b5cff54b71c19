package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sylvia-iot/broker/broker/errs"
	"github.com/sylvia-iot/broker/broker/models"
)

// NetworkModel is the in-memory models.NetworkModel. Public networks are
// keyed under models.PublicNetworkUnitID ("") in byUnitCode exactly like any
// other unit, since the sentinel is itself a valid map key.
type NetworkModel struct {
	mu         sync.RWMutex
	byID       map[string]models.Network
	byUnitCode map[string]map[string]string
}

// NewNetworkModel creates an empty in-memory Network store.
func NewNetworkModel() *NetworkModel {
	return &NetworkModel{
		byID:       make(map[string]models.Network),
		byUnitCode: make(map[string]map[string]string),
	}
}

func (m *NetworkModel) resolveID(cond models.NetworkQueryCond) (string, bool) {
	if cond.NetworkID != nil {
		return *cond.NetworkID, true
	}
	if cond.UnitID != nil && cond.Code != nil {
		id, ok := m.byUnitCode[*cond.UnitID][*cond.Code]
		return id, ok
	}
	return "", false
}

func (m *NetworkModel) Get(ctx context.Context, cond models.NetworkQueryCond) (*models.Network, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.resolveID(cond)
	if !ok {
		return nil, nil
	}
	n, ok := m.byID[id]
	if !ok || (cond.UnitID != nil && n.UnitID != *cond.UnitID) {
		return nil, nil
	}
	cp := n
	return &cp, nil
}

func (m *NetworkModel) Add(ctx context.Context, network *models.Network) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[network.NetworkID]; exists {
		return errs.ErrNetworkExist
	}
	byCode, ok := m.byUnitCode[network.UnitID]
	if !ok {
		byCode = make(map[string]string)
		m.byUnitCode[network.UnitID] = byCode
	}
	if _, exists := byCode[network.Code]; exists {
		return errs.ErrNetworkExist
	}
	m.byID[network.NetworkID] = *network
	byCode[network.Code] = network.NetworkID
	return nil
}

func (m *NetworkModel) Del(ctx context.Context, cond models.NetworkQueryCond) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.byID {
		if cond.NetworkID != nil && id != *cond.NetworkID {
			continue
		}
		if cond.UnitID != nil && n.UnitID != *cond.UnitID {
			continue
		}
		if cond.Code != nil && n.Code != *cond.Code {
			continue
		}
		delete(m.byID, id)
		if byCode, ok := m.byUnitCode[n.UnitID]; ok {
			delete(byCode, n.Code)
		}
	}
	return nil
}

func (m *NetworkModel) Update(ctx context.Context, cond models.NetworkQueryCond, updates models.NetworkUpdates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resolveID(cond)
	if !ok {
		return errs.ErrNetworkNotExist
	}
	n, ok := m.byID[id]
	if !ok {
		return errs.ErrNetworkNotExist
	}
	if updates.ModifiedAt != nil {
		n.ModifiedAt = *updates.ModifiedAt
	}
	if updates.HostURI != nil {
		n.HostURI = *updates.HostURI
	}
	if updates.Name != nil {
		n.Name = *updates.Name
	}
	if updates.Info != nil {
		n.Info = *updates.Info
	}
	m.byID[id] = n
	return nil
}

func (m *NetworkModel) matches(n models.Network, cond models.NetworkListQueryCond) bool {
	if cond.PublicOnly && !n.IsPublic() {
		return false
	}
	if !strEq(cond.UnitID, n.UnitID) {
		return false
	}
	if cond.CodeLike != nil && !strings.Contains(n.Code, *cond.CodeLike) {
		return false
	}
	return true
}

func (m *NetworkModel) Count(ctx context.Context, cond models.NetworkListQueryCond) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.byID {
		if m.matches(n, cond) {
			count++
		}
	}
	return count, nil
}

func (m *NetworkModel) List(ctx context.Context, opts models.NetworkListOptions) ([]models.Network, *models.Cursor, error) {
	m.mu.RLock()
	filtered := make([]models.Network, 0, len(m.byID))
	for _, n := range m.byID {
		if m.matches(n, opts.Cond) {
			filtered = append(filtered, n)
		}
	}
	m.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool { return networkLess(filtered[i], filtered[j], opts.Sort) })
	page, next := paginate(filtered, opts.ListOptions)
	return page, next, nil
}

func networkLess(a, b models.Network, conds []models.NetworkSortCond) bool {
	if len(conds) == 0 {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	for _, c := range conds {
		var cmp int
		switch c.Key {
		case models.NetworkSortModifiedAt:
			cmp = timeCompare(a.ModifiedAt, b.ModifiedAt)
		case models.NetworkSortCode:
			cmp = strings.Compare(a.Code, b.Code)
		case models.NetworkSortName:
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

var _ models.NetworkModel = (*NetworkModel)(nil)
