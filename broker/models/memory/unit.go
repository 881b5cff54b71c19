package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sylvia-iot/broker/broker/errs"
	"github.com/sylvia-iot/broker/broker/models"
)

// UnitModel is the in-memory models.UnitModel.
type UnitModel struct {
	mu     sync.RWMutex
	byID   map[string]models.Unit
	byCode map[string]string // code -> unit_id
}

// NewUnitModel creates an empty in-memory Unit store.
func NewUnitModel() *UnitModel {
	return &UnitModel{
		byID:   make(map[string]models.Unit),
		byCode: make(map[string]string),
	}
}

func (m *UnitModel) Get(ctx context.Context, cond models.UnitQueryCond) (*models.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.resolveID(cond)
	if !ok {
		return nil, nil
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := u
	return &cp, nil
}

func (m *UnitModel) resolveID(cond models.UnitQueryCond) (string, bool) {
	if cond.UnitID != nil {
		return *cond.UnitID, true
	}
	if cond.Code != nil {
		id, ok := m.byCode[*cond.Code]
		return id, ok
	}
	return "", false
}

func (m *UnitModel) Add(ctx context.Context, unit *models.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[unit.UnitID]; exists {
		return errs.ErrUnitExist
	}
	if _, exists := m.byCode[unit.Code]; exists {
		return errs.ErrUnitExist
	}
	m.byID[unit.UnitID] = *unit
	m.byCode[unit.Code] = unit.UnitID
	return nil
}

func (m *UnitModel) Del(ctx context.Context, cond models.UnitQueryCond) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resolveID(cond)
	if !ok {
		return nil
	}
	if u, ok := m.byID[id]; ok {
		delete(m.byCode, u.Code)
		delete(m.byID, id)
	}
	return nil
}

func (m *UnitModel) Update(ctx context.Context, cond models.UnitQueryCond, updates models.UnitUpdates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resolveID(cond)
	if !ok {
		return errs.ErrUnitNotExist
	}
	u, ok := m.byID[id]
	if !ok {
		return errs.ErrUnitNotExist
	}
	if updates.ModifiedAt != nil {
		u.ModifiedAt = *updates.ModifiedAt
	}
	if updates.OwnerID != nil {
		u.OwnerID = *updates.OwnerID
	}
	if updates.MemberIDs != nil {
		u.MemberIDs = append([]string(nil), (*updates.MemberIDs)...)
	}
	if updates.Name != nil {
		u.Name = *updates.Name
	}
	if updates.Info != nil {
		u.Info = *updates.Info
	}
	m.byID[id] = u
	return nil
}

func (m *UnitModel) matches(u models.Unit, cond models.UnitListQueryCond) bool {
	if !strEq(cond.UnitID, u.UnitID) {
		return false
	}
	if cond.CodeLike != nil && !strings.Contains(u.Code, *cond.CodeLike) {
		return false
	}
	if !strEq(cond.OwnerID, u.OwnerID) {
		return false
	}
	if cond.MemberID != nil {
		found := false
		for _, id := range u.MemberIDs {
			if id == *cond.MemberID {
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

func (m *UnitModel) Count(ctx context.Context, cond models.UnitListQueryCond) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, u := range m.byID {
		if m.matches(u, cond) {
			count++
		}
	}
	return count, nil
}

func (m *UnitModel) List(ctx context.Context, opts models.UnitListOptions) ([]models.Unit, *models.Cursor, error) {
	m.mu.RLock()
	filtered := make([]models.Unit, 0, len(m.byID))
	for _, u := range m.byID {
		if m.matches(u, opts.Cond) {
			filtered = append(filtered, u)
		}
	}
	m.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool { return unitLess(filtered[i], filtered[j], opts.Sort) })
	page, next := paginate(filtered, opts.ListOptions)
	return page, next, nil
}

func unitLess(a, b models.Unit, conds []models.UnitSortCond) bool {
	if len(conds) == 0 {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	for _, c := range conds {
		var cmp int
		switch c.Key {
		case models.UnitSortModifiedAt:
			cmp = timeCompare(a.ModifiedAt, b.ModifiedAt)
		case models.UnitSortCode:
			cmp = strings.Compare(a.Code, b.Code)
		case models.UnitSortName:
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

var _ models.UnitModel = (*UnitModel)(nil)
