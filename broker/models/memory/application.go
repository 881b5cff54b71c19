package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sylvia-iot/broker/broker/errs"
	"github.com/sylvia-iot/broker/broker/models"
)

// ApplicationModel is the in-memory models.ApplicationModel.
type ApplicationModel struct {
	mu   sync.RWMutex
	byID map[string]models.Application
	// byUnitCode[unitID][code] = applicationID, enforcing the per-unit
	// code uniqueness invariant.
	byUnitCode map[string]map[string]string
}

// NewApplicationModel creates an empty in-memory Application store.
func NewApplicationModel() *ApplicationModel {
	return &ApplicationModel{
		byID:       make(map[string]models.Application),
		byUnitCode: make(map[string]map[string]string),
	}
}

func (m *ApplicationModel) resolveID(cond models.ApplicationQueryCond) (string, bool) {
	if cond.ApplicationID != nil {
		return *cond.ApplicationID, true
	}
	if cond.UnitID != nil && cond.Code != nil {
		id, ok := m.byUnitCode[*cond.UnitID][*cond.Code]
		return id, ok
	}
	return "", false
}

func (m *ApplicationModel) Get(ctx context.Context, cond models.ApplicationQueryCond) (*models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.resolveID(cond)
	if !ok {
		return nil, nil
	}
	app, ok := m.byID[id]
	if !ok || (cond.UnitID != nil && app.UnitID != *cond.UnitID) {
		return nil, nil
	}
	cp := app
	return &cp, nil
}

func (m *ApplicationModel) Add(ctx context.Context, app *models.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[app.ApplicationID]; exists {
		return errs.ErrApplicationExist
	}
	byCode, ok := m.byUnitCode[app.UnitID]
	if !ok {
		byCode = make(map[string]string)
		m.byUnitCode[app.UnitID] = byCode
	}
	if _, exists := byCode[app.Code]; exists {
		return errs.ErrApplicationExist
	}
	m.byID[app.ApplicationID] = *app
	byCode[app.Code] = app.ApplicationID
	return nil
}

func (m *ApplicationModel) Del(ctx context.Context, cond models.ApplicationQueryCond) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, app := range m.byID {
		if cond.ApplicationID != nil && id != *cond.ApplicationID {
			continue
		}
		if cond.UnitID != nil && app.UnitID != *cond.UnitID {
			continue
		}
		if cond.Code != nil && app.Code != *cond.Code {
			continue
		}
		delete(m.byID, id)
		if byCode, ok := m.byUnitCode[app.UnitID]; ok {
			delete(byCode, app.Code)
		}
	}
	return nil
}

func (m *ApplicationModel) Update(ctx context.Context, cond models.ApplicationQueryCond, updates models.ApplicationUpdates) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resolveID(cond)
	if !ok {
		return errs.ErrApplicationNotExist
	}
	app, ok := m.byID[id]
	if !ok {
		return errs.ErrApplicationNotExist
	}
	if updates.ModifiedAt != nil {
		app.ModifiedAt = *updates.ModifiedAt
	}
	if updates.HostURI != nil {
		app.HostURI = *updates.HostURI
	}
	if updates.Name != nil {
		app.Name = *updates.Name
	}
	if updates.Info != nil {
		app.Info = *updates.Info
	}
	m.byID[id] = app
	return nil
}

func (m *ApplicationModel) matches(app models.Application, cond models.ApplicationListQueryCond) bool {
	if !strEq(cond.UnitID, app.UnitID) {
		return false
	}
	if cond.CodeLike != nil && !strings.Contains(app.Code, *cond.CodeLike) {
		return false
	}
	return true
}

func (m *ApplicationModel) Count(ctx context.Context, cond models.ApplicationListQueryCond) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, app := range m.byID {
		if m.matches(app, cond) {
			count++
		}
	}
	return count, nil
}

func (m *ApplicationModel) List(ctx context.Context, opts models.ApplicationListOptions) ([]models.Application, *models.Cursor, error) {
	m.mu.RLock()
	filtered := make([]models.Application, 0, len(m.byID))
	for _, app := range m.byID {
		if m.matches(app, opts.Cond) {
			filtered = append(filtered, app)
		}
	}
	m.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool { return applicationLess(filtered[i], filtered[j], opts.Sort) })
	page, next := paginate(filtered, opts.ListOptions)
	return page, next, nil
}

func applicationLess(a, b models.Application, conds []models.ApplicationSortCond) bool {
	if len(conds) == 0 {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	for _, c := range conds {
		var cmp int
		switch c.Key {
		case models.ApplicationSortModifiedAt:
			cmp = timeCompare(a.ModifiedAt, b.ModifiedAt)
		case models.ApplicationSortCode:
			cmp = strings.Compare(a.Code, b.Code)
		case models.ApplicationSortName:
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

var _ models.ApplicationModel = (*ApplicationModel)(nil)
