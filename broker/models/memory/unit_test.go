package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylvia-iot/broker/broker/errs"
	"github.com/sylvia-iot/broker/broker/models"
)

func TestUnitModelAddGetByIDAndCode(t *testing.T) {
	m := NewUnitModel()
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u1", Code: "unit1", OwnerID: "owner1"}))

	id := "u1"
	got, err := m.Get(context.Background(), models.UnitQueryCond{UnitID: &id})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "unit1", got.Code)

	code := "unit1"
	got, err = m.Get(context.Background(), models.UnitQueryCond{Code: &code})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UnitID)
}

func TestUnitModelAddRejectsDuplicateCode(t *testing.T) {
	m := NewUnitModel()
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u1", Code: "unit1"}))
	err := m.Add(context.Background(), &models.Unit{UnitID: "u2", Code: "unit1"})
	assert.ErrorIs(t, err, errs.ErrUnitExist)
}

func TestUnitModelGetMissReturnsNilNotError(t *testing.T) {
	m := NewUnitModel()
	code := "missing"
	got, err := m.Get(context.Background(), models.UnitQueryCond{Code: &code})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnitModelDelRemovesByIDAndCodeIndex(t *testing.T) {
	m := NewUnitModel()
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u1", Code: "unit1"}))

	id := "u1"
	require.NoError(t, m.Del(context.Background(), models.UnitQueryCond{UnitID: &id}))

	code := "unit1"
	got, err := m.Get(context.Background(), models.UnitQueryCond{Code: &code})
	require.NoError(t, err)
	assert.Nil(t, got)

	// Code index must be freed too: re-adding the same code must succeed.
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u2", Code: "unit1"}))
}

func TestUnitModelUpdateAppliesOnlyNonNilFields(t *testing.T) {
	m := NewUnitModel()
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u1", Code: "unit1", OwnerID: "owner1", Name: "orig"}))

	id := "u1"
	newOwner := "owner2"
	require.NoError(t, m.Update(context.Background(), models.UnitQueryCond{UnitID: &id}, models.UnitUpdates{OwnerID: &newOwner}))

	got, err := m.Get(context.Background(), models.UnitQueryCond{UnitID: &id})
	require.NoError(t, err)
	assert.Equal(t, "owner2", got.OwnerID)
	assert.Equal(t, "orig", got.Name) // untouched
}

func TestUnitModelUpdateMissingReturnsNotExist(t *testing.T) {
	m := NewUnitModel()
	id := "missing"
	newName := "x"
	err := m.Update(context.Background(), models.UnitQueryCond{UnitID: &id}, models.UnitUpdates{Name: &newName})
	assert.ErrorIs(t, err, errs.ErrUnitNotExist)
}

func TestUnitModelListFiltersByMemberID(t *testing.T) {
	m := NewUnitModel()
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u1", Code: "unit1", MemberIDs: []string{"a", "b"}}))
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u2", Code: "unit2", MemberIDs: []string{"c"}}))

	member := "a"
	page, _, err := m.List(context.Background(), models.UnitListOptions{Cond: models.UnitListQueryCond{MemberID: &member}})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "u1", page[0].UnitID)
}

func TestUnitModelListSortsByCodeDescending(t *testing.T) {
	m := NewUnitModel()
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u1", Code: "alpha"}))
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u2", Code: "beta"}))

	page, _, err := m.List(context.Background(), models.UnitListOptions{
		Sort: []models.UnitSortCond{{Key: models.UnitSortCode, Order: models.Desc}},
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "beta", page[0].Code)
	assert.Equal(t, "alpha", page[1].Code)
}

func TestUnitModelListPaginatesWithCursor(t *testing.T) {
	m := NewUnitModel()
	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Add(context.Background(), &models.Unit{
			UnitID: string(rune('a' + i)), Code: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	page1, cursor, err := m.List(context.Background(), models.UnitListOptions{ListOptions: models.ListOptions{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotNil(t, cursor)

	page2, cursor2, err := m.List(context.Background(), models.UnitListOptions{ListOptions: models.ListOptions{Limit: 2, Cursor: cursor}})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Nil(t, cursor2)
}

func TestUnitModelCount(t *testing.T) {
	m := NewUnitModel()
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u1", Code: "unit1", OwnerID: "owner1"}))
	require.NoError(t, m.Add(context.Background(), &models.Unit{UnitID: "u2", Code: "unit2", OwnerID: "owner2"}))

	owner := "owner1"
	count, err := m.Count(context.Background(), models.UnitListQueryCond{OwnerID: &owner})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
