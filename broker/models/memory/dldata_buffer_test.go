package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylvia-iot/broker/broker/models"
)

func TestDlDataBufferModelAddGetDel(t *testing.T) {
	m := NewDlDataBufferModel(nil)
	require.NoError(t, m.Add(context.Background(), &models.DlDataBuffer{DataID: "d1", DeviceID: "dev-1"}))

	got, err := m.Get(context.Background(), "d1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "dev-1", got.DeviceID)

	require.NoError(t, m.Del(context.Background(), "d1"))
	got, err = m.Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDlDataBufferModelDelByDevicePurgesEveryMatchingRow(t *testing.T) {
	m := NewDlDataBufferModel(nil)
	require.NoError(t, m.Add(context.Background(), &models.DlDataBuffer{DataID: "d1", DeviceID: "dev-1"}))
	require.NoError(t, m.Add(context.Background(), &models.DlDataBuffer{DataID: "d2", DeviceID: "dev-1"}))
	require.NoError(t, m.Add(context.Background(), &models.DlDataBuffer{DataID: "d3", DeviceID: "dev-2"}))

	require.NoError(t, m.DelByDevice(context.Background(), "dev-1"))

	count, err := m.Count(context.Background(), models.DlDataBufferListQueryCond{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDlDataBufferModelListFiltersByExpiredBefore(t *testing.T) {
	m := NewDlDataBufferModel(nil)
	now := time.Now()
	require.NoError(t, m.Add(context.Background(), &models.DlDataBuffer{DataID: "d1", ExpiredAt: now.Add(-time.Hour)}))
	require.NoError(t, m.Add(context.Background(), &models.DlDataBuffer{DataID: "d2", ExpiredAt: now.Add(time.Hour)}))

	cutoff := now
	page, _, err := m.List(context.Background(), models.DlDataBufferListOptions{
		Cond: models.DlDataBufferListQueryCond{ExpiredBefore: &cutoff},
	})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "d1", page[0].DataID)
}

func TestDlDataBufferModelSweepLoopRemovesExpiredRows(t *testing.T) {
	m := NewDlDataBufferModel(nil)
	require.NoError(t, m.Add(context.Background(), &models.DlDataBuffer{DataID: "expired", ExpiredAt: time.Now().Add(-time.Second)}))
	require.NoError(t, m.Add(context.Background(), &models.DlDataBuffer{DataID: "fresh", ExpiredAt: time.Now().Add(time.Hour)}))

	stop := m.StartSweepLoop(10 * time.Millisecond)
	defer stop()

	require.Eventually(t, func() bool {
		got, err := m.Get(context.Background(), "expired")
		return err == nil && got == nil
	}, time.Second, 10*time.Millisecond)

	got, err := m.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
