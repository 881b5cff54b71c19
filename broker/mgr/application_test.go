package mgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylvia-iot/broker/broker/envelope"
	"github.com/sylvia-iot/broker/mq"
)

func newTestApplicationMgr(t *testing.T, handler DlDataHandler) (*ApplicationMgr, map[string]*fakeQueue) {
	t.Helper()
	queues := make(map[string]*fakeQueue)
	if handler == nil {
		handler = func(ctx context.Context, m *ApplicationMgr, data envelope.ApplicationDlData, msg mq.Message) {}
	}
	m, err := NewApplicationMgr(ApplicationOptions{
		ApplicationID: "app-id-1",
		UnitID:        "unit-id-1",
		UnitCode:      "unit1",
		Code:          "app1",
	}, fakeConn{}, fakeQueueFactory(queues), handler, nil)
	require.NoError(t, err)
	return m, queues
}

func TestNewApplicationMgrBuildsFourQueues(t *testing.T) {
	m, queues := newTestApplicationMgr(t, nil)

	assert.Equal(t, "unit1.app1", m.Key())
	assert.Equal(t, "app-id-1", m.ApplicationID())
	assert.Equal(t, "unit-id-1", m.UnitID())
	assert.Equal(t, "unit1", m.UnitCode())
	assert.Equal(t, "app1", m.Code())

	assert.Contains(t, queues, "broker.application.unit1.app1.uldata")
	assert.Contains(t, queues, "broker.application.unit1.app1.dldata")
	assert.Contains(t, queues, "broker.application.unit1.app1.dldata-resp")
	assert.Contains(t, queues, "broker.application.unit1.app1.dldata-result")
}

func TestNewApplicationMgrRejectsNilHandler(t *testing.T) {
	_, err := NewApplicationMgr(ApplicationOptions{UnitCode: "unit1", Code: "app1"}, fakeConn{}, fakeQueueFactory(nil), nil, nil)
	assert.Error(t, err)
}

func TestApplicationMgrSendRequiresConnected(t *testing.T) {
	m, _ := newTestApplicationMgr(t, nil)

	err := m.SendUlData(context.Background(), envelope.ApplicationUlData{DataID: "d1"})
	assert.ErrorIs(t, err, mq.ErrNotConnected)
}

func TestApplicationMgrSendUlDataAfterConnect(t *testing.T) {
	m, queues := newTestApplicationMgr(t, nil)
	require.NoError(t, m.Connect())

	err := m.SendUlData(context.Background(), envelope.ApplicationUlData{DataID: "d1", NetworkID: "net-1"})
	require.NoError(t, err)

	sent := queues["broker.application.unit1.app1.uldata"].lastSent()
	assert.Contains(t, string(sent), "\"dataId\":\"d1\"")
}

func TestApplicationMgrOnDlDataInvokesHandler(t *testing.T) {
	var gotData envelope.ApplicationDlData
	called := false
	handler := func(ctx context.Context, m *ApplicationMgr, data envelope.ApplicationDlData, msg mq.Message) {
		called = true
		gotData = data
		_ = msg.Ack(ctx)
	}
	m, queues := newTestApplicationMgr(t, handler)
	require.NoError(t, m.Connect())

	dlQueue := queues["broker.application.unit1.app1.dldata"]
	msg := &fakeMessage{payload: []byte(`{"correlationId":"corr-1","deviceId":"dev-1","data":"00"}`)}
	dlQueue.deliver(context.Background(), msg)

	assert.True(t, called)
	assert.Equal(t, "corr-1", gotData.CorrelationID)
	assert.True(t, gotData.HasDeviceSelector())
}

func TestApplicationMgrOnDlDataAcksMalformedJSON(t *testing.T) {
	called := false
	handler := func(ctx context.Context, m *ApplicationMgr, data envelope.ApplicationDlData, msg mq.Message) {
		called = true
	}
	m, queues := newTestApplicationMgr(t, handler)
	require.NoError(t, m.Connect())

	dlQueue := queues["broker.application.unit1.app1.dldata"]
	msg := &fakeMessage{payload: []byte(`not json`)}
	dlQueue.deliver(context.Background(), msg)

	assert.False(t, called)
	assert.True(t, msg.acked)
}

func TestApplicationMgrStatusReflectsGroup(t *testing.T) {
	m, _ := newTestApplicationMgr(t, nil)
	assert.Equal(t, mq.StatusClosed, m.Status())

	require.NoError(t, m.Connect())
	assert.Equal(t, mq.StatusConnected, m.Status())

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, mq.StatusClosed, m.Status())
}
