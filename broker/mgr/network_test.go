package mgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylvia-iot/broker/broker/envelope"
	"github.com/sylvia-iot/broker/mq"
)

func newTestNetworkMgr(t *testing.T, opts NetworkOptions, ul UlDataHandler, result DlDataResultHandler) (*NetworkMgr, map[string]*fakeQueue) {
	t.Helper()
	queues := make(map[string]*fakeQueue)
	if ul == nil {
		ul = func(ctx context.Context, m *NetworkMgr, data envelope.NetworkUlData, msg mq.Message) {}
	}
	if result == nil {
		result = func(ctx context.Context, m *NetworkMgr, res envelope.NetworkDlDataResult, msg mq.Message) {}
	}
	m, err := NewNetworkMgr(opts, fakeConn{}, fakeQueueFactory(queues), ul, result, nil)
	require.NoError(t, err)
	return m, queues
}

func TestNewNetworkMgrBuildsFourQueues(t *testing.T) {
	m, queues := newTestNetworkMgr(t, NetworkOptions{
		NetworkID: "net-id-1", UnitID: "unit-id-1", UnitCode: "unit1", Code: "net1",
	}, nil, nil)

	assert.Equal(t, "unit1.net1", m.Key())
	assert.Equal(t, "net-id-1", m.NetworkID())
	assert.False(t, m.IsPublic())

	assert.Contains(t, queues, "broker.network.unit1.net1.uldata")
	assert.Contains(t, queues, "broker.network.unit1.net1.dldata")
	assert.Contains(t, queues, "broker.network.unit1.net1.dldata-result")
	assert.Contains(t, queues, "broker.network.unit1.net1.ctrl")
}

func TestNetworkMgrIsPublicWhenUnitIDEmpty(t *testing.T) {
	m, _ := newTestNetworkMgr(t, NetworkOptions{Code: "public-net"}, nil, nil)
	assert.True(t, m.IsPublic())
}

func TestNetworkMgrRejectsNilHandlers(t *testing.T) {
	_, err := NewNetworkMgr(NetworkOptions{UnitCode: "unit1", Code: "net1"}, fakeConn{}, fakeQueueFactory(nil), nil, nil, nil)
	assert.Error(t, err)
}

func TestNetworkMgrSendCtrlAfterConnect(t *testing.T) {
	m, queues := newTestNetworkMgr(t, NetworkOptions{UnitCode: "unit1", Code: "net1"}, nil, nil)
	require.NoError(t, m.Connect())

	err := m.SendCtrl(context.Background(), CtrlMessage{Operation: "add", NetworkAddr: "0011", DeviceID: "dev-1"})
	require.NoError(t, err)

	sent := queues["broker.network.unit1.net1.ctrl"].lastSent()
	assert.Contains(t, string(sent), "\"networkAddr\":\"0011\"")
}

func TestNetworkMgrOnUlDataInvokesHandler(t *testing.T) {
	var got envelope.NetworkUlData
	called := false
	ul := func(ctx context.Context, m *NetworkMgr, data envelope.NetworkUlData, msg mq.Message) {
		called = true
		got = data
		_ = msg.Ack(ctx)
	}
	m, queues := newTestNetworkMgr(t, NetworkOptions{UnitCode: "unit1", Code: "net1"}, ul, nil)
	require.NoError(t, m.Connect())

	ulQueue := queues["broker.network.unit1.net1.uldata"]
	ulQueue.deliver(context.Background(), &fakeMessage{payload: []byte(`{"networkAddr":"0011","data":"00"}`)})

	assert.True(t, called)
	assert.Equal(t, "0011", got.NetworkAddr)
}

func TestNetworkMgrOnDlDataResultAcksMalformedJSON(t *testing.T) {
	called := false
	result := func(ctx context.Context, m *NetworkMgr, res envelope.NetworkDlDataResult, msg mq.Message) {
		called = true
	}
	m, queues := newTestNetworkMgr(t, NetworkOptions{UnitCode: "unit1", Code: "net1"}, nil, result)
	require.NoError(t, m.Connect())

	resultQueue := queues["broker.network.unit1.net1.dldata-result"]
	msg := &fakeMessage{payload: []byte(`not json`)}
	resultQueue.deliver(context.Background(), msg)

	assert.False(t, called)
	assert.True(t, msg.acked)
}
