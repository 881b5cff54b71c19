package mqtt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylvia-iot/broker/mq"
)

func newTestConn(t *testing.T) *Connection {
	c, err := New(ConnectionOptions{ReconnectMillis: 5, ConnectTimeoutMillis: 5})
	require.NoError(t, err)
	return c
}

func TestNewQueueRejectsInvalidName(t *testing.T) {
	conn := newTestConn(t)
	_, err := NewQueue(mq.QueueOptions{Name: "bad name"}, conn)
	assert.Error(t, err)
}

func TestNewQueueDefaultsStatusToClosed(t *testing.T) {
	conn := newTestConn(t)
	q, err := NewQueue(mq.QueueOptions{Name: "unit1/data"}, conn)
	require.NoError(t, err)
	assert.Equal(t, mq.StatusClosed, q.Status())
	assert.Equal(t, "unit1/data", q.Name())
	assert.False(t, q.IsRecv())
}

func TestQueueConnectReceiverWithoutMessageHandlerFails(t *testing.T) {
	conn := newTestConn(t)
	q, err := NewQueue(mq.QueueOptions{Name: "unit1/data", IsRecv: true}, conn)
	require.NoError(t, err)

	err = q.Connect()
	assert.ErrorIs(t, err, mq.ErrNoMsgHandler)
	assert.Equal(t, mq.StatusClosed, q.Status())
}

func TestQueueConnectReceiverWithHandlerStartsConnectingLoop(t *testing.T) {
	conn := newTestConn(t)
	q, err := NewQueue(mq.QueueOptions{Name: "unit1/data", IsRecv: true}, conn)
	require.NoError(t, err)
	q.SetMessageHandler(noopMessageHandler{})

	require.NoError(t, q.Connect())
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, mq.StatusClosed, q.Status())
}

func TestQueueSendOnReceiverFails(t *testing.T) {
	conn := newTestConn(t)
	q, err := NewQueue(mq.QueueOptions{Name: "unit1/data", IsRecv: true}, conn)
	require.NoError(t, err)
	q.SetMessageHandler(noopMessageHandler{})

	err = q.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, mq.ErrQueueIsReceiver)
}

func TestQueueSendWhenNotConnectedFails(t *testing.T) {
	conn := newTestConn(t)
	q, err := NewQueue(mq.QueueOptions{Name: "unit1/data"}, conn)
	require.NoError(t, err)

	err = q.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, mq.ErrNotConnected)
}

func TestQueueCloseWithoutConnectIsANoop(t *testing.T) {
	conn := newTestConn(t)
	q, err := NewQueue(mq.QueueOptions{Name: "unit1/data"}, conn)
	require.NoError(t, err)

	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, mq.StatusClosed, q.Status())
}

func TestQueueHandlerSetAndClear(t *testing.T) {
	conn := newTestConn(t)
	q, err := NewQueue(mq.QueueOptions{Name: "unit1/data"}, conn)
	require.NoError(t, err)

	q.SetHandler(noopQueueHandler{})
	assert.NotNil(t, q.getHandler())
	q.ClearHandler()
	assert.Nil(t, q.getHandler())
}

func TestQueueTopicUsesSharedPrefixOnlyForUnicastReceivers(t *testing.T) {
	conn := newTestConn(t)

	recv, err := NewQueue(mq.QueueOptions{Name: "unit1/data", IsRecv: true, SharedPrefix: "$share/workers/"}, conn)
	require.NoError(t, err)
	assert.Equal(t, "$share/workers/unit1/data", recv.topic())

	broadcastRecv, err := NewQueue(mq.QueueOptions{Name: "unit1/data", IsRecv: true, Broadcast: true, SharedPrefix: "$share/workers/"}, conn)
	require.NoError(t, err)
	assert.Equal(t, "unit1/data", broadcastRecv.topic())

	sender, err := NewQueue(mq.QueueOptions{Name: "unit1/data", SharedPrefix: "$share/workers/"}, conn)
	require.NoError(t, err)
	assert.Equal(t, "unit1/data", sender.topic())
}

func TestQueueQosReflectsReliable(t *testing.T) {
	conn := newTestConn(t)

	reliable, err := NewQueue(mq.QueueOptions{Name: "unit1/data", Reliable: true}, conn)
	require.NoError(t, err)
	assert.Equal(t, byte(1), reliable.qos())

	unreliable, err := NewQueue(mq.QueueOptions{Name: "unit1/data"}, conn)
	require.NoError(t, err)
	assert.Equal(t, byte(0), unreliable.qos())
}

func TestMessageAckNackAreNoops(t *testing.T) {
	m := &Message{}
	assert.NoError(t, m.Ack(context.Background()))
	assert.NoError(t, m.Nack(context.Background()))
}

type noopMessageHandler struct{}

func (noopMessageHandler) OnMessage(ctx context.Context, q mq.Queue, msg mq.Message) {}

type noopQueueHandler struct{}

func (noopQueueHandler) OnStatus(q mq.Queue, status mq.Status) {}
func (noopQueueHandler) OnError(q mq.Queue, err error)         {}
