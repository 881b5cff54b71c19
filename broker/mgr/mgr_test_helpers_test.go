package mgr

import (
	"context"
	"sync"

	"github.com/sylvia-iot/broker/mq"
)

// fakeConn is a minimal mq.Connection stand-in for Manager tests.
type fakeConn struct{}

func (fakeConn) URI() string                             { return "fake://test" }
func (fakeConn) Status() mq.Status                       { return mq.StatusConnected }
func (fakeConn) AddHandler(h mq.ConnEventHandler) string { return "" }
func (fakeConn) RemoveHandler(id string)                 {}
func (fakeConn) Connect() error                          { return nil }
func (fakeConn) Close(ctx context.Context) error         { return nil }

// fakeQueue is a minimal mq.Queue stand-in that records every Send and can
// be told to fail Connect/Send on demand.
type fakeQueue struct {
	mu         sync.Mutex
	name       string
	isRecv     bool
	status     mq.Status
	sent       [][]byte
	msgHandler mq.MessageHandler
	connectErr error
	sendErr    error
}

func newFakeQueue(opts mq.QueueOptions) *fakeQueue {
	return &fakeQueue{name: opts.Name, isRecv: opts.IsRecv, status: mq.StatusClosed}
}

func fakeQueueFactory(queues map[string]*fakeQueue) QueueFactory {
	return func(opts mq.QueueOptions, conn mq.Connection) (mq.Queue, error) {
		q := newFakeQueue(opts)
		if queues != nil {
			queues[opts.Name] = q
		}
		return q, nil
	}
}

func (q *fakeQueue) Name() string   { return q.name }
func (q *fakeQueue) IsRecv() bool   { return q.isRecv }
func (q *fakeQueue) Status() mq.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}
func (q *fakeQueue) SetHandler(h mq.EventHandler) {}
func (q *fakeQueue) ClearHandler()                {}
func (q *fakeQueue) SetMessageHandler(h mq.MessageHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgHandler = h
}

func (q *fakeQueue) Connect() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.connectErr != nil {
		return q.connectErr
	}
	q.status = mq.StatusConnected
	return nil
}

func (q *fakeQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status = mq.StatusClosed
	return nil
}

func (q *fakeQueue) Send(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRecv {
		return mq.ErrQueueIsReceiver
	}
	if q.sendErr != nil {
		return q.sendErr
	}
	if q.status != mq.StatusConnected {
		return mq.ErrNotConnected
	}
	q.sent = append(q.sent, payload)
	return nil
}

func (q *fakeQueue) lastSent() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.sent) == 0 {
		return nil
	}
	return q.sent[len(q.sent)-1]
}

// deliver simulates a message arriving on a receiver queue, invoking
// whatever message handler the Manager installed.
func (q *fakeQueue) deliver(ctx context.Context, msg mq.Message) {
	q.mu.Lock()
	h := q.msgHandler
	q.mu.Unlock()
	if h != nil {
		h.OnMessage(ctx, q, msg)
	}
}

// fakeMessage is a minimal mq.Message stand-in.
type fakeMessage struct {
	payload []byte
	acked   bool
	nacked  bool
}

func (m *fakeMessage) Payload() []byte { return m.payload }
func (m *fakeMessage) Ack(ctx context.Context) error {
	m.acked = true
	return nil
}
func (m *fakeMessage) Nack(ctx context.Context) error {
	m.nacked = true
	return nil
}
