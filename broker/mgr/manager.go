package mgr

import (
	"context"
	"sync"

	"github.com/sylvia-iot/broker/broker/observability"
	"github.com/sylvia-iot/broker/mq"
)

// QueueFactory builds an mq.Queue bound to conn. Concrete Manager
// constructors receive one per transport (mq/amqp.NewQueue or
// mq/mqtt.NewQueue adapted to this signature) so that the session/topic
// split lives in the Connection/Queue layer only; everything in this
// package stays backend-agnostic.
type QueueFactory func(opts mq.QueueOptions, conn mq.Connection) (mq.Queue, error)

// queueGroup is the shared lifecycle/aggregate-status bookkeeping both
// ApplicationMgr and NetworkMgr build on: Connected iff every constituent
// queue is Connected.
type queueGroup struct {
	mu     sync.RWMutex
	queues []mq.Queue
	logger observability.Logger
}

func (g *queueGroup) add(q mq.Queue) {
	g.mu.Lock()
	g.queues = append(g.queues, q)
	g.mu.Unlock()
}

// connect starts every queue's reconnect loop. The first error aborts,
// leaving already-started queues running; Close tears everything down.
func (g *queueGroup) connect() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, q := range g.queues {
		if err := q.Connect(); err != nil {
			return err
		}
	}
	return nil
}

// close closes every queue, collecting the first error but attempting all
// of them.
func (g *queueGroup) close(ctx context.Context) error {
	g.mu.RLock()
	queues := append([]mq.Queue(nil), g.queues...)
	g.mu.RUnlock()

	var firstErr error
	for _, q := range queues {
		if err := q.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// status reports mq.StatusConnected iff every queue is Connected; otherwise
// it reports the last non-Connected status found. Callers don't need the
// non-Connected states ranked against each other, just whether the group
// is fully up.
func (g *queueGroup) status() mq.Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.queues) == 0 {
		return mq.StatusClosed
	}
	worst := mq.StatusConnected
	for _, q := range g.queues {
		if s := q.Status(); s != mq.StatusConnected {
			worst = s
		}
	}
	return worst
}

// buildQueue validates name via mq.ValidateName (through opts, inside
// factory), registers the queue with the group, and wires statusHandler if
// non-nil.
func (g *queueGroup) buildQueue(factory QueueFactory, opts mq.QueueOptions, conn mq.Connection, statusHandler mq.EventHandler) (mq.Queue, error) {
	q, err := factory(opts, conn)
	if err != nil {
		return nil, err
	}
	if statusHandler != nil {
		q.SetHandler(statusHandler)
	}
	g.add(q)
	return q, nil
}
