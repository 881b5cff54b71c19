// Package bus implements the broker's Control Bus: an in-process broadcast
// channel with one sender per entity kind, which Managers and the Routing
// Cache subscribe to for add/del/update notifications.
// Grounded on commbus.InMemoryCommBus's Publish/Subscribe fan-out mechanics,
// narrowed from commbus's general Message/Query/Command protocol (this bus
// has no query or single-handler command pattern — every entity kind is
// pure fan-out) and from its atomic-counter subscriber-id scheme for
// Subscribe/unsubscribe.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sylvia-iot/broker/broker/observability"
)

// Kind identifies which entity's channel an Event was published on.
type Kind string

const (
	KindUnit         Kind = "unit"
	KindApplication  Kind = "application"
	KindNetwork      Kind = "network"
	KindDevice       Kind = "device"
	KindDeviceRoute  Kind = "device_route"
	KindNetworkRoute Kind = "network_route"
)

// Operation is the mutation an Event reports.
type Operation string

const (
	OpAdd    Operation = "add"
	OpDel    Operation = "del"
	OpUpdate Operation = "update"
)

// Event is the payload every Control Bus subscriber receives. By
// convention Payload carries the full entity struct regardless of
// Operation (so a del handler can still read the deleted record's
// identifying fields): models.Application for KindApplication,
// models.Network for KindNetwork, models.Device for KindDevice,
// models.DeviceRoute for KindDeviceRoute.
type Event struct {
	Kind      Kind
	Operation Operation
	When      time.Time
	Payload   any
}

// Handler processes one Event. Handlers run concurrently with their
// siblings and must not block the publisher beyond their own work.
type Handler func(ctx context.Context, event Event)

// ControlBus is the in-process Kind-keyed broadcast bus.
type ControlBus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]subscriberEntry
	mirrors     []Handler // invoked for every event, regardless of Kind
	nextSubID   uint64
	logger      observability.Logger
}

type subscriberEntry struct {
	id      string
	handler Handler
}

// New creates an empty ControlBus. logger may be nil.
func New(logger observability.Logger) *ControlBus {
	if logger == nil {
		logger = observability.NoopLogger()
	}
	return &ControlBus{
		subscribers: make(map[Kind][]subscriberEntry),
		logger:      logger,
	}
}

// Subscribe registers handler for every Event of the given kind, returning
// an idempotent unsubscribe function.
func (b *ControlBus) Subscribe(kind Kind, handler Handler) func() {
	subID := fmt.Sprintf("sub_%d", atomic.AddUint64(&b.nextSubID, 1))

	b.mu.Lock()
	b.subscribers[kind] = append(b.subscribers[kind], subscriberEntry{id: subID, handler: handler})
	b.mu.Unlock()

	b.logger.Debug("control_bus_subscribed", "kind", kind, "sub_id", subID)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.subscribers[kind]
		for i, e := range entries {
			if e.id == subID {
				b.subscribers[kind] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Mirror registers handler to receive every event regardless of kind; the
// mirror handler itself decides which external queue to use based on
// event.Kind.
func (b *ControlBus) Mirror(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirrors = append(b.mirrors, handler)
}

// Publish fans event out to every subscriber of event.Kind plus every
// mirror, concurrently, and waits for all of them to return. A subscriber
// panicking is logged and does not affect its siblings.
func (b *ControlBus) Publish(ctx context.Context, event Event) {
	if event.When.IsZero() {
		event.When = time.Now()
	}

	b.mu.RLock()
	entries := append([]subscriberEntry(nil), b.subscribers[event.Kind]...)
	mirrors := append([]Handler(nil), b.mirrors...)
	b.mu.RUnlock()

	var wg sync.WaitGroup
	run := func(h Handler) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("control_bus_handler_panic_recovered", "kind", event.Kind, "error", r)
			}
		}()
		h(ctx, event)
	}

	for _, e := range entries {
		wg.Add(1)
		go run(e.handler)
	}
	for _, m := range mirrors {
		wg.Add(1)
		go run(m)
	}
	wg.Wait()
}
