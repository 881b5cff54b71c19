// Package mq provides the backend-agnostic message-queue facade.
//
// It presents one Connection/Queue/Message model over two families of
// transport: a session-based broker with acknowledgements and prefetch
// (mq/amqp), and a topic-based broker with QoS levels and shared-subscription
// fan-out (mq/mqtt). Callers depend only on the interfaces in this file; the
// concrete backend is selected by which constructor produced the Connection.
package mq

import (
	"context"
	"regexp"
)

// Status is the connection/queue lifecycle state.
type Status int

const (
	StatusClosed Status = iota
	StatusClosing
	StatusConnecting
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusClosing:
		return "closing"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// QueueNamePattern is the validity pattern for queue/topic logical names.
const QueueNamePattern = `^[A-Za-z0-9][A-Za-z0-9._-]{0,254}$`

var queueNameRe = regexp.MustCompile(QueueNamePattern)

// ValidateName checks a logical queue/topic name against QueueNamePattern.
// Empty names are reported distinctly from pattern mismatches.
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrEmptyName
	}
	if !queueNameRe.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// Message is a delivered message on a receiver Queue.
//
// Ack and Nack are suspension points backed by the underlying transport. On
// mq/mqtt receivers they are no-ops (at-least-once is already provided by
// QoS 1 at the transport); on mq/amqp reliable receivers they map to
// broker ack/nack.
type Message interface {
	Payload() []byte
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// MessageHandler processes messages delivered to a receiver Queue.
type MessageHandler interface {
	OnMessage(ctx context.Context, q Queue, msg Message)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, q Queue, msg Message)

func (f MessageHandlerFunc) OnMessage(ctx context.Context, q Queue, msg Message) {
	f(ctx, q, msg)
}

// EventHandler observes status transitions and transport errors. Handlers
// run in their own goroutine and MUST NOT block the caller's event loop.
type EventHandler interface {
	OnStatus(q Queue, status Status)
	OnError(q Queue, err error)
}

// ConnEventHandler observes Connection-level status/errors.
type ConnEventHandler interface {
	OnConnStatus(conn Connection, status Status)
	OnConnError(conn Connection, err error)
}

// Connection is a shared physical connection to one broker. Obtained from a
// Pool; multiple Queues may share one Connection.
type Connection interface {
	// URI is the canonical identity this connection was opened for.
	URI() string
	Status() Status
	// AddHandler registers a status/error observer, returning an id usable
	// with RemoveHandler. The mq/amqp and mq/mqtt connections run each
	// handler call in its own goroutine, so neither registration order nor
	// the order of successive events is preserved at the handlers.
	AddHandler(h ConnEventHandler) string
	RemoveHandler(id string)
	// Connect starts the reconnect loop if not already started. Idempotent.
	Connect() error
	// Close stops the reconnect loop and tears down the physical connection.
	// Safe to call more than once.
	Close(ctx context.Context) error
}

// QueueOptions configures one logical sender or receiver.
type QueueOptions struct {
	// Name is the logical queue/session name or MQTT topic, validated
	// against QueueNamePattern.
	Name string
	// IsRecv selects receiver (true) vs sender (false).
	IsRecv bool
	// Reliable selects QoS 1 / broker-acked delivery vs fire-and-forget.
	Reliable bool
	// Broadcast selects fan-out (exchange-per-queue / plain subscribe) vs
	// unicast (work-queue / shared-subscription).
	Broadcast bool
	// Prefetch bounds in-flight unacked messages. AMQP-only; 1..65535.
	Prefetch int
	// Persistent sets the publisher persistent-delivery flag. AMQP-only.
	Persistent bool
	// SharedPrefix prefixes unicast MQTT subscriptions for shared delivery.
	// MQTT-only, used when Broadcast is false.
	SharedPrefix string
	// ReconnectMillis is the backoff between queue-level reconnect
	// attempts. Zero means DefaultReconnectMillis.
	ReconnectMillis int
}

// Queue is a unidirectional endpoint on a Connection: either a sender or a
// receiver for one logical name.
type Queue interface {
	Name() string
	IsRecv() bool
	Status() Status
	// SetHandler installs the status/error observer. May be called before
	// or after Connect.
	SetHandler(h EventHandler)
	ClearHandler()
	// SetMessageHandler installs the message handler. Receivers MUST have
	// one set before Connect, or Connect fails with ErrNoMsgHandler.
	SetMessageHandler(h MessageHandler)
	// Connect starts the reconnect loop. Idempotent once started.
	Connect() error
	Close(ctx context.Context) error
	// Send publishes payload. Fails with ErrQueueIsReceiver on a receiver
	// queue, or ErrNotConnected when Status() != StatusConnected.
	Send(ctx context.Context, payload []byte) error
}

const (
	// DefaultConnectTimeoutMillis is the default connect timeout.
	DefaultConnectTimeoutMillis = 3000
	// DefaultReconnectMillis is the default reconnect backoff.
	DefaultReconnectMillis = 1000
	// DefaultProbeIntervalMillis is not read by mq/amqp or mq/mqtt: both
	// poll a Connected connection for liveness every ReconnectMillis.
	DefaultProbeIntervalMillis = 1000
)
