package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/sylvia-iot/broker/mq"
)

// Queue manages one AMQP sender or receiver queue bound to a shared
// Connection. broadcast=false uses a durable named work queue (unicast,
// competing consumers); broadcast=true declares a fanout exchange per queue
// name with an exclusive auto-delete queue bound to it, for fan-out delivery.
type Queue struct {
	opts            mq.QueueOptions
	conn            *Connection
	reconnectMillis time.Duration
	logger          mq.Logger

	statusMu sync.Mutex
	status   mq.Status

	handlerMu    sync.Mutex
	handler      mq.EventHandler
	msgHandlerMu sync.Mutex
	msgHandler   mq.MessageHandler

	chanMu sync.Mutex
	ch     *amqp091.Channel

	// boundQueueName is the server-generated exclusive queue name bound to
	// exchangeName() for a broadcast receiver. Unused for senders and for
	// unicast (broadcast=false) queues, which consume/publish on opts.Name
	// directly.
	boundQueueName string

	loopMu   sync.Mutex
	stopLoop chan struct{}
}

// NewQueue validates opts and builds a Queue bound to conn. Name validation
// happens here, before any I/O (Testable Property 2).
func NewQueue(opts mq.QueueOptions, conn *Connection) (*Queue, error) {
	if err := mq.ValidateName(opts.Name); err != nil {
		return nil, err
	}
	reconnect := opts.ReconnectMillis
	if reconnect == 0 {
		reconnect = mq.DefaultReconnectMillis
	}
	logger := mq.Logger(mq.NoopLogger())
	return &Queue{
		opts:            opts,
		conn:            conn,
		reconnectMillis: time.Duration(reconnect) * time.Millisecond,
		logger:          logger,
		status:          mq.StatusClosed,
	}, nil
}

func (q *Queue) Name() string    { return q.opts.Name }
func (q *Queue) IsRecv() bool    { return q.opts.IsRecv }

func (q *Queue) Status() mq.Status {
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	return q.status
}

func (q *Queue) setStatus(s mq.Status) {
	q.statusMu.Lock()
	q.status = s
	q.statusMu.Unlock()
}

func (q *Queue) SetHandler(h mq.EventHandler) {
	q.handlerMu.Lock()
	q.handler = h
	q.handlerMu.Unlock()
}

func (q *Queue) ClearHandler() {
	q.handlerMu.Lock()
	q.handler = nil
	q.handlerMu.Unlock()
}

func (q *Queue) getHandler() mq.EventHandler {
	q.handlerMu.Lock()
	defer q.handlerMu.Unlock()
	return q.handler
}

func (q *Queue) SetMessageHandler(h mq.MessageHandler) {
	q.msgHandlerMu.Lock()
	q.msgHandler = h
	q.msgHandlerMu.Unlock()
}

func (q *Queue) getMessageHandler() mq.MessageHandler {
	q.msgHandlerMu.Lock()
	defer q.msgHandlerMu.Unlock()
	return q.msgHandler
}

func (q *Queue) emitStatus(s mq.Status) {
	if h := q.getHandler(); h != nil {
		go h.OnStatus(q, s)
	}
}

func (q *Queue) emitError(err error) {
	if h := q.getHandler(); h != nil {
		go h.OnError(q, err)
	}
}

// exchangeName is the fanout exchange used for broadcast queues.
func (q *Queue) exchangeName() string {
	return "gmq.fanout." + q.opts.Name
}

// Connect starts the reconnect loop. Receivers require a message handler to
// already be set; otherwise this fails with mq.ErrNoMsgHandler before any
// I/O, and no transport is opened (Testable Property 3).
func (q *Queue) Connect() error {
	if q.opts.IsRecv && q.getMessageHandler() == nil {
		return mq.ErrNoMsgHandler
	}
	q.loopMu.Lock()
	defer q.loopMu.Unlock()
	if q.stopLoop != nil {
		return nil
	}
	q.stopLoop = make(chan struct{})
	q.setStatus(mq.StatusConnecting)
	go q.runLoop(q.stopLoop)
	return nil
}

func (q *Queue) Close(ctx context.Context) error {
	q.loopMu.Lock()
	stop := q.stopLoop
	q.stopLoop = nil
	q.loopMu.Unlock()
	if stop == nil {
		return nil
	}
	q.setStatus(mq.StatusClosing)
	close(stop)

	q.chanMu.Lock()
	ch := q.ch
	q.ch = nil
	q.chanMu.Unlock()

	var err error
	if ch != nil {
		err = ch.Close()
	}
	q.setStatus(mq.StatusClosed)
	q.emitStatus(mq.StatusClosed)
	return err
}

// Send publishes payload. Fails with mq.ErrQueueIsReceiver on a receiver, or
// mq.ErrNotConnected when not currently Connected.
func (q *Queue) Send(ctx context.Context, payload []byte) error {
	if q.opts.IsRecv {
		return mq.ErrQueueIsReceiver
	}
	if q.Status() != mq.StatusConnected {
		return mq.ErrNotConnected
	}

	q.chanMu.Lock()
	ch := q.ch
	q.chanMu.Unlock()
	if ch == nil {
		return mq.ErrNotConnected
	}

	deliveryMode := amqp091.Transient
	if q.opts.Persistent {
		deliveryMode = amqp091.Persistent
	}
	publishing := amqp091.Publishing{
		DeliveryMode: deliveryMode,
		Body:         payload,
	}

	exchange := ""
	routingKey := q.opts.Name
	if q.opts.Broadcast {
		exchange = q.exchangeName()
		routingKey = ""
	}
	return ch.PublishWithContext(ctx, exchange, routingKey, false, false, publishing)
}

func (q *Queue) runLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		switch q.Status() {
		case mq.StatusClosing, mq.StatusClosed:
			return

		case mq.StatusConnecting:
			if q.conn.Status() != mq.StatusConnected {
				if !sleepOrStop(q.reconnectMillis, stop) {
					return
				}
				continue
			}
			raw := q.conn.rawConnection()
			if raw == nil {
				if !sleepOrStop(q.reconnectMillis, stop) {
					return
				}
				continue
			}
			ch, err := raw.Channel()
			if err != nil {
				q.emitError(fmt.Errorf("amqp: open channel: %w", err))
				if !sleepOrStop(q.reconnectMillis, stop) {
					return
				}
				continue
			}
			if err := q.setupTopology(ch); err != nil {
				q.emitError(err)
				_ = ch.Close()
				if !sleepOrStop(q.reconnectMillis, stop) {
					return
				}
				continue
			}

			q.chanMu.Lock()
			q.ch = ch
			q.chanMu.Unlock()

			if q.opts.IsRecv {
				if err := q.startConsuming(ch); err != nil {
					q.emitError(err)
					_ = ch.Close()
					q.chanMu.Lock()
					q.ch = nil
					q.chanMu.Unlock()
					if !sleepOrStop(q.reconnectMillis, stop) {
						return
					}
					continue
				}
			}

			q.setStatus(mq.StatusConnected)
			q.emitStatus(mq.StatusConnected)

		case mq.StatusConnected:
			if !sleepOrStop(q.reconnectMillis, stop) {
				return
			}
			q.chanMu.Lock()
			ch := q.ch
			q.chanMu.Unlock()
			if ch != nil && q.conn.Status() == mq.StatusConnected {
				continue
			}
			q.setStatus(mq.StatusDisconnected)
			q.emitStatus(mq.StatusDisconnected)

		case mq.StatusDisconnected:
			q.chanMu.Lock()
			q.ch = nil
			q.chanMu.Unlock()
			if !sleepOrStop(q.reconnectMillis, stop) {
				return
			}
			q.setStatus(mq.StatusConnecting)
			q.emitStatus(mq.StatusConnecting)
		}
	}
}

// setupTopology declares the exchange/queue this Queue needs, for both
// sender and receiver roles so a sender started before any receiver still
// has somewhere durable to publish.
func (q *Queue) setupTopology(ch *amqp091.Channel) error {
	if q.opts.Broadcast {
		if err := ch.ExchangeDeclare(q.exchangeName(), "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp: declare exchange: %w", err)
		}
		if q.opts.IsRecv {
			dq, err := ch.QueueDeclare("", false, true, true, false, nil)
			if err != nil {
				return fmt.Errorf("amqp: declare exclusive queue: %w", err)
			}
			if err := ch.QueueBind(dq.Name, "", q.exchangeName(), false, nil); err != nil {
				return fmt.Errorf("amqp: bind queue: %w", err)
			}
			q.boundQueueName = dq.Name
		}
		return nil
	}

	if _, err := ch.QueueDeclare(q.opts.Name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare queue: %w", err)
	}
	if q.opts.IsRecv && q.opts.Prefetch > 0 {
		if err := ch.Qos(q.opts.Prefetch, 0, false); err != nil {
			return fmt.Errorf("amqp: set qos: %w", err)
		}
	}
	return nil
}

func (q *Queue) startConsuming(ch *amqp091.Channel) error {
	name := q.opts.Name
	if q.opts.Broadcast {
		name = q.boundQueueName
	}
	deliveries, err := ch.Consume(name, "", !q.opts.Reliable, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp: consume: %w", err)
	}
	go func() {
		for d := range deliveries {
			handler := q.getMessageHandler()
			if handler == nil {
				continue
			}
			msg := &Message{delivery: d, reliable: q.opts.Reliable}
			go handler.OnMessage(context.Background(), q, msg)
		}
	}()
	return nil
}

// Message wraps an amqp091.Delivery. Ack/Nack are real broker operations
// when the queue is reliable; no-ops otherwise (matching at-most-once
// QoS 0 semantics, where the broker already considers the message settled).
type Message struct {
	delivery amqp091.Delivery
	reliable bool
}

func (m *Message) Payload() []byte { return m.delivery.Body }

func (m *Message) Ack(ctx context.Context) error {
	if !m.reliable {
		return nil
	}
	return m.delivery.Ack(false)
}

func (m *Message) Nack(ctx context.Context) error {
	if !m.reliable {
		return nil
	}
	return m.delivery.Nack(false, true)
}

var (
	_ mq.Queue   = (*Queue)(nil)
	_ mq.Message = (*Message)(nil)
)
