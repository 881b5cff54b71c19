package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sylvia-iot/broker/mq"
)

// Queue manages one MQTT sender or receiver topic bound to a shared
// Connection. Broadcast receivers subscribe to the bare topic (every
// subscriber gets every message); unicast receivers subscribe with
// opts.SharedPrefix prepended so the broker load-balances across the shared
// subscription group (e.g. "$share/workers/").
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

	loopMu   sync.Mutex
	stopLoop chan struct{}
}

// NewQueue validates opts and builds a Queue bound to conn. Name validation
// happens before any I/O (Testable Property 2).
func NewQueue(opts mq.QueueOptions, conn *Connection) (*Queue, error) {
	if err := mq.ValidateName(opts.Name); err != nil {
		return nil, err
	}
	reconnect := opts.ReconnectMillis
	if reconnect == 0 {
		reconnect = mq.DefaultReconnectMillis
	}
	return &Queue{
		opts:            opts,
		conn:            conn,
		reconnectMillis: time.Duration(reconnect) * time.Millisecond,
		logger:          mq.NoopLogger(),
		status:          mq.StatusClosed,
	}, nil
}

func (q *Queue) Name() string { return q.opts.Name }
func (q *Queue) IsRecv() bool { return q.opts.IsRecv }

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

// topic returns the wire topic: a shared-subscription prefix is applied only
// for unicast receivers (broadcast=false, is_recv=true).
func (q *Queue) topic() string {
	if q.opts.IsRecv && !q.opts.Broadcast && q.opts.SharedPrefix != "" {
		return q.opts.SharedPrefix + q.opts.Name
	}
	return q.opts.Name
}

func (q *Queue) qos() byte {
	if q.opts.Reliable {
		return 1
	}
	return 0
}

// Connect starts the reconnect loop. Receivers require a message handler to
// already be set.
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

	if q.opts.IsRecv {
		if client := q.conn.rawClient(); client != nil && client.IsConnected() {
			client.Unsubscribe(q.topic())
		}
	}

	q.setStatus(mq.StatusClosed)
	q.emitStatus(mq.StatusClosed)
	return nil
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
	client := q.conn.rawClient()
	if client == nil {
		return mq.ErrNotConnected
	}
	token := client.Publish(q.topic(), q.qos(), false, payload)
	token.Wait()
	return token.Error()
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
			if q.opts.IsRecv {
				client := q.conn.rawClient()
				if client == nil {
					if !sleepOrStop(q.reconnectMillis, stop) {
						return
					}
					continue
				}
				token := client.Subscribe(q.topic(), q.qos(), q.onPublish)
				if !token.WaitTimeout(q.reconnectMillis) || token.Error() != nil {
					err := token.Error()
					if err == nil {
						err = fmt.Errorf("mqtt: subscribe %q timed out", q.topic())
					}
					q.emitError(err)
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
			if q.conn.Status() == mq.StatusConnected {
				continue
			}
			q.setStatus(mq.StatusDisconnected)
			q.emitStatus(mq.StatusDisconnected)

		case mq.StatusDisconnected:
			if !sleepOrStop(q.reconnectMillis, stop) {
				return
			}
			q.setStatus(mq.StatusConnecting)
			q.emitStatus(mq.StatusConnecting)
		}
	}
}

// onPublish adapts paho's per-message callback to mq.MessageHandler.
func (q *Queue) onPublish(_ paho.Client, m paho.Message) {
	handler := q.getMessageHandler()
	if handler == nil {
		return
	}
	msg := &Message{packet: m}
	go handler.OnMessage(context.Background(), q, msg)
}

// Message wraps a paho.Message. Ack/Nack are no-ops: QoS 1 delivery is
// already settled by the client before the callback runs, matching
// general-mq's MqttMessage.
type Message struct {
	packet paho.Message
}

func (m *Message) Payload() []byte { return m.packet.Payload() }

func (m *Message) Ack(ctx context.Context) error { return nil }

func (m *Message) Nack(ctx context.Context) error { return nil }

var (
	_ mq.Queue   = (*Queue)(nil)
	_ mq.Message = (*Message)(nil)
)
