// Package amqp implements the session-based mq backend on top of
// github.com/rabbitmq/amqp091-go: acknowledgements, prefetch, and
// work-queue / fanout-exchange routing.
package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/sylvia-iot/broker/mq"
)

// ConnectionOptions configures an AMQP Connection.
type ConnectionOptions struct {
	// URI is amqp(s)://user:pass@host:port/vhost. Empty defaults to
	// amqp://localhost.
	URI string
	// ConnectTimeoutMillis bounds the dial attempt. Zero means
	// mq.DefaultConnectTimeoutMillis.
	ConnectTimeoutMillis int
	// ReconnectMillis is the backoff between dial attempts and the
	// Connected-state liveness probe interval. Zero means
	// mq.DefaultReconnectMillis.
	ReconnectMillis int
	Logger          mq.Logger
}

// Connection manages one physical AMQP connection and its reconnect loop.
type Connection struct {
	uri             string
	connectTimeout  time.Duration
	reconnectMillis time.Duration
	logger          mq.Logger

	statusMu sync.Mutex
	status   mq.Status

	handlersMu sync.Mutex
	handlers   map[string]mq.ConnEventHandler
	nextID     uint64

	connMu sync.Mutex
	raw    *amqp091.Connection

	loopMu   sync.Mutex
	stopLoop chan struct{}
}

// New creates a Connection in StatusClosed. Call Connect to start it, or
// acquire one via an mq.Pool which does this automatically.
func New(opts ConnectionOptions) (*Connection, error) {
	uri := opts.URI
	if uri == "" {
		uri = "amqp://localhost"
	}
	connectTimeout := opts.ConnectTimeoutMillis
	if connectTimeout == 0 {
		connectTimeout = mq.DefaultConnectTimeoutMillis
	}
	reconnect := opts.ReconnectMillis
	if reconnect == 0 {
		reconnect = mq.DefaultReconnectMillis
	}
	logger := opts.Logger
	if logger == nil {
		logger = mq.NoopLogger()
	}
	return &Connection{
		uri:             uri,
		connectTimeout:  time.Duration(connectTimeout) * time.Millisecond,
		reconnectMillis: time.Duration(reconnect) * time.Millisecond,
		logger:          logger,
		handlers:        make(map[string]mq.ConnEventHandler),
		status:          mq.StatusClosed,
	}, nil
}

// Factory adapts New to mq.Factory for use with mq.Pool.Acquire.
func Factory(opts ConnectionOptions) mq.Factory {
	return func(uri string) (mq.Connection, error) {
		o := opts
		o.URI = uri
		return New(o)
	}
}

func (c *Connection) URI() string { return c.uri }

func (c *Connection) Status() mq.Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

func (c *Connection) setStatus(s mq.Status) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

func (c *Connection) AddHandler(h mq.ConnEventHandler) string {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.nextID++
	id := fmt.Sprintf("amqpconn-%d", c.nextID)
	c.handlers[id] = h
	return id
}

func (c *Connection) RemoveHandler(id string) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	delete(c.handlers, id)
}

func (c *Connection) snapshotHandlers() []mq.ConnEventHandler {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	out := make([]mq.ConnEventHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		out = append(out, h)
	}
	return out
}

func (c *Connection) emitStatus(s mq.Status) {
	for _, h := range c.snapshotHandlers() {
		h := h
		go h.OnConnStatus(c, s)
	}
}

func (c *Connection) emitError(err error) {
	for _, h := range c.snapshotHandlers() {
		h := h
		go h.OnConnError(c, err)
	}
}

// rawConnection exposes the live *amqp091.Connection to amqp.Queue in this
// package; it is not part of the mq.Connection interface.
func (c *Connection) rawConnection() *amqp091.Connection {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.raw
}

// Connect starts the reconnect loop if it is not already running.
func (c *Connection) Connect() error {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.stopLoop != nil {
		return nil
	}
	c.stopLoop = make(chan struct{})
	c.setStatus(mq.StatusConnecting)
	go c.runLoop(c.stopLoop)
	return nil
}

// Close stops the reconnect loop and closes the physical connection, if any.
func (c *Connection) Close(ctx context.Context) error {
	c.loopMu.Lock()
	stop := c.stopLoop
	c.stopLoop = nil
	c.loopMu.Unlock()
	if stop == nil {
		return nil
	}
	c.setStatus(mq.StatusClosing)
	close(stop)

	c.connMu.Lock()
	raw := c.raw
	c.raw = nil
	c.connMu.Unlock()

	var closeErr error
	if raw != nil && !raw.IsClosed() {
		closeErr = raw.Close()
	}
	c.setStatus(mq.StatusClosed)
	c.emitStatus(mq.StatusClosed)
	return closeErr
}

func (c *Connection) runLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		switch c.Status() {
		case mq.StatusClosing, mq.StatusClosed:
			return

		case mq.StatusConnecting:
			raw, err := amqp091.DialConfig(c.uri, amqp091.Config{
				Dial: amqp091.DefaultDial(c.connectTimeout),
			})
			if err != nil {
				c.logger.Warn("amqp_dial_failed", "uri", c.uri, "error", err.Error())
				c.emitError(err)
				if !sleepOrStop(c.reconnectMillis, stop) {
					return
				}
				continue
			}
			c.connMu.Lock()
			c.raw = raw
			c.connMu.Unlock()
			c.setStatus(mq.StatusConnected)
			c.emitStatus(mq.StatusConnected)

		case mq.StatusConnected:
			if !sleepOrStop(c.reconnectMillis, stop) {
				return
			}
			raw := c.rawConnection()
			if raw != nil && !raw.IsClosed() {
				continue
			}
			c.setStatus(mq.StatusDisconnected)
			c.emitStatus(mq.StatusDisconnected)

		case mq.StatusDisconnected:
			c.connMu.Lock()
			c.raw = nil
			c.connMu.Unlock()
			if !sleepOrStop(c.reconnectMillis, stop) {
				return
			}
			c.setStatus(mq.StatusConnecting)
			c.emitStatus(mq.StatusConnecting)
		}
	}
}

// sleepOrStop sleeps for d, returning false early if stop fires.
func sleepOrStop(d time.Duration, stop <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}

var _ mq.Connection = (*Connection)(nil)
