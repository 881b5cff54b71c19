// Package mqtt implements the topic-based mq backend on top of
// github.com/eclipse/paho.mqtt.golang: QoS levels and shared-subscription
// fan-out, mirroring general-mq's MqttConnection/MqttQueue reconnect design.
package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sylvia-iot/broker/mq"
)

// ConnectionOptions configures an MQTT Connection.
type ConnectionOptions struct {
	// URI is mqtt(s)://[user:pass@]host:port. Empty defaults to
	// mqtt://localhost.
	URI string
	// ClientID. Empty lets the broker assign one; must still satisfy
	// mq.QueueNamePattern-like hygiene (checked against the same regexp
	// used for queue names, per general-mq's client_id validation).
	ClientID string
	// ConnectTimeoutMillis bounds the dial attempt. Zero means
	// mq.DefaultConnectTimeoutMillis.
	ConnectTimeoutMillis int
	// ReconnectMillis is the backoff between dial attempts and the
	// Connected-state liveness probe interval. Zero means
	// mq.DefaultReconnectMillis.
	ReconnectMillis int
	Logger          mq.Logger
}

// Connection manages one physical MQTT client and its reconnect loop. paho's
// own auto-reconnect is switched off; as in mq/amqp, this loop dials, polls
// IsConnected while Connected, and redials after a drop, reporting through
// the mq.Status lifecycle so amqp and mqtt backends present one state
// machine to callers.
type Connection struct {
	uri             string
	clientID        string
	connectTimeout  time.Duration
	reconnectMillis time.Duration
	logger          mq.Logger

	statusMu sync.Mutex
	status   mq.Status

	handlersMu sync.Mutex
	handlers   map[string]mq.ConnEventHandler
	nextID     uint64

	clientMu sync.Mutex
	client   paho.Client

	loopMu   sync.Mutex
	stopLoop chan struct{}
}

// New validates opts and creates a Connection in StatusClosed.
func New(opts ConnectionOptions) (*Connection, error) {
	uri := opts.URI
	if uri == "" {
		uri = "mqtt://localhost"
	}
	if _, err := url.Parse(uri); err != nil {
		return nil, fmt.Errorf("mqtt: parse uri: %w", err)
	}
	if opts.ClientID != "" {
		if err := mq.ValidateName(opts.ClientID); err != nil {
			return nil, fmt.Errorf("mqtt: invalid client id: %w", err)
		}
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
		clientID:        opts.ClientID,
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
	id := fmt.Sprintf("mqttconn-%d", c.nextID)
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

// rawClient exposes the live paho.Client to mqtt.Queue in this package; not
// part of the mq.Connection interface.
func (c *Connection) rawClient() paho.Client {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	return c.client
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

// Close stops the reconnect loop and disconnects the client, if any.
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

	c.clientMu.Lock()
	client := c.client
	c.client = nil
	c.clientMu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	c.setStatus(mq.StatusClosed)
	c.emitStatus(mq.StatusClosed)
	return nil
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
			opts := paho.NewClientOptions().
				AddBroker(c.uri).
				SetClientID(c.clientID).
				SetConnectTimeout(c.connectTimeout).
				SetAutoReconnect(false).
				SetCleanSession(true)
			client := paho.NewClient(opts)
			token := client.Connect()
			if !token.WaitTimeout(c.connectTimeout) || token.Error() != nil {
				err := token.Error()
				if err == nil {
					err = fmt.Errorf("mqtt: connect timed out after %s", c.connectTimeout)
				}
				c.logger.Warn("mqtt_dial_failed", "uri", c.uri, "error", err.Error())
				c.emitError(err)
				if !sleepOrStop(c.reconnectMillis, stop) {
					return
				}
				continue
			}
			c.clientMu.Lock()
			c.client = client
			c.clientMu.Unlock()
			c.setStatus(mq.StatusConnected)
			c.emitStatus(mq.StatusConnected)

		case mq.StatusConnected:
			if !sleepOrStop(c.reconnectMillis, stop) {
				return
			}
			client := c.rawClient()
			if client != nil && client.IsConnected() {
				continue
			}
			c.setStatus(mq.StatusDisconnected)
			c.emitStatus(mq.StatusDisconnected)

		case mq.StatusDisconnected:
			c.clientMu.Lock()
			c.client = nil
			c.clientMu.Unlock()
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
