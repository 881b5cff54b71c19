package mq

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Logger is the structured logging surface mq components accept by
// constructor injection. Mirrors commbus.BusLogger's shape.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() Logger { return noopLogger{} }

// Factory creates a fresh, not-yet-connected Connection for a canonical URI.
// Supplied by the mq/amqp or mq/mqtt package.
type Factory func(uri string) (Connection, error)

// Pool is a process-wide, reference-counted map from canonical URI to a
// shared Connection. The first Acquire for a URI opens the connection and
// starts its reconnect loop; later Acquires for the same URI share the
// handle. The last Release tears the connection down and removes the entry.
//
// Tests construct a fresh Pool per case rather than reaching into a
// singleton.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*poolEntry
	logger  Logger
}

type poolEntry struct {
	conn     Connection
	refCount int
}

// NewPool creates an empty pool. A nil logger is replaced with NoopLogger.
func NewPool(logger Logger) *Pool {
	if logger == nil {
		logger = NoopLogger()
	}
	return &Pool{
		entries: make(map[string]*poolEntry),
		logger:  logger,
	}
}

// Handle is a reference-counted lease on a pooled Connection.
type Handle struct {
	pool *Pool
	uri  string
	conn Connection
}

// Connection returns the shared physical connection this handle references.
func (h *Handle) Connection() Connection { return h.conn }

// Release decrements the pool's reference count for this handle's URI. At
// zero, the underlying Connection is closed and removed from the pool. The
// physical close is awaited by the last releaser (§5).
func (h *Handle) Release(ctx context.Context) error {
	return h.pool.release(ctx, h.uri)
}

// Acquire returns a Handle to the shared Connection for uri, creating and
// connecting one via factory if this is the first request for that URI.
func (p *Pool) Acquire(uri string, factory Factory) (*Handle, error) {
	p.mu.Lock()
	if entry, ok := p.entries[uri]; ok {
		entry.refCount++
		p.logger.Debug("mq_pool_acquire_shared", "uri", uri, "ref_count", entry.refCount)
		p.mu.Unlock()
		return &Handle{pool: p, uri: uri, conn: entry.conn}, nil
	}
	p.mu.Unlock()

	conn, err := factory(uri)
	if err != nil {
		return nil, fmt.Errorf("mq: open connection %s: %w", uri, err)
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("mq: start connection %s: %w", uri, err)
	}

	p.mu.Lock()
	// Another goroutine may have raced us; prefer the existing entry and
	// close the one we just built to avoid leaking a physical connection.
	if entry, ok := p.entries[uri]; ok {
		entry.refCount++
		p.mu.Unlock()
		_ = conn.Close(context.Background())
		return &Handle{pool: p, uri: uri, conn: entry.conn}, nil
	}
	p.entries[uri] = &poolEntry{conn: conn, refCount: 1}
	p.logger.Info("mq_pool_acquire_new", "uri", uri)
	p.mu.Unlock()

	return &Handle{pool: p, uri: uri, conn: conn}, nil
}

func (p *Pool) release(ctx context.Context, uri string) error {
	p.mu.Lock()
	entry, ok := p.entries[uri]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	entry.refCount--
	if entry.refCount > 0 {
		p.logger.Debug("mq_pool_release", "uri", uri, "ref_count", entry.refCount)
		p.mu.Unlock()
		return nil
	}
	delete(p.entries, uri)
	p.mu.Unlock()

	p.logger.Info("mq_pool_teardown", "uri", uri)
	return entry.conn.Close(ctx)
}

// Size returns the number of distinct canonical URIs currently held.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// RefCount returns the current reference count for uri, or 0 if absent.
func (p *Pool) RefCount(uri string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[uri]; ok {
		return e.refCount
	}
	return 0
}

// CanonicalSessionURI normalizes an AMQP-family URI to scheme + userinfo +
// host + port + vhost, dropping identity-unrelated query parameters.
func CanonicalSessionURI(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("mq: parse uri: %w", err)
	}
	vhost := u.Path
	if vhost == "" {
		vhost = "/"
	}
	return canonicalize(u, vhost), nil
}

// CanonicalTopicURI normalizes an MQTT-family URI to scheme + userinfo +
// host + port + client-id suffix.
func CanonicalTopicURI(raw string, clientIDSuffix string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("mq: parse uri: %w", err)
	}
	return canonicalize(u, clientIDSuffix), nil
}

func canonicalize(u *url.URL, tail string) string {
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(u.Host)
	b.WriteString(tail)
	return b.String()
}

// sortedKeys is a small test/debug helper for deterministic pool iteration.
func (p *Pool) sortedKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
