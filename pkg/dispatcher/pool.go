package dispatcher

import (
	"context"
	"sync"
)

// ConnectionFactory dials a fresh Connection for connectionKey.
type ConnectionFactory func(ctx context.Context) (*Connection, error)

// ConnectionPool caches one Connection per connectionKey with
// double-checked locking, so concurrent callers for the same key never
// race to dial twice ("at-most-one in-flight connection per
// connectionKey").
type ConnectionPool struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewConnectionPool returns an empty pool.
func NewConnectionPool() *ConnectionPool {
	return &ConnectionPool{connections: make(map[string]*Connection)}
}

// GetOrCreate returns the cached Connection for connectionKey, or calls
// factory to dial one, storing it for subsequent callers.
func (p *ConnectionPool) GetOrCreate(ctx context.Context, connectionKey string, factory ConnectionFactory) (*Connection, error) {
	p.mu.RLock()
	if conn, ok := p.connections[connectionKey]; ok {
		p.mu.RUnlock()
		return conn, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-checked: another goroutine may have won the race while we
	// waited for the write lock.
	if conn, ok := p.connections[connectionKey]; ok {
		return conn, nil
	}

	conn, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	p.connections[connectionKey] = conn
	return conn, nil
}

// Evict removes and closes the connection for connectionKey, if present.
// Called on ping failure or a detected stale session.
func (p *ConnectionPool) Evict(connectionKey string) {
	p.mu.Lock()
	conn, ok := p.connections[connectionKey]
	if ok {
		delete(p.connections, connectionKey)
	}
	p.mu.Unlock()

	if ok {
		_ = conn.transition(StateClosing)
		_ = conn.Close()
		_ = conn.transition(StateClosed)
	}
}

// Close evicts and closes every connection in the pool.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	conns := p.connections
	p.connections = make(map[string]*Connection)
	p.mu.Unlock()

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
