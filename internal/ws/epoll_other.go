//go:build !linux

package ws

import (
	"net"
	"sync"
	"time"
)

// pollInterval is how often the fallback reports every registered
// connection as ready.
const pollInterval = 20 * time.Millisecond

// Epoll is the polling fallback used where epoll is unavailable. Wait
// reports every registered connection on each tick. The read deadline and
// the per-connection read claim sort out which ones actually have data.
// Nothing is read here, so no frame bytes are lost. An idle connection
// holds a worker for up to ServerConfig.ReadTimeout per tick, which makes
// this suitable for development only.
type Epoll struct {
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	done   chan struct{}
	closed bool
}

// NewEpoll returns an empty fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}, nil
}

// Add registers conn.
func (e *Epoll) Add(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return net.ErrClosed
	}
	e.conns[conn] = struct{}{}
	return nil
}

// Remove unregisters conn.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	return nil
}

// Len returns the number of registered connections.
func (e *Epoll) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

// Wait sleeps one poll interval and returns the registered connections.
func (e *Epoll) Wait() ([]net.Conn, error) {
	select {
	case <-time.After(pollInterval):
	case <-e.done:
		return nil, net.ErrClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, net.ErrClosed
	}
	conns := make([]net.Conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	return conns, nil
}

// Close stops Wait and forgets every connection.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.done)
		e.conns = nil
	}
	return nil
}

func socketFD(net.Conn) int { return -1 }
