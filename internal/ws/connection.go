package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is one upgraded client socket. A connection is anonymous until
// login binds a user to it.
type Connection struct {
	ID        string
	IP        string
	Conn      net.Conn
	Fd        int // -1 when the socket is not watched by epoll
	CreatedAt time.Time

	lastSeen atomic.Int64 // unix nanos of the last frame read
	reading  atomic.Bool
	writeMu  sync.Mutex

	mu      sync.RWMutex
	userID  string
	isAdmin bool
}

// Touch records activity at t.
func (c *Connection) Touch(t time.Time) { c.lastSeen.Store(t.UnixNano()) }

// LastSeen returns the time of the last recorded activity.
func (c *Connection) LastSeen() time.Time { return time.Unix(0, c.lastSeen.Load()) }

// beginRead claims the socket for a reader. Level-triggered readiness can
// hand the same socket to two workers; only the first one reads.
func (c *Connection) beginRead() bool { return c.reading.CompareAndSwap(false, true) }

func (c *Connection) endRead() { c.reading.Store(false) }

// Bind attaches an authenticated user to the connection.
func (c *Connection) Bind(userID string, isAdmin bool) {
	c.mu.Lock()
	c.userID, c.isAdmin = userID, isAdmin
	c.mu.Unlock()
}

// UserID returns the bound user id, or "" for an anonymous connection.
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) IsAdmin() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isAdmin
}

// WriteMessage sends one text frame. Writers are serialized so frames from
// concurrent pushes never interleave.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

func (c *Connection) Close() error { return c.Conn.Close() }

// ConnectionManager indexes live connections by id and by socket.
type ConnectionManager struct {
	mu       sync.RWMutex
	byID     map[string]*Connection
	bySocket map[net.Conn]*Connection
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID:     make(map[string]*Connection),
		bySocket: make(map[net.Conn]*Connection),
	}
}

func (cm *ConnectionManager) Add(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.byID[c.ID] = c
	cm.bySocket[c.Conn] = c
}

// Remove unregisters and closes the connection with the given id. It
// reports false when the id was not registered.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	c, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		delete(cm.bySocket, c.Conn)
	}
	cm.mu.Unlock()

	if !ok {
		return false
	}
	_ = c.Close()
	return true
}

// Get returns the connection with the given id, or nil.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

// Lookup returns the connection wrapping socket, or nil.
func (cm *ConnectionManager) Lookup(socket net.Conn) *Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.bySocket[socket]
}

func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byID)
}

// Snapshot returns the live connections in no particular order.
func (cm *ConnectionManager) Snapshot() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*Connection, 0, len(cm.byID))
	for _, c := range cm.byID {
		out = append(out, c)
	}
	return out
}
