// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, maintaining active client connections, and dispatching
// incoming frames to the event pipeline.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/fiora/chat-app/internal/metrics"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/protocol"
	"github.com/fiora/chat-app/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":9200"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	ConnectPerMin  int           // upgrades allowed per ip per minute; 0 disables
	Heartbeat      HeartbeatConfig
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	// Empty means the socket peer is always the client.
	TrustedProxies []netip.Prefix
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":9200",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		ConnectPerMin:  30,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// PresenceStore records live connections so other processes can address them.
type PresenceStore interface {
	Create(ctx context.Context, connID, ip string) error
	Delete(ctx context.Context, connID string) error
}

// UpgradeLimiter throttles WebSocket upgrades per client ip.
type UpgradeLimiter interface {
	Hit(ctx context.Context, id string, rule ratelimit.Rule) (ratelimit.Decision, error)
}

// ConnectedPush is sent once right after the upgrade.
type ConnectedPush struct {
	ConnID string `json:"connId"`
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections, registers them with an epoll instance for I/O
// readiness notifications, and hands ready connections to a bounded worker
// pool for frame reading.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	presence     PresenceStore
	limiter      UpgradeLimiter
	log          zerolog.Logger
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // frame handler callback
	onDisconnect func(conn *Connection)              // called when a connection is removed
	router       *mux.Router
	httpServer   *http.Server
	done         chan struct{}
	closeOnce    sync.Once
	startedAt    time.Time
}

// NewServer creates a Server. presence and limiter may be nil. onMessage is
// called from a worker goroutine for every complete text frame; frames of a
// single connection are never handled concurrently.
func NewServer(config ServerConfig, presence PresenceStore, limiter UpgradeLimiter, log zerolog.Logger, onMessage func(conn *Connection, data []byte)) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 1
	}
	s := &Server{
		config:     config,
		conns:      NewConnectionManager(),
		presence:   presence,
		limiter:    limiter,
		log:        log,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/ws", s.handleUpgrade).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return s
}

// Router exposes the HTTP router so callers can mount extra routes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start initializes the epoll instance and blocks serving HTTP.
func (s *Server) Start() error {
	if err := s.run(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().
		Str("addr", s.config.ListenAddr).
		Int("workers", s.config.WorkerPoolSize).
		Int("max_conns", s.config.MaxConnections).
		Msg("server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// run creates the epoll instance and starts the event loop and heartbeat.
func (s *Server) run() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	go s.startEventLoop()
	StartHeartbeat(s, s.config.Heartbeat)
	return nil
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection, records
// it in the presence store and greets the client with its connection id.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r, s.config.TrustedProxies)
	if s.limiter != nil && s.config.ConnectPerMin > 0 {
		d, err := s.limiter.Hit(r.Context(), ip, ratelimit.ConnectRule(s.config.ConnectPerMin))
		if err == nil && !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Round(time.Second)/time.Second)))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Debug().Err(err).Str("ip", ip).Msg("upgrade failed")
		return
	}

	now := time.Now()
	c := &Connection{
		ID:        model.NewID(),
		IP:        ip,
		Conn:      conn,
		Fd:        socketFD(conn),
		CreatedAt: now,
	}
	c.Touch(now)

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := s.presence.Create(ctx, c.ID, ip)
		cancel()
		if err != nil {
			s.log.Error().Err(err).Str("conn", c.ID).Msg("failed to record connection")
			_ = conn.Close()
			return
		}
	}

	s.conns.Add(c)
	if err := s.epoll.Add(conn); err != nil {
		s.log.Error().Err(err).Str("conn", c.ID).Int("fd", c.Fd).Msg("epoll add failed")
		s.RemoveConnection(c)
		return
	}
	metrics.ConnectionsTotal.Inc()

	hello, err := protocol.NewServerMessage(protocol.TypeConnected, ConnectedPush{ConnID: c.ID})
	if err == nil {
		err = c.WriteMessage(hello)
	}
	if err != nil {
		s.log.Debug().Err(err).Str("conn", c.ID).Msg("failed to greet connection")
	}

	s.log.Debug().Str("conn", c.ID).Str("ip", ip).Int("total", s.conns.Count()).Msg("new connection")
}

// clientIP returns the socket peer address unless the peer is a trusted
// proxy. Behind trusted proxies X-Forwarded-For is walked from the right
// and the first hop that is not itself trusted is the client.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	if len(trusted) == 0 || !isTrusted(peer, trusted) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if _, err := netip.ParseAddr(hop); err != nil {
			// A malformed hop ends the chain we can vouch for.
			return peer
		}
		if !isTrusted(hop, trusted) {
			return hop
		}
		peer = hop
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// handleHealth responds with the server's health status as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Watched     int    `json:"watched"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.epoll != nil {
		resp.Watched = s.epoll.Len()
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. Each ready connection is handed
// to a worker goroutine bounded by the worker pool semaphore.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				if isEINTR(err) {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.log.Error().Err(err).Msg("epoll wait error")
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection. Control
// frames are handled in place; a read failure removes the connection.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.Lookup(netConn)
	if c == nil {
		return
	}

	if !c.beginRead() {
		return
	}
	defer c.endRead()

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// Stale dispatch; the heartbeat handles dead peers.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		metrics.DisconnectsTotal.WithLabelValues("read").Inc()
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})
	c.Touch(time.Now())

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			metrics.DisconnectsTotal.WithLabelValues("close").Inc()
			s.RemoveConnection(c)
		}
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// SetOnDisconnect registers a callback invoked when a connection is removed.
// It runs before the presence record is deleted.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// RemoveConnection unregisters and closes a connection. Concurrent calls for
// the same connection clean up once.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.presence.Delete(ctx, c.ID); err != nil {
			s.log.Error().Err(err).Str("conn", c.ID).Msg("failed to delete connection record")
		}
	}

	s.log.Debug().Str("conn", c.ID).Int("total", s.conns.Count()).Msg("connection closed")
}

// SendMessage writes a text frame to the connection identified by connID.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	err := c.WriteMessage(data)

	_ = c.Conn.SetWriteDeadline(time.Time{})

	return err
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown stops the HTTP listener, closes every connection and releases
// the epoll instance.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down server")

	s.closeOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("http shutdown error")
		}
	}

	for _, c := range s.conns.Snapshot() {
		s.RemoveConnection(c)
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	s.log.Info().Msg("server stopped")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
