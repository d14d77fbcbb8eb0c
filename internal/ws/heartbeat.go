package ws

import (
	"time"

	"github.com/gobwas/ws"

	"github.com/fiora/chat-app/internal/metrics"
)

// HeartbeatConfig tunes the liveness sweep. A connection is dropped once it
// has been silent for Interval + Grace.
type HeartbeatConfig struct {
	Interval time.Duration // sweep and ping period; zero disables the sweep
	Grace    time.Duration // extra silence tolerated after a missed ping
}

// DefaultHeartbeatConfig pings every 30s and allows 10s for the pong.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Grace:    10 * time.Second,
	}
}

// MaxSilence is how long a connection may go without a read.
func (h HeartbeatConfig) MaxSilence() time.Duration {
	return h.Interval + h.Grace
}

// StartHeartbeat runs the sweep until the server shuts down.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	if config.Interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case now := <-ticker.C:
				server.sweep(now, config)
			}
		}
	}()
}

// silent returns the connections that have not been read since before
// now - maxSilence.
func silent(conns []*Connection, now time.Time, maxSilence time.Duration) (dead, alive []*Connection) {
	for _, c := range conns {
		if now.Sub(c.LastSeen()) > maxSilence {
			dead = append(dead, c)
		} else {
			alive = append(alive, c)
		}
	}
	return dead, alive
}

// sweep drops silent connections and pings the rest. Browsers answer the
// protocol ping themselves, so no application frame is needed.
func (s *Server) sweep(now time.Time, config HeartbeatConfig) {
	dead, alive := silent(s.conns.Snapshot(), now, config.MaxSilence())

	for _, c := range dead {
		s.log.Debug().
			Str("conn", c.ID).
			Str("user", c.UserID()).
			Dur("silent", now.Sub(c.LastSeen()).Round(time.Second)).
			Msg("heartbeat timeout")
		metrics.DisconnectsTotal.WithLabelValues("timeout").Inc()
		s.RemoveConnection(c)
	}

	for _, c := range alive {
		if err := c.WritePing(); err != nil {
			s.log.Debug().Err(err).Str("conn", c.ID).Msg("heartbeat ping failed")
			metrics.DisconnectsTotal.WithLabelValues("ping").Inc()
			s.RemoveConnection(c)
		}
	}
}

// WritePing writes a protocol-level ping frame under the write lock.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
