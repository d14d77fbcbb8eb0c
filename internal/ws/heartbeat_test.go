package ws

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiora/chat-app/internal/logging"
)

func TestSilentPartitions(t *testing.T) {
	now := time.Unix(1000, 0)
	conn := func(id string, silentFor time.Duration) *Connection {
		c := &Connection{ID: id}
		c.Touch(now.Add(-silentFor))
		return c
	}
	fresh := conn("fresh", 5*time.Second)
	edge := conn("edge", 40*time.Second)
	stale := conn("stale", 41*time.Second)

	dead, alive := silent([]*Connection{fresh, edge, stale}, now, DefaultHeartbeatConfig().MaxSilence())
	require.Len(t, dead, 1)
	assert.Equal(t, "stale", dead[0].ID)
	require.Len(t, alive, 2)
	assert.Equal(t, "fresh", alive[0].ID)
	assert.Equal(t, "edge", alive[1].ID)
}

func TestSweepDropsSilentAndPingsLive(t *testing.T) {
	s := NewServer(DefaultServerConfig(), nil, nil, logging.Nop(), nil)
	var dropped []string
	s.SetOnDisconnect(func(c *Connection) { dropped = append(dropped, c.ID) })

	now := time.Now()
	deadServer, deadPeer := net.Pipe()
	t.Cleanup(func() { deadPeer.Close() })
	liveServer, livePeer := net.Pipe()
	t.Cleanup(func() {
		liveServer.Close()
		livePeer.Close()
	})

	dead := &Connection{ID: "dead", Conn: deadServer}
	dead.Touch(now.Add(-time.Hour))
	live := &Connection{ID: "live", Conn: liveServer}
	live.Touch(now)
	s.conns.Add(dead)
	s.conns.Add(live)

	frames := make(chan ws.OpCode, 1)
	go func() {
		f, err := ws.ReadFrame(livePeer)
		if err == nil {
			frames <- f.Header.OpCode
		}
	}()

	s.sweep(now, DefaultHeartbeatConfig())

	assert.Equal(t, []string{"dead"}, dropped)
	assert.Nil(t, s.conns.Get("dead"))
	assert.NotNil(t, s.conns.Get("live"))
	select {
	case op := <-frames:
		assert.Equal(t, ws.OpPing, op)
	case <-time.After(2 * time.Second):
		t.Fatal("live connection was not pinged")
	}
}
