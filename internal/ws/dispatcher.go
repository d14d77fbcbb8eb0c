package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/metrics"
	"github.com/fiora/chat-app/internal/protocol"
)

// Context carries one inbound event through the middleware chain to its
// handler.
type Context struct {
	context.Context
	Conn  *Connection
	Event string
	Data  json.RawMessage
}

// Bind decodes the event payload into v.
func (c *Context) Bind(v any) error {
	if err := protocol.Decode(c.Data, v); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	return nil
}

// Handler serves one event. The returned value becomes the ack payload; a
// non-nil error becomes the ack's single reason string.
type Handler func(c *Context) (any, error)

// Middleware wraps a Handler. A stage aborts the chain by returning an
// error instead of calling next.
type Middleware func(next Handler) Handler

// MessageDispatcher routes incoming WebSocket frames to registered handlers
// based on the event name. Every handler runs behind the middleware chain
// installed with Use. Ping frames are answered without touching the chain.
type MessageDispatcher struct {
	handlers   map[string]Handler
	middleware []Middleware
	log        zerolog.Logger
	timeout    time.Duration
}

// NewMessageDispatcher creates an empty dispatcher. timeout bounds the
// context handed to each handler; zero means no bound.
func NewMessageDispatcher(log zerolog.Logger, timeout time.Duration) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]Handler),
		log:      log,
		timeout:  timeout,
	}
}

// Use appends middleware. The first registered stage runs first.
func (d *MessageDispatcher) Use(mw ...Middleware) {
	d.middleware = append(d.middleware, mw...)
}

// Register associates a Handler with an event name, replacing any previous
// registration.
func (d *MessageDispatcher) Register(event string, handler Handler) {
	d.handlers[event] = handler
}

// Events returns the registered event names.
func (d *MessageDispatcher) Events() []string {
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	return out
}

func (d *MessageDispatcher) chain(h Handler) Handler {
	for i := len(d.middleware) - 1; i >= 0; i-- {
		h = d.middleware[i](h)
	}
	return h
}

// Dispatch is the onMessage callback. It parses the frame, runs the chain
// and writes the ack. It returns only after the handler finished, so frames
// of one connection are served strictly in arrival order.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	req, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.log.Debug().Err(err).Str("conn", conn.ID).Msg("dispatch parse error")
		d.reply(conn, req.Ack, nil, "invalid message format")
		return
	}

	if req.Type == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[req.Type]
	if !ok {
		d.log.Debug().Str("event", req.Type).Str("conn", conn.ID).Msg("unsupported event")
		d.reply(conn, req.Ack, nil, "unsupported event")
		return
	}

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := d.chain(handler)(&Context{Context: ctx, Conn: conn, Event: req.Type, Data: req.Data})
	metrics.EventLatency.WithLabelValues(req.Type).Observe(time.Since(start).Seconds())

	if err != nil {
		kind := apperr.KindOf(err)
		metrics.EventsTotal.WithLabelValues(req.Type, kind.String()).Inc()
		if kind == apperr.KindInternal {
			d.log.Error().Err(err).Str("event", req.Type).Str("conn", conn.ID).Msg("handler failed")
		}
		d.reply(conn, req.Ack, nil, apperr.Public(err))
		return
	}
	metrics.EventsTotal.WithLabelValues(req.Type, "ok").Inc()
	d.reply(conn, req.Ack, result, "")
}

func (d *MessageDispatcher) reply(conn *Connection, id uint64, data any, errMsg string) {
	if id == 0 {
		return
	}
	out, err := protocol.NewAck(id, data, errMsg)
	if err != nil {
		d.log.Error().Err(err).Str("conn", conn.ID).Msg("failed to build ack")
		return
	}
	if err := conn.WriteMessage(out); err != nil {
		d.log.Debug().Err(err).Str("conn", conn.ID).Msg("failed to send ack")
	}
}

// sendPong answers an application ping and counts it as activity.
func (d *MessageDispatcher) sendPong(conn *Connection) {
	conn.Touch(time.Now())

	data, err := protocol.NewServerMessage(protocol.TypePong, nil)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		d.log.Debug().Err(err).Str("conn", conn.ID).Msg("failed to send pong")
	}
}
