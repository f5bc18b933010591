package clientws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"elena/agent/internal/avatar"
)

var (
	ErrClosed     = errors.New("client connection closed")
	ErrAckTimeout = errors.New("client did not acknowledge command")
)

type ack struct {
	ok  bool
	msg string
}

// Conn is one widget connection. Commands are matched to acks by
// command_id; events are handed to the handler of the latest avatar start.
type Conn struct {
	key        string
	ws         *ws.Conn
	ackTimeout time.Duration
	log        *zap.Logger

	mu       sync.Mutex
	pending  map[string]chan ack
	handler  avatar.Handler
	instance string

	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(key string, c *ws.Conn, ackTimeout time.Duration, log *zap.Logger) *Conn {
	return &Conn{
		key:        key,
		ws:         c,
		ackTimeout: ackTimeout,
		log:        log,
		pending:    make(map[string]chan ack),
		closed:     make(chan struct{}),
	}
}

func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Command sends one command and waits for its ack.
func (c *Conn) Command(ctx context.Context, typ, instance, text string) error {
	if c.Closed() {
		return ErrClosed
	}
	id := uuid.NewString()
	ch := make(chan ack, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := outbound{Type: typ, CommandID: id, SessionID: instance, Text: text, TsMs: time.Now().UnixMilli()}
	if err := wsjson.Write(ctx, c.ws, msg); err != nil {
		return err
	}
	metricCommands.WithLabelValues(typ).Inc()

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case a := <-ch:
		if !a.ok {
			return &CommandError{Command: typ, Message: a.msg}
		}
		return nil
	case <-timer.C:
		metricAckTimeouts.WithLabelValues(typ).Inc()
		return ErrAckTimeout
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify sends a command without waiting for the ack.
func (c *Conn) Notify(ctx context.Context, typ, instance string) error {
	if c.Closed() {
		return ErrClosed
	}
	return wsjson.Write(ctx, c.ws, outbound{Type: typ, CommandID: uuid.NewString(), SessionID: instance, TsMs: time.Now().UnixMilli()})
}

// attach routes events to h from now on. Events of older instances still go
// to h; the controller decides whether they are stale.
func (c *Conn) attach(instance string, h avatar.Handler) {
	c.mu.Lock()
	c.instance, c.handler = instance, h
	c.mu.Unlock()
}

func (c *Conn) deliver(in inbound) {
	if in.Type == typeAck {
		c.mu.Lock()
		ch := c.pending[in.CommandID]
		c.mu.Unlock()
		if ch == nil {
			metricInboundDropped.WithLabelValues("unknown_ack").Inc()
			return
		}
		select {
		case ch <- ack{ok: *in.OK, msg: in.Error}:
		default:
		}
		return
	}
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		metricInboundDropped.WithLabelValues("no_stream").Inc()
		return
	}
	ev := in.event()
	ev.At = time.Now()
	h(ev)
}

// shutdown fails pending commands and reports the loss of the stream once.
func (c *Conn) shutdown(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close(ws.StatusNormalClosure, reason)
		c.log.Debug("widget connection closed", zap.String("reason", reason))
		c.mu.Lock()
		h, instance := c.handler, c.instance
		c.mu.Unlock()
		if h != nil && instance != "" {
			h(avatar.Event{Kind: avatar.EventDisconnected, Instance: instance, At: time.Now()})
		}
	})
}
