package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"elena/agent/internal/avatar"
	"elena/agent/internal/llm"
	"elena/agent/internal/types"
)

type fakeMedia struct{ released atomic.Bool }

func (m *fakeMedia) Valid() bool { return !m.released.Load() }
func (m *fakeMedia) Release()    { m.released.Store(true) }

type fakeMic struct {
	err   error
	media *fakeMedia
}

func (f *fakeMic) Acquire(context.Context) (avatar.MediaHandle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.media = &fakeMedia{}
	return f.media, nil
}

type fakeStream struct {
	mu      sync.Mutex
	spoken  []string
	stopped bool
}

func (s *fakeStream) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *fakeStream) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeStream) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func (s *fakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type started struct {
	instance string
	handler  avatar.Handler
	stream   *fakeStream
}

type fakeProvider struct {
	mu    sync.Mutex
	err   error
	calls []started
}

func (p *fakeProvider) Start(_ context.Context, instance string, _ avatar.MediaHandle, h avatar.Handler) (avatar.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	s := &fakeStream{}
	p.calls = append(p.calls, started{instance: instance, handler: h, stream: s})
	return s, nil
}

func (p *fakeProvider) last() started {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

// emit sends an event tagged with the given start's instance.
func (s started) emit(kind avatar.EventKind, text string) {
	s.handler(avatar.Event{Kind: kind, Instance: s.instance, Text: text})
}

// reply scripts one generation.
type reply struct {
	chunks []string
	err    error // returned after chunks
}

type fakeBackend struct {
	mu       sync.Mutex
	prompts  []string
	script   func(text string) reply
	gate     chan struct{} // when set, every generation waits on it
	oneShot  func(text string) (string, error)
	sessions int
}

func (b *fakeBackend) CreateSession(context.Context, string) (llm.Chat, error) {
	b.mu.Lock()
	b.sessions++
	b.mu.Unlock()
	if b.oneShot != nil {
		return &oneShotChat{fakeChat{b: b}}, nil
	}
	return &fakeChat{b: b}, nil
}

func (b *fakeBackend) Prompts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prompts...)
}

type fakeChat struct{ b *fakeBackend }

func (c *fakeChat) SendMessageStream(ctx context.Context, text string) llm.Stream {
	c.b.mu.Lock()
	c.b.prompts = append(c.b.prompts, text)
	c.b.mu.Unlock()
	r := reply{chunks: []string{"ok"}}
	if c.b.script != nil {
		r = c.b.script(text)
	}
	return &fakeLLMStream{ctx: ctx, r: r, gate: c.b.gate}
}

type oneShotChat struct{ fakeChat }

func (c *oneShotChat) SendMessage(_ context.Context, text string) (string, error) {
	return c.b.oneShot(text)
}

type fakeLLMStream struct {
	ctx  context.Context
	r    reply
	gate chan struct{}
	i    int
}

func (s *fakeLLMStream) Next() (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
		s.gate = nil
	}
	if s.i < len(s.r.chunks) {
		s.i++
		return s.r.chunks[s.i-1], nil
	}
	if s.r.err != nil {
		return "", s.r.err
	}
	return "", io.EOF
}

type fakeCommitter struct {
	mu      sync.Mutex
	intents []types.BookingIntent
	err     error
}

func (f *fakeCommitter) Commit(_ context.Context, in types.BookingIntent) (types.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, in)
	if f.err != nil {
		return types.Booking{}, f.err
	}
	return types.Booking{ID: "b-1", Fecha: in.Fecha, Hora: in.Hora, Nombre: in.Nombre, Estado: types.EstadoPending}, nil
}

func (f *fakeCommitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.intents)
}

type fakeAvailability struct {
	w   types.AvailabilityWindow
	err error
}

func (f fakeAvailability) Query(context.Context, string) (types.AvailabilityWindow, error) {
	return f.w, f.err
}

var errBoom = errors.New("boom")
