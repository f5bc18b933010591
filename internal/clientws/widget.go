package clientws

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"elena/agent/internal/avatar"
)

var (
	ErrNoClient     = errors.New("no widget connected for session")
	ErrMediaInvalid = errors.New("media handle is not valid")
)

// Widget drives the browser avatar widget of one session. It is both the
// microphone and the avatar provider for that session's controller.
type Widget struct {
	reg     *Registry
	key     string
	connect time.Duration
}

// Widget returns the adapter for one session key. connect bounds how long
// Acquire waits for the browser to open its websocket.
func (r *Registry) Widget(key string, connect time.Duration) *Widget {
	return &Widget{reg: r, key: key, connect: connect}
}

func (w *Widget) Acquire(ctx context.Context) (avatar.MediaHandle, error) {
	wctx, cancel := context.WithTimeout(ctx, w.connect)
	conn, err := w.reg.Wait(wctx, w.key)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoClient, err)
	}
	if err := conn.Command(ctx, cmdRequestMedia, "", ""); err != nil {
		var ce *CommandError
		if errors.As(err, &ce) {
			return nil, fmt.Errorf("%w: %v", avatar.ErrPermissionDenied, err)
		}
		return nil, err
	}
	return &media{conn: conn}, nil
}

func (w *Widget) Start(ctx context.Context, instance string, m avatar.MediaHandle, h avatar.Handler) (avatar.Stream, error) {
	md, ok := m.(*media)
	if !ok || !md.Valid() {
		return nil, ErrMediaInvalid
	}
	md.conn.attach(instance, h)
	if err := md.conn.Command(ctx, cmdStartAvatar, instance, ""); err != nil {
		return nil, err
	}
	return &stream{conn: md.conn, instance: instance}, nil
}

// media is valid while its connection is open and it has not been released.
type media struct {
	conn     *Conn
	released atomic.Bool
}

func (m *media) Valid() bool { return !m.released.Load() && !m.conn.Closed() }

func (m *media) Release() {
	if m.released.CompareAndSwap(false, true) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.conn.Notify(ctx, cmdReleaseMedia, "")
	}
}

type stream struct {
	conn     *Conn
	instance string
}

func (s *stream) Speak(ctx context.Context, text string) error {
	return s.conn.Command(ctx, cmdSpeak, s.instance, text)
}

func (s *stream) Stop(ctx context.Context) error {
	if s.conn.Closed() {
		return nil
	}
	err := s.conn.Command(ctx, cmdStopAvatar, s.instance, "")
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
