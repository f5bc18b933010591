package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"elena/agent/internal/avatar"
	"elena/agent/internal/types"
)

var (
	// ErrRestartUnavailable means the media handle is gone; the caller has to
	// start a new controller instead.
	ErrRestartUnavailable = errors.New("restart unavailable: media handle released")
	// ErrSessionStopped is returned when Stop wins a race with Start or Restart.
	ErrSessionStopped = errors.New("session stopped while starting")
)

const teardownTimeout = 5 * time.Second

// Start runs idle -> requesting-permissions -> connecting. The controller
// moves to listening when the provider reports the stream ready.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if err := c.setState(StateRequestingPermissions); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	media, err := c.deps.Microphone.Acquire(ctx)

	c.mu.Lock()
	if c.state != StateRequestingPermissions {
		c.mu.Unlock()
		if media != nil {
			media.Release()
		}
		return ErrSessionStopped
	}
	if err != nil {
		c.setState(StateError)
		c.log.Warn("microphone not acquired", zap.Error(err))
		if !errors.Is(err, avatar.ErrPermissionDenied) {
			// The capture side was unreachable, not refused.
			c.status = StatusConnectionError
			c.mu.Unlock()
			return fmt.Errorf("%w: %v", types.ErrConnection, err)
		}
		c.status = StatusPermissionDenied
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", types.ErrPermissionDenied, err)
	}
	c.media = media
	c.mu.Unlock()

	return c.connect(ctx)
}

// Restart opens a fresh provider session on the retained media handle. It is
// a new connecting attempt; nothing from the previous instance is resumed.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.Terminal() {
		err := &TransitionError{From: c.state, To: StateConnecting}
		c.mu.Unlock()
		return err
	}
	if c.media == nil || !c.media.Valid() {
		c.mu.Unlock()
		return ErrRestartUnavailable
	}
	c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Controller) connect(ctx context.Context) error {
	c.mu.Lock()
	instance := uuid.NewString()
	prev := c.instance
	c.instance = instance
	if err := c.setState(StateConnecting); err != nil {
		c.instance = prev
		c.mu.Unlock()
		return err
	}
	c.floor.Reset()
	media := c.media
	c.mu.Unlock()

	c.log.Info("connecting avatar", zap.String("instance", instance))
	stream, err := c.deps.Avatar.Start(ctx, instance, media, c.Dispatch)

	c.mu.Lock()
	if c.instance != instance || (err == nil && c.state.Terminal()) {
		c.mu.Unlock()
		if stream != nil {
			c.stopStream(stream)
		}
		return ErrSessionStopped
	}
	if err != nil {
		if !c.state.Terminal() {
			c.setState(StateError)
			c.status = StatusConnectionError
		}
		c.mu.Unlock()
		c.log.Warn("avatar start failed", zap.String("instance", instance), zap.Error(err))
		return fmt.Errorf("%w: %v", types.ErrConnection, err)
	}
	c.stream = stream
	c.mu.Unlock()
	return nil
}

// Stop is idempotent. It releases the stream and the media handle, so a
// stopped controller cannot be restarted.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	stream, media := c.stream, c.media
	c.stream, c.media = nil, nil
	if c.state != StateClosed {
		c.setState(StateClosed)
	}
	c.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(ctx); err != nil {
			c.log.Warn("avatar stop failed", zap.Error(err))
		}
	}
	if media != nil {
		media.Release()
	}
}

// Dead reports whether the controller is terminal and can never run again:
// the media handle is gone, so neither Start nor Restart can succeed.
func (c *Controller) Dead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Terminal() && (c.media == nil || !c.media.Valid())
}

// teardownLocked ends the current instance after a provider disconnect or
// error. The media handle is kept for Restart. mu must be held.
func (c *Controller) teardownLocked(to State) {
	stream := c.stream
	c.stream = nil
	c.setState(to)
	if to == StateError {
		c.status = StatusConnectionError
	}
	if stream != nil {
		go c.stopStream(stream)
	}
}

func (c *Controller) stopStream(s avatar.Stream) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		c.log.Debug("stream stop after teardown", zap.Error(err))
	}
}
