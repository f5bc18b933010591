package avatar

import (
	"context"
	"errors"
	"time"
)

// ErrPermissionDenied is returned by Acquire when the user refuses or has no
// microphone.
var ErrPermissionDenied = errors.New("microphone permission denied")

// EventKind is the closed set of events a provider may deliver.
type EventKind string

const (
	EventStreamReady        EventKind = "stream_ready"
	EventUserStartTalking   EventKind = "user_start_talking"
	EventUserTranscript     EventKind = "user_transcript"
	EventUserStopTalking    EventKind = "user_stop_talking"
	EventAvatarStartTalking EventKind = "avatar_start_talking"
	EventAvatarStopTalking  EventKind = "avatar_stop_talking"
	EventDisconnected       EventKind = "disconnected"
	EventError              EventKind = "error"
)

var kinds = map[EventKind]bool{
	EventStreamReady:        true,
	EventUserStartTalking:   true,
	EventUserTranscript:     true,
	EventUserStopTalking:    true,
	EventAvatarStartTalking: true,
	EventAvatarStopTalking:  true,
	EventDisconnected:       true,
	EventError:              true,
}

func (k EventKind) Valid() bool { return kinds[k] }

// Event is tagged with the session instance that produced it so late events
// from a torn-down instance can be recognised and dropped.
type Event struct {
	Kind     EventKind
	Instance string
	Text     string
	Err      error
	At       time.Time
}

// Handler receives every event of one stream. It must not block.
type Handler func(Event)

// MediaHandle is the captured microphone.
type MediaHandle interface {
	Valid() bool
	Release()
}

// Microphone acquires the user's audio input.
type Microphone interface {
	Acquire(ctx context.Context) (MediaHandle, error)
}

// Provider opens avatar streaming sessions.
type Provider interface {
	Start(ctx context.Context, instance string, media MediaHandle, h Handler) (Stream, error)
}

// Stream is one open avatar session.
type Stream interface {
	Speak(ctx context.Context, text string) error
	Stop(ctx context.Context) error
}
