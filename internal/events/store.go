package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCap bounds the journal per session.
const DefaultCap = 200

const typeTruncated = "events_truncated"

type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Store is an in-memory per-session journal. When a session exceeds the cap
// the oldest events are dropped and a single events_truncated marker is kept
// at the end.
type Store struct {
	mu     sync.RWMutex
	cap    int
	bySess map[string][]Event
}

func NewStore(capacity int) *Store {
	if capacity < 2 {
		capacity = DefaultCap
	}
	return &Store{cap: capacity, bySess: make(map[string][]Event)}
}

func (s *Store) Append(sessionID, typ string, payload map[string]any) Event {
	evt := Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.bySess[sessionID]
	dropped := 0
	if n := len(evs); n > 0 && evs[n-1].Type == typeTruncated {
		dropped, _ = evs[n-1].Payload["dropped"].(int)
		evs = evs[:n-1]
	}
	evs = append(evs, evt)
	if dropped > 0 || len(evs) > s.cap {
		keep := s.cap - 1
		if l := len(evs); l > keep {
			dropped += l - keep
			evs = append([]Event(nil), evs[l-keep:]...)
		}
		evs = append(evs, Event{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Type:      typeTruncated,
			Timestamp: time.Now().UTC(),
			Payload:   map[string]any{"dropped": dropped, "kept": keep},
		})
	}
	s.bySess[sessionID] = evs
	return evt
}

func (s *Store) List(sessionID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.bySess[sessionID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// Drop forgets a session's journal.
func (s *Store) Drop(sessionID string) {
	s.mu.Lock()
	delete(s.bySess, sessionID)
	s.mu.Unlock()
}
