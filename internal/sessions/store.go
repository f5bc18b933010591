package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"elena/agent/internal/events"
	"elena/agent/internal/orchestrator"
)

var ErrTooMany = errors.New("too many live sessions")

// DefaultIdleTTL bounds how long a session may sit unstarted.
const DefaultIdleTTL = 10 * time.Minute

// Factory builds the controller for a new session key.
type Factory func(key string) *orchestrator.Controller

type Created struct {
	Key       string
	CreatedAt time.Time
}

// Store owns the live controllers, one per session key.
type Store struct {
	factory Factory
	journal *events.Store
	max     int
	idleTTL time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	byKey map[string]*orchestrator.Controller
}

// NewStore limits live sessions to max; zero means unlimited.
func NewStore(factory Factory, journal *events.Store, max int) *Store {
	return &Store{
		factory: factory,
		journal: journal,
		max:     max,
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
		byKey:   make(map[string]*orchestrator.Controller),
	}
}

func (s *Store) Create() (*orchestrator.Controller, error) {
	if s.max > 0 && s.Len() >= s.max {
		s.Reap(context.Background())
	}

	s.mu.Lock()
	if s.max > 0 && len(s.byKey) >= s.max {
		s.mu.Unlock()
		return nil, ErrTooMany
	}
	key := randomID()
	c := s.factory(key)
	s.byKey[key] = c
	s.mu.Unlock()

	s.journal.Append(key, "session_created", nil)
	return c, nil
}

func (s *Store) Get(key string) *orchestrator.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byKey[key]
}

func (s *Store) Exists(key string) bool { return s.Get(key) != nil }

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// End closes the controller and forgets the session. It reports whether the
// key was known.
func (s *Store) End(ctx context.Context, key string) bool {
	s.mu.Lock()
	c := s.byKey[key]
	delete(s.byKey, key)
	s.mu.Unlock()
	if c == nil {
		return false
	}
	c.Close(ctx)
	s.journal.Drop(key)
	return true
}

// Reap ends sessions that can never run again and sessions left idle past
// the idle TTL. It returns how many were ended.
func (s *Store) Reap(ctx context.Context) int {
	cutoff := s.now().Add(-s.idleTTL)
	s.mu.RLock()
	var dead []string
	for key, c := range s.byKey {
		if c.Dead() {
			dead = append(dead, key)
			continue
		}
		if v := c.Snapshot(); v.State == string(orchestrator.StateIdle) && v.CreatedAt.Before(cutoff) {
			dead = append(dead, key)
		}
	}
	s.mu.RUnlock()

	n := 0
	for _, key := range dead {
		if s.End(ctx, key) {
			n++
		}
	}
	return n
}

// CloseAll ends every session; used on shutdown.
func (s *Store) CloseAll(ctx context.Context) {
	s.mu.Lock()
	all := s.byKey
	s.byKey = make(map[string]*orchestrator.Controller)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *orchestrator.Controller) {
			defer wg.Done()
			c.Close(ctx)
			c.Wait()
		}(c)
	}
	wg.Wait()
}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
