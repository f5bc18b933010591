package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Span is one remembered occupied range, in minutes since midnight.
type Span struct {
	ID     string `json:"id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Titulo string `json:"titulo,omitempty"`
}

// Snapshot holds the last-known active bookings per date. It is only read
// when the booking store cannot be.
type Snapshot interface {
	Load(ctx context.Context, fecha string) ([]Span, bool, error)
	Update(ctx context.Context, fecha string, fn func([]Span) []Span) error
}

// MemorySnapshot is the per-process snapshot.
type MemorySnapshot struct {
	mu    sync.Mutex
	dates map[string][]Span
}

func NewMemorySnapshot() *MemorySnapshot {
	return &MemorySnapshot{dates: make(map[string][]Span)}
}

func (m *MemorySnapshot) Load(_ context.Context, fecha string) ([]Span, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	spans, ok := m.dates[fecha]
	if !ok {
		return nil, false, nil
	}
	return append([]Span(nil), spans...), true, nil
}

func (m *MemorySnapshot) Update(_ context.Context, fecha string, fn func([]Span) []Span) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dates[fecha] = fn(append([]Span(nil), m.dates[fecha]...))
	return nil
}

// RedisSnapshot shares the snapshot between processes.
type RedisSnapshot struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := c.Ping(pingCtx).Result(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

func NewRedisSnapshot(c *redis.Client, ttl time.Duration) *RedisSnapshot {
	return &RedisSnapshot{client: c, prefix: "agenda:ocupados:", ttl: ttl}
}

func (r *RedisSnapshot) Load(ctx context.Context, fecha string) ([]Span, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+fecha).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var spans []Span
	if err := json.Unmarshal(raw, &spans); err != nil {
		return nil, false, err
	}
	return spans, true, nil
}

// Update runs fn inside WATCH/MULTI so concurrent commits from different
// processes do not overwrite each other.
func (r *RedisSnapshot) Update(ctx context.Context, fecha string, fn func([]Span) []Span) error {
	key := r.prefix + fecha
	txf := func(tx *redis.Tx) error {
		var cur []Span
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &cur); err != nil {
				return err
			}
		}
		data, err := json.Marshal(fn(cur))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}
	for i := 0; i < 3; i++ {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}
