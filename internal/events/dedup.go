package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

// DedupWindow is how long a handled event is remembered by stores that
// expire entries. Stripe retries for up to three days.
const DedupWindow = 7 * 24 * time.Hour

// Deduper remembers provider events (webhook deliveries, outbox events)
// that were handled. MarkProcessed reports false when the event was
// already recorded.
type Deduper interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

var errEmptyEventID = errors.New("events: event id required")

type processedDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore keeps handled events in the processed_events table.
type ProcessedStore struct {
	db processedDB
}

// NewProcessedStore accepts a *pgxpool.Pool or anything with the same
// Exec and QueryRow methods.
func NewProcessedStore(db processedDB) *ProcessedStore {
	if db == nil {
		panic("events: processed store needs a database")
	}
	return &ProcessedStore{db: db}
}

func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEmptyEventID
	}
	var seen bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2)`,
		provider, eventID).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("events: lookup %s/%s: %w", provider, eventID, err)
	}
	return seen, nil
}

func (s *ProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEmptyEventID
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO processed_events (provider, event_id) VALUES ($1, $2) ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, eventID)
	if err != nil {
		return false, fmt.Errorf("events: record %s/%s: %w", provider, eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RedisDeduper keeps handled events as expiring keys. It backs deployments
// that run without Postgres but share Redis across instances.
type RedisDeduper struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

func NewRedisDeduper(client redis.Cmdable, window time.Duration) *RedisDeduper {
	if client == nil {
		panic("events: redis client required")
	}
	if window <= 0 {
		window = DedupWindow
	}
	return &RedisDeduper{client: client, prefix: "processed:", window: window}
}

func (d *RedisDeduper) key(provider, eventID string) string {
	return d.prefix + provider + ":" + eventID
}

func (d *RedisDeduper) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEmptyEventID
	}
	n, err := d.client.Exists(ctx, d.key(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("events: lookup %s/%s: %w", provider, eventID, err)
	}
	return n > 0, nil
}

func (d *RedisDeduper) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEmptyEventID
	}
	set, err := d.client.SetNX(ctx, d.key(provider, eventID), time.Now().UTC().Format(time.RFC3339), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("events: record %s/%s: %w", provider, eventID, err)
	}
	return set, nil
}

// MemoryDeduper is a process-local Deduper. Entries older than the window
// are forgotten on the next write.
type MemoryDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), window: DedupWindow, now: time.Now}
}

func (m *MemoryDeduper) AlreadyProcessed(_ context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEmptyEventID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.seen[provider+":"+eventID]
	return ok && m.now().Sub(at) < m.window, nil
}

func (m *MemoryDeduper) MarkProcessed(_ context.Context, provider, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEmptyEventID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, at := range m.seen {
		if now.Sub(at) >= m.window {
			delete(m.seen, k)
		}
	}
	key := provider + ":" + eventID
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = now
	return true, nil
}
