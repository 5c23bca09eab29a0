package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Publisher records domain events for later delivery.
type Publisher interface {
	Publish(ctx context.Context, orgID, aggregate string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error)
}

// PendingSource is what the Deliverer drains, oldest event first.
type PendingSource interface {
	FetchPending(ctx context.Context, limit int32) ([]Envelope, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
}

type outboxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore keeps events in the outbox table until a handler has seen them.
type OutboxStore struct {
	db outboxDB
}

// NewOutboxStore accepts a *pgxpool.Pool or a pgx.Tx, so events can be
// written in the same transaction as the state change they describe.
func NewOutboxStore(db outboxDB) *OutboxStore {
	if db == nil {
		panic("events: outbox needs a database")
	}
	return &OutboxStore{db: db}
}

const insertOutboxSQL = `
INSERT INTO outbox (id, org_id, aggregate, event_type, correlation_id, payload, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`

func (s *OutboxStore) Publish(ctx context.Context, orgID, aggregate string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	env, err := NewEnvelope(orgID, aggregate, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	_, err = s.db.Exec(ctx, insertOutboxSQL,
		env.EventID, env.OrgID, env.Aggregate, env.EventType, env.CorrelationID, []byte(env.Payload), env.OccurredAt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: append %s: %w", env.EventType, err)
	}
	return env, nil
}

const pendingOutboxSQL = `
SELECT id, org_id, aggregate, event_type, COALESCE(correlation_id, ''), payload, created_at
FROM outbox
WHERE delivered_at IS NULL
ORDER BY created_at, id
LIMIT $1`

func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]Envelope, error) {
	rows, err := s.db.Query(ctx, pendingOutboxSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var pending []Envelope
	for rows.Next() {
		var (
			env     Envelope
			payload []byte
		)
		if err := rows.Scan(&env.EventID, &env.OrgID, &env.Aggregate, &env.EventType,
			&env.CorrelationID, &payload, &env.OccurredAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox row: %w", err)
		}
		env.Payload = payload
		env.OccurredAt = env.OccurredAt.UTC()
		pending = append(pending, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	return pending, nil
}

// MarkDelivered reports false when another deliverer got there first.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE outbox SET delivered_at = now() WHERE id = $1 AND delivered_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("events: mark %s delivered: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

type outboxEntry struct {
	env         Envelope
	deliveredAt time.Time
}

// MemoryOutbox is an in-process Publisher and PendingSource.
type MemoryOutbox struct {
	mu      sync.Mutex
	entries []*outboxEntry
	byID    map[uuid.UUID]*outboxEntry
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{byID: make(map[uuid.UUID]*outboxEntry)}
}

func (m *MemoryOutbox) Publish(_ context.Context, orgID, aggregate string, evt CanonicalEvent, opts ...EnvelopeOption) (Envelope, error) {
	env, err := NewEnvelope(orgID, aggregate, evt, opts...)
	if err != nil {
		return Envelope{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byID[env.EventID]; dup {
		return Envelope{}, fmt.Errorf("events: event %s already in outbox", env.EventID)
	}
	e := &outboxEntry{env: env}
	m.entries = append(m.entries, e)
	m.byID[env.EventID] = e
	return env, nil
}

func (m *MemoryOutbox) FetchPending(_ context.Context, limit int32) ([]Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []Envelope
	for _, e := range m.entries {
		if limit > 0 && int32(len(pending)) == limit {
			break
		}
		if e.deliveredAt.IsZero() {
			pending = append(pending, e.env)
		}
	}
	return pending, nil
}

func (m *MemoryOutbox) MarkDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok || !e.deliveredAt.IsZero() {
		return false, nil
	}
	e.deliveredAt = time.Now()
	return true, nil
}

// Types lists the event types published so far, in order.
func (m *MemoryOutbox) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.entries))
	for i, e := range m.entries {
		types[i] = e.env.EventType
	}
	return types
}
