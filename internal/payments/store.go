package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LinkStore persists payment links. Status changes are compare-and-set from
// pending so a link reaches exactly one terminal state.
type LinkStore interface {
	Create(ctx context.Context, link *Link) error
	Get(ctx context.Context, id string) (*Link, error)
	AttachCheckout(ctx context.Context, id, provider, url, providerRef string) error
	// Transition moves a pending link to status and reports whether this call won.
	Transition(ctx context.Context, id string, status Status) (bool, error)
	// MarkSettled stamps settled_at once and reports whether this call won.
	MarkSettled(ctx context.Context, id string, at time.Time) (bool, error)
	// ListUnsettled returns links that are terminal, or pending past expiry,
	// and whose bookings have not been settled yet.
	ListUnsettled(ctx context.Context, now time.Time, limit int) ([]*Link, error)
}

// DB is the subset of pgxpool.Pool used by PostgresLinkStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLinkStore stores payment links in the payment_links table.
type PostgresLinkStore struct {
	db DB
}

// NewPostgresLinkStore creates a link store backed by a pgx pool.
func NewPostgresLinkStore(pool *pgxpool.Pool) *PostgresLinkStore {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &PostgresLinkStore{db: pool}
}

// NewPostgresLinkStoreWithDB allows injecting mocks for tests.
func NewPostgresLinkStoreWithDB(db DB) *PostgresLinkStore {
	if db == nil {
		panic("payments: db required")
	}
	return &PostgresLinkStore{db: db}
}

const linkColumns = `
	id, org_id, conversation_id, contact_id, phone, booking_ids, amount_cents,
	description, COALESCE(url, ''), COALESCE(provider, ''), COALESCE(provider_ref, ''),
	status, expires_at, created_at, settled_at
`

func scanLink(row pgx.Row) (*Link, error) {
	var (
		l       Link
		status  string
		settled pgtype.Timestamptz
	)
	err := row.Scan(
		&l.ID,
		&l.OrgID,
		&l.ConversationID,
		&l.ContactID,
		&l.PhoneNumber,
		&l.BookingIDs,
		&l.AmountCents,
		&l.Description,
		&l.URL,
		&l.Provider,
		&l.ProviderRef,
		&status,
		&l.ExpiresAt,
		&l.CreatedAt,
		&settled,
	)
	if err != nil {
		return nil, err
	}
	l.Status = Status(status)
	if settled.Valid {
		t := settled.Time
		l.SettledAt = &t
	}
	return &l, nil
}

func (s *PostgresLinkStore) Create(ctx context.Context, link *Link) error {
	if link == nil {
		return fmt.Errorf("payments: link required")
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO payment_links (
			id, org_id, conversation_id, contact_id, phone, booking_ids,
			amount_cents, description, status, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, link.ID, link.OrgID, link.ConversationID, link.ContactID, link.PhoneNumber, link.BookingIDs,
		link.AmountCents, link.Description, string(link.Status), link.ExpiresAt, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("payments: insert link: %w", err)
	}
	return nil
}

func (s *PostgresLinkStore) Get(ctx context.Context, id string) (*Link, error) {
	link, err := scanLink(s.db.QueryRow(ctx, `SELECT `+linkColumns+` FROM payment_links WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("payments: get link: %w", err)
	}
	return link, nil
}

func (s *PostgresLinkStore) AttachCheckout(ctx context.Context, id, provider, url, providerRef string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE payment_links SET provider = $2, url = $3, provider_ref = $4
		WHERE id = $1
	`, id, provider, url, providerRef)
	if err != nil {
		return fmt.Errorf("payments: attach checkout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (s *PostgresLinkStore) Transition(ctx context.Context, id string, status Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payment_links SET status = $2
		WHERE id = $1 AND status = $3
	`, id, string(status), string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("payments: transition link: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresLinkStore) MarkSettled(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payment_links SET settled_at = $2
		WHERE id = $1 AND settled_at IS NULL AND status <> $3
	`, id, at, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("payments: mark settled: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresLinkStore) ListUnsettled(ctx context.Context, now time.Time, limit int) ([]*Link, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+linkColumns+` FROM payment_links
		WHERE settled_at IS NULL AND (status <> $1 OR expires_at <= $2)
		ORDER BY expires_at
		LIMIT $3
	`, string(StatusPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("payments: list unsettled: %w", err)
	}
	defer rows.Close()

	var out []*Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("payments: scan link: %w", err)
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

// MemoryLinkStore keeps links in process memory.
type MemoryLinkStore struct {
	mu    sync.Mutex
	links map[string]*Link
}

func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{links: make(map[string]*Link)}
}

func (m *MemoryLinkStore) Create(ctx context.Context, link *Link) error {
	if link == nil {
		return fmt.Errorf("payments: link required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.links[link.ID]; exists {
		return fmt.Errorf("payments: link %s already exists", link.ID)
	}
	m.links[link.ID] = cloneLink(link)
	return nil
}

func (m *MemoryLinkStore) Get(ctx context.Context, id string) (*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[id]
	if !ok {
		return nil, ErrLinkNotFound
	}
	return cloneLink(link), nil
}

func (m *MemoryLinkStore) AttachCheckout(ctx context.Context, id, provider, url, providerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[id]
	if !ok {
		return ErrLinkNotFound
	}
	link.Provider = provider
	link.URL = url
	link.ProviderRef = providerRef
	return nil
}

func (m *MemoryLinkStore) Transition(ctx context.Context, id string, status Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[id]
	if !ok {
		return false, ErrLinkNotFound
	}
	if link.Status != StatusPending {
		return false, nil
	}
	link.Status = status
	return true, nil
}

func (m *MemoryLinkStore) MarkSettled(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[id]
	if !ok {
		return false, ErrLinkNotFound
	}
	if link.SettledAt != nil || link.Status == StatusPending {
		return false, nil
	}
	link.SettledAt = &at
	return true, nil
}

func (m *MemoryLinkStore) ListUnsettled(ctx context.Context, now time.Time, limit int) ([]*Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Link
	for _, link := range m.links {
		if link.SettledAt != nil {
			continue
		}
		if link.Status == StatusPending && now.Before(link.ExpiresAt) {
			continue
		}
		out = append(out, cloneLink(link))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
