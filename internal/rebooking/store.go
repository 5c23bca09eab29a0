package rebooking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultDueLimit = 100

// ReminderStore persists follow-up reminders.
type ReminderStore interface {
	// Create stores r unless a reminder for the same booking exists. It
	// reports whether a row was written.
	Create(ctx context.Context, r *Reminder) (bool, error)
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]Reminder, error)
	// MarkSent moves a pending reminder to sent. It reports false when the
	// reminder was no longer pending.
	MarkSent(ctx context.Context, id string, at time.Time) (bool, error)
	DismissForBooking(ctx context.Context, orgID, bookingID string) (int64, error)
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresReminderStore keeps reminders in the rebook_reminders table.
type PostgresReminderStore struct {
	db DB
}

func NewPostgresReminderStore(pool *pgxpool.Pool) *PostgresReminderStore {
	if pool == nil {
		panic("rebooking: pgx pool required")
	}
	return &PostgresReminderStore{db: pool}
}

// NewPostgresReminderStoreWithDB is used by tests to inject a mock.
func NewPostgresReminderStoreWithDB(db DB) *PostgresReminderStore {
	if db == nil {
		panic("rebooking: db required")
	}
	return &PostgresReminderStore{db: db}
}

func prepareReminder(r *Reminder) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

func (s *PostgresReminderStore) Create(ctx context.Context, r *Reminder) (bool, error) {
	if err := r.validate(); err != nil {
		return false, err
	}
	prepareReminder(r)
	tag, err := s.db.Exec(ctx, `
		INSERT INTO rebook_reminders (id, org_id, contact_id, phone, name, service, booking_id, last_visit, rebook_after, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (booking_id) DO NOTHING`,
		r.ID, r.OrgID, r.ContactID, r.Phone, r.Name, r.Service, r.BookingID,
		r.LastVisit, r.RebookAfter, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("rebooking: create reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresReminderStore) ListDue(ctx context.Context, asOf time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = defaultDueLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, org_id, contact_id, phone, name, service, booking_id, last_visit, rebook_after, status, sent_at, created_at
		FROM rebook_reminders
		WHERE status = 'pending' AND rebook_after <= $1
		ORDER BY rebook_after ASC
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("rebooking: list due: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var (
			r      Reminder
			status string
		)
		if err := rows.Scan(&r.ID, &r.OrgID, &r.ContactID, &r.Phone, &r.Name, &r.Service, &r.BookingID,
			&r.LastVisit, &r.RebookAfter, &status, &r.SentAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("rebooking: scan reminder: %w", err)
		}
		r.Status = ReminderStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rebooking: list due: %w", err)
	}
	return out, nil
}

func (s *PostgresReminderStore) MarkSent(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rebook_reminders SET status = 'sent', sent_at = $2
		WHERE id = $1 AND status = 'pending'`, id, at)
	if err != nil {
		return false, fmt.Errorf("rebooking: mark sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresReminderStore) DismissForBooking(ctx context.Context, orgID, bookingID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rebook_reminders SET status = 'dismissed'
		WHERE org_id = $1 AND booking_id = $2 AND status = 'pending'`, orgID, bookingID)
	if err != nil {
		return 0, fmt.Errorf("rebooking: dismiss: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MemoryReminderStore keeps reminders in process memory.
type MemoryReminderStore struct {
	mu        sync.Mutex
	reminders map[string]*Reminder
	byBooking map[string]string
}

func NewMemoryReminderStore() *MemoryReminderStore {
	return &MemoryReminderStore{
		reminders: make(map[string]*Reminder),
		byBooking: make(map[string]string),
	}
}

func (s *MemoryReminderStore) Create(_ context.Context, r *Reminder) (bool, error) {
	if err := r.validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byBooking[r.BookingID]; ok {
		return false, nil
	}
	prepareReminder(r)
	stored := *r
	s.reminders[r.ID] = &stored
	s.byBooking[r.BookingID] = r.ID
	return true, nil
}

func (s *MemoryReminderStore) ListDue(_ context.Context, asOf time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = defaultDueLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reminder
	for _, r := range s.reminders {
		if r.Status == StatusPending && !r.RebookAfter.After(asOf) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RebookAfter.Before(out[j].RebookAfter) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryReminderStore) MarkSent(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok || r.Status != StatusPending {
		return false, nil
	}
	r.Status = StatusSent
	sentAt := at
	r.SentAt = &sentAt
	return true, nil
}

func (s *MemoryReminderStore) DismissForBooking(_ context.Context, orgID, bookingID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byBooking[bookingID]
	if !ok {
		return 0, nil
	}
	r := s.reminders[id]
	if r.OrgID != orgID || r.Status != StatusPending {
		return 0, nil
	}
	r.Status = StatusDismissed
	return 1, nil
}

// Get returns a copy of a stored reminder.
func (s *MemoryReminderStore) Get(id string) (Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return Reminder{}, false
	}
	return *r, true
}
