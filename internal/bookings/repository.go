package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence contract used by the booking flows.
type Repository interface {
	// ListActiveForContact returns the contact's confirmed bookings starting after now.
	ListActiveForContact(ctx context.Context, orgID, contactID string, now time.Time) ([]Booking, error)
	// CreateBatch inserts every draft with status in one transaction and a shared group id.
	CreateBatch(ctx context.Context, status Status, drafts []Draft) ([]Booking, error)
	// ConfirmBatch moves all provisional bookings to confirmed, or none of them.
	ConfirmBatch(ctx context.Context, orgID string, ids []string) error
	// DeleteBatch removes the provisional bookings among ids and reports how many were removed.
	DeleteBatch(ctx context.Context, orgID string, ids []string) (int64, error)
	Cancel(ctx context.Context, orgID, id, reason string, feeCents int) error
	RequestReschedule(ctx context.Context, orgID, id string, requested time.Time) error
	SessionProgress(ctx context.Context, orgID, contactID, serviceID string, total int) (SessionProgress, error)
}

// DB is the subset of pgxpool.Pool used by PostgresRepository.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository stores bookings in PostgreSQL.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a repository backed by pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

// NewPostgresRepositoryWithDB allows injecting mocks for tests.
func NewPostgresRepositoryWithDB(db DB) *PostgresRepository {
	if db == nil {
		panic("bookings: db required")
	}
	return &PostgresRepository{db: db}
}

const bookingColumns = `
	id, org_id, contact_id, service_id, service_name, start_time, end_time, status,
	COALESCE(group_id::text, ''), session_number, total_sessions,
	COALESCE(cancellation_reason, ''), cancellation_fee_cents, requested_start_time, created_at
`

func scanBooking(row pgx.Row) (Booking, error) {
	var (
		b         Booking
		status    string
		requested pgtype.Timestamptz
	)
	err := row.Scan(
		&b.ID,
		&b.OrgID,
		&b.ContactID,
		&b.ServiceID,
		&b.ServiceName,
		&b.StartTime,
		&b.EndTime,
		&status,
		&b.GroupID,
		&b.SessionNumber,
		&b.TotalSessions,
		&b.CancellationReason,
		&b.CancellationFeeCents,
		&requested,
		&b.CreatedAt,
	)
	if err != nil {
		return Booking{}, err
	}
	b.Status = Status(status)
	if requested.Valid {
		t := requested.Time
		b.RequestedStartTime = &t
	}
	return b, nil
}

// ListActiveForContact returns upcoming confirmed bookings ordered by start time.
func (r *PostgresRepository) ListActiveForContact(ctx context.Context, orgID, contactID string, now time.Time) ([]Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+`
		FROM bookings
		WHERE org_id = $1 AND contact_id = $2 AND status = $3 AND start_time > $4
		ORDER BY start_time ASC
	`, orgID, contactID, string(StatusConfirmed), now)
	if err != nil {
		return nil, fmt.Errorf("bookings: list active: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan active: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: list active rows: %w", err)
	}
	return out, nil
}

// CreateBatch inserts all drafts in a single transaction.
func (r *PostgresRepository) CreateBatch(ctx context.Context, status Status, drafts []Draft) ([]Booking, error) {
	if len(drafts) == 0 {
		return nil, ErrEmptyBatch
	}
	groupID := uuid.New().String()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	out := make([]Booking, 0, len(drafts))
	for _, d := range drafts {
		b := Booking{
			ID:            uuid.New().String(),
			OrgID:         d.OrgID,
			ContactID:     d.ContactID,
			ServiceID:     d.ServiceID,
			ServiceName:   d.ServiceName,
			StartTime:     d.StartTime.UTC(),
			EndTime:       d.EndTime.UTC(),
			Status:        status,
			GroupID:       groupID,
			SessionNumber: d.SessionNumber,
			TotalSessions: d.TotalSessions,
			CreatedAt:     time.Now().UTC(),
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO bookings (id, org_id, contact_id, service_id, service_name, start_time, end_time, status, group_id, session_number, total_sessions, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, b.ID, b.OrgID, b.ContactID, b.ServiceID, b.ServiceName, b.StartTime, b.EndTime, string(b.Status), b.GroupID, b.SessionNumber, b.TotalSessions, b.CreatedAt); err != nil {
			return nil, fmt.Errorf("bookings: insert session %d: %w", d.SessionNumber, err)
		}
		out = append(out, b)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("bookings: commit batch: %w", err)
	}
	return out, nil
}

// ConfirmBatch confirms every booking in ids. Already-confirmed rows count
// toward the batch so a repeated confirm is a no-op.
func (r *PostgresRepository) ConfirmBatch(ctx context.Context, orgID string, ids []string) error {
	if len(ids) == 0 {
		return ErrEmptyBatch
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $1, confirmed_at = COALESCE(confirmed_at, NOW())
		WHERE org_id = $2 AND id = ANY($3) AND status IN ($4, $1)
	`, string(StatusConfirmed), orgID, ids, string(StatusProvisional))
	if err != nil {
		return fmt.Errorf("bookings: confirm batch: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return fmt.Errorf("%w: confirmed %d of %d", ErrBatchMismatch, tag.RowsAffected(), len(ids))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bookings: commit confirm: %w", err)
	}
	return nil
}

// DeleteBatch removes provisional bookings. Confirmed rows are never deleted.
func (r *PostgresRepository) DeleteBatch(ctx context.Context, orgID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM bookings WHERE org_id = $1 AND id = ANY($2) AND status = $3
	`, orgID, ids, string(StatusProvisional))
	if err != nil {
		return 0, fmt.Errorf("bookings: delete batch: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Cancel marks a confirmed booking cancelled with its reason and late fee.
func (r *PostgresRepository) Cancel(ctx context.Context, orgID, id, reason string, feeCents int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE bookings
		SET status = $1, cancellation_reason = NULLIF($2, ''), cancellation_fee_cents = $3, cancelled_at = NOW()
		WHERE org_id = $4 AND id = $5 AND status = $6
	`, string(StatusCancelled), reason, feeCents, orgID, id, string(StatusConfirmed))
	if err != nil {
		return fmt.Errorf("bookings: cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, orgID, id, ErrNotCancellable)
	}
	return nil
}

// RequestReschedule records the customer's requested new start time.
func (r *PostgresRepository) RequestReschedule(ctx context.Context, orgID, id string, requested time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE bookings SET requested_start_time = $1
		WHERE org_id = $2 AND id = $3 AND status = $4
	`, requested.UTC(), orgID, id, string(StatusConfirmed))
	if err != nil {
		return fmt.Errorf("bookings: request reschedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, orgID, id, ErrNotCancellable)
	}
	return nil
}

// SessionProgress counts booked and completed sessions of a plan. Provisional
// sessions count as booked so a pending payment blocks a second plan.
func (r *PostgresRepository) SessionProgress(ctx context.Context, orgID, contactID, serviceID string, total int) (SessionProgress, error) {
	progress := SessionProgress{Total: total}
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($4, $5, $6)),
			COUNT(*) FILTER (WHERE status = $6)
		FROM bookings
		WHERE org_id = $1 AND contact_id = $2 AND service_id = $3
	`, orgID, contactID, serviceID, string(StatusProvisional), string(StatusConfirmed), string(StatusCompleted)).Scan(&progress.Booked, &progress.Completed)
	if err != nil {
		return SessionProgress{}, fmt.Errorf("bookings: session progress: %w", err)
	}
	return progress, nil
}

func (r *PostgresRepository) missingOr(ctx context.Context, orgID, id string, fallback error) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE org_id = $1 AND id = $2)`, orgID, id).Scan(&exists)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bookings: lookup: %w", err)
	}
	if !exists {
		return ErrBookingNotFound
	}
	return fallback
}
