package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// SQLRepository stores contacts in PostgreSQL through database/sql and lib/pq.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository initializes a repo backed by db.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	if db == nil {
		panic("contacts: sql db required")
	}
	return &SQLRepository{db: db}
}

const selectContact = `
	SELECT id, org_id, phone, COALESCE(name, ''), COALESCE(email, ''), created_at, updated_at
	FROM contacts
`

func scanContact(row *sql.Row) (*Contact, error) {
	var c Contact
	if err := row.Scan(&c.ID, &c.OrgID, &c.Phone, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContactNotFound
		}
		return nil, fmt.Errorf("contacts: select failed: %w", err)
	}
	return &c, nil
}

// GetByID fetches a contact scoped to the org.
func (r *SQLRepository) GetByID(ctx context.Context, orgID, id string) (*Contact, error) {
	return scanContact(r.db.QueryRowContext(ctx, selectContact+`WHERE id = $1 AND org_id = $2`, id, orgID))
}

// FindByPhone fetches a contact by normalized phone number.
func (r *SQLRepository) FindByPhone(ctx context.Context, orgID, phone string) (*Contact, error) {
	return scanContact(r.db.QueryRowContext(ctx, selectContact+`WHERE org_id = $1 AND phone = $2`, orgID, NormalizePhone(phone)))
}

// FindOrCreate returns the contact for phone, inserting it when missing. A
// concurrent insert of the same phone resolves to the existing row.
func (r *SQLRepository) FindOrCreate(ctx context.Context, orgID, phone, name string) (*Contact, error) {
	if err := validate(orgID, phone); err != nil {
		return nil, err
	}
	existing, err := r.FindByPhone(ctx, orgID, phone)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrContactNotFound) {
		return nil, err
	}

	c := &Contact{
		ID:    uuid.New().String(),
		OrgID: orgID,
		Phone: NormalizePhone(phone),
		Name:  strings.TrimSpace(name),
	}
	query := `
		INSERT INTO contacts (id, org_id, phone, name)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING created_at, updated_at
	`
	if err := r.db.QueryRowContext(ctx, query, c.ID, c.OrgID, c.Phone, c.Name).Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return r.FindByPhone(ctx, orgID, phone)
		}
		return nil, fmt.Errorf("contacts: insert failed: %w", err)
	}
	return c, nil
}

// UpdateEmail stores the contact's email address.
func (r *SQLRepository) UpdateEmail(ctx context.Context, orgID, id, email string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET email = $1, updated_at = NOW() WHERE id = $2 AND org_id = $3`,
		strings.ToLower(strings.TrimSpace(email)), id, orgID,
	)
	if err != nil {
		return fmt.Errorf("contacts: update email: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("contacts: update email rows: %w", err)
	}
	if n == 0 {
		return ErrContactNotFound
	}
	return nil
}
