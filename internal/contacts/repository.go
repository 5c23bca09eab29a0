package contacts

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for contact storage.
type Repository interface {
	GetByID(ctx context.Context, orgID, id string) (*Contact, error)
	FindByPhone(ctx context.Context, orgID, phone string) (*Contact, error)
	FindOrCreate(ctx context.Context, orgID, phone, name string) (*Contact, error)
	UpdateEmail(ctx context.Context, orgID, id, email string) error
}

// InMemoryRepository keeps contacts in process memory.
type InMemoryRepository struct {
	mu       sync.RWMutex
	contacts map[string]*Contact
}

// NewInMemoryRepository creates a new in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{contacts: make(map[string]*Contact)}
}

// GetByID returns a copy of the stored contact.
func (r *InMemoryRepository) GetByID(ctx context.Context, orgID, id string) (*Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contacts[id]
	if !ok || c.OrgID != orgID {
		return nil, ErrContactNotFound
	}
	out := *c
	return &out, nil
}

// FindByPhone looks up a contact by normalized phone number.
func (r *InMemoryRepository) FindByPhone(ctx context.Context, orgID, phone string) (*Contact, error) {
	normalized := NormalizePhone(phone)
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.contacts {
		if c.OrgID == orgID && c.Phone == normalized {
			out := *c
			return &out, nil
		}
	}
	return nil, ErrContactNotFound
}

// FindOrCreate returns the contact for phone, creating it when missing.
func (r *InMemoryRepository) FindOrCreate(ctx context.Context, orgID, phone, name string) (*Contact, error) {
	if err := validate(orgID, phone); err != nil {
		return nil, err
	}
	normalized := NormalizePhone(phone)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.OrgID == orgID && c.Phone == normalized {
			out := *c
			return &out, nil
		}
	}
	now := time.Now().UTC()
	c := &Contact{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Phone:     normalized,
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.contacts[c.ID] = c
	out := *c
	return &out, nil
}

// UpdateEmail stores the contact's email address.
func (r *InMemoryRepository) UpdateEmail(ctx context.Context, orgID, id, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contacts[id]
	if !ok || c.OrgID != orgID {
		return ErrContactNotFound
	}
	c.Email = strings.ToLower(strings.TrimSpace(email))
	c.UpdatedAt = time.Now().UTC()
	return nil
}
