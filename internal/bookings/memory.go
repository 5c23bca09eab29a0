package bookings

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps bookings in process memory. Batch transitions hold
// the lock for the whole batch so they are all-or-nothing.
type MemoryRepository struct {
	mu       sync.Mutex
	bookings map[string]Booking
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bookings: make(map[string]Booking)}
}

// Seed inserts bookings as-is, keeping their IDs.
func (r *MemoryRepository) Seed(list ...Booking) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range list {
		if b.ID == "" {
			b.ID = uuid.New().String()
		}
		r.bookings[b.ID] = b
	}
}

// Get returns a booking by id.
func (r *MemoryRepository) Get(id string) (Booking, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	return b, ok
}

// CountByStatus counts bookings of the org in status.
func (r *MemoryRepository) CountByStatus(orgID string, status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.bookings {
		if b.OrgID == orgID && b.Status == status {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) ListActiveForContact(ctx context.Context, orgID, contactID string, now time.Time) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Booking
	for _, b := range r.bookings {
		if b.OrgID == orgID && b.ContactID == contactID && b.Status == StatusConfirmed && b.StartTime.After(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *MemoryRepository) CreateBatch(ctx context.Context, status Status, drafts []Draft) ([]Booking, error) {
	if len(drafts) == 0 {
		return nil, ErrEmptyBatch
	}
	groupID := uuid.New().String()
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
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
			CreatedAt:     now,
		}
		out = append(out, b)
	}
	for _, b := range out {
		r.bookings[b.ID] = b
	}
	return out, nil
}

func (r *MemoryRepository) ConfirmBatch(ctx context.Context, orgID string, ids []string) error {
	if len(ids) == 0 {
		return ErrEmptyBatch
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		b, ok := r.bookings[id]
		if !ok || b.OrgID != orgID || (b.Status != StatusProvisional && b.Status != StatusConfirmed) {
			return fmt.Errorf("%w: booking %s", ErrBatchMismatch, id)
		}
	}
	for _, id := range ids {
		b := r.bookings[id]
		b.Status = StatusConfirmed
		r.bookings[id] = b
	}
	return nil
}

func (r *MemoryRepository) DeleteBatch(ctx context.Context, orgID string, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, id := range ids {
		if b, ok := r.bookings[id]; ok && b.OrgID == orgID && b.Status == StatusProvisional {
			delete(r.bookings, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Cancel(ctx context.Context, orgID, id, reason string, feeCents int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.OrgID != orgID {
		return ErrBookingNotFound
	}
	if b.Status != StatusConfirmed {
		return ErrNotCancellable
	}
	b.Status = StatusCancelled
	b.CancellationReason = reason
	b.CancellationFeeCents = feeCents
	r.bookings[id] = b
	return nil
}

func (r *MemoryRepository) RequestReschedule(ctx context.Context, orgID, id string, requested time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok || b.OrgID != orgID {
		return ErrBookingNotFound
	}
	if b.Status != StatusConfirmed {
		return ErrNotCancellable
	}
	t := requested.UTC()
	b.RequestedStartTime = &t
	r.bookings[id] = b
	return nil
}

func (r *MemoryRepository) SessionProgress(ctx context.Context, orgID, contactID, serviceID string, total int) (SessionProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := SessionProgress{Total: total}
	for _, b := range r.bookings {
		if b.OrgID != orgID || b.ContactID != contactID || b.ServiceID != serviceID {
			continue
		}
		switch b.Status {
		case StatusProvisional, StatusConfirmed:
			p.Booked++
		case StatusCompleted:
			p.Booked++
			p.Completed++
		}
	}
	return p, nil
}
