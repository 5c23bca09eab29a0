package bookings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

var bookingsTracer = otel.Tracer("booking-engine/bookings")

// Service wraps a Repository with spans and audit logs for every write.
type Service struct {
	repo   Repository
	logger *logging.Logger
}

var _ Repository = (*Service)(nil)

func NewService(repo Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// span starts a child span tagged with the org; finish records err on it.
func (s *Service) span(ctx context.Context, name, orgID string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, sp := bookingsTracer.Start(ctx, "bookings."+name,
		trace.WithAttributes(append(attrs, attribute.String("org_id", orgID))...))
	return ctx, func(err error) {
		if err != nil {
			sp.RecordError(err)
			sp.SetStatus(codes.Error, err.Error())
		}
		sp.End()
	}
}

func (s *Service) ListActiveForContact(ctx context.Context, orgID, contactID string, now time.Time) (list []Booking, err error) {
	ctx, finish := s.span(ctx, "list_active", orgID, attribute.String("contact_id", contactID))
	defer func() { finish(err) }()
	return s.repo.ListActiveForContact(ctx, orgID, contactID, now)
}

func (s *Service) CreateBatch(ctx context.Context, status Status, drafts []Draft) (created []Booking, err error) {
	var orgID string
	if len(drafts) > 0 {
		orgID = drafts[0].OrgID
	}
	ctx, finish := s.span(ctx, "create_batch", orgID,
		attribute.String("status", string(status)),
		attribute.Int("size", len(drafts)))
	defer func() { finish(err) }()

	if created, err = s.repo.CreateBatch(ctx, status, drafts); err != nil {
		return nil, err
	}
	s.logger.Info("booking batch created",
		"org_id", orgID,
		"group_id", created[0].GroupID,
		"status", status,
		"booking_ids", IDs(created),
	)
	return created, nil
}

func (s *Service) ConfirmBatch(ctx context.Context, orgID string, ids []string) (err error) {
	ctx, finish := s.span(ctx, "confirm_batch", orgID, attribute.StringSlice("booking_ids", ids))
	defer func() { finish(err) }()

	if err = s.repo.ConfirmBatch(ctx, orgID, ids); err == nil {
		s.logger.Info("booking batch confirmed", "org_id", orgID, "booking_ids", ids)
	}
	return err
}

func (s *Service) DeleteBatch(ctx context.Context, orgID string, ids []string) (n int64, err error) {
	ctx, finish := s.span(ctx, "delete_batch", orgID, attribute.StringSlice("booking_ids", ids))
	defer func() { finish(err) }()

	if n, err = s.repo.DeleteBatch(ctx, orgID, ids); err != nil {
		return 0, err
	}
	s.logger.Info("provisional bookings rolled back", "org_id", orgID, "booking_ids", ids, "deleted", n)
	return n, nil
}

func (s *Service) Cancel(ctx context.Context, orgID, id, reason string, feeCents int) (err error) {
	ctx, finish := s.span(ctx, "cancel", orgID, attribute.String("booking_id", id))
	defer func() { finish(err) }()

	if err = s.repo.Cancel(ctx, orgID, id, reason, feeCents); err == nil {
		s.logger.Info("booking cancelled", "org_id", orgID, "booking_id", id, "fee_cents", feeCents)
	}
	return err
}

func (s *Service) RequestReschedule(ctx context.Context, orgID, id string, requested time.Time) (err error) {
	ctx, finish := s.span(ctx, "request_reschedule", orgID, attribute.String("booking_id", id))
	defer func() { finish(err) }()

	if err = s.repo.RequestReschedule(ctx, orgID, id, requested); err == nil {
		s.logger.Info("reschedule requested", "org_id", orgID, "booking_id", id, "requested_start", requested)
	}
	return err
}

// SessionProgress is read-only and not traced.
func (s *Service) SessionProgress(ctx context.Context, orgID, contactID, serviceID string, total int) (SessionProgress, error) {
	return s.repo.SessionProgress(ctx, orgID, contactID, serviceID, total)
}
