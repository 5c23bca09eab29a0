package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewOutboxStore(mock)

	mock.ExpectExec("INSERT INTO outbox").
		WithArgs(pgxmock.AnyArg(), "org-1", "booking:b-1", "booking.cancelled.v1", "conv-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	env, err := store.Publish(context.Background(), "org-1", "booking:b-1", BookingCancelledV1{OrgID: "org-1", BookingID: "b-1"}, WithCorrelationID("conv-1"))
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if env.EventType != "booking.cancelled.v1" {
		t.Fatalf("unexpected type %s", env.EventType)
	}

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "org_id", "aggregate", "event_type", "correlation_id", "payload", "created_at"}).
		AddRow(id, "org-1", "booking:b-1", "booking.cancelled.v1", "conv-1", []byte(`{"booking_id":"b-1"}`), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].EventID != id || entries[0].CorrelationID != "conv-1" {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDelivererDrainsMemoryOutbox(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()
	if _, err := outbox.Publish(ctx, "org-1", "payment_link:l-1", PaymentLinkCreatedV1{LinkID: "l-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := outbox.Publish(ctx, "org-1", "booking:b-1", BookingCancelledV1{BookingID: "b-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var handled []string
	failFirst := true
	router := NewRouter(logging.Default()).
		On("payment_link.created.v1", DeliveryHandlerFunc(func(ctx context.Context, env Envelope) error {
			if failFirst {
				failFirst = false
				return errors.New("downstream unavailable")
			}
			handled = append(handled, env.EventType)
			return nil
		})).
		On("booking.cancelled.v1", DeliveryHandlerFunc(func(ctx context.Context, env Envelope) error {
			handled = append(handled, env.EventType)
			return nil
		}))

	d := NewDeliverer(outbox, router, logging.Default())
	d.Drain(ctx)
	if len(handled) != 1 || handled[0] != "booking.cancelled.v1" {
		t.Fatalf("unexpected first drain: %v", handled)
	}

	d.Drain(ctx)
	if len(handled) != 2 || handled[1] != "payment_link.created.v1" {
		t.Fatalf("failed delivery should be retried, got %v", handled)
	}

	d.Drain(ctx)
	if len(handled) != 2 {
		t.Fatalf("delivered events must not repeat, got %v", handled)
	}
}

func TestRouterRunsEveryHandlerForAType(t *testing.T) {
	var calls []string
	router := NewRouter(logging.Default()).
		On("booking.cancelled.v1", DeliveryHandlerFunc(func(ctx context.Context, env Envelope) error {
			calls = append(calls, "first")
			return errors.New("first failed")
		})).
		On("booking.cancelled.v1", DeliveryHandlerFunc(func(ctx context.Context, env Envelope) error {
			calls = append(calls, "second")
			return nil
		}))

	err := router.Handle(context.Background(), Envelope{EventType: "booking.cancelled.v1"})
	if err == nil {
		t.Fatal("expected the first handler's error")
	}
	if len(calls) != 2 {
		t.Fatalf("expected both handlers to run, got %v", calls)
	}
	if err := router.Handle(context.Background(), Envelope{EventType: "unknown.v1"}); err != nil {
		t.Fatalf("unrouted events are acknowledged, got %v", err)
	}
}

func TestMemoryOutboxLimitAndRedelivery(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		env, err := outbox.Publish(ctx, "org-1", "booking:b", BookingCancelledV1{BookingID: "b"})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		ids = append(ids, env.EventID)
	}

	pending, _ := outbox.FetchPending(ctx, 2)
	if len(pending) != 2 || pending[0].EventID != ids[0] {
		t.Fatalf("expected the two oldest events, got %v", pending)
	}
	if ok, _ := outbox.MarkDelivered(ctx, ids[0]); !ok {
		t.Fatal("first mark should succeed")
	}
	if ok, _ := outbox.MarkDelivered(ctx, ids[0]); ok {
		t.Fatal("second mark should report already delivered")
	}
	if ok, _ := outbox.MarkDelivered(ctx, uuid.New()); ok {
		t.Fatal("unknown ids are not delivered")
	}
	pending, _ = outbox.FetchPending(ctx, 0)
	if len(pending) != 2 || pending[0].EventID != ids[1] {
		t.Fatalf("unexpected pending after delivery: %v", pending)
	}

	if _, err := outbox.Publish(ctx, "org-1", "booking:b", BookingCancelledV1{}, WithEventID(ids[1])); err == nil {
		t.Fatal("expected duplicate event id to be rejected")
	}
}

func TestDelivererStopsWhenContextEnds(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 2; i++ {
		if _, err := outbox.Publish(ctx, "org-1", "booking:b", BookingCancelledV1{}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	calls := 0
	d := NewDeliverer(outbox, DeliveryHandlerFunc(func(context.Context, Envelope) error {
		calls++
		cancel()
		return nil
	}), logging.Default(), WithDeliveryBatch(10), WithDeliveryInterval(time.Millisecond))
	d.Drain(ctx)
	if calls != 1 {
		t.Fatalf("expected drain to stop after cancel, got %d calls", calls)
	}
}
