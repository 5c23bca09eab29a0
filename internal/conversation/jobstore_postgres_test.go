package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

var pgNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newPGJobTestStore(t *testing.T) (*PGJobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	store := NewPGJobStore(mock)
	store.now = func() time.Time { return pgNow }
	return store, mock
}

func TestPGJobStore_PutPending(t *testing.T) {
	store, mock := newPGJobTestStore(t)
	mock.ExpectExec("INSERT INTO conversation_jobs").
		WithArgs("job-1", "pending", "turn",
			pgtype.Text{String: "org-1", Valid: true}, pgtype.Text{String: "conv-1", Valid: true},
			pgxmock.AnyArg(), pgNow, pgNow.Add(jobRetention)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job := &JobRecord{JobID: "job-1", Turn: &Turn{ConversationID: "conv-1", OrgID: "org-1", Message: "hi"}}
	if err := store.PutPending(context.Background(), job); err != nil {
		t.Fatalf("PutPending: %v", err)
	}
	if job.Status != JobStatusPending {
		t.Fatalf("expected pending, got %s", job.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGJobStore_PutPendingDuplicate(t *testing.T) {
	store, mock := newPGJobTestStore(t)
	mock.ExpectExec("INSERT INTO conversation_jobs").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	if err := store.PutPending(context.Background(), &JobRecord{JobID: "job-1"}); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
}

func TestPGJobStore_Finish(t *testing.T) {
	store, mock := newPGJobTestStore(t)
	mock.ExpectExec("UPDATE conversation_jobs").
		WithArgs("job-1", "completed", pgxmock.AnyArg(), "", pgtype.Text{String: "conv-1", Valid: true}, pgNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.Finish(context.Background(), "job-1", CompletedJob("conv-1", continueWith("ok"))); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGJobStore_FinishDistinguishesMissingFromFinished(t *testing.T) {
	store, mock := newPGJobTestStore(t)

	mock.ExpectExec("UPDATE conversation_jobs").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM conversation_jobs").WithArgs("job-9").
		WillReturnRows(pgxmock.NewRows([]string{"status"}))
	if err := store.Finish(context.Background(), "job-9", FailedJob("boom")); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	mock.ExpectExec("UPDATE conversation_jobs").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM conversation_jobs").WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))
	if err := store.Finish(context.Background(), "job-1", FailedJob("boom")); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGJobStore_GetJobDecodesReply(t *testing.T) {
	store, mock := newPGJobTestStore(t)
	rows := pgxmock.NewRows([]string{
		"request_type", "status", "org_id", "conversation_id", "turn", "response", "error_message",
		"created_at", "updated_at", "expires_at",
	}).AddRow(
		"turn", "completed", pgtype.Text{String: "org-1", Valid: true}, pgtype.Text{String: "conv-1", Valid: true},
		[]byte(`{"conversation_id":"conv-1","message":"hi"}`),
		[]byte(`{"text":"Which appointment?","outcome":"continued","cleared":false}`),
		"", pgNow, pgNow, pgNow.Add(jobRetention),
	)
	mock.ExpectQuery("FROM conversation_jobs").WithArgs("job-1", pgNow).WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.OrgID != "org-1" || job.Turn == nil || job.Turn.Message != "hi" {
		t.Fatalf("unexpected job: %#v", job)
	}
	if job.Reply == nil || job.Reply.Outcome != OutcomeContinued {
		t.Fatalf("unexpected reply: %#v", job.Reply)
	}
}

func TestPGJobStore_GetJobMissing(t *testing.T) {
	store, mock := newPGJobTestStore(t)
	mock.ExpectQuery("FROM conversation_jobs").WithArgs("job-1", pgNow).
		WillReturnRows(pgxmock.NewRows([]string{"request_type"}))

	if _, err := store.GetJob(context.Background(), "job-1"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
