package conversation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryJobStore_Lifecycle(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	turn := Turn{ConversationID: "conv-1", OrgID: "org-1", Message: "cancel friday"}
	job := &JobRecord{JobID: "job-1", Turn: &turn}
	if err := store.PutPending(ctx, job); err != nil {
		t.Fatalf("PutPending: %v", err)
	}
	if job.Kind != jobTypeTurn || job.OrgID != "org-1" || job.ConversationID != "conv-1" {
		t.Fatalf("pending defaults not applied: %#v", job)
	}
	if got := job.ExpiresAt.Sub(job.CreatedAt); got != jobRetention {
		t.Fatalf("retention = %s, want %s", got, jobRetention)
	}
	if err := store.PutPending(ctx, &JobRecord{JobID: "job-1"}); err == nil {
		t.Fatal("expected duplicate job to be rejected")
	}

	if err := store.Finish(ctx, "job-1", CompletedJob("conv-1", complete("Cancelled."))); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, err := store.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != JobStatusCompleted || got.Reply == nil || got.Reply.Text != "Cancelled." {
		t.Fatalf("unexpected job: %#v", got)
	}

	if err := store.Finish(ctx, "job-1", FailedJob("late failure")); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}
	got, _ = store.GetJob(ctx, "job-1")
	if got.Status != JobStatusCompleted {
		t.Fatalf("second finish overwrote the first: %#v", got)
	}

	if err := store.Finish(ctx, "missing", FailedJob("boom")); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryJobStore_Failure(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()
	if err := store.PutPending(ctx, &JobRecord{JobID: "job-2"}); err != nil {
		t.Fatalf("PutPending: %v", err)
	}
	reply := continueWith("ignored")
	if err := store.Finish(ctx, "job-2", JobResult{Reply: &reply, Err: "enqueue failed"}); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, _ := store.GetJob(ctx, "job-2")
	if got.Status != JobStatusFailed || got.Error != "enqueue failed" || got.Reply != nil {
		t.Fatalf("unexpected failed job: %#v", got)
	}
}

func TestMemoryJobStore_ExpiredJobsReadAsMissing(t *testing.T) {
	store := NewMemoryJobStore()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.PutPending(context.Background(), &JobRecord{JobID: "job-3"}); err != nil {
		t.Fatalf("PutPending: %v", err)
	}
	now = now.Add(jobRetention + time.Minute)
	if _, err := store.GetJob(context.Background(), "job-3"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected expired job to be missing, got %v", err)
	}
}

func TestJobRecord_PendingRequiresID(t *testing.T) {
	store := NewMemoryJobStore()
	if err := store.PutPending(context.Background(), nil); err == nil {
		t.Fatal("expected nil job to be rejected")
	}
	if err := store.PutPending(context.Background(), &JobRecord{}); !errors.Is(err, errJobIDRequired) {
		t.Fatalf("expected errJobIDRequired, got %v", err)
	}
}

func TestFailedJobDefaultsReason(t *testing.T) {
	if r := FailedJob(""); r.Err == "" || r.status() != JobStatusFailed {
		t.Fatalf("unexpected result: %#v", r)
	}
	if r := CompletedJob("c", continueWith("hi")); r.status() != JobStatusCompleted || r.Reply.Text != "hi" {
		t.Fatalf("unexpected result: %#v", r)
	}
}
