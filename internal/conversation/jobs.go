package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// jobRetention bounds how long finished jobs stay readable through the API.
const jobRetention = 24 * time.Hour

// JobStatus is where a queued job is in its life.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

var (
	// ErrJobNotFound indicates the requested job ID does not exist.
	ErrJobNotFound = errors.New("conversation: job not found")
	// ErrJobFinished is returned when a job that already ended is finished
	// again, which happens when the queue redelivers a processed turn.
	ErrJobFinished = errors.New("conversation: job already finished")

	errJobIDRequired = errors.New("conversation: job id required")
)

// JobRecord is the readable state of one queued job. Turn jobs carry the
// turn that was accepted and, once finished, the reply it produced.
type JobRecord struct {
	JobID          string    `dynamodbav:"jobId" json:"job_id"`
	Kind           jobType   `dynamodbav:"kind" json:"kind"`
	Status         JobStatus `dynamodbav:"status" json:"status"`
	OrgID          string    `dynamodbav:"orgId,omitempty" json:"org_id,omitempty"`
	ConversationID string    `dynamodbav:"conversationId,omitempty" json:"conversation_id,omitempty"`
	Turn           *Turn     `dynamodbav:"turn,omitempty" json:"turn,omitempty"`
	Reply          *Reply    `dynamodbav:"reply,omitempty" json:"reply,omitempty"`
	Error          string    `dynamodbav:"error,omitempty" json:"error,omitempty"`
	CreatedAt      time.Time `dynamodbav:"createdAt" json:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updatedAt" json:"updated_at"`
	ExpiresAt      time.Time `dynamodbav:"expiresAt,unixtime" json:"expires_at"`
}

// pending stamps a new record. Callers choose the ID, kind and payload.
func (j *JobRecord) pending(now time.Time) error {
	if j == nil {
		return errors.New("conversation: job cannot be nil")
	}
	if j.JobID == "" {
		return errJobIDRequired
	}
	if j.Kind == "" {
		j.Kind = jobTypeTurn
	}
	if j.Turn != nil {
		if j.OrgID == "" {
			j.OrgID = j.Turn.OrgID
		}
		if j.ConversationID == "" {
			j.ConversationID = j.Turn.ConversationID
		}
	}
	j.Status = JobStatusPending
	j.Reply = nil
	j.Error = ""
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.ExpiresAt.IsZero() {
		j.ExpiresAt = now.Add(jobRetention)
	}
	return nil
}

// JobResult is how a job ended. A result with Err set is a failure.
type JobResult struct {
	ConversationID string
	Reply          *Reply
	Err            string
}

// CompletedJob records the reply a turn produced.
func CompletedJob(conversationID string, reply Reply) JobResult {
	return JobResult{ConversationID: conversationID, Reply: &reply}
}

// FailedJob records why a job could not finish.
func FailedJob(reason string) JobResult {
	if reason == "" {
		reason = "failed"
	}
	return JobResult{Err: reason}
}

func (r JobResult) status() JobStatus {
	if r.Err != "" {
		return JobStatusFailed
	}
	return JobStatusCompleted
}

func (r JobResult) apply(j *JobRecord, now time.Time) {
	j.Status = r.status()
	j.Error = r.Err
	j.Reply = nil
	if r.Err == "" {
		j.Reply = r.Reply
	}
	if r.ConversationID != "" {
		j.ConversationID = r.ConversationID
	}
	j.UpdatedAt = now
}

// JobRecorder creates and reads job records.
type JobRecorder interface {
	PutPending(ctx context.Context, job *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
}

// JobUpdater moves a pending job to its final state. Finishing a job twice
// returns ErrJobFinished and leaves the first result in place.
type JobUpdater interface {
	Finish(ctx context.Context, jobID string, result JobResult) error
}

// MemoryJobStore keeps job records in process for local runs and tests.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]JobRecord
	now  func() time.Time
}

var (
	_ JobRecorder = (*MemoryJobStore)(nil)
	_ JobUpdater  = (*MemoryJobStore)(nil)
)

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]JobRecord), now: time.Now}
}

func (s *MemoryJobStore) PutPending(_ context.Context, job *JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := job.pending(s.now().UTC()); err != nil {
		return err
	}
	if _, ok := s.jobs[job.JobID]; ok {
		return fmt.Errorf("conversation: job %s already exists", job.JobID)
	}
	s.jobs[job.JobID] = *job
	return nil
}

func (s *MemoryJobStore) Finish(_ context.Context, jobID string, result JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != JobStatusPending {
		return ErrJobFinished
	}
	result.apply(&job, s.now().UTC())
	s.jobs[jobID] = job
	return nil
}

// GetJob returns a copy; expired records read as missing.
func (s *MemoryJobStore) GetJob(_ context.Context, jobID string) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || s.now().After(job.ExpiresAt) {
		return nil, ErrJobNotFound
	}
	return &job, nil
}
