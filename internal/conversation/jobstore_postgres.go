package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type pgJobDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGJobStore keeps job records in the conversation_jobs table for
// deployments that run without DynamoDB.
type PGJobStore struct {
	db  pgJobDB
	now func() time.Time
}

var (
	_ JobRecorder = (*PGJobStore)(nil)
	_ JobUpdater  = (*PGJobStore)(nil)
)

func NewPGJobStore(db pgJobDB) *PGJobStore {
	if db == nil {
		panic("conversation: pgx pool cannot be nil")
	}
	return &PGJobStore{db: db, now: time.Now}
}

const insertJobSQL = `
INSERT INTO conversation_jobs (job_id, status, request_type, org_id, conversation_id, turn, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
ON CONFLICT (job_id) DO NOTHING`

func (s *PGJobStore) PutPending(ctx context.Context, job *JobRecord) error {
	if err := job.pending(s.now().UTC()); err != nil {
		return err
	}
	turn, err := jsonColumn(job.Turn)
	if err != nil {
		return fmt.Errorf("conversation: encode turn for job %s: %w", job.JobID, err)
	}
	tag, err := s.db.Exec(ctx, insertJobSQL,
		job.JobID, string(job.Status), string(job.Kind), textColumn(job.OrgID), textColumn(job.ConversationID),
		turn, job.CreatedAt, job.ExpiresAt)
	if err != nil {
		return fmt.Errorf("conversation: insert job %s: %w", job.JobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation: job %s already exists", job.JobID)
	}
	return nil
}

const finishJobSQL = `
UPDATE conversation_jobs
SET status = $2, response = $3, error_message = $4,
    conversation_id = COALESCE($5, conversation_id), updated_at = $6
WHERE job_id = $1 AND status = 'pending'`

// Finish only touches pending rows. When nothing changed, a second lookup
// tells a missing job from a finished one.
func (s *PGJobStore) Finish(ctx context.Context, jobID string, result JobResult) error {
	if jobID == "" {
		return errJobIDRequired
	}
	var reply *Reply
	if result.Err == "" {
		reply = result.Reply
	}
	replyJSON, err := jsonColumn(reply)
	if err != nil {
		return fmt.Errorf("conversation: encode reply for job %s: %w", jobID, err)
	}
	tag, err := s.db.Exec(ctx, finishJobSQL,
		jobID, string(result.status()), replyJSON, result.Err, textColumn(result.ConversationID), s.now().UTC())
	if err != nil {
		return fmt.Errorf("conversation: finish job %s: %w", jobID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRow(ctx, `SELECT status FROM conversation_jobs WHERE job_id = $1`, jobID).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrJobNotFound
	case err != nil:
		return fmt.Errorf("conversation: finish job %s: %w", jobID, err)
	default:
		return ErrJobFinished
	}
}

const selectJobSQL = `
SELECT request_type, status, org_id, conversation_id, turn, response, error_message,
       created_at, updated_at, expires_at
FROM conversation_jobs
WHERE job_id = $1 AND expires_at > $2`

func (s *PGJobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errJobIDRequired
	}
	var (
		job                JobRecord
		kind, status       string
		orgID, convID      pgtype.Text
		turnJSON, respJSON []byte
	)
	err := s.db.QueryRow(ctx, selectJobSQL, jobID, s.now().UTC()).Scan(
		&kind, &status, &orgID, &convID, &turnJSON, &respJSON, &job.Error,
		&job.CreatedAt, &job.UpdatedAt, &job.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get job %s: %w", jobID, err)
	}

	job.JobID = jobID
	job.Kind = jobType(kind)
	job.Status = JobStatus(status)
	job.OrgID = orgID.String
	job.ConversationID = convID.String
	if len(turnJSON) > 0 {
		job.Turn = new(Turn)
		if err := json.Unmarshal(turnJSON, job.Turn); err != nil {
			return nil, fmt.Errorf("conversation: decode turn for job %s: %w", jobID, err)
		}
	}
	if len(respJSON) > 0 {
		job.Reply = new(Reply)
		if err := json.Unmarshal(respJSON, job.Reply); err != nil {
			return nil, fmt.Errorf("conversation: decode reply for job %s: %w", jobID, err)
		}
	}
	return &job, nil
}

// jsonColumn encodes v for a nullable JSONB column.
func jsonColumn[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func textColumn(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
