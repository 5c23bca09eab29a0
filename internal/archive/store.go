package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

const manifestAttempts = 3

// S3API is the part of the S3 client the store calls.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store writes closed conversations to S3 and indexes them in a monthly
// JSONL manifest. A store without a bucket or client does nothing.
type Store struct {
	api    S3API
	bucket string
	logger *logging.Logger
	now    func() time.Time
}

func NewStore(api S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{api: api, bucket: bucket, logger: logger, now: time.Now}
}

func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.api != nil
}

// Key is where a record closed at closedAt lives. A conversation can close
// more than once, so the close time is part of the key.
func Key(orgID, conversationID string, closedAt time.Time) string {
	closedAt = closedAt.UTC()
	return fmt.Sprintf("contexts/v1/%s/%s/%s-%d.json", orgID, closedAt.Format("2006/01/02"), conversationID, closedAt.Unix())
}

func manifestKey(closedAt time.Time) string {
	return "contexts/v1/manifests/" + closedAt.UTC().Format("2006-01") + ".jsonl"
}

// Archive stores rec and then indexes it. A failed index write is logged
// and does not fail the archive.
func (s *Store) Archive(ctx context.Context, rec Record) error {
	if !s.Enabled() {
		return nil
	}
	if rec.Version == "" {
		rec.Version = RecordVersion
	}
	if rec.ClosedAt.IsZero() {
		rec.ClosedAt = s.now()
	}
	rec.ClosedAt = rec.ClosedAt.UTC()

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}
	key := Key(rec.OrgID, rec.ConversationID, rec.ClosedAt)
	if _, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived conversation context",
		"conversation_id", rec.ConversationID,
		"org_id", rec.OrgID,
		"s3_key", key,
		"outcome", rec.Outcome,
	)

	err = s.AppendManifest(ctx, ManifestEntry{
		ConversationID: rec.ConversationID,
		OrgID:          rec.OrgID,
		S3Key:          key,
		Intent:         rec.Intent,
		Outcome:        rec.Outcome,
		ClosedAt:       rec.ClosedAt,
	})
	if err != nil {
		s.logger.Warn("failed to append manifest", "error", err, "conversation_id", rec.ConversationID)
	}
	return nil
}

// AppendManifest adds one line to the manifest for the entry's month. S3
// cannot append, so the object is rewritten under a conditional put and
// the whole read-modify-write is retried when another writer got there
// first.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}
	if entry.ClosedAt.IsZero() {
		entry.ClosedAt = s.now()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	key := manifestKey(entry.ClosedAt)

	for attempt := 1; ; attempt++ {
		err := s.appendOnce(ctx, key, line)
		if err == nil || !isWriteConflict(err) || attempt == manifestAttempts {
			return err
		}
		s.logger.Debug("manifest changed during append; retrying", "key", key, "attempt", attempt)
	}
}

func (s *Store) appendOnce(ctx context.Context, key string, line []byte) error {
	existing, etag, err := s.readManifest(ctx, key)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if n := len(existing); n > 0 && existing[n-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.Write(line)
	buf.WriteByte('\n')

	in := &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	}
	if etag == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(etag)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

// readManifest returns the current manifest and its ETag. A missing
// manifest is empty with no ETag.
func (s *Store) readManifest(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if isNotFound(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("archive: s3 get manifest: %w", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("archive: read manifest: %w", err)
	}
	return data, aws.ToString(out.ETag), nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// isWriteConflict matches the 412 and 409 S3 returns when a conditional
// put loses a race.
func isWriteConflict(err error) bool {
	var status interface{ HTTPStatusCode() int }
	if !errors.As(err, &status) {
		return false
	}
	code := status.HTTPStatusCode()
	return code == http.StatusPreconditionFailed || code == http.StatusConflict
}
