package archive

import (
	"encoding/json"
	"time"
)

// RecordVersion is the schema version written with every record.
const RecordVersion = "1.0"

// Record is a closed booking conversation as stored in S3.
type Record struct {
	Version        string          `json:"version"`
	ConversationID string          `json:"conversation_id"`
	OrgID          string          `json:"org_id"`
	PhoneHash      string          `json:"phone_hash"`
	Intent         string          `json:"intent"`
	Outcome        string          `json:"outcome"`
	OpenedAt       time.Time       `json:"opened_at"`
	ClosedAt       time.Time       `json:"closed_at"`
	Context        json.RawMessage `json:"context"`
}

// ManifestEntry is one line of a monthly manifest.
type ManifestEntry struct {
	ConversationID string    `json:"conversation_id"`
	OrgID          string    `json:"org_id"`
	S3Key          string    `json:"s3_key"`
	Intent         string    `json:"intent"`
	Outcome        string    `json:"outcome"`
	ClosedAt       time.Time `json:"closed_at"`
}
