package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/medspa-booking-engine/internal/contacts"
	httpmw "github.com/wolfman30/medspa-booking-engine/internal/http/middleware"
	"github.com/wolfman30/medspa-booking-engine/pkg/logging"
)

const maxTurnBodyBytes = 16 << 10

// TurnEnqueuer accepts turns for asynchronous processing.
type TurnEnqueuer interface {
	EnqueueTurn(ctx context.Context, jobID string, turn Turn, opts ...PublishOption) error
}

// JobTracker records and reads job state.
type JobTracker interface {
	JobRecorder
	JobUpdater
}

// ContactResolver finds or registers the contact behind a phone number.
type ContactResolver interface {
	FindOrCreate(ctx context.Context, orgID, phone, name string) (*contacts.Contact, error)
}

// MessageRequest is the body of POST /v1/conversations/{conversationID}/messages.
type MessageRequest struct {
	OrgID          string `json:"org_id"`
	ContactID      string `json:"contact_id,omitempty"`
	PhoneNumber    string `json:"phone_number,omitempty"`
	Message        string `json:"message"`
	DetectedIntent string `json:"detected_intent,omitempty"`
	ReplySMS       bool   `json:"reply_sms,omitempty"`
}

// MessageAccepted is returned once a turn is queued.
type MessageAccepted struct {
	JobID          string `json:"job_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// Handler exposes the turn API.
type Handler struct {
	publisher TurnEnqueuer
	jobs      JobTracker
	contacts  ContactResolver
	logger    *logging.Logger
}

// NewHandler creates a turn API handler. contacts may be nil when callers
// always send a contact id.
func NewHandler(publisher TurnEnqueuer, jobs JobTracker, contactResolver ContactResolver, logger *logging.Logger) *Handler {
	if publisher == nil {
		panic("conversation: publisher cannot be nil")
	}
	if jobs == nil {
		panic("conversation: job store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		publisher: publisher,
		jobs:      jobs,
		contacts:  contactResolver,
		logger:    logger,
	}
}

// Routes mounts under /v1.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/conversations/{conversationID}/messages", h.PostMessage)
	r.Get("/jobs/{jobID}", h.GetJob)
	return r
}

// PostMessage handles POST /v1/conversations/{conversationID}/messages.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "conversationID"))
	if conversationID == "" {
		http.Error(w, "conversation id required", http.StatusBadRequest)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode message request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.OrgID = strings.TrimSpace(req.OrgID)
	req.Message = strings.TrimSpace(req.Message)
	req.PhoneNumber = contacts.NormalizePhone(req.PhoneNumber)
	if req.OrgID == "" || req.Message == "" {
		http.Error(w, "org_id and message are required", http.StatusBadRequest)
		return
	}
	if !httpmw.OrgAllowed(r.Context(), req.OrgID) {
		http.Error(w, "forbidden for org", http.StatusForbidden)
		return
	}

	turn := Turn{
		ConversationID: conversationID,
		OrgID:          req.OrgID,
		ContactID:      strings.TrimSpace(req.ContactID),
		PhoneNumber:    req.PhoneNumber,
		Message:        req.Message,
	}
	if req.DetectedIntent != "" {
		intent := Intent(strings.ToLower(strings.TrimSpace(req.DetectedIntent)))
		if !intent.Valid() {
			http.Error(w, "unknown detected_intent", http.StatusBadRequest)
			return
		}
		turn.DetectedIntent = &intent
	}
	if err := h.resolveContact(r.Context(), &turn); err != nil {
		if errors.Is(err, contacts.ErrMissingPhone) {
			http.Error(w, "contact_id or phone_number required", http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to resolve contact", "error", err, "org_id", turn.OrgID)
		http.Error(w, "Failed to resolve contact", http.StatusInternalServerError)
		return
	}

	jobID := uuid.NewString()
	job := &JobRecord{JobID: jobID, Kind: jobTypeTurn, Turn: &turn}
	if err := h.jobs.PutPending(r.Context(), job); err != nil {
		h.logger.Error("failed to persist job", "error", err, "conversation_id", conversationID)
		http.Error(w, "Failed to accept message", http.StatusInternalServerError)
		return
	}

	var opts []PublishOption
	if req.ReplySMS {
		opts = append(opts, WithSMSReply())
	}
	publishCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := h.publisher.EnqueueTurn(publishCtx, jobID, turn, opts...); err != nil {
		h.logger.Error("failed to enqueue turn", "error", err, "job_id", jobID, "conversation_id", conversationID)
		if markErr := h.jobs.Finish(context.WithoutCancel(r.Context()), jobID, FailedJob("enqueue failed")); markErr != nil {
			h.logger.Error("failed to update job status", "error", markErr, "job_id", jobID)
		}
		http.Error(w, "Failed to accept message", http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, http.StatusAccepted, MessageAccepted{
		JobID:          jobID,
		ConversationID: conversationID,
		Status:         string(JobStatusPending),
	})
}

// GetJob handles GET /v1/jobs/{jobID}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load job", "error", err, "job_id", jobID)
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return
	}
	if job.OrgID != "" && !httpmw.OrgAllowed(r.Context(), job.OrgID) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, job)
}

func (h *Handler) resolveContact(ctx context.Context, turn *Turn) error {
	if turn.ContactID != "" {
		return nil
	}
	if turn.PhoneNumber == "" {
		return contacts.ErrMissingPhone
	}
	if h.contacts == nil {
		return errors.New("conversation: no contact resolver configured")
	}
	contact, err := h.contacts.FindOrCreate(ctx, turn.OrgID, turn.PhoneNumber, "")
	if err != nil {
		return err
	}
	turn.ContactID = contact.ID
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
