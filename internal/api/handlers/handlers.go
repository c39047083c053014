package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/expense-review-bot/internal/api/middleware"
	"github.com/dvloznov/expense-review-bot/internal/conversation"
	"github.com/dvloznov/expense-review-bot/internal/ingest"
	"github.com/dvloznov/expense-review-bot/internal/jobs"
	"github.com/dvloznov/expense-review-bot/internal/persistence"
)

// Poller runs or previews a poll cycle.
type Poller interface {
	Check(ctx context.Context) (ingest.Result, error)
	Preview(ctx context.Context) (ingest.Result, error)
}

// Conversations lists the open conversations of a user.
type Conversations interface {
	List(userID int64) []conversation.Entry
	Len() int
}

// Failures exposes the secondary write failure log.
type Failures interface {
	Recent() []persistence.Failure
	Total() int
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PollHandler handles manual poll requests.
type PollHandler struct {
	poller Poller
	log    zerolog.Logger
}

// NewPollHandler creates a new poll handler.
func NewPollHandler(poller Poller, log zerolog.Logger) *PollHandler {
	return &PollHandler{poller: poller, log: log}
}

// Poll handles POST /api/poll. With ?dry_run=true the cycle reads new
// records without notifying anyone or moving the cursor.
func (h *PollHandler) Poll(w http.ResponseWriter, r *http.Request) {
	run := h.poller.Check
	if dry, _ := strconv.ParseBool(r.URL.Query().Get("dry_run")); dry {
		run = h.poller.Preview
	}

	res, err := run(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Manual poll failed")
		middleware.WriteError(w, http.StatusBadGateway, "Poll failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// ConversationsHandler handles conversation inspection.
type ConversationsHandler struct {
	store Conversations
}

// NewConversationsHandler creates a new conversations handler.
func NewConversationsHandler(store Conversations) *ConversationsHandler {
	return &ConversationsHandler{store: store}
}

// List handles GET /api/conversations?user_id=
func (h *ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid user_id")
		return
	}

	entries := h.store.List(userID)
	if entries == nil {
		entries = []conversation.Entry{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": entries,
		"count":         len(entries),
		"open_total":    h.store.Len(),
	})
}

// DispatchHandler handles secondary dispatch inspection.
type DispatchHandler struct {
	failures Failures
	sinks    []string
}

// NewDispatchHandler creates a new dispatch handler. sinks names the
// configured secondary sinks.
func NewDispatchHandler(failures Failures, sinks []string) *DispatchHandler {
	return &DispatchHandler{failures: failures, sinks: sinks}
}

// Failures handles GET /api/dispatch/failures
func (h *DispatchHandler) Failures(w http.ResponseWriter, r *http.Request) {
	recent := h.failures.Recent()
	if recent == nil {
		recent = []persistence.Failure{}
	}
	sinks := h.sinks
	if sinks == nil {
		sinks = []string{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"failures": recent,
		"total":    h.failures.Total(),
		"sinks":    sinks,
	})
}

// JobsHandler handles job-related requests.
type JobsHandler struct {
	jobStore jobs.JobStore
	log      zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(jobStore jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{jobStore: jobStore, log: log}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.jobStore.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to retrieve job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := jobs.JobFilter{
		Sink:          q.Get("sink"),
		TransactionID: q.Get("transaction_id"),
		Status:        jobs.JobStatus(q.Get("status")),
		Limit:         50,
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if limit > 500 {
			limit = 500
		}
		filter.Limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		filter.Offset = offset
	}

	list, err := h.jobStore.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if list == nil {
		list = []*jobs.SecondaryWriteJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   list,
		"count":  len(list),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}
