package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/user/district-metrics/internal/domain"
)

// BackfillService is the slice of the orchestrator the handler needs.
type BackfillService interface {
	Initiate(ctx context.Context, scope domain.BackfillScope, strategy domain.CollectionStrategy) (*domain.BackfillJob, error)
	Status(jobID string) (*domain.BackfillJob, error)
	Cancel(jobID string) error
}

// BackfillHandler exposes backfill orchestration over HTTP.
type BackfillHandler struct {
	service BackfillService
	logger  *slog.Logger
}

// NewBackfillHandler creates a new BackfillHandler.
func NewBackfillHandler(service BackfillService, logger *slog.Logger) *BackfillHandler {
	return &BackfillHandler{service: service, logger: logger}
}

// backfillRequest is the POST body. Durations arrive as milliseconds.
type backfillRequest struct {
	Scope    domain.BackfillScope `json:"scope"`
	Strategy struct {
		Concurrency    int    `json:"concurrency"`
		MaxRetries     int    `json:"max_retries"`
		RetryBackoffMs int    `json:"retry_backoff_ms"`
		Granularity    string `json:"granularity"`
	} `json:"strategy"`
}

// Initiate handles POST /api/backfill.
func (h *BackfillHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	strategy := domain.CollectionStrategy{
		Concurrency:  req.Strategy.Concurrency,
		MaxRetries:   req.Strategy.MaxRetries,
		RetryBackoff: time.Duration(req.Strategy.RetryBackoffMs) * time.Millisecond,
		Granularity:  req.Strategy.Granularity,
	}

	job, err := h.service.Initiate(r.Context(), req.Scope, strategy)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// Status handles GET /api/backfill/{id}.
func (h *BackfillHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Cancel handles POST /api/backfill/{id}/cancel.
func (h *BackfillHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Cancel(r.PathValue("id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
