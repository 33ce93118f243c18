package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/district-metrics/internal/domain"
	"github.com/user/district-metrics/internal/usecase"
)

// SnapshotDeleter is the slice of the cascading-delete use case the handler
// needs.
type SnapshotDeleter interface {
	Delete(ctx context.Context, snapshotID string) (usecase.DeleteSnapshotResult, error)
}

// SnapshotHandler exposes snapshot reads and administrative deletion.
type SnapshotHandler struct {
	store   domain.SnapshotStorage
	deleter SnapshotDeleter
	logger  *slog.Logger
}

// NewSnapshotHandler creates a new SnapshotHandler.
func NewSnapshotHandler(store domain.SnapshotStorage, deleter SnapshotDeleter, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{store: store, deleter: deleter, logger: logger}
}

// List handles GET /api/snapshots.
func (h *SnapshotHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.SnapshotListFilter{
		Status:   q.Get("status"),
		FromDate: q.Get("from"),
		ToDate:   q.Get("to"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	metas, err := h.store.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if metas == nil {
		metas = []domain.SnapshotMeta{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": metas})
}

// Get handles GET /api/snapshots/{id}.
func (h *SnapshotHandler) Get(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// Latest handles GET /api/snapshots/latest. With ?successful=true only
// success/partial snapshots qualify.
func (h *SnapshotHandler) Latest(w http.ResponseWriter, r *http.Request) {
	var snapshot *domain.Snapshot
	var err error
	if r.URL.Query().Get("successful") == "true" {
		snapshot, err = h.store.GetLatestSuccessful(r.Context())
	} else {
		snapshot, err = h.store.GetLatest(r.Context())
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if snapshot == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no snapshots available"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// Delete handles DELETE /api/snapshots/{id}.
func (h *SnapshotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	result, err := h.deleter.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
