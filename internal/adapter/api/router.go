package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/district-metrics/internal/adapter/api/handler"
	"github.com/user/district-metrics/internal/adapter/api/middleware"
	"github.com/user/district-metrics/internal/domain"
	"github.com/user/district-metrics/internal/pkg/config"
	"github.com/user/district-metrics/internal/usecase"
)

// NewRouter configures the HTTP surface of the snapshot service. Mutating
// routes sit behind the admin-key middleware; reads are open.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	snapshots domain.SnapshotStorage,
	timeseries domain.TimeSeriesIndexStorage,
	backfill *usecase.BackfillUseCase,
	deleter *usecase.DeleteSnapshotUseCase,
) http.Handler {
	mux := http.NewServeMux()

	backfillHandler := handler.NewBackfillHandler(backfill, logger)
	snapshotHandler := handler.NewSnapshotHandler(snapshots, deleter, logger)

	admin := middleware.Auth(cfg.AdminToken, logger)

	mux.Handle("POST /api/backfill", admin(http.HandlerFunc(backfillHandler.Initiate)))
	mux.HandleFunc("GET /api/backfill/{id}", backfillHandler.Status)
	mux.Handle("POST /api/backfill/{id}/cancel", admin(http.HandlerFunc(backfillHandler.Cancel)))

	mux.HandleFunc("GET /api/snapshots", snapshotHandler.List)
	mux.HandleFunc("GET /api/snapshots/latest", snapshotHandler.Latest)
	mux.HandleFunc("GET /api/snapshots/{id}", snapshotHandler.Get)
	mux.Handle("DELETE /api/snapshots/{id}", admin(http.HandlerFunc(snapshotHandler.Delete)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]bool{
			"snapshot_store":    snapshots.Ready(r.Context()),
			"time_series_store": timeseries.Ready(r.Context()),
		}
		status := http.StatusOK
		for _, ok := range checks {
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(checks)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.Logging(logger)(mux)
}
