package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/district-metrics/internal/domain"
	"github.com/user/district-metrics/internal/usecase"
)

// MockBackfillService is a mock implementation of BackfillService.
type MockBackfillService struct {
	InitiateFunc func(ctx context.Context, scope domain.BackfillScope, strategy domain.CollectionStrategy) (*domain.BackfillJob, error)
	StatusFunc   func(jobID string) (*domain.BackfillJob, error)
	CancelFunc   func(jobID string) error
}

func (m *MockBackfillService) Initiate(ctx context.Context, scope domain.BackfillScope, strategy domain.CollectionStrategy) (*domain.BackfillJob, error) {
	return m.InitiateFunc(ctx, scope, strategy)
}

func (m *MockBackfillService) Status(jobID string) (*domain.BackfillJob, error) {
	return m.StatusFunc(jobID)
}

func (m *MockBackfillService) Cancel(jobID string) error {
	return m.CancelFunc(jobID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackfillHandler_Initiate(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		initiate       func(ctx context.Context, scope domain.BackfillScope, strategy domain.CollectionStrategy) (*domain.BackfillJob, error)
		expectedStatus int
	}{
		{
			name: "accepted",
			body: `{"scope":{"type":"targeted","districts":["D101"],"start_date":"2024-01-01","end_date":"2024-01-03"},"strategy":{"concurrency":2,"retry_backoff_ms":250}}`,
			initiate: func(ctx context.Context, scope domain.BackfillScope, strategy domain.CollectionStrategy) (*domain.BackfillJob, error) {
				if scope.Districts[0] != "D101" {
					t.Errorf("scope districts = %v", scope.Districts)
				}
				if strategy.RetryBackoff.Milliseconds() != 250 {
					t.Errorf("retry backoff = %v, want 250ms", strategy.RetryBackoff)
				}
				return &domain.BackfillJob{JobID: "job-1", Status: domain.JobStatusProcessing}, nil
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name: "validation error",
			body: `{"scope":{"start_date":"bad","end_date":"2024-01-03"}}`,
			initiate: func(ctx context.Context, scope domain.BackfillScope, strategy domain.CollectionStrategy) (*domain.BackfillJob, error) {
				return nil, domain.NewValidationError("invalid start date")
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed body",
			body:           `{"scope":`,
			initiate:       nil,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewBackfillHandler(&MockBackfillService{InitiateFunc: tt.initiate}, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/backfill", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			h.Initiate(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.expectedStatus, rr.Body.String())
			}
		})
	}
}

func TestBackfillHandler_Status(t *testing.T) {
	svc := &MockBackfillService{
		StatusFunc: func(jobID string) (*domain.BackfillJob, error) {
			if jobID != "job-1" {
				return nil, &domain.NotFoundError{Resource: "backfill job", Key: jobID}
			}
			return &domain.BackfillJob{JobID: "job-1", Status: domain.JobStatusComplete}, nil
		},
	}
	h := NewBackfillHandler(svc, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/backfill/{id}", h.Status)

	t.Run("found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/backfill/job-1", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		var job domain.BackfillJob
		if err := json.Unmarshal(rr.Body.Bytes(), &job); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
		if job.Status != domain.JobStatusComplete {
			t.Errorf("job status = %q, want complete", job.Status)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/backfill/nope", nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})
}

func TestBackfillHandler_Cancel(t *testing.T) {
	tests := []struct {
		name           string
		cancelErr      error
		expectedStatus int
	}{
		{"cancelled", nil, http.StatusOK},
		{"unknown job", &domain.NotFoundError{Resource: "backfill job", Key: "x"}, http.StatusNotFound},
		{"already terminal", usecase.ErrJobAlreadyTerminal, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockBackfillService{CancelFunc: func(jobID string) error { return tt.cancelErr }}
			h := NewBackfillHandler(svc, testLogger())
			mux := http.NewServeMux()
			mux.HandleFunc("POST /api/backfill/{id}/cancel", h.Cancel)

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/backfill/job-1/cancel", nil))
			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}
