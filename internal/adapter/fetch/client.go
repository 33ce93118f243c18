package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/district-metrics/internal/domain"
)

const sourceName = "collector"

// Client implements domain.DistrictFetcher against the collector service
// over HTTP. A shared rate limiter keeps many concurrent backfill units from
// hammering the one upstream source.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient builds a fetch client. ratePerSec bounds the sustained request
// rate across all callers; timeout applies per attempt. apiKey may be empty
// when the source is unauthenticated.
func NewClient(baseURL, apiKey string, timeout time.Duration, ratePerSec float64, burst int, logger *slog.Logger) *Client {
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:  logger.With("component", "fetch_client"),
	}
}

// errorBody is the collector's error envelope. Code is optional.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FetchDistrict retrieves one district's current statistics.
func (c *Client) FetchDistrict(ctx context.Context, districtID string) (*domain.DistrictRecord, error) {
	var record domain.DistrictRecord
	url := fmt.Sprintf("%s/districts/%s", c.baseURL, districtID)
	if err := c.getJSON(ctx, url, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// FetchAllDistricts retrieves every district in one system-wide call.
func (c *Client) FetchAllDistricts(ctx context.Context) ([]domain.DistrictRecord, error) {
	var records []domain.DistrictRecord
	if err := c.getJSON(ctx, c.baseURL+"/districts", &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport-level failures carry no status; the classifier sees
		// them through the wrapped cause.
		return &domain.TransientExternalError{Source: sourceName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", sourceName, err)
	}
	return nil
}

// statusError turns a non-200 response into a classification-aware error.
// When the body carries a machine-readable code it is attached on top of the
// status so either tier can classify.
func (c *Client) statusError(resp *http.Response) error {
	statusErr := &domain.HTTPStatusError{Source: sourceName, StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return statusErr
	}
	var envelope errorBody
	if json.Unmarshal(body, &envelope) == nil && envelope.Code != "" {
		return &domain.CodedError{Code: envelope.Code, Err: statusErr}
	}

	c.logger.Debug("upstream error", "status", resp.StatusCode, "body_bytes", len(body))
	return statusErr
}
