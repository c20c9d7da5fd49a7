// Package judgment defines the contract for the external AI jury and an
// HTTP client for it. The engine never interprets the verdict reasoning;
// it only carries the result back into the session log.
package judgment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/gavel/internal/domain/model"
	"github.com/okian/gavel/pkg/metrics"
)

// Default judgment configuration constants.
const (
	defaultTimeout = 20 * time.Second
)

// Request is the trial record handed to the jury.
type Request struct {
	SessionID string   `json:"session_id"`
	Arguments []string `json:"all_arguments"`
	Evidence  []string `json:"all_presented_evidence"`
}

// Service produces a verdict from the accumulated trial record. Judge
// blocks up to the caller-visible timeout; callers must not auto-retry on
// ErrTimeout, or the jury may deliver duplicate verdicts.
type Service interface {
	Judge(ctx context.Context, req Request) (model.Verdict, error)
}

// Option applies a configuration option to the HTTPService.
type Option func(*HTTPService)

// WithTimeout bounds each judgment request.
func WithTimeout(d time.Duration) Option {
	return func(s *HTTPService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithHTTPClient overrides the underlying client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *HTTPService) {
		if c != nil {
			s.client = c
		}
	}
}

// HTTPService calls a remote judgment endpoint.
type HTTPService struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPService creates a judgment client for url with configuration
// options.
func NewHTTPService(url string, opts ...Option) *HTTPService {
	s := &HTTPService{
		url:     url,
		client:  &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Judge posts the trial record and decodes the verdict.
func (s *HTTPService) Judge(ctx context.Context, req Request) (model.Verdict, error) {
	metrics.RecordJudgmentRequest()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("encode judgment request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return model.Verdict{}, fmt.Errorf("build judgment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			metrics.RecordJudgmentTimeout()
			return model.Verdict{}, fmt.Errorf("judge session %s: %w", req.SessionID, ErrTimeout)
		}
		return model.Verdict{}, fmt.Errorf("judge session %s: %w", req.SessionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Verdict{}, fmt.Errorf("judge session %s: unexpected status %d", req.SessionID, resp.StatusCode)
	}

	var v model.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return model.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	metrics.RecordJudgmentLatency(time.Since(start).Seconds())
	return v, nil
}

// StubService returns a canned verdict after a simulated deliberation
// delay. Used for local play and tests.
type StubService struct {
	Delay   time.Duration
	Verdict model.Verdict
}

// Judge waits out the delay, honoring ctx, then returns the canned
// verdict.
func (s *StubService) Judge(ctx context.Context, req Request) (model.Verdict, error) {
	metrics.RecordJudgmentRequest()
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return model.Verdict{}, fmt.Errorf("judge session %s: %w", req.SessionID, ErrTimeout)
		case <-time.After(s.Delay):
		}
	}
	v := s.Verdict
	if v.Label == "" {
		v.Label = "not_guilty"
		v.Reasoning = "insufficient evidence"
	}
	return v, nil
}
