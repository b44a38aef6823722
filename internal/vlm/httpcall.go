// File: internal/vlm/httpcall.go
// Description: Shared hardened HTTP POST used by the session-oriented and
// locally-normalized clients. Exponential backoff on transient faults,
// Retry-After honoring on 429, bounded response bodies.

package vlm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/internal/safety"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxRateLimitWait caps how long a server-provided Retry-After hint is
// honored before falling back to the exponential schedule.
const maxRateLimitWait = 60 * time.Second

// httpCaller wraps one VLM HTTP endpoint with the shared retry contract.
type httpCaller struct {
	endpoint   string
	apiKey     string
	apiTimeout time.Duration
	maxRetries int
	client     *http.Client
	logger     *zap.Logger
}

func newHTTPCaller(endpoint, apiKey string, apiTimeout time.Duration, maxRetries int, logger *zap.Logger) (*httpCaller, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	// Validate once up front and pin the vetted address for all connections.
	_, pinned, err := safety.ValidateURL(endpoint)
	if err != nil {
		return nil, fmt.Errorf("endpoint rejected: %w", err)
	}
	client := safety.NewHardenedClient(pinned)
	if apiTimeout > 0 {
		client.Timeout = apiTimeout
	}
	return &httpCaller{
		endpoint:   endpoint,
		apiKey:     apiKey,
		apiTimeout: apiTimeout,
		maxRetries: maxRetries,
		client:     client,
		logger:     logger,
	}, nil
}

// post marshals payload, sends it, and unmarshals the bounded response body
// into out, retrying transient failures with exponential backoff.
func (h *httpCaller) post(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request payload: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if h.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+h.apiKey)
		}

		resp, err := h.client.Do(req)
		if err != nil {
			if isTransientNetErr(err) {
				h.logger.Warn("network error during VLM request, retrying", zap.Error(err))
				return err
			}
			return backoff.Permanent(fmt.Errorf("failed to execute HTTP request: %w", err))
		}
		defer resp.Body.Close()

		// Never consume an unbounded body, whatever the status.
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, safety.MaxResponseBytes))
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp)
			h.logger.Warn("VLM endpoint rate limited", zap.Duration("retry_after", wait))
			if wait > 0 {
				select {
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				case <-time.After(wait):
				}
			}
			return fmt.Errorf("rate limited: status 429")
		}
		if resp.StatusCode != http.StatusOK {
			return h.statusError(resp.StatusCode, respBody)
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		return nil
	}

	return backoff.Retry(operation, newBackOff(ctx, h.apiTimeout, h.maxRetries))
}

// statusError classifies non-200 statuses: 5xx is transient, everything else
// is permanent.
func (h *httpCaller) statusError(status int, body []byte) error {
	err := fmt.Errorf("VLM endpoint error: status %d, body: %s", status, truncateForLog(body))
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		h.logger.Warn("transient VLM endpoint error", zap.Int("status", status))
		return err
	default:
		h.logger.Error("permanent VLM endpoint error", zap.Int("status", status))
		return backoff.Permanent(err)
	}
}

// retryAfter parses the server's Retry-After hint, capped to keep a hostile
// header from stalling the loop. Zero means no usable hint.
func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		d := time.Duration(secs) * time.Second
		if d > maxRateLimitWait {
			return maxRateLimitWait
		}
		return d
	}
	if at, err := http.ParseTime(raw); err == nil {
		d := time.Until(at)
		if d <= 0 {
			return 0
		}
		if d > maxRateLimitWait {
			return maxRateLimitWait
		}
		return d
	}
	return 0
}

func truncateForLog(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
