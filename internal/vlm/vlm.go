// File: internal/vlm/vlm.go
// Description: Shared contract for the three VLM integration strategies. Each
// client turns (screenshot, text, context) into raw model text; parsing that
// text into a structured action belongs to the agent package.

package vlm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ErrUnparsable marks model output that could not be turned into a structured
// action. It is counted like a transport failure by the recovery policy but
// logged distinctly so "service down" and "model produced garbage" stay
// diagnosable.
var ErrUnparsable = errors.New("vlm: unparsable model output")

// Role tags one conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn. PNG is an optional image attachment on
// user turns.
type Message struct {
	Role Role
	Text string
	PNG  []byte
}

// EstimateTokens is the crude budget heuristic used to keep conversation
// memory bounded: one token per four bytes of text plus a flat per-image cost.
func EstimateTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Text) / 4
		if m.PNG != nil {
			total += 1100
		}
	}
	return total
}

// newBackOff builds the shared exponential retry schedule for transport-level
// faults inside one predict call. maxRetries caps the number of retries after
// the initial attempt; zero or negative leaves only the elapsed-time bound.
func newBackOff(ctx context.Context, apiTimeout time.Duration, maxRetries int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * apiTimeout
	var schedule backoff.BackOff = b
	if maxRetries > 0 {
		schedule = backoff.WithMaxRetries(schedule, uint64(maxRetries))
	}
	return backoff.WithContext(schedule, ctx)
}

// isTransientNetErr reports whether err looks like a transient network fault
// (DNS failure, timeout, connection churn) worth retrying.
func isTransientNetErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"temporary failure",
		"unavailable",
		"resource_exhausted",
		"429", "500", "502", "503", "504",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// waitLimiter applies the optional per-client rate limiter.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// newLimiter converts a requests-per-minute config value into a limiter, or
// nil when throttling is disabled.
func newLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perMinute/60.0), 1)
}
