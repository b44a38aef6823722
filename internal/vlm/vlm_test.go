// File: internal/vlm/vlm_test.go
package vlm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Text: "12345678"},            // 2 tokens
		{Role: RoleUser, Text: "1234", PNG: []byte{1}},  // 1 + 1100
		{Role: RoleAssistant, Text: ""},                 // 0
	}
	assert.Equal(t, 1103, EstimateTokens(msgs))
	assert.Zero(t, EstimateTokens(nil))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransientNetErr(t *testing.T) {
	transient := []error{
		timeoutErr{},
		&net.DNSError{Err: "no such host", Name: "vlm.example.com"},
		errors.New("connection refused"),
		errors.New("connection reset by peer"),
		errors.New("got status 503 from upstream"),
		errors.New("RESOURCE_EXHAUSTED: quota"),
		errors.New("server returned 429"),
	}
	for _, err := range transient {
		assert.True(t, isTransientNetErr(err), "expected transient: %v", err)
	}

	permanent := []error{
		nil,
		errors.New("invalid api key"),
		errors.New("malformed request"),
	}
	for _, err := range permanent {
		assert.False(t, isTransientNetErr(err), "expected permanent: %v", err)
	}
}

func TestNewBackOffHonorsRetryCeiling(t *testing.T) {
	b := newBackOff(context.Background(), time.Minute, 3)
	for i := 0; i < 3; i++ {
		require.NotEqual(t, backoff.Stop, b.NextBackOff(), "retry %d stays within the ceiling", i+1)
	}
	assert.Equal(t, backoff.Stop, b.NextBackOff(), "the fourth retry is refused")

	t.Run("non-positive ceiling leaves the schedule unbounded", func(t *testing.T) {
		unbounded := newBackOff(context.Background(), time.Minute, 0)
		for i := 0; i < 10; i++ {
			require.NotEqual(t, backoff.Stop, unbounded.NextBackOff())
		}
	})
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(0), "zero disables throttling")
	assert.Nil(t, newLimiter(-5))

	l := newLimiter(60)
	require.NotNil(t, l)
	assert.InDelta(t, 1.0, float64(l.Limit()), 0.001, "60 per minute is one per second")
}

func TestRetryAfter(t *testing.T) {
	mkResp := func(value string) *http.Response {
		h := http.Header{}
		if value != "" {
			h.Set("Retry-After", value)
		}
		return &http.Response{Header: h}
	}

	assert.Zero(t, retryAfter(mkResp("")))
	assert.Equal(t, 3*time.Second, retryAfter(mkResp("3")))
	assert.Equal(t, maxRateLimitWait, retryAfter(mkResp("3600")), "hostile hints are capped")
	assert.Zero(t, retryAfter(mkResp("soon")))

	t.Run("http date format", func(t *testing.T) {
		at := time.Now().Add(5 * time.Second).UTC()
		d := retryAfter(mkResp(at.Format(http.TimeFormat)))
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 5*time.Second)
	})

	t.Run("past date means no wait", func(t *testing.T) {
		at := time.Now().Add(-time.Minute).UTC()
		assert.Zero(t, retryAfter(mkResp(at.Format(http.TimeFormat))))
	})

	t.Run("negative seconds ignored", func(t *testing.T) {
		assert.Zero(t, retryAfter(mkResp(strconv.Itoa(-10))))
	})
}

func TestTruncateForLog(t *testing.T) {
	short := []byte("short body")
	assert.Equal(t, "short body", truncateForLog(short))

	long := make([]byte, 2048)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateForLog(long)
	assert.Len(t, got, 512+3)
	assert.Equal(t, "...", got[len(got)-3:])
}

func TestSplitThinking(t *testing.T) {
	t.Run("marker present", func(t *testing.T) {
		reply, err := splitThinking("Thinking: the search box is at the top.\nAction: {\"action\": \"click\", \"coordinate\": [500, 80]}")
		require.NoError(t, err)
		assert.Equal(t, "the search box is at the top.", reply.Thinking)
		assert.Equal(t, `{"action": "click", "coordinate": [500, 80]}`, reply.RawAction)
	})

	t.Run("no marker treats everything as action", func(t *testing.T) {
		reply, err := splitThinking(`{"action": "wait"}`)
		require.NoError(t, err)
		assert.Empty(t, reply.Thinking)
		assert.Equal(t, `{"action": "wait"}`, reply.RawAction)
	})

	t.Run("case insensitive marker", func(t *testing.T) {
		reply, err := splitThinking("thinking: hmm\nACTION: {\"action\": \"wait\"}")
		require.NoError(t, err)
		assert.Equal(t, "hmm", reply.Thinking)
	})

	t.Run("empty content is unparsable", func(t *testing.T) {
		_, err := splitThinking("   ")
		assert.ErrorIs(t, err, ErrUnparsable)
	})

	t.Run("marker without payload is unparsable", func(t *testing.T) {
		_, err := splitThinking("Thinking: done\nAction:")
		assert.ErrorIs(t, err, ErrUnparsable)
	})
}
