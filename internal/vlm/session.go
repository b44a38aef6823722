// File: internal/vlm/session.go
// Description: Session-oriented VLM strategy. The service keeps multi-turn
// context server-side behind an opaque session token; the client only ships
// the instruction and the current frame.

package vlm

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/droidpilot/droidpilot/internal/config"
)

// SessionReply is the triple the session service returns for one step.
type SessionReply struct {
	// Rationale is the model's free-text reasoning.
	Rationale string
	// Operation is the compact action string, e.g. `CLICK(point="0.42 0.61")`.
	// Points are fractions of the screen in [0, 1].
	Operation string
	// Explanation is the human-readable step description.
	Explanation string
}

// SessionClient implements the session-oriented VLM mode.
type SessionClient struct {
	caller  *httpCaller
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger

	// session is the opaque token the service uses to thread context. Managed
	// here only to the extent of creating one per task and discarding it on
	// Reset.
	session string
}

type sessionRequestPayload struct {
	Model       string `json:"model"`
	SessionID   string `json:"session_id"`
	Instruction string `json:"instruction"`
	ImageB64    string `json:"image_base64"`
}

type sessionResponsePayload struct {
	SessionID   string `json:"session_id"`
	Rationale   string `json:"rationale"`
	Operation   string `json:"operation"`
	Explanation string `json:"explanation"`
}

// NewSessionClient initializes the client against the configured endpoint.
func NewSessionClient(cfg config.VLMEndpointConfig, logger *zap.Logger) (*SessionClient, error) {
	logger = logger.Named("vlm.session")
	caller, err := newHTTPCaller(cfg.Endpoint, cfg.APIKey, cfg.APITimeout, cfg.MaxRetries, logger)
	if err != nil {
		return nil, fmt.Errorf("session VLM mode: %w", err)
	}
	return &SessionClient{
		caller:  caller,
		model:   cfg.Model,
		limiter: newLimiter(cfg.RequestsPerMinute),
		logger:  logger,
	}, nil
}

// Reset discards the server-side session. Must be called between distinct
// task instructions.
func (c *SessionClient) Reset() {
	c.session = ""
}

// Predict sends the instruction and current frame under the active session
// token, creating a fresh token when none is active.
func (c *SessionClient) Predict(ctx context.Context, instruction string, png []byte) (SessionReply, error) {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return SessionReply{}, err
	}
	if c.session == "" {
		c.session = uuid.NewString()
		c.logger.Debug("starting new VLM session", zap.String("session", c.session))
	}

	payload := sessionRequestPayload{
		Model:       c.model,
		SessionID:   c.session,
		Instruction: instruction,
		ImageB64:    base64.StdEncoding.EncodeToString(png),
	}

	start := time.Now()
	var resp sessionResponsePayload
	if err := c.caller.post(ctx, payload, &resp); err != nil {
		return SessionReply{}, err
	}
	if resp.Operation == "" {
		return SessionReply{}, fmt.Errorf("%w: session service returned no operation", ErrUnparsable)
	}
	if resp.SessionID != "" {
		c.session = resp.SessionID
	}

	c.logger.Info("VLM generation complete (session)",
		zap.Duration("duration", time.Since(start)),
		zap.String("operation", resp.Operation),
	)
	return SessionReply{
		Rationale:   resp.Rationale,
		Operation:   resp.Operation,
		Explanation: resp.Explanation,
	}, nil
}
