// File: internal/vlm/general.go
// Description: General-purpose multimodal strategy backed by the Gemini API
// via google.golang.org/genai. Supports both single-prompt prediction and
// full-running-context prediction for the extended-memory loop.

package vlm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/droidpilot/droidpilot/internal/config"
)

// GeneralClient implements the general-purpose VLM mode.
type GeneralClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	apiTimeout  time.Duration
	maxRetries  int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewGeneralClient initializes the Gemini-backed client.
func NewGeneralClient(ctx context.Context, cfg config.VLMEndpointConfig, logger *zap.Logger) (*GeneralClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("general VLM mode requires an API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeneralClient{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
		apiTimeout:  cfg.APITimeout,
		maxRetries:  cfg.MaxRetries,
		limiter:     newLimiter(cfg.RequestsPerMinute),
		logger:      logger.Named("vlm.general"),
	}, nil
}

// Predict sends a single prompt plus images and returns the model text.
func (c *GeneralClient) Predict(ctx context.Context, prompt string, images [][]byte) (string, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: img}})
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
	return c.generate(ctx, contents)
}

// PredictWithHistory submits the entire running conversation instead of a
// single prompt, trading more tokens for continuity.
func (c *GeneralClient) PredictWithHistory(ctx context.Context, history []Message) (string, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, 2)
		if m.PNG != nil {
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: m.PNG}})
		}
		text := m.Text
		if text == "" {
			text = " "
		}
		parts = append(parts, genai.NewPartFromText(text))
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return c.generate(ctx, contents)
}

func (c *GeneralClient) generate(ctx context.Context, contents []*genai.Content) (string, error) {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return "", err
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}
	if c.maxTokens > 0 {
		genCfg.MaxOutputTokens = c.maxTokens
	}

	var text string
	operation := func() error {
		apiCtx, cancel := context.WithTimeout(ctx, c.apiTimeout)
		defer cancel()

		start := time.Now()
		resp, err := c.client.Models.GenerateContent(apiCtx, c.model, contents, genCfg)
		if err != nil {
			if isTransientNetErr(err) {
				c.logger.Warn("transient error during VLM request, retrying", zap.Error(err))
				return err
			}
			return backoff.Permanent(fmt.Errorf("generate content: %w", err))
		}

		out, err := extractText(resp)
		if err != nil {
			return backoff.Permanent(err)
		}

		c.logger.Info("VLM generation complete (general)",
			zap.Duration("duration", time.Since(start)),
			zap.Int("response_chars", len(out)),
		)
		text = out
		return nil
	}

	if err := backoff.Retry(operation, newBackOff(ctx, c.apiTimeout, c.maxRetries)); err != nil {
		return "", err
	}
	return text, nil
}

// extractText flattens the first candidate's text parts.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("model returned no candidates")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", fmt.Errorf("model returned empty content (finish reason: %s)", cand.FinishReason)
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("model returned no text parts (finish reason: %s)", cand.FinishReason)
	}
	return sb.String(), nil
}
