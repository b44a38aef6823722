// File: internal/vlm/normalized.go
// Description: Locally-normalized VLM strategy. The model emits a thinking
// block plus a structured action whose coordinates are pre-normalized to a
// 0-999 integer scale. Context is a sliding window of prior (frame, response)
// pairs maintained by the caller.

package vlm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/droidpilot/droidpilot/internal/config"
)

// Turn is one prior (frame, response) pair in the sliding context window.
type Turn struct {
	PNG      []byte
	Response string
}

// NormalizedReply splits the model text into its thinking block and the raw
// action payload that follows it.
type NormalizedReply struct {
	Thinking  string
	RawAction string
}

// NormalizedClient implements the locally-normalized VLM mode over an
// OpenAI-style chat-completions endpoint.
type NormalizedClient struct {
	caller      *httpCaller
	model       string
	temperature float32
	limiter     *rate.Limiter
	logger      *zap.Logger
}

type chatContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type chatMessage struct {
	Role    string            `json:"role"`
	Content []chatContentPart `json:"content"`
}

type chatRequestPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
}

type chatResponsePayload struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewNormalizedClient initializes the client against the configured endpoint.
func NewNormalizedClient(cfg config.VLMEndpointConfig, logger *zap.Logger) (*NormalizedClient, error) {
	logger = logger.Named("vlm.normalized")
	caller, err := newHTTPCaller(cfg.Endpoint, cfg.APIKey, cfg.APITimeout, cfg.MaxRetries, logger)
	if err != nil {
		return nil, fmt.Errorf("normalized VLM mode: %w", err)
	}
	return &NormalizedClient{
		caller:      caller,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		limiter:     newLimiter(cfg.RequestsPerMinute),
		logger:      logger,
	}, nil
}

func imagePart(png []byte) chatContentPart {
	part := chatContentPart{Type: "image_url"}
	part.ImageURL = &struct {
		URL string `json:"url"`
	}{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)}
	return part
}

func textPart(text string) chatContentPart {
	return chatContentPart{Type: "text", Text: text}
}

// Predict submits the instruction, the installed-app list, the sliding window
// of prior turns and the current frame, and splits the reply into thinking
// and action.
func (c *NormalizedClient) Predict(ctx context.Context, systemPrompt, instruction string, png []byte, window []Turn, installedApps []string) (NormalizedReply, error) {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return NormalizedReply{}, err
	}

	msgs := make([]chatMessage, 0, len(window)*2+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: []chatContentPart{textPart(systemPrompt)}})

	for _, t := range window {
		msgs = append(msgs, chatMessage{Role: "user", Content: []chatContentPart{imagePart(t.PNG)}})
		msgs = append(msgs, chatMessage{Role: "assistant", Content: []chatContentPart{textPart(t.Response)}})
	}

	var user strings.Builder
	user.WriteString("Task: " + instruction + "\n")
	if len(installedApps) > 0 {
		user.WriteString("Installed apps: " + strings.Join(installedApps, ", ") + "\n")
	}
	user.WriteString("Decide the next action for the screenshot above.")
	msgs = append(msgs, chatMessage{Role: "user", Content: []chatContentPart{imagePart(png), textPart(user.String())}})

	payload := chatRequestPayload{Model: c.model, Messages: msgs, Temperature: c.temperature}

	start := time.Now()
	var resp chatResponsePayload
	if err := c.caller.post(ctx, payload, &resp); err != nil {
		return NormalizedReply{}, err
	}
	if len(resp.Choices) == 0 {
		return NormalizedReply{}, fmt.Errorf("%w: endpoint returned no choices", ErrUnparsable)
	}
	content := resp.Choices[0].Message.Content

	reply, err := splitThinking(content)
	if err != nil {
		return NormalizedReply{}, err
	}
	c.logger.Info("VLM generation complete (normalized)",
		zap.Duration("duration", time.Since(start)),
		zap.Int("response_chars", len(content)),
	)
	return reply, nil
}

// splitThinking separates the "Thinking:" block from the "Action:" payload.
// When no markers are present the whole content is treated as the action.
func splitThinking(content string) (NormalizedReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return NormalizedReply{}, fmt.Errorf("%w: empty content", ErrUnparsable)
	}

	lower := strings.ToLower(content)
	actionIdx := strings.Index(lower, "action:")
	if actionIdx < 0 {
		return NormalizedReply{RawAction: content}, nil
	}

	thinking := strings.TrimSpace(content[:actionIdx])
	thinking = strings.TrimPrefix(thinking, "Thinking:")
	thinking = strings.TrimPrefix(thinking, "thinking:")

	action := strings.TrimSpace(content[actionIdx+len("action:"):])
	if action == "" {
		return NormalizedReply{}, fmt.Errorf("%w: action marker with no payload", ErrUnparsable)
	}
	return NormalizedReply{Thinking: strings.TrimSpace(thinking), RawAction: action}, nil
}
