// File: internal/agent/strategy.go
// Description: The three loop bodies share one generic driver (orchestrator);
// everything genuinely mode-specific lives behind this strategy interface:
// prediction, reflection, and the coordinate-scheme-bound executor.

package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/internal/device"
	"github.com/droidpilot/droidpilot/internal/vlm"
)

// Decision is one prediction result: either a parsed action or a Manager
// sentinel that terminates the run before anything executes.
type Decision struct {
	Parsed      ParsedAction
	Description string
	// Sentinel, when set, bypasses the rest of the step.
	Sentinel PlanSignal
}

// ModeStrategy is implemented once per VLM mode. The orchestrator is the only
// caller; implementations are not safe for concurrent use.
type ModeStrategy interface {
	Name() string
	// Reset clears per-run state (session tokens, sliding windows) and seeds
	// mode-specific context into the pool.
	Reset(pool *InfoPool)
	// PredictNext obtains the next action from the model. simplified is the
	// recovery hint to shrink prompts after repeated failures.
	PredictNext(ctx context.Context, pool *InfoPool, shot device.Screenshot, simplified bool) (Decision, error)
	// Executor returns the mode's coordinate-scheme-bound executor.
	Executor() *ActionExecutor
	// WantsReflection reports whether a post-action screenshot and Reflect
	// call are part of this mode's step.
	WantsReflection() bool
	// Reflect classifies the executed step from before/after frames.
	Reflect(ctx context.Context, pool *InfoPool, d Decision, before, after device.Screenshot) (Outcome, string)
}

// --- General mode: Manager / Executor / Reflector / Notetaker ---

// GeneralStrategy drives the richest loop variant.
type GeneralStrategy struct {
	logger    *zap.Logger
	client    *vlm.GeneralClient
	exec      *ActionExecutor
	notetaker bool
}

// NewGeneralStrategy wires the general mode. The executor is bound to the
// bucketed-relative coordinate scheme, matching the prompt contract.
func NewGeneralStrategy(logger *zap.Logger, client *vlm.GeneralClient, dev device.Controller, appPackages map[string]string, notetaker bool) *GeneralStrategy {
	logger = logger.Named("mode.general")
	return &GeneralStrategy{
		logger:    logger,
		client:    client,
		exec:      NewActionExecutor(logger, dev, SchemeBucketed, appPackages),
		notetaker: notetaker,
	}
}

func (s *GeneralStrategy) Name() string              { return "general" }
func (s *GeneralStrategy) Executor() *ActionExecutor { return s.exec }
func (s *GeneralStrategy) WantsReflection() bool     { return true }

func (s *GeneralStrategy) Reset(pool *InfoPool) {
	if pool.Memory != nil {
		pool.Memory.Append(vlm.Message{Role: vlm.RoleSystem, Text: executorSystemPrompt})
	}
}

func (s *GeneralStrategy) PredictNext(ctx context.Context, pool *InfoPool, shot device.Screenshot, simplified bool) (Decision, error) {
	// The Manager is skipped after an unparsable action so garbage context is
	// not compounded, unless escalation forces a re-plan.
	if !pool.LastActionUnparsable || pool.ErrorEscalated {
		raw, err := s.client.Predict(ctx, managerSystemPrompt+"\n\n"+BuildManagerPrompt(pool, simplified), [][]byte{shot.PNG})
		if err != nil {
			return Decision{}, fmt.Errorf("manager phase: %w", err)
		}
		d, err := ParseManagerResponse(raw)
		if err != nil {
			return Decision{}, err
		}
		if d.Signal != SignalNone {
			s.logger.Info("manager raised control signal", zap.String("signal", string(d.Signal)))
			return Decision{Sentinel: d.Signal}, nil
		}
		if d.Plan != "" {
			pool.Plan = d.Plan
		}
		if d.CompletedSubgoal != "" {
			pool.CompletedSubgoal = d.CompletedSubgoal
		}
	}

	raw, err := s.predictExecutor(ctx, pool, shot, simplified)
	if err != nil {
		return Decision{}, fmt.Errorf("executor phase: %w", err)
	}
	parsed, err := ParseActionJSON(raw)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Parsed: parsed, Description: parsed.Action.Describe()}, nil
}

// predictExecutor runs the action-decision call, through conversation memory
// when the extended mode is active.
func (s *GeneralStrategy) predictExecutor(ctx context.Context, pool *InfoPool, shot device.Screenshot, simplified bool) (string, error) {
	prompt := BuildExecutorPrompt(pool, simplified)
	if pool.Memory == nil {
		return s.client.Predict(ctx, executorSystemPrompt+"\n\n"+prompt, [][]byte{shot.PNG})
	}

	pool.Memory.Append(vlm.Message{Role: vlm.RoleUser, Text: prompt, PNG: shot.PNG})
	pool.Memory.StripOldImages()
	s.logger.Debug("predicting with running context",
		zap.Int("messages", pool.Memory.Len()),
		zap.Int("token_estimate", pool.Memory.TokenEstimate()),
	)
	raw, err := s.client.PredictWithHistory(ctx, pool.Memory.Messages())
	if err != nil {
		// Roll back the unanswered turn; the retry appends a fresh one.
		pool.Memory.DropLast()
		return "", err
	}
	pool.Memory.Append(vlm.Message{Role: vlm.RoleAssistant, Text: raw})
	return raw, nil
}

func (s *GeneralStrategy) Reflect(ctx context.Context, pool *InfoPool, d Decision, before, after device.Screenshot) (Outcome, string) {
	raw, err := s.client.Predict(ctx,
		reflectorSystemPrompt+"\n\n"+BuildReflectorPrompt(pool, d.Description, d.Parsed.Thought),
		[][]byte{before.PNG, after.PNG},
	)
	if err != nil {
		s.logger.Warn("reflector call failed, marking step as recoverable issue", zap.Error(err))
		return OutcomeSoftFail, "reflection unavailable"
	}
	outcome, errDesc, err := ParseReflectorResponse(raw)
	if err != nil {
		s.logger.Warn("reflector response unparsable", zap.Error(err))
		return OutcomeSoftFail, "reflection unparsable"
	}

	if outcome == OutcomeSuccess && s.notetaker {
		s.takeNotes(ctx, pool, d, after)
	}
	return outcome, errDesc
}

// takeNotes runs the optional Notetaker phase. Failures keep previous notes;
// notes are convenience context, never load-bearing.
func (s *GeneralStrategy) takeNotes(ctx context.Context, pool *InfoPool, d Decision, after device.Screenshot) {
	raw, err := s.client.Predict(ctx,
		notetakerSystemPrompt+"\n\n"+BuildNotetakerPrompt(pool, d.Description),
		[][]byte{after.PNG},
	)
	if err != nil {
		s.logger.Debug("notetaker call failed, keeping previous notes", zap.Error(err))
		return
	}
	pool.Notes = ParseNotetakerResponse(raw, pool.Notes)
}

// --- Session mode ---

// SessionStrategy drives the session-oriented loop variant. Coordinates from
// the service are fractional in [0, 1].
type SessionStrategy struct {
	logger *zap.Logger
	client *vlm.SessionClient
	exec   *ActionExecutor
}

func NewSessionStrategy(logger *zap.Logger, client *vlm.SessionClient, dev device.Controller, appPackages map[string]string) *SessionStrategy {
	logger = logger.Named("mode.session")
	return &SessionStrategy{
		logger: logger,
		client: client,
		exec:   NewActionExecutor(logger, dev, SchemeFraction, appPackages),
	}
}

func (s *SessionStrategy) Name() string              { return "session" }
func (s *SessionStrategy) Executor() *ActionExecutor { return s.exec }
func (s *SessionStrategy) WantsReflection() bool     { return false }

// Reset discards the server-side session; required between distinct task
// instructions.
func (s *SessionStrategy) Reset(pool *InfoPool) { s.client.Reset() }

func (s *SessionStrategy) PredictNext(ctx context.Context, pool *InfoPool, shot device.Screenshot, simplified bool) (Decision, error) {
	reply, err := s.client.Predict(ctx, pool.Instruction, shot.PNG)
	if err != nil {
		return Decision{}, err
	}
	parsed, err := ParseSessionOperation(reply.Operation)
	if err != nil {
		return Decision{}, err
	}
	parsed.Thought = reply.Rationale
	desc := reply.Explanation
	if desc == "" {
		desc = parsed.Action.Describe()
	}
	return Decision{Parsed: parsed, Description: desc}, nil
}

func (s *SessionStrategy) Reflect(ctx context.Context, pool *InfoPool, d Decision, before, after device.Screenshot) (Outcome, string) {
	return OutcomeSuccess, ""
}

// --- Normalized mode ---

// NormalizedStrategy drives the locally-normalized loop variant. The model
// emits 0-999 integer coordinates; the bucketed mapper resolves them.
type NormalizedStrategy struct {
	logger *zap.Logger
	client *vlm.NormalizedClient
	exec   *ActionExecutor
	// window is the sliding context of prior (frame, response) pairs.
	window      []vlm.Turn
	windowDepth int
}

func NewNormalizedStrategy(logger *zap.Logger, client *vlm.NormalizedClient, dev device.Controller, appPackages map[string]string, windowDepth int) *NormalizedStrategy {
	logger = logger.Named("mode.normalized")
	if windowDepth <= 0 {
		windowDepth = 4
	}
	return &NormalizedStrategy{
		logger:      logger,
		client:      client,
		exec:        NewActionExecutor(logger, dev, SchemeBucketed, appPackages),
		windowDepth: windowDepth,
	}
}

func (s *NormalizedStrategy) Name() string              { return "normalized" }
func (s *NormalizedStrategy) Executor() *ActionExecutor { return s.exec }
func (s *NormalizedStrategy) WantsReflection() bool     { return false }

func (s *NormalizedStrategy) Reset(pool *InfoPool) { s.window = nil }

const normalizedSystemPrompt = `You control an Android phone. For each screenshot decide
the single next action. First write a short "Thinking:" block, then "Action:" followed
by one JSON object such as {"action": "click", "coordinate": [x, y]}.
Coordinates are integers on a 0-999 scale relative to the screenshot.
Other actions: double_click, long_press, swipe (direction or end_coordinate),
type (text), system_button (button), open_app (app), wait (ms), answer (text),
terminate (status).`

func (s *NormalizedStrategy) PredictNext(ctx context.Context, pool *InfoPool, shot device.Screenshot, simplified bool) (Decision, error) {
	window := s.window
	if simplified {
		window = nil
	}
	reply, err := s.client.Predict(ctx, normalizedSystemPrompt, pool.Instruction, shot.PNG, window, pool.InstalledApps)
	if err != nil {
		return Decision{}, err
	}
	parsed, err := ParseActionJSON(reply.RawAction)
	if err != nil {
		return Decision{}, err
	}
	if parsed.Thought == "" {
		parsed.Thought = reply.Thinking
	}

	s.window = append(s.window, vlm.Turn{PNG: shot.PNG, Response: reply.RawAction})
	if len(s.window) > s.windowDepth {
		s.window = s.window[len(s.window)-s.windowDepth:]
	}
	return Decision{Parsed: parsed, Description: parsed.Action.Describe()}, nil
}

func (s *NormalizedStrategy) Reflect(ctx context.Context, pool *InfoPool, d Decision, before, after device.Screenshot) (Outcome, string) {
	return OutcomeSuccess, ""
}
