// File: internal/agent/orchestrator.go
// Description: The generic perceive-decide-act-verify loop. Mode differences
// live behind ModeStrategy; everything here (recovery, gates, settle delays,
// terminal states) is identical across modes.

package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/internal/config"
	"github.com/droidpilot/droidpilot/internal/device"
	"github.com/droidpilot/droidpilot/internal/safety"
	"github.com/droidpilot/droidpilot/internal/skills"
	"github.com/droidpilot/droidpilot/internal/vlm"
)

// ErrRunInProgress is returned when RunInstruction is called while a previous
// run is still active. One run at a time, always.
var ErrRunInProgress = errors.New("an instruction is already running")

// Orchestrator drives one instruction to a terminal state. Safe for
// concurrent observation (State, Logs); RunInstruction itself is serialized.
type Orchestrator struct {
	logger   *zap.Logger
	cfg      config.AgentConfig
	dev      device.Controller
	strategy ModeStrategy
	skills   skills.Provider
	gate     safety.ConfirmationGate
	policy   RecoveryPolicy

	// InstalledApps is the display-name inventory shown to the model.
	installedApps []string

	store *stateStore

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopping bool
}

// NewOrchestrator assembles the loop driver. A nil gate defaults to declining
// everything and a nil skills provider to no skill context.
func NewOrchestrator(logger *zap.Logger, cfg config.AgentConfig, dev device.Controller, strategy ModeStrategy, sk skills.Provider, gate safety.ConfirmationGate, installedApps []string) *Orchestrator {
	if sk == nil {
		sk = skills.None{}
	}
	if gate == nil {
		gate = safety.AutoDecline{}
	}
	return &Orchestrator{
		logger:        logger.Named("agent"),
		cfg:           cfg,
		dev:           dev,
		strategy:      strategy,
		skills:        sk,
		gate:          gate,
		policy:        RecoveryPolicy{GiveUpAfter: cfg.GiveUpAfter, Cooldown: 5 * time.Second},
		installedApps: installedApps,
		store:         newStateStore(),
	}
}

// State returns a consistent snapshot of the current run.
func (o *Orchestrator) State() AgentState { return o.store.snapshot() }

// Logs returns the accumulated human-readable log lines.
func (o *Orchestrator) Logs() []string { return o.store.logLines() }

// ClearLogs resets the log stream and recorded steps.
func (o *Orchestrator) ClearLogs() { o.store.clearLogs() }

// Stop requests a graceful stop of the in-flight run. The run ends in the
// user-stopped state; calling Stop with no run active is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.stopping = true
		o.cancel()
	}
}

// RunInstruction executes one natural-language instruction to completion.
// maxSteps <= 0 uses the configured default. Cancellation of ctx is the only
// error that propagates; every other failure ends in a terminal AgentResult.
func (o *Orchestrator) RunInstruction(ctx context.Context, instruction string, maxSteps int, extendedMemory bool) (AgentResult, error) {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return AgentResult{}, ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.stopping = false
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	if maxSteps <= 0 {
		maxSteps = o.cfg.MaxSteps
	}

	o.store.reset(instruction)
	o.logLine("task started: %s", instruction)

	pool := NewInfoPool(instruction, o.cfg.EscalationThreshold)
	pool.InstalledApps = o.installedApps
	if extendedMemory {
		pool.Memory = NewConversationMemory(o.cfg.MemoryDepth)
	}
	if size, err := o.dev.ScreenSize(runCtx); err == nil {
		pool.Screen = size
	} else {
		o.logger.Warn("screen geometry unavailable at start", zap.Error(err))
	}
	if sc, err := o.skills.MatchOrGenerateContext(runCtx, instruction); err != nil {
		o.logger.Warn("skill matching failed, continuing without skill context", zap.Error(err))
	} else if sc != "" {
		pool.SkillContext = sc
		o.logLine("skill context attached")
	}
	o.strategy.Reset(pool)

	result, err := o.runLoop(runCtx, pool, maxSteps)
	if err != nil {
		// Cancellation is the only propagating error. A Stop() cancel is a
		// normal ending, not an error to the caller.
		o.mu.Lock()
		stopped := o.stopping
		o.mu.Unlock()
		if stopped {
			o.store.finish(PhaseUserStopped, "")
			o.logLine("task stopped by user")
			return AgentResult{Success: false, Message: "stopped by user"}, nil
		}
		o.store.finish(PhaseFailed, "")
		return AgentResult{}, err
	}
	o.logLine("task ended: %s", result.Message)
	return result, nil
}

// runLoop is the step loop proper. It returns a terminal result, or an error
// only on cancellation.
func (o *Orchestrator) runLoop(ctx context.Context, pool *InfoPool, maxSteps int) (AgentResult, error) {
	failures := 0
	simplified := false
	stepsTaken := 0

	for stepsTaken < maxSteps {
		if err := ctx.Err(); err != nil {
			return AgentResult{}, err
		}

		shot, err := o.dev.TakeScreenshot(ctx)
		if err != nil {
			return o.finish(PhaseFailed, false, fmt.Sprintf("screenshot failed: %v", err)), nil
		}
		if shot.Sensitive {
			ok, gateErr := o.gate.Confirm(ctx, "The current screen is a protected surface the device refuses to capture. Continue blind?")
			if gateErr != nil {
				return AgentResult{}, gateErr
			}
			if !ok {
				return o.finish(PhaseFailed, false, "stopped at a protected screen"), nil
			}
			o.logLine("continuing past protected screen with placeholder frame")
		} else if shot.Fallback {
			o.logLine("screenshot capture degraded, using placeholder frame")
		}

		decision, err := o.predict(ctx, pool, shot, simplified)
		if err != nil {
			if ctx.Err() != nil {
				return AgentResult{}, ctx.Err()
			}
			failures++
			pool.LastActionUnparsable = errors.Is(err, vlm.ErrUnparsable)
			o.logger.Warn("step prediction failed",
				zap.Int("consecutive_failures", failures),
				zap.Bool("unparsable", pool.LastActionUnparsable),
				zap.Error(err),
			)

			strat := o.policy.StrategyFor(failures)
			if strat == nil {
				return o.finish(PhaseFailed, false, "the model failed too many times in a row"), nil
			}
			switch strat.Kind {
			case RetrySimplified:
				simplified = true
				o.logLine("retrying step %d with reduced context", stepsTaken+1)
			case RetryAfterCooldown:
				o.logLine("cooling down %s before retrying step %d", strat.Delay, stepsTaken+1)
				if err := sleepCtx(ctx, strat.Delay); err != nil {
					return AgentResult{}, err
				}
			default:
				o.logLine("retrying step %d", stepsTaken+1)
			}
			continue
		}
		failures = 0
		simplified = false
		pool.LastActionUnparsable = false

		if decision.Sentinel != SignalNone {
			switch decision.Sentinel {
			case SignalFinished:
				return o.finish(PhaseCompleted, true, "task completed"), nil
			default:
				return o.finish(PhaseFailed, false, "stopped at a sensitive screen"), nil
			}
		}

		act := decision.Parsed.Action
		pool.LastActionThought = decision.Parsed.Thought

		if IsTerminal(act) {
			return o.finishTerminal(act), nil
		}

		if ask, isAsk := act.(AskUserAction); isAsk {
			proceed, gateErr := o.gate.Confirm(ctx, ask.Question)
			if gateErr != nil {
				return AgentResult{}, gateErr
			}
			outcome, desc := OutcomeSuccess, ""
			if !proceed {
				outcome, desc = OutcomeHardFail, "user declined to help"
			}
			o.recordStep(pool, stepsTaken+1, decision, outcome, desc)
			pool.CheckEscalation()
			stepsTaken++
			continue
		}

		if decision.Parsed.Warning != "" {
			proceed, gateErr := o.gate.Confirm(ctx, decision.Parsed.Warning)
			if gateErr != nil {
				return AgentResult{}, gateErr
			}
			if !proceed {
				o.logLine("step %d cancelled by user: %s", stepsTaken+1, decision.Description)
				o.recordStep(pool, stepsTaken+1, decision, OutcomeHardFail, "user cancelled the action")
				pool.CheckEscalation()
				stepsTaken++
				continue
			}
		}

		o.logLine("step %d: %s", stepsTaken+1, decision.Description)
		execErr := o.strategy.Executor().Execute(ctx, act)
		if execErr != nil {
			if ctx.Err() != nil {
				return AgentResult{}, ctx.Err()
			}
			o.logger.Warn("action execution failed", zap.String("action", string(act.Kind())), zap.Error(execErr))
		}
		o.recordStep(pool, stepsTaken+1, decision, OutcomePending, "")
		stepsTaken++

		settle := o.cfg.SettleDelay
		if stepsTaken == 1 && o.cfg.FirstStepSettle > settle {
			settle = o.cfg.FirstStepSettle
		}
		if err := sleepCtx(ctx, settle); err != nil {
			return AgentResult{}, err
		}

		outcome, errDesc := o.verify(ctx, pool, decision, shot, execErr)
		pool.AmendLastOutcome(outcome, errDesc)
		o.store.amendStepOutcome(stepsTaken, outcome)
		if pool.CheckEscalation() {
			o.logLine("repeated failures detected, forcing a re-plan")
		}
	}

	return o.finish(PhaseMaxStepsReached, false, "step limit reached before the task finished"), nil
}

// predict wraps the strategy call in the per-step timeout.
func (o *Orchestrator) predict(ctx context.Context, pool *InfoPool, shot device.Screenshot, simplified bool) (Decision, error) {
	if o.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()
	}
	return o.strategy.PredictNext(ctx, pool, shot, simplified)
}

// verify runs the mode's reflection over a fresh post-action frame, under the
// same per-step timeout as prediction. A device level execution error always
// wins over the model's judgement.
func (o *Orchestrator) verify(ctx context.Context, pool *InfoPool, decision Decision, before device.Screenshot, execErr error) (Outcome, string) {
	if execErr != nil {
		return OutcomeHardFail, execErr.Error()
	}
	if !o.strategy.WantsReflection() {
		return OutcomeSuccess, ""
	}
	if o.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()
	}
	after, err := o.dev.TakeScreenshot(ctx)
	if err != nil {
		o.logger.Warn("post-action screenshot failed, skipping reflection", zap.Error(err))
		return OutcomeSoftFail, "could not verify the result"
	}
	return o.strategy.Reflect(ctx, pool, decision, before, after)
}

// recordStep appends one step to the pool histories and the observable state.
func (o *Orchestrator) recordStep(pool *InfoPool, number int, decision Decision, outcome Outcome, errDesc string) {
	pool.RecordStep(decision.Description, decision.Parsed.Thought, outcome, errDesc)
	o.store.appendStep(ExecutionStep{
		Number:      number,
		Timestamp:   time.Now(),
		ActionKind:  decision.Parsed.Action.Kind(),
		Description: decision.Description,
		Thought:     decision.Parsed.Thought,
		Outcome:     outcome,
	})
}

// finishTerminal maps a terminal action to its run result.
func (o *Orchestrator) finishTerminal(act Action) AgentResult {
	switch a := act.(type) {
	case AnswerAction:
		o.store.finish(PhaseCompleted, a.Text)
		o.logLine("answer: %s", a.Text)
		return AgentResult{Success: true, Message: a.Text}
	case TerminateAction:
		msg := a.Message
		if msg == "" {
			if a.Success {
				msg = "task completed"
			} else {
				msg = "task abandoned by the model"
			}
		}
		phase := PhaseCompleted
		if !a.Success {
			phase = PhaseFailed
		}
		o.store.finish(phase, "")
		return AgentResult{Success: a.Success, Message: msg}
	default:
		o.store.finish(PhaseFailed, "")
		return AgentResult{Success: false, Message: "unexpected terminal action"}
	}
}

func (o *Orchestrator) finish(phase RunPhase, success bool, msg string) AgentResult {
	o.store.finish(phase, "")
	return AgentResult{Success: success, Message: msg}
}

func (o *Orchestrator) logLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	o.store.log(line)
	o.logger.Info(line)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
