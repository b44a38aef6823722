// File: internal/agent/state.go
// Description: Observable run state. The orchestrator is the single writer;
// observers read consistent snapshots at any time.

package agent

import (
	"sync"
	"time"
)

// RunPhase is the orchestrator's lifecycle state.
type RunPhase string

const (
	PhaseIdle            RunPhase = "idle"
	PhaseRunning         RunPhase = "running"
	PhaseCompleted       RunPhase = "completed"
	PhaseFailed          RunPhase = "failed"
	PhaseUserStopped     RunPhase = "user_stopped"
	PhaseMaxStepsReached RunPhase = "max_steps_reached"
)

// ExecutionStep is the append-only record of one loop iteration. The outcome
// starts as OutcomePending and is back-filled once, by index, after the
// reflection phase validates the step.
type ExecutionStep struct {
	Number      int
	Timestamp   time.Time
	ActionKind  ActionKind
	Description string
	Thought     string
	Outcome     Outcome
}

// AgentState is the UI-facing view of a run.
type AgentState struct {
	Phase       RunPhase
	Running     bool
	Completed   bool
	StepIndex   int
	Instruction string
	FinalAnswer string
	Steps       []ExecutionStep
}

// AgentResult is the terminal outcome of one RunInstruction call.
type AgentResult struct {
	Success bool
	Message string
}

// stateStore guards AgentState and the human-readable log lines behind one
// mutex so concurrent observers always see a consistent snapshot.
type stateStore struct {
	mu    sync.RWMutex
	state AgentState
	logs  []string
}

func newStateStore() *stateStore {
	return &stateStore{state: AgentState{Phase: PhaseIdle}}
}

// reset prepares the store for a new run without touching accumulated logs.
func (s *stateStore) reset(instruction string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = AgentState{
		Phase:       PhaseRunning,
		Running:     true,
		Instruction: instruction,
	}
}

func (s *stateStore) appendStep(step ExecutionStep) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Steps = append(s.state.Steps, step)
	s.state.StepIndex = step.Number
}

// amendStepOutcome back-fills the outcome of the step with the given number.
// Only the entry matching the recorded index is ever touched.
func (s *stateStore) amendStepOutcome(number int, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Steps {
		if s.state.Steps[i].Number == number {
			s.state.Steps[i].Outcome = outcome
			return
		}
	}
}

func (s *stateStore) finish(phase RunPhase, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Phase = phase
	s.state.Running = false
	s.state.Completed = phase == PhaseCompleted
	if answer != "" {
		s.state.FinalAnswer = answer
	}
}

func (s *stateStore) log(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, line)
}

// snapshot returns a deep copy safe for concurrent readers.
func (s *stateStore) snapshot() AgentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state
	out.Steps = make([]ExecutionStep, len(s.state.Steps))
	copy(out.Steps, s.state.Steps)
	return out
}

func (s *stateStore) logLines() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.logs))
	copy(out, s.logs)
	return out
}

// clearLogs resets the log stream and step list without affecting an
// in-progress run's control flow.
func (s *stateStore) clearLogs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
	s.state.Steps = nil
}
