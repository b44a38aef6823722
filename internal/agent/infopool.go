// File: internal/agent/infopool.go
// Description: Per-run accumulating context threaded through every VLM phase.
// Owned exclusively by one orchestrator run; discarded at run end.

package agent

import "github.com/droidpilot/droidpilot/internal/device"

// Outcome classifies one executed step.
type Outcome string

const (
	// OutcomeSuccess means the step did what the executor intended.
	OutcomeSuccess Outcome = "A"
	// OutcomeSoftFail means the step went wrong in a recoverable way.
	OutcomeSoftFail Outcome = "B"
	// OutcomeHardFail means the step failed outright.
	OutcomeHardFail Outcome = "C"
	// OutcomePending is the placeholder before reflection back-fills the step.
	OutcomePending Outcome = ""
)

// InfoPool carries everything the phase modules need about the run so far.
// The four parallel histories are always the same length after each
// completed step.
type InfoPool struct {
	Instruction   string
	Screen        device.ScreenSize
	InstalledApps []string
	// SkillContext is opaque text from the skill collaborator.
	SkillContext string

	ActionHistory     []string
	SummaryHistory    []string
	ActionOutcomes    []Outcome
	ErrorDescriptions []string

	// Plan state maintained by the Manager phase.
	Plan             string
	CompletedSubgoal string
	// Notes is the Notetaker's running free-text field.
	Notes string

	// LastActionThought is the executor phase's thought for the previous
	// step, fed back into the next Manager call.
	LastActionThought string
	// LastActionUnparsable skips the next Manager call so garbage context is
	// not compounded.
	LastActionUnparsable bool

	// ErrorEscalated forces the next Manager call after a run of failures.
	ErrorEscalated      bool
	EscalationThreshold int

	// Memory is the optional bounded conversation context for the extended
	// general mode.
	Memory *ConversationMemory
}

// NewInfoPool seeds the pool for one run.
func NewInfoPool(instruction string, escalationThreshold int) *InfoPool {
	return &InfoPool{
		Instruction:         instruction,
		EscalationThreshold: escalationThreshold,
	}
}

// RecordStep appends one completed step to all four histories at once,
// preserving the length invariant.
func (p *InfoPool) RecordStep(action, summary string, outcome Outcome, errDesc string) {
	p.ActionHistory = append(p.ActionHistory, action)
	p.SummaryHistory = append(p.SummaryHistory, summary)
	p.ActionOutcomes = append(p.ActionOutcomes, outcome)
	p.ErrorDescriptions = append(p.ErrorDescriptions, errDesc)
}

// AmendLastOutcome back-fills the most recent step's outcome and error after
// reflection. At most one mutation per step.
func (p *InfoPool) AmendLastOutcome(outcome Outcome, errDesc string) {
	if len(p.ActionOutcomes) == 0 {
		return
	}
	i := len(p.ActionOutcomes) - 1
	p.ActionOutcomes[i] = outcome
	p.ErrorDescriptions[i] = errDesc
}

// Steps returns the number of recorded steps.
func (p *InfoPool) Steps() int { return len(p.ActionHistory) }

// CheckEscalation inspects the last EscalationThreshold outcomes and raises
// the escalation flag when all of them are non-success. Any success inside
// the window keeps the flag down.
func (p *InfoPool) CheckEscalation() bool {
	n := p.EscalationThreshold
	if n <= 0 || len(p.ActionOutcomes) < n {
		p.ErrorEscalated = false
		return false
	}
	for _, o := range p.ActionOutcomes[len(p.ActionOutcomes)-n:] {
		if o == OutcomeSuccess {
			p.ErrorEscalated = false
			return false
		}
	}
	p.ErrorEscalated = true
	return true
}
