// File: internal/agent/phases.go
// Description: Prompt construction and response parsing for the four roles of
// the general-mode loop: Manager (plan update), Executor (action decision),
// Reflector (outcome validation) and Notetaker (running notes).

package agent

import (
	"fmt"
	"strings"

	"github.com/droidpilot/droidpilot/internal/vlm"
)

// PlanSignal is the Manager's explicit control signal. The structured field
// is preferred; loose text sentinels are only a fallback for models that
// cannot emit it.
type PlanSignal string

const (
	SignalNone PlanSignal = ""
	// SignalFinished means the Manager judged the whole task complete.
	SignalFinished PlanSignal = "finished"
	// SignalSensitive means the Manager judged the screen a sensitive input
	// surface the agent must stop on.
	SignalSensitive PlanSignal = "sensitive"
)

// ManagerDecision is the parsed Manager output.
type ManagerDecision struct {
	Plan             string
	CompletedSubgoal string
	Signal           PlanSignal
}

const managerSystemPrompt = `You are the planning module of a phone automation agent.
You see the current screenshot and the run context. Decide whether the plan and the
last completed subgoal need updating.
Respond ONLY with a single JSON object:
{"completed_subgoal": "...", "plan": "...", "signal": ""}
Set "signal" to "finished" when the whole task is done, or to "sensitive" when the
screen is a payment or credential surface the agent must not touch. Otherwise leave
it empty.`

// BuildManagerPrompt renders the user prompt for a Manager call. When
// simplified is set (recovery after repeated failures) the history section is
// reduced to the last entries only.
func BuildManagerPrompt(pool *InfoPool, simplified bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", pool.Instruction)
	fmt.Fprintf(&sb, "Screen: %dx%d\n", pool.Screen.Width, pool.Screen.Height)
	if pool.SkillContext != "" && !simplified {
		fmt.Fprintf(&sb, "Known context:\n%s\n", pool.SkillContext)
	}
	if pool.Plan != "" {
		fmt.Fprintf(&sb, "Current plan: %s\n", pool.Plan)
	}
	if pool.CompletedSubgoal != "" {
		fmt.Fprintf(&sb, "Last completed subgoal: %s\n", pool.CompletedSubgoal)
	}
	if pool.Notes != "" && !simplified {
		fmt.Fprintf(&sb, "Notes so far:\n%s\n", pool.Notes)
	}
	writeHistory(&sb, pool, simplified)
	if pool.ErrorEscalated {
		sb.WriteString("The last several actions all failed. Re-think the plan instead of repeating the same approach.\n")
	}
	sb.WriteString("Update the subgoal and plan for the screenshot above. Respond with a single JSON object.")
	return sb.String()
}

// ParseManagerResponse extracts the decision, falling back to loose text
// sentinels when the structured signal field is absent.
func ParseManagerResponse(raw string) (ManagerDecision, error) {
	var payload struct {
		CompletedSubgoal string `json:"completed_subgoal"`
		Plan             string `json:"plan"`
		Signal           string `json:"signal"`
	}
	if err := json.UnmarshalFromString(ExtractJSONBlock(raw), &payload); err != nil {
		return ManagerDecision{}, fmt.Errorf("%w: manager response: %v", vlm.ErrUnparsable, err)
	}

	d := ManagerDecision{Plan: payload.Plan, CompletedSubgoal: payload.CompletedSubgoal}
	switch strings.ToLower(strings.TrimSpace(payload.Signal)) {
	case "finished", "done", "complete", "completed":
		d.Signal = SignalFinished
	case "sensitive", "stop":
		d.Signal = SignalSensitive
	case "":
		// Fallback heuristics for models that ignore the structured field.
		// Known to be fragile; the structured signal always wins.
		plan := strings.ToLower(payload.Plan)
		if strings.HasPrefix(plan, "finished") || plan == "done" {
			d.Signal = SignalFinished
		}
	}
	return d, nil
}

const executorSystemPrompt = `You are the action module of a phone automation agent.
Given the plan and the current screenshot, emit the single next action.
Respond ONLY with a single JSON object such as:
{"thought": "...", "action": "click", "coordinate": [x, y]}
Coordinates are on a 0-999 scale relative to the screenshot, or absolute pixels
when >= 1000. Other actions: double_click, long_press,
swipe (direction or end_coordinate), type (text), system_button (button),
open_app (app), open_link (uri), wait (ms), answer (text), ask_user (question),
terminate (status, message). Include a "warning" field when the action is risky
and needs user confirmation.`

// BuildExecutorPrompt renders the user prompt for an Executor call.
func BuildExecutorPrompt(pool *InfoPool, simplified bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", pool.Instruction)
	fmt.Fprintf(&sb, "Screen: %dx%d\n", pool.Screen.Width, pool.Screen.Height)
	if pool.Plan != "" {
		fmt.Fprintf(&sb, "Plan: %s\n", pool.Plan)
	}
	if pool.CompletedSubgoal != "" {
		fmt.Fprintf(&sb, "Completed so far: %s\n", pool.CompletedSubgoal)
	}
	if len(pool.InstalledApps) > 0 && !simplified {
		fmt.Fprintf(&sb, "Installed apps: %s\n", strings.Join(pool.InstalledApps, ", "))
	}
	if pool.Notes != "" && !simplified {
		fmt.Fprintf(&sb, "Notes:\n%s\n", pool.Notes)
	}
	writeHistory(&sb, pool, simplified)
	sb.WriteString("Decide the next action for the screenshot above. Respond with a single JSON object.")
	return sb.String()
}

// writeHistory renders the parallel histories; simplified mode keeps only the
// last three entries to shrink the prompt.
func writeHistory(sb *strings.Builder, pool *InfoPool, simplified bool) {
	n := pool.Steps()
	if n == 0 {
		return
	}
	start := 0
	if simplified && n > 3 {
		start = n - 3
	}
	sb.WriteString("History:\n")
	for i := start; i < n; i++ {
		fmt.Fprintf(sb, "%d. %s -> %s", i+1, pool.ActionHistory[i], outcomeWord(pool.ActionOutcomes[i]))
		if pool.ErrorDescriptions[i] != "" {
			fmt.Fprintf(sb, " (%s)", pool.ErrorDescriptions[i])
		}
		sb.WriteByte('\n')
	}
}

func outcomeWord(o Outcome) string {
	switch o {
	case OutcomeSuccess:
		return "ok"
	case OutcomeSoftFail:
		return "issue"
	case OutcomeHardFail:
		return "failed"
	default:
		return "pending"
	}
}

const reflectorSystemPrompt = `You are the verification module of a phone automation agent.
You see the screenshot before an action, the screenshot after it, and the action taken.
Classify the outcome. Respond ONLY with a single JSON object:
{"outcome": "A", "error": ""}
"A" = the action achieved what it intended, "B" = something went wrong but is
recoverable, "C" = the action failed outright. Describe the problem in "error"
for B and C.`

// BuildReflectorPrompt renders the user prompt for a Reflector call.
func BuildReflectorPrompt(pool *InfoPool, actionDesc, thought string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", pool.Instruction)
	fmt.Fprintf(&sb, "Action taken: %s\n", actionDesc)
	if thought != "" {
		fmt.Fprintf(&sb, "Intent: %s\n", thought)
	}
	sb.WriteString("The first image is before the action, the second is after. Classify the outcome. Respond with a single JSON object.")
	return sb.String()
}

// ParseReflectorResponse extracts the outcome tier and error description.
func ParseReflectorResponse(raw string) (Outcome, string, error) {
	var payload struct {
		Outcome string `json:"outcome"`
		Error   string `json:"error"`
	}
	if err := json.UnmarshalFromString(ExtractJSONBlock(raw), &payload); err != nil {
		return OutcomePending, "", fmt.Errorf("%w: reflector response: %v", vlm.ErrUnparsable, err)
	}
	switch strings.ToUpper(strings.TrimSpace(payload.Outcome)) {
	case "A":
		return OutcomeSuccess, "", nil
	case "B":
		return OutcomeSoftFail, payload.Error, nil
	case "C":
		return OutcomeHardFail, payload.Error, nil
	default:
		return OutcomePending, "", fmt.Errorf("%w: unknown outcome %q", vlm.ErrUnparsable, payload.Outcome)
	}
}

const notetakerSystemPrompt = `You are the note-taking module of a phone automation agent.
After a successful step, update the running notes with any information from the
screenshot that later steps will need (names, amounts, confirmation codes).
Respond ONLY with a single JSON object: {"notes": "..."}.`

// BuildNotetakerPrompt renders the user prompt for a Notetaker call.
func BuildNotetakerPrompt(pool *InfoPool, actionDesc string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", pool.Instruction)
	fmt.Fprintf(&sb, "Just executed: %s\n", actionDesc)
	if pool.Notes != "" {
		fmt.Fprintf(&sb, "Current notes:\n%s\n", pool.Notes)
	}
	sb.WriteString("Update the notes from the screenshot above. Respond with a single JSON object.")
	return sb.String()
}

// ParseNotetakerResponse extracts the updated notes; a malformed reply keeps
// the previous notes rather than failing the step.
func ParseNotetakerResponse(raw string, previous string) string {
	var payload struct {
		Notes string `json:"notes"`
	}
	if err := json.UnmarshalFromString(ExtractJSONBlock(raw), &payload); err != nil || payload.Notes == "" {
		return previous
	}
	return payload.Notes
}
