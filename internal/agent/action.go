// File: internal/agent/action.go
// Description: Tagged action variants. Each kind carries only its relevant
// payload, so executors never null-check fields that do not apply. Actions
// are produced by the parsers in this package and consumed exactly once by
// the matching executor.

package agent

import "fmt"

// ActionKind discriminates the action variants.
type ActionKind string

const (
	KindClick        ActionKind = "click"
	KindDoubleClick  ActionKind = "double_click"
	KindLongPress    ActionKind = "long_press"
	KindSwipe        ActionKind = "swipe"
	KindType         ActionKind = "type"
	KindSystemButton ActionKind = "system_button"
	KindOpenApp      ActionKind = "open_app"
	KindOpenLink     ActionKind = "open_link"
	KindWait         ActionKind = "wait"
	KindAnswer       ActionKind = "answer"
	KindAskUser      ActionKind = "ask_user"
	KindTerminate    ActionKind = "terminate"
)

// Action is the closed set of things the agent can decide to do next.
type Action interface {
	Kind() ActionKind
	// Describe renders a short human-readable line for logs and step records.
	Describe() string
}

// SwipeDirection names the four directional swipes that arrive without
// explicit endpoints.
type SwipeDirection string

const (
	SwipeUp    SwipeDirection = "up"
	SwipeDown  SwipeDirection = "down"
	SwipeLeft  SwipeDirection = "left"
	SwipeRight SwipeDirection = "right"
)

// ClickAction taps at a model-space coordinate.
type ClickAction struct{ X, Y float64 }

func (ClickAction) Kind() ActionKind { return KindClick }
func (a ClickAction) Describe() string {
	return fmt.Sprintf("click at (%.0f, %.0f)", a.X, a.Y)
}

// DoubleClickAction double-taps at a model-space coordinate.
type DoubleClickAction struct{ X, Y float64 }

func (DoubleClickAction) Kind() ActionKind { return KindDoubleClick }
func (a DoubleClickAction) Describe() string {
	return fmt.Sprintf("double click at (%.0f, %.0f)", a.X, a.Y)
}

// LongPressAction holds a press at a model-space coordinate.
type LongPressAction struct{ X, Y float64 }

func (LongPressAction) Kind() ActionKind { return KindLongPress }
func (a LongPressAction) Describe() string {
	return fmt.Sprintf("long press at (%.0f, %.0f)", a.X, a.Y)
}

// SwipeAction either carries explicit endpoints (HasEnd) or a direction plus
// an optional anchor around which the gesture is synthesized.
type SwipeAction struct {
	X1, Y1, X2, Y2 float64
	HasEnd         bool
	Direction      SwipeDirection
	HasAnchor      bool
}

func (SwipeAction) Kind() ActionKind { return KindSwipe }
func (a SwipeAction) Describe() string {
	if a.HasEnd {
		return fmt.Sprintf("swipe (%.0f, %.0f) -> (%.0f, %.0f)", a.X1, a.Y1, a.X2, a.Y2)
	}
	return fmt.Sprintf("swipe %s", a.Direction)
}

// TypeAction enters text into the focused field.
type TypeAction struct{ Text string }

func (TypeAction) Kind() ActionKind { return KindType }
func (a TypeAction) Describe() string {
	const max = 40
	if len(a.Text) > max {
		return fmt.Sprintf("type %q...", a.Text[:max])
	}
	return fmt.Sprintf("type %q", a.Text)
}

// SystemButtonAction presses back, home or enter.
type SystemButtonAction struct{ Button string }

func (SystemButtonAction) Kind() ActionKind { return KindSystemButton }
func (a SystemButtonAction) Describe() string { return "press " + a.Button }

// OpenAppAction launches an application by package name or display name.
type OpenAppAction struct{ Name string }

func (OpenAppAction) Kind() ActionKind { return KindOpenApp }
func (a OpenAppAction) Describe() string { return "open app " + a.Name }

// OpenLinkAction opens a deep link.
type OpenLinkAction struct{ URI string }

func (OpenLinkAction) Kind() ActionKind { return KindOpenLink }
func (a OpenLinkAction) Describe() string { return "open link " + a.URI }

// WaitAction pauses to let the UI settle.
type WaitAction struct{ Millis int }

func (WaitAction) Kind() ActionKind { return KindWait }
func (a WaitAction) Describe() string {
	return fmt.Sprintf("wait %dms", a.Millis)
}

// AnswerAction completes the task with a free-text answer for the user.
type AnswerAction struct{ Text string }

func (AnswerAction) Kind() ActionKind { return KindAnswer }
func (a AnswerAction) Describe() string { return "answer the user" }

// AskUserAction requests human input or takeover before continuing.
type AskUserAction struct{ Question string }

func (AskUserAction) Kind() ActionKind { return KindAskUser }
func (a AskUserAction) Describe() string { return "ask user: " + a.Question }

// TerminateAction ends the run with the model's own success verdict.
type TerminateAction struct {
	Success bool
	Message string
}

func (TerminateAction) Kind() ActionKind { return KindTerminate }
func (a TerminateAction) Describe() string {
	if a.Success {
		return "terminate (task completed)"
	}
	return "terminate (task failed)"
}

// IsTerminal reports whether the action ends the run.
func IsTerminal(a Action) bool {
	switch a.Kind() {
	case KindTerminate, KindAnswer:
		return true
	default:
		return false
	}
}
