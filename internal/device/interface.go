// File: internal/device/interface.go
// Description: Contract for the privileged device-control channel. The agent
// core only ever talks to this interface; the adb shim in this package is one
// implementation of it.

package device

import "context"

// PrivilegeLevel reports the trust level of the active command channel.
type PrivilegeLevel int

const (
	// PrivilegeUnavailable means no command channel is currently bound.
	PrivilegeUnavailable PrivilegeLevel = iota
	// PrivilegeShell is the reduced-trust local execution path.
	PrivilegeShell
	// PrivilegeElevated is the fully privileged channel.
	PrivilegeElevated
)

func (p PrivilegeLevel) String() string {
	switch p {
	case PrivilegeShell:
		return "shell"
	case PrivilegeElevated:
		return "elevated"
	default:
		return "unavailable"
	}
}

// Screenshot is one captured frame plus the capture-path metadata the
// orchestrator branches on.
type Screenshot struct {
	// PNG holds the encoded image. Never nil; a placeholder is substituted
	// when capture fails or the surface is protected.
	PNG []byte
	// Sensitive is set when the platform refused to expose the screen content
	// (payment or credential surfaces). The image is a placeholder then.
	Sensitive bool
	// Fallback is set when a placeholder was substituted after an unrelated
	// capture failure.
	Fallback bool
}

// ScreenSize is the current screen geometry. Queried live because device
// orientation can change mid-run.
type ScreenSize struct {
	Width  int
	Height int
}

// SystemKey enumerates the navigation keys the agent can press.
type SystemKey string

const (
	KeyBack  SystemKey = "back"
	KeyHome  SystemKey = "home"
	KeyEnter SystemKey = "enter"
)

// Controller executes primitive actions against the phone and supplies
// screenshots and geometry. All text and URI arguments are escaped or
// validated by the implementation before reaching any shell-like execution
// path.
type Controller interface {
	TakeScreenshot(ctx context.Context) (Screenshot, error)
	ScreenSize(ctx context.Context) (ScreenSize, error)

	Tap(ctx context.Context, x, y int) error
	DoubleTap(ctx context.Context, x, y int) error
	LongPress(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, durationMs int) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key SystemKey) error
	OpenApp(ctx context.Context, pkg string) error
	OpenDeepLink(ctx context.Context, uri string) error

	// Privilege reports the trust level of the bound channel. Availability can
	// flip asynchronously; "unavailable" is a transient condition to surface,
	// not to crash on.
	Privilege() PrivilegeLevel
}
