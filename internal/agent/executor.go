// File: internal/agent/executor.go
// Description: Translates tagged actions into device-controller calls. One
// executor instance per VLM mode, each bound to exactly one coordinate
// scheme at construction.

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/internal/device"
	"github.com/droidpilot/droidpilot/internal/safety"
)

// ActionExecutor performs one tagged action against the device, mapping
// model-space coordinates through its fixed scheme.
type ActionExecutor struct {
	logger *zap.Logger
	dev    device.Controller
	scheme CoordScheme
	// appPackages maps lowercased display names to package identifiers,
	// built from the installed-app inventory.
	appPackages map[string]string
}

// NewActionExecutor binds an executor to its coordinate scheme.
func NewActionExecutor(logger *zap.Logger, dev device.Controller, scheme CoordScheme, appPackages map[string]string) *ActionExecutor {
	return &ActionExecutor{
		logger:      logger.Named("executor"),
		dev:         dev,
		scheme:      scheme,
		appPackages: appPackages,
	}
}

// Scheme exposes the bound coordinate convention for tests.
func (e *ActionExecutor) Scheme() CoordScheme { return e.scheme }

// ResolveApp turns a display name or package identifier into a validated
// package name.
func (e *ActionExecutor) ResolveApp(name string) (string, error) {
	if err := safety.ValidatePackageName(name); err == nil {
		return name, nil
	}
	if pkg, ok := e.appPackages[strings.ToLower(strings.TrimSpace(name))]; ok {
		return pkg, nil
	}
	return "", fmt.Errorf("unknown application %q", name)
}

// Execute performs the action. Terminal and ask-user actions are handled by
// the orchestrator and must not reach the executor.
func (e *ActionExecutor) Execute(ctx context.Context, act Action) error {
	size, err := e.dev.ScreenSize(ctx)
	if err != nil {
		return fmt.Errorf("cannot read screen geometry: %w", err)
	}

	switch a := act.(type) {
	case ClickAction:
		x, y := mapPoint(e.scheme, a.X, a.Y, size)
		return e.dev.Tap(ctx, x, y)

	case DoubleClickAction:
		x, y := mapPoint(e.scheme, a.X, a.Y, size)
		return e.dev.DoubleTap(ctx, x, y)

	case LongPressAction:
		x, y := mapPoint(e.scheme, a.X, a.Y, size)
		return e.dev.LongPress(ctx, x, y)

	case SwipeAction:
		x1, y1, x2, y2 := ResolveSwipe(e.scheme, a, size)
		return e.dev.Swipe(ctx, x1, y1, x2, y2, 300)

	case TypeAction:
		return e.dev.TypeText(ctx, a.Text)

	case SystemButtonAction:
		return e.dev.PressKey(ctx, device.SystemKey(a.Button))

	case OpenAppAction:
		pkg, err := e.ResolveApp(a.Name)
		if err != nil {
			return err
		}
		return e.dev.OpenApp(ctx, pkg)

	case OpenLinkAction:
		return e.dev.OpenDeepLink(ctx, a.URI)

	case WaitAction:
		d := time.Duration(a.Millis) * time.Millisecond
		e.logger.Debug("waiting per model request", zap.Duration("duration", d))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}

	default:
		return fmt.Errorf("executor cannot handle action kind %q", act.Kind())
	}
}
