// File: internal/agent/mocks_test.go
// In-package fakes for the loop driver tests: a scripted strategy, a
// recording device controller and a canned confirmation gate.

package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/internal/device"
)

// fakeController records every call and answers from canned state.
type fakeController struct {
	mu    sync.Mutex
	calls []string

	size       device.ScreenSize
	screenshot device.Screenshot
	shotErr    error
	execErr    error
}

func newFakeController() *fakeController {
	return &fakeController{
		size:       device.ScreenSize{Width: 1080, Height: 2400},
		screenshot: device.Screenshot{PNG: []byte{0x89, 'P', 'N', 'G'}},
	}
}

func (f *fakeController) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeController) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeController) TakeScreenshot(ctx context.Context) (device.Screenshot, error) {
	f.record("screenshot")
	return f.screenshot, f.shotErr
}

func (f *fakeController) ScreenSize(ctx context.Context) (device.ScreenSize, error) {
	return f.size, nil
}

func (f *fakeController) Tap(ctx context.Context, x, y int) error {
	f.record("tap %d %d", x, y)
	return f.execErr
}

func (f *fakeController) DoubleTap(ctx context.Context, x, y int) error {
	f.record("double_tap %d %d", x, y)
	return f.execErr
}

func (f *fakeController) LongPress(ctx context.Context, x, y int) error {
	f.record("long_press %d %d", x, y)
	return f.execErr
}

func (f *fakeController) Swipe(ctx context.Context, x1, y1, x2, y2 int, durationMs int) error {
	f.record("swipe %d %d -> %d %d", x1, y1, x2, y2)
	return f.execErr
}

func (f *fakeController) TypeText(ctx context.Context, text string) error {
	f.record("type %s", text)
	return f.execErr
}

func (f *fakeController) PressKey(ctx context.Context, key device.SystemKey) error {
	f.record("press %s", key)
	return f.execErr
}

func (f *fakeController) OpenApp(ctx context.Context, pkg string) error {
	f.record("open_app %s", pkg)
	return f.execErr
}

func (f *fakeController) OpenDeepLink(ctx context.Context, uri string) error {
	f.record("open_link %s", uri)
	return f.execErr
}

func (f *fakeController) Privilege() device.PrivilegeLevel { return device.PrivilegeShell }

// scripted is one canned PredictNext result.
type scripted struct {
	decision Decision
	err      error
}

// fakeStrategy serves scripted decisions in order. The last entry repeats when
// the loop asks for more.
type fakeStrategy struct {
	exec      *ActionExecutor
	script    []scripted
	calls     int
	reflected bool
	outcome   Outcome
	resets    int

	predictHadDeadline bool
	reflectHadDeadline bool
}

func newFakeStrategy(dev device.Controller, script ...scripted) *fakeStrategy {
	return &fakeStrategy{
		exec: NewActionExecutor(zap.NewNop(), dev, SchemeBucketed, map[string]string{
			"settings": "com.android.settings",
		}),
		script:  script,
		outcome: OutcomeSuccess,
	}
}

func (s *fakeStrategy) Name() string              { return "fake" }
func (s *fakeStrategy) Executor() *ActionExecutor { return s.exec }
func (s *fakeStrategy) WantsReflection() bool     { return s.reflected }
func (s *fakeStrategy) Reset(pool *InfoPool)      { s.resets++ }

func (s *fakeStrategy) PredictNext(ctx context.Context, pool *InfoPool, shot device.Screenshot, simplified bool) (Decision, error) {
	_, s.predictHadDeadline = ctx.Deadline()
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	entry := s.script[i]
	if entry.err != nil {
		return Decision{}, entry.err
	}
	d := entry.decision
	if d.Description == "" && d.Parsed.Action != nil {
		d.Description = d.Parsed.Action.Describe()
	}
	return d, nil
}

func (s *fakeStrategy) Reflect(ctx context.Context, pool *InfoPool, d Decision, before, after device.Screenshot) (Outcome, string) {
	_, s.reflectHadDeadline = ctx.Deadline()
	return s.outcome, ""
}

// cannedGate answers every confirmation the same way and records the warnings
// it was shown.
type cannedGate struct {
	answer   bool
	warnings []string
}

func (g *cannedGate) Confirm(ctx context.Context, warning string) (bool, error) {
	g.warnings = append(g.warnings, warning)
	return g.answer, nil
}
