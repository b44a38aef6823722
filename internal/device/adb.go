// File: internal/device/adb.go
// Description: adb-backed Controller shim. A privileged (root) shell is used
// when the device grants one; otherwise every command runs on the reduced
// trust adb shell and the downgrade is logged.

package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os/exec"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/droidpilot/droidpilot/internal/config"
	"github.com/droidpilot/droidpilot/internal/safety"
)

// commandRunner abstracts process execution so tests can fake the adb binary.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct {
	timeout time.Duration
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := exec.CommandContext(cctx, name, args...).Output()
	if err != nil {
		return out, fmt.Errorf("command %s failed: %w", name, err)
	}
	return out, nil
}

// wmSizePattern matches the output of `wm size`, e.g. "Physical size: 1080x2400".
var wmSizePattern = regexp.MustCompile(`(\d+)x(\d+)`)

// ADBController implements Controller on top of the adb binary.
type ADBController struct {
	logger *zap.Logger
	cfg    config.DeviceConfig
	runner commandRunner

	// elevated tracks whether the root channel answered the last probe.
	elevated atomic.Bool
	// downgradeLogged keeps the privilege-downgrade warning to one line per
	// flip instead of one per command.
	downgradeLogged atomic.Bool
}

// NewADBController builds the shim and probes the privileged channel once.
// The probe result is refreshed lazily whenever a privileged command fails.
func NewADBController(logger *zap.Logger, cfg config.DeviceConfig) *ADBController {
	c := &ADBController{
		logger: logger.Named("device"),
		cfg:    cfg,
		runner: execRunner{timeout: cfg.CommandTimeout},
	}
	return c
}

func (c *ADBController) baseArgs() []string {
	if c.cfg.Serial != "" {
		return []string{"-s", c.cfg.Serial}
	}
	return nil
}

// Probe checks whether the elevated channel is bound. Safe to call at any
// time; the result only affects which shell later commands prefer.
func (c *ADBController) Probe(ctx context.Context) {
	args := append(c.baseArgs(), "shell", "su", "-c", "id")
	out, err := c.runner.Run(ctx, c.cfg.ADBPath, args...)
	ok := err == nil && bytes.Contains(out, []byte("uid=0"))
	if ok != c.elevated.Load() {
		c.elevated.Store(ok)
		c.downgradeLogged.Store(false)
		c.logger.Info("privileged channel availability changed", zap.Bool("elevated", ok))
	}
}

// Privilege implements Controller.
func (c *ADBController) Privilege() PrivilegeLevel {
	if c.elevated.Load() {
		return PrivilegeElevated
	}
	return PrivilegeShell
}

// shell runs a device-side command, preferring the elevated channel and
// falling back to the plain adb shell when it is unavailable or fails.
func (c *ADBController) shell(ctx context.Context, deviceCmd string) ([]byte, error) {
	if c.elevated.Load() {
		args := append(c.baseArgs(), "shell", "su", "-c", deviceCmd)
		out, err := c.runner.Run(ctx, c.cfg.ADBPath, args...)
		if err == nil {
			return out, nil
		}
		// Channel flipped under us. Downgrade for this and subsequent calls.
		c.elevated.Store(false)
		if !c.downgradeLogged.Swap(true) {
			c.logger.Warn("privileged channel lost, downgrading to shell execution", zap.Error(err))
		}
	}
	args := append(c.baseArgs(), "shell", deviceCmd)
	return c.runner.Run(ctx, c.cfg.ADBPath, args...)
}

// TakeScreenshot captures the current frame. A protected surface (FLAG_SECURE)
// yields an empty or truncated capture; that is reported as Sensitive with a
// placeholder image, never as a generic failure.
func (c *ADBController) TakeScreenshot(ctx context.Context) (Screenshot, error) {
	args := append(c.baseArgs(), "exec-out", "screencap", "-p")
	out, err := c.runner.Run(ctx, c.cfg.ADBPath, args...)
	if err != nil {
		c.logger.Warn("screenshot capture failed, substituting placeholder", zap.Error(err))
		return Screenshot{PNG: placeholderPNG(), Fallback: true}, nil
	}
	if len(out) == 0 || !bytes.HasPrefix(out, []byte("\x89PNG")) {
		// Secure surfaces refuse capture; do not feed the real frame onward.
		c.logger.Info("screen reported as protected surface")
		return Screenshot{PNG: placeholderPNG(), Sensitive: true}, nil
	}
	return Screenshot{PNG: out}, nil
}

// ScreenSize implements Controller.
func (c *ADBController) ScreenSize(ctx context.Context) (ScreenSize, error) {
	out, err := c.shell(ctx, "wm size")
	if err != nil {
		return ScreenSize{}, fmt.Errorf("query screen size: %w", err)
	}
	m := wmSizePattern.FindSubmatch(out)
	if m == nil {
		return ScreenSize{}, fmt.Errorf("unexpected wm size output %q", bytes.TrimSpace(out))
	}
	w, _ := strconv.Atoi(string(m[1]))
	h, _ := strconv.Atoi(string(m[2]))
	return ScreenSize{Width: w, Height: h}, nil
}

func (c *ADBController) Tap(ctx context.Context, x, y int) error {
	_, err := c.shell(ctx, fmt.Sprintf("input tap %d %d", x, y))
	return err
}

func (c *ADBController) DoubleTap(ctx context.Context, x, y int) error {
	if err := c.Tap(ctx, x, y); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(80 * time.Millisecond):
	}
	return c.Tap(ctx, x, y)
}

func (c *ADBController) LongPress(ctx context.Context, x, y int) error {
	// A zero-travel swipe with a long duration is the canonical long press.
	_, err := c.shell(ctx, fmt.Sprintf("input swipe %d %d %d %d 800", x, y, x, y))
	return err
}

func (c *ADBController) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	if durationMs <= 0 {
		durationMs = 300
	}
	_, err := c.shell(ctx, fmt.Sprintf("input swipe %d %d %d %d %d", x1, y1, x2, y2, durationMs))
	return err
}

// TypeText escapes the text before it crosses the shell boundary. The input
// tool expects spaces encoded as %s.
func (c *ADBController) TypeText(ctx context.Context, text string) error {
	encoded := bytes.ReplaceAll([]byte(text), []byte(" "), []byte("%s"))
	_, err := c.shell(ctx, "input text "+safety.ShellQuote(string(encoded)))
	return err
}

func (c *ADBController) PressKey(ctx context.Context, key SystemKey) error {
	code := ""
	switch key {
	case KeyBack:
		code = "KEYCODE_BACK"
	case KeyHome:
		code = "KEYCODE_HOME"
	case KeyEnter:
		code = "KEYCODE_ENTER"
	default:
		return fmt.Errorf("unknown system key %q", key)
	}
	_, err := c.shell(ctx, "input keyevent "+code)
	return err
}

// OpenApp validates the package identifier before building any command.
func (c *ADBController) OpenApp(ctx context.Context, pkg string) error {
	if err := safety.ValidatePackageName(pkg); err != nil {
		return fmt.Errorf("refusing to launch app: %w", err)
	}
	_, err := c.shell(ctx, fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", pkg))
	return err
}

// OpenDeepLink validates the URI before building any command.
func (c *ADBController) OpenDeepLink(ctx context.Context, uri string) error {
	if err := safety.ValidateDeepLink(uri); err != nil {
		return fmt.Errorf("refusing to open link: %w", err)
	}
	_, err := c.shell(ctx, "am start -a android.intent.action.VIEW -d "+safety.ShellQuote(uri))
	return err
}

// placeholderPNG returns a small black frame used whenever a real capture
// cannot be produced. The VLM must never see a protected surface.
func placeholderPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.Black)
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
