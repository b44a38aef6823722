// File: internal/agent/parse_test.go
package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidpilot/droidpilot/internal/vlm"
)

func TestExtractJSONBlock(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare object", in: `{"action": "wait"}`, want: `{"action": "wait"}`},
		{name: "fenced object", in: "```json\n{\"action\": \"wait\"}```", want: `{"action": "wait"}`},
		{name: "object with surrounding prose", in: "Sure, here you go:\n{\"action\": \"wait\"}\nDone.", want: `{"action": "wait"}`},
		{name: "no object returns trimmed input", in: "  just text  ", want: "just text"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractJSONBlock(tc.in))
		})
	}
}

func TestParseActionJSON(t *testing.T) {
	t.Run("click", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "click", "coordinate": [120, 640], "thought": "tap the gear"}`)
		require.NoError(t, err)
		assert.Equal(t, ClickAction{X: 120, Y: 640}, parsed.Action)
		assert.Equal(t, "tap the gear", parsed.Thought)
	})

	t.Run("tap alias", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "tap", "coordinate": [1, 2]}`)
		require.NoError(t, err)
		assert.Equal(t, KindClick, parsed.Action.Kind())
	})

	t.Run("directional swipe", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "swipe", "direction": "up"}`)
		require.NoError(t, err)
		sw, ok := parsed.Action.(SwipeAction)
		require.True(t, ok)
		assert.Equal(t, SwipeUp, sw.Direction)
		assert.False(t, sw.HasEnd)
		assert.False(t, sw.HasAnchor)
	})

	t.Run("swipe with endpoints", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "swipe", "coordinate": [100, 800], "end_coordinate": [100, 200]}`)
		require.NoError(t, err)
		sw := parsed.Action.(SwipeAction)
		assert.True(t, sw.HasEnd)
		assert.Equal(t, 800.0, sw.Y1)
		assert.Equal(t, 200.0, sw.Y2)
	})

	t.Run("swipe end without start is rejected", func(t *testing.T) {
		_, err := ParseActionJSON(`{"action": "swipe", "end_coordinate": [100, 200]}`)
		assert.ErrorIs(t, err, vlm.ErrUnparsable)
	})

	t.Run("type", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "type", "text": "hello world"}`)
		require.NoError(t, err)
		assert.Equal(t, TypeAction{Text: "hello world"}, parsed.Action)
	})

	t.Run("system button", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "system_button", "button": "Back"}`)
		require.NoError(t, err)
		assert.Equal(t, SystemButtonAction{Button: "back"}, parsed.Action)
	})

	t.Run("unknown system button is rejected", func(t *testing.T) {
		_, err := ParseActionJSON(`{"action": "system_button", "button": "power"}`)
		assert.ErrorIs(t, err, vlm.ErrUnparsable)
	})

	t.Run("open_app with warning", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "open_app", "app": "Settings", "warning": "will change system state"}`)
		require.NoError(t, err)
		assert.Equal(t, OpenAppAction{Name: "Settings"}, parsed.Action)
		assert.Equal(t, "will change system state", parsed.Warning)
	})

	t.Run("wait defaults to one second", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "wait"}`)
		require.NoError(t, err)
		assert.Equal(t, WaitAction{Millis: 1000}, parsed.Action)
	})

	t.Run("terminate failure status", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "terminate", "status": "failed", "message": "login wall"}`)
		require.NoError(t, err)
		term := parsed.Action.(TerminateAction)
		assert.False(t, term.Success)
		assert.Equal(t, "login wall", term.Message)
	})

	t.Run("terminate defaults to success", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "terminate"}`)
		require.NoError(t, err)
		assert.True(t, parsed.Action.(TerminateAction).Success)
	})

	t.Run("ask_user takes question or text", func(t *testing.T) {
		parsed, err := ParseActionJSON(`{"action": "ask_user", "text": "which account?"}`)
		require.NoError(t, err)
		assert.Equal(t, AskUserAction{Question: "which account?"}, parsed.Action)
	})

	t.Run("fenced response parses", func(t *testing.T) {
		parsed, err := ParseActionJSON("Here is my action:\n```json\n{\"action\": \"click\", \"coordinate\": [5, 6]}\n```")
		require.NoError(t, err)
		assert.Equal(t, KindClick, parsed.Action.Kind())
	})

	failures := []struct {
		name string
		in   string
	}{
		{name: "empty input", in: ""},
		{name: "not json", in: "I will now click the button"},
		{name: "missing action field", in: `{"coordinate": [1, 2]}`},
		{name: "unknown action", in: `{"action": "reboot"}`},
		{name: "click without coordinate", in: `{"action": "click"}`},
		{name: "click with one-element coordinate", in: `{"action": "click", "coordinate": [4]}`},
		{name: "swipe without direction or end", in: `{"action": "swipe"}`},
		{name: "open_app without name", in: `{"action": "open_app"}`},
		{name: "open_link without uri", in: `{"action": "open_link"}`},
	}
	for _, tc := range failures {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseActionJSON(tc.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, vlm.ErrUnparsable, "parse failures must be classified as unparsable")
		})
	}
}

func TestParseSessionOperation(t *testing.T) {
	t.Run("click", func(t *testing.T) {
		parsed, err := ParseSessionOperation(`CLICK(point="0.42 0.61")`)
		require.NoError(t, err)
		assert.Equal(t, ClickAction{X: 0.42, Y: 0.61}, parsed.Action)
	})

	t.Run("scroll with direction and anchor", func(t *testing.T) {
		parsed, err := ParseSessionOperation(`SCROLL(direction="down", point="0.5 0.5")`)
		require.NoError(t, err)
		sw := parsed.Action.(SwipeAction)
		assert.Equal(t, SwipeDown, sw.Direction)
		assert.True(t, sw.HasAnchor)
	})

	t.Run("swipe with endpoints", func(t *testing.T) {
		parsed, err := ParseSessionOperation(`SWIPE(start="0.5 0.8", end="0.5 0.2")`)
		require.NoError(t, err)
		sw := parsed.Action.(SwipeAction)
		assert.True(t, sw.HasEnd)
		assert.Equal(t, 0.8, sw.Y1)
	})

	t.Run("type", func(t *testing.T) {
		parsed, err := ParseSessionOperation(`TYPE(text="coffee near me")`)
		require.NoError(t, err)
		assert.Equal(t, TypeAction{Text: "coffee near me"}, parsed.Action)
	})

	t.Run("press key", func(t *testing.T) {
		parsed, err := ParseSessionOperation(`PRESS(key="home")`)
		require.NoError(t, err)
		assert.Equal(t, SystemButtonAction{Button: "home"}, parsed.Action)
	})

	t.Run("launch alias", func(t *testing.T) {
		parsed, err := ParseSessionOperation(`LAUNCH(name="com.android.settings")`)
		require.NoError(t, err)
		assert.Equal(t, OpenAppAction{Name: "com.android.settings"}, parsed.Action)
	})

	t.Run("finish with failure", func(t *testing.T) {
		parsed, err := ParseSessionOperation(`FINISH(status="failed", message="blocked")`)
		require.NoError(t, err)
		term := parsed.Action.(TerminateAction)
		assert.False(t, term.Success)
		assert.Equal(t, "blocked", term.Message)
	})

	t.Run("warning argument is carried", func(t *testing.T) {
		parsed, err := ParseSessionOperation(`CLICK(point="0.1 0.2", warning="purchase button")`)
		require.NoError(t, err)
		assert.Equal(t, "purchase button", parsed.Warning)
	})

	failures := []string{
		"",
		"do something",
		"CLICK",
		`CLICK(point="12")`,
		`CLICK(point="a b")`,
		`SWIPE(end="0.5 0.2")`,
		`PRESS(key="volume")`,
		`DANCE(style="tango")`,
		`LAUNCH()`,
	}
	for _, in := range failures {
		t.Run("rejects "+in, func(t *testing.T) {
			_, err := ParseSessionOperation(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, vlm.ErrUnparsable))
		})
	}
}
