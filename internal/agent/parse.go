// File: internal/agent/parse.go
// Description: Parsers that turn raw VLM text into Action variants. Anything
// unparsable is reported as vlm.ErrUnparsable so it drives the recovery
// counter instead of being silently ignored.

package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/droidpilot/droidpilot/internal/vlm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonBlockRegex extracts the first JSON object from model text, tolerating a
// markdown code fence around it.
var jsonBlockRegex = regexp.MustCompile("(?s)(?:```json\\s*|)(\\{.*\\})(?:```|)")

// ExtractJSONBlock returns the JSON object embedded in raw model text, or the
// trimmed text itself when no fenced block is found.
func ExtractJSONBlock(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := jsonBlockRegex.FindStringSubmatch(raw); len(m) > 1 {
		return m[1]
	}
	return raw
}

// rawAction is the permissive JSON shape both the general and normalized
// modes emit. Parsing produces the tagged variant directly.
type rawAction struct {
	Action     string    `json:"action"`
	Coordinate []float64 `json:"coordinate"`
	EndCoord   []float64 `json:"end_coordinate"`
	Text       string    `json:"text"`
	Direction  string    `json:"direction"`
	Button     string    `json:"button"`
	App        string    `json:"app"`
	URI        string    `json:"uri"`
	Millis     int       `json:"ms"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	Question   string    `json:"question"`
	// Warning, when present, forces an interactive confirmation before the
	// action executes.
	Warning string `json:"warning"`
	// Thought is the model's reasoning for this step, kept for logging and
	// the next Manager call.
	Thought string `json:"thought"`
}

// ParsedAction pairs the action with its optional confirmation warning and
// the model's thought.
type ParsedAction struct {
	Action  Action
	Warning string
	Thought string
}

// ParseActionJSON decodes a JSON action object into its tagged variant.
func ParseActionJSON(raw string) (ParsedAction, error) {
	var ra rawAction
	if err := json.UnmarshalFromString(ExtractJSONBlock(raw), &ra); err != nil {
		return ParsedAction{}, fmt.Errorf("%w: %v", vlm.ErrUnparsable, err)
	}
	if ra.Action == "" {
		return ParsedAction{}, fmt.Errorf("%w: missing action field", vlm.ErrUnparsable)
	}

	point := func() (float64, float64, error) {
		if len(ra.Coordinate) != 2 {
			return 0, 0, fmt.Errorf("%w: action %q requires a 2-element coordinate", vlm.ErrUnparsable, ra.Action)
		}
		return ra.Coordinate[0], ra.Coordinate[1], nil
	}

	var act Action
	switch strings.ToLower(ra.Action) {
	case "click", "tap":
		x, y, err := point()
		if err != nil {
			return ParsedAction{}, err
		}
		act = ClickAction{X: x, Y: y}
	case "double_click", "double_tap":
		x, y, err := point()
		if err != nil {
			return ParsedAction{}, err
		}
		act = DoubleClickAction{X: x, Y: y}
	case "long_press":
		x, y, err := point()
		if err != nil {
			return ParsedAction{}, err
		}
		act = LongPressAction{X: x, Y: y}
	case "swipe", "scroll":
		sw := SwipeAction{}
		if len(ra.Coordinate) == 2 {
			sw.X1, sw.Y1 = ra.Coordinate[0], ra.Coordinate[1]
			sw.HasAnchor = true
		}
		if len(ra.EndCoord) == 2 {
			if !sw.HasAnchor {
				return ParsedAction{}, fmt.Errorf("%w: swipe end without start", vlm.ErrUnparsable)
			}
			sw.X2, sw.Y2 = ra.EndCoord[0], ra.EndCoord[1]
			sw.HasEnd = true
		} else {
			dir, err := parseDirection(ra.Direction)
			if err != nil {
				return ParsedAction{}, err
			}
			sw.Direction = dir
		}
		act = sw
	case "type", "input_text":
		act = TypeAction{Text: ra.Text}
	case "system_button", "press":
		b := strings.ToLower(ra.Button)
		switch b {
		case "back", "home", "enter":
			act = SystemButtonAction{Button: b}
		default:
			return ParsedAction{}, fmt.Errorf("%w: unknown system button %q", vlm.ErrUnparsable, ra.Button)
		}
	case "open_app":
		if ra.App == "" {
			return ParsedAction{}, fmt.Errorf("%w: open_app requires an app name", vlm.ErrUnparsable)
		}
		act = OpenAppAction{Name: ra.App}
	case "open_link":
		if ra.URI == "" {
			return ParsedAction{}, fmt.Errorf("%w: open_link requires a uri", vlm.ErrUnparsable)
		}
		act = OpenLinkAction{URI: ra.URI}
	case "wait":
		ms := ra.Millis
		if ms <= 0 {
			ms = 1000
		}
		act = WaitAction{Millis: ms}
	case "answer":
		act = AnswerAction{Text: ra.Text}
	case "ask_user", "take_over":
		act = AskUserAction{Question: firstNonEmpty(ra.Question, ra.Text)}
	case "terminate", "finish", "finished":
		act = TerminateAction{
			Success: ra.Status != "failed" && ra.Status != "failure",
			Message: ra.Message,
		}
	default:
		return ParsedAction{}, fmt.Errorf("%w: unknown action %q", vlm.ErrUnparsable, ra.Action)
	}

	return ParsedAction{Action: act, Warning: strings.TrimSpace(ra.Warning), Thought: strings.TrimSpace(ra.Thought)}, nil
}

func parseDirection(s string) (SwipeDirection, error) {
	switch strings.ToLower(s) {
	case "up":
		return SwipeUp, nil
	case "down":
		return SwipeDown, nil
	case "left":
		return SwipeLeft, nil
	case "right":
		return SwipeRight, nil
	default:
		return "", fmt.Errorf("%w: unknown swipe direction %q", vlm.ErrUnparsable, s)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// opPattern matches the session service's compact operation strings, e.g.
// CLICK(point="0.42 0.61") or FINISH(status="success"). Points are screen
// fractions in [0, 1].
var (
	opPattern    = regexp.MustCompile(`^([A-Z_]+)\((.*)\)$`)
	opArgPattern = regexp.MustCompile(`([a-z_]+)="([^"]*)"`)
)

// ParseSessionOperation decodes the session mode's compact operation string
// into its tagged variant.
func ParseSessionOperation(op string) (ParsedAction, error) {
	op = strings.TrimSpace(op)
	m := opPattern.FindStringSubmatch(op)
	if m == nil {
		return ParsedAction{}, fmt.Errorf("%w: malformed operation %q", vlm.ErrUnparsable, op)
	}
	name := m[1]

	args := map[string]string{}
	for _, kv := range opArgPattern.FindAllStringSubmatch(m[2], -1) {
		args[kv[1]] = kv[2]
	}

	parsePoint := func(key string) (float64, float64, error) {
		fields := strings.Fields(args[key])
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("%w: operation %s needs %s=\"x y\"", vlm.ErrUnparsable, name, key)
		}
		x, errX := strconv.ParseFloat(fields[0], 64)
		y, errY := strconv.ParseFloat(fields[1], 64)
		if errX != nil || errY != nil {
			return 0, 0, fmt.Errorf("%w: non-numeric point in %s", vlm.ErrUnparsable, name)
		}
		return x, y, nil
	}

	var act Action
	switch name {
	case "CLICK", "TAP":
		x, y, err := parsePoint("point")
		if err != nil {
			return ParsedAction{}, err
		}
		act = ClickAction{X: x, Y: y}
	case "DOUBLE_CLICK":
		x, y, err := parsePoint("point")
		if err != nil {
			return ParsedAction{}, err
		}
		act = DoubleClickAction{X: x, Y: y}
	case "LONG_PRESS":
		x, y, err := parsePoint("point")
		if err != nil {
			return ParsedAction{}, err
		}
		act = LongPressAction{X: x, Y: y}
	case "SWIPE", "SCROLL":
		if _, ok := args["end"]; ok {
			x1, y1, err := parsePoint("start")
			if err != nil {
				return ParsedAction{}, err
			}
			x2, y2, err := parsePoint("end")
			if err != nil {
				return ParsedAction{}, err
			}
			act = SwipeAction{X1: x1, Y1: y1, X2: x2, Y2: y2, HasEnd: true, HasAnchor: true}
		} else {
			dir, err := parseDirection(args["direction"])
			if err != nil {
				return ParsedAction{}, err
			}
			sw := SwipeAction{Direction: dir}
			if _, ok := args["point"]; ok {
				x, y, err := parsePoint("point")
				if err != nil {
					return ParsedAction{}, err
				}
				sw.X1, sw.Y1 = x, y
				sw.HasAnchor = true
			}
			act = sw
		}
	case "TYPE", "INPUT":
		act = TypeAction{Text: args["text"]}
	case "PRESS":
		key := strings.ToLower(args["key"])
		switch key {
		case "back", "home", "enter":
			act = SystemButtonAction{Button: key}
		default:
			return ParsedAction{}, fmt.Errorf("%w: unknown key %q", vlm.ErrUnparsable, args["key"])
		}
	case "OPEN_APP", "LAUNCH":
		if args["name"] == "" {
			return ParsedAction{}, fmt.Errorf("%w: %s needs name", vlm.ErrUnparsable, name)
		}
		act = OpenAppAction{Name: args["name"]}
	case "WAIT":
		ms := 1000
		if v, err := strconv.Atoi(args["ms"]); err == nil && v > 0 {
			ms = v
		}
		act = WaitAction{Millis: ms}
	case "ANSWER":
		act = AnswerAction{Text: args["text"]}
	case "FINISH", "TERMINATE":
		act = TerminateAction{
			Success: args["status"] != "failed" && args["status"] != "failure",
			Message: args["message"],
		}
	default:
		return ParsedAction{}, fmt.Errorf("%w: unknown operation %q", vlm.ErrUnparsable, name)
	}

	return ParsedAction{Action: act, Warning: args["warning"]}, nil
}
