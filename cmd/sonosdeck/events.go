package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/r/streamdeck-podcastplayer/internal/dispatch"
	"github.com/r/streamdeck-podcastplayer/internal/gesture"
	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

// Event is an input to the reducer: a gesture, a timer tick, an observation from
// the speaker or catalog, or the outcome of a command.
type Event interface {
	eventMarker()
}

// TimedEvent stamps an event with its arrival time at the loop.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// Started is reduced once before the loop accepts input.
type Started struct{}

func (Started) eventMarker() {}

// GestureReceived is one physical (or injected) interaction.
type GestureReceived struct {
	Gesture gesture.Event
}

func (GestureReceived) eventMarker() {}

// IntentRequested carries an already interpreted intent (IPC).
type IntentRequested struct {
	Intent gesture.Intent
}

func (IntentRequested) eventMarker() {}

// PollTick asks for a fresh read of the speaker.
type PollTick struct {
	Now time.Time
}

func (PollTick) eventMarker() {}

// PlaybackObserved is a successful playback read. It replaces the playback state
// wholesale.
type PlaybackObserved struct {
	Playback playback.State
	At       time.Time
}

func (PlaybackObserved) eventMarker() {}

// VolumeObserved is a successful volume read.
type VolumeObserved struct {
	Volume int
	At     time.Time
}

func (VolumeObserved) eventMarker() {}

// ReadFailed is a failed poll. The previous state is kept.
type ReadFailed struct {
	What string
	Err  error
	At   time.Time
}

func (ReadFailed) eventMarker() {}

// CommandSucceeded reports a dispatched command that the remote accepted.
type CommandSucceeded struct {
	Command dispatch.Command
	Follow  dispatch.Command
	At      time.Time
}

func (CommandSucceeded) eventMarker() {}

// CommandFailed reports a dispatched command that failed. Its optimistic update is
// rolled back.
type CommandFailed struct {
	Command dispatch.Command
	Err     error
	At      time.Time
}

func (CommandFailed) eventMarker() {}

// CatalogUpdated replaces the episode list of one feed.
type CatalogUpdated struct {
	Feed     string
	Episodes []dispatch.Episode
}

func (CatalogUpdated) eventMarker() {}

// RequestStateSnapshot asks the loop for a copy of its state. The reply is sent
// without blocking, so Reply should be buffered.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// IPC wire format
// ============================================================================

// EventEnvelope is the line-delimited JSON shape accepted on the IPC socket.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type turnDialData struct {
	Dial  int `json:"dial"`
	Steps int `json:"steps"`
}

type pushDialData struct {
	Dial int `json:"dial"`
}

type pressKeyData struct {
	Key int `json:"key"`
}

type gestureData struct {
	Control   string `json:"control"` // "dial0".."dial3", "key0".."key7"
	Kind      string `json:"kind"`
	Magnitude int    `json:"magnitude"`
}

type deltaData struct {
	Delta int `json:"delta"`
}

type seekData struct {
	Seconds int `json:"seconds"`
}

type skipData struct {
	Direction int `json:"direction"`
}

// UnmarshalEvent decodes an IPC envelope into an Event.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "turn_dial":
		var d turnDialData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return GestureReceived{Gesture: gesture.Event{Control: gesture.Dial(d.Dial), Kind: gesture.KindTurn, Magnitude: d.Steps}}, nil

	case "push_dial":
		var d pushDialData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return GestureReceived{Gesture: gesture.Event{Control: gesture.Dial(d.Dial), Kind: gesture.KindPush}}, nil

	case "press_key":
		var d pressKeyData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return GestureReceived{Gesture: gesture.Event{Control: gesture.Button(d.Key), Kind: gesture.KindButtonPress}}, nil

	case "gesture":
		var d gestureData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		ctl, err := parseControl(d.Control)
		if err != nil {
			return nil, err
		}
		kind, err := gesture.ParseKind(d.Kind)
		if err != nil {
			return nil, err
		}
		return GestureReceived{Gesture: gesture.Event{Control: ctl, Kind: kind, Magnitude: d.Magnitude}}, nil

	case "adjust_volume":
		var d deltaData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return IntentRequested{Intent: gesture.AdjustVolume{Delta: d.Delta}}, nil

	case "adjust_brightness":
		var d deltaData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return IntentRequested{Intent: gesture.AdjustBrightness{Delta: d.Delta}}, nil

	case "seek":
		var d seekData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return IntentRequested{Intent: gesture.Seek{DeltaSeconds: d.Seconds}}, nil

	case "skip":
		var d skipData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		if d.Direction == 0 {
			return nil, fmt.Errorf("skip: direction must be non-zero")
		}
		dir := 1
		if d.Direction < 0 {
			dir = -1
		}
		return IntentRequested{Intent: gesture.SkipTrack{Direction: dir}}, nil

	case "toggle_play_pause":
		return IntentRequested{Intent: gesture.TogglePlayPause{}}, nil

	case "refresh":
		return PollTick{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

func decodeData(env EventEnvelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return nil
}

// parseControl is the inverse of gesture.ControlID.String.
func parseControl(s string) (gesture.ControlID, error) {
	var (
		prefix string
		key    bool
	)
	switch {
	case strings.HasPrefix(s, "dial"):
		prefix = "dial"
	case strings.HasPrefix(s, "key"):
		prefix, key = "key", true
	default:
		return gesture.ControlID{}, fmt.Errorf("unknown control: %q", s)
	}
	i, err := strconv.Atoi(strings.TrimPrefix(s, prefix))
	if err != nil || i < 0 {
		return gesture.ControlID{}, fmt.Errorf("unknown control: %q", s)
	}
	if key {
		return gesture.Button(i), nil
	}
	return gesture.Dial(i), nil
}
