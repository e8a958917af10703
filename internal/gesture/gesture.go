// Package gesture turns raw control-surface events into playback intents.
//
// Interpret is a pure mapping: no I/O, no clocks, no shared state.
package gesture

import (
	"fmt"

	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

// Kind is the physical interaction type.
type Kind int

const (
	KindTurn Kind = iota
	KindPush
	KindButtonPress
)

func (k Kind) String() string {
	switch k {
	case KindTurn:
		return "turn"
	case KindPush:
		return "push"
	case KindButtonPress:
		return "button_press"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "turn":
		return KindTurn, nil
	case "push":
		return KindPush, nil
	case "button_press", "press":
		return KindButtonPress, nil
	default:
		return 0, fmt.Errorf("unknown gesture kind: %q", s)
	}
}

// ControlID names a physical control. Dials and keys have separate index spaces.
type ControlID struct {
	Key   bool // true for a key, false for a dial
	Index int
}

func Dial(i int) ControlID   { return ControlID{Index: i} }
func Button(i int) ControlID { return ControlID{Key: true, Index: i} }

func (c ControlID) String() string {
	if c.Key {
		return fmt.Sprintf("key%d", c.Index)
	}
	return fmt.Sprintf("dial%d", c.Index)
}

// Event is one physical interaction. Magnitude is signed notches for turns and
// 0 for pushes and presses.
type Event struct {
	Control   ControlID
	Kind      Kind
	Magnitude int
}

// Role is what a dial is bound to.
type Role int

const (
	RoleNone Role = iota
	RoleVolume
	RoleTransport
	RoleTrack
	RoleBrightness
)

// SlotKind is what a key is bound to.
type SlotKind int

const (
	SlotLoopToggle SlotKind = iota + 1
	SlotPodcastAdvance
	SlotStreamPlay
)

func (k SlotKind) String() string {
	switch k {
	case SlotLoopToggle:
		return "loop-toggle"
	case SlotPodcastAdvance:
		return "podcast-advance"
	case SlotStreamPlay:
		return "stream-play"
	default:
		return "none"
	}
}

// Slot is a configured key assignment.
type Slot struct {
	Kind SlotKind
	Name string

	// URI is the loop file URI (loop-toggle) or stream URI (stream-play).
	URI string
	// Feed is the podcast slug for podcast-advance.
	Feed string
}

// Mapping binds controls to roles and slots. It is built once from configuration.
type Mapping struct {
	Dials        map[int]Role
	Keys         map[int]Slot
	ScrubSeconds int // seconds per transport notch; <= 0 means DefaultScrubSeconds
}

const (
	DefaultScrubSeconds = 5
	volumeStep          = 1
	brightnessStep      = 1
)

// Intent is the interpreted meaning of a gesture.
type Intent interface {
	intentMarker()
	String() string
}

type AdjustVolume struct{ Delta int }
type Seek struct{ DeltaSeconds int }
type TogglePlayPause struct{}
type AdjustBrightness struct{ Delta int }
type ActivateSlot struct {
	Key  int
	Slot Slot
}
type SkipTrack struct{ Direction int }

func (AdjustVolume) intentMarker()     {}
func (Seek) intentMarker()             {}
func (TogglePlayPause) intentMarker()  {}
func (AdjustBrightness) intentMarker() {}
func (ActivateSlot) intentMarker()     {}
func (SkipTrack) intentMarker()        {}

func (i AdjustVolume) String() string     { return fmt.Sprintf("AdjustVolume(%+d)", i.Delta) }
func (i Seek) String() string             { return fmt.Sprintf("Seek(%+ds)", i.DeltaSeconds) }
func (TogglePlayPause) String() string    { return "TogglePlayPause()" }
func (i AdjustBrightness) String() string { return fmt.Sprintf("AdjustBrightness(%+d)", i.Delta) }
func (i ActivateSlot) String() string {
	return fmt.Sprintf("ActivateSlot(key=%d, %s)", i.Key, i.Slot.Kind)
}
func (i SkipTrack) String() string { return fmt.Sprintf("SkipTrack(%+d)", i.Direction) }

// Interpret maps an event to an intent. A nil result means the gesture has no
// mapping, which is normal and not an error.
func Interpret(ev Event, m Mapping) Intent {
	if ev.Control.Key {
		if ev.Kind != KindButtonPress {
			return nil
		}
		slot, ok := m.Keys[ev.Control.Index]
		if !ok || slot.Kind == 0 {
			return nil
		}
		return ActivateSlot{Key: ev.Control.Index, Slot: slot}
	}

	role := m.Dials[ev.Control.Index]
	switch ev.Kind {
	case KindTurn:
		if ev.Magnitude == 0 {
			return nil
		}
		switch role {
		case RoleVolume:
			return AdjustVolume{Delta: ev.Magnitude * volumeStep}
		case RoleTransport:
			scrub := m.ScrubSeconds
			if scrub <= 0 {
				scrub = DefaultScrubSeconds
			}
			return Seek{DeltaSeconds: ev.Magnitude * scrub}
		case RoleBrightness:
			return AdjustBrightness{Delta: ev.Magnitude * brightnessStep}
		case RoleTrack:
			if ev.Magnitude > 0 {
				return SkipTrack{Direction: 1}
			}
			return SkipTrack{Direction: -1}
		}

	case KindPush:
		if role == RoleTransport {
			return TogglePlayPause{}
		}
	}
	return nil
}

// ClampPercent clamps v to [0,100].
func ClampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// SeekTarget applies delta to pos and clamps to [0, duration] when the duration
// is known. With an unknown duration only the lower bound applies and the speaker
// is trusted with the upper one.
func SeekTarget(pb playback.State, delta int) int {
	next := pb.Position + delta
	if next < 0 {
		next = 0
	}
	if pb.DurationKnown && next > pb.Duration {
		next = pb.Duration
	}
	return next
}
