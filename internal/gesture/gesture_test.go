package gesture

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

func testMapping() Mapping {
	return Mapping{
		Dials: map[int]Role{
			0: RoleVolume,
			1: RoleTransport,
			2: RoleTrack,
			3: RoleBrightness,
		},
		Keys: map[int]Slot{
			0: {Kind: SlotLoopToggle, Name: "Rain", URI: "http://host:8000/loops/rain.mp3"},
			1: {Kind: SlotPodcastAdvance, Feed: "daily"},
			2: {Kind: SlotStreamPlay, Name: "Radio", URI: "x-rincon-mp3radio://radio.example/live"},
		},
	}
}

func TestInterpret(t *testing.T) {
	m := testMapping()

	tests := []struct {
		name string
		ev   Event
		want Intent
	}{
		{"volume up", Event{Control: Dial(0), Kind: KindTurn, Magnitude: 3}, AdjustVolume{Delta: 3}},
		{"volume down", Event{Control: Dial(0), Kind: KindTurn, Magnitude: -2}, AdjustVolume{Delta: -2}},
		{"scrub back", Event{Control: Dial(1), Kind: KindTurn, Magnitude: -1}, Seek{DeltaSeconds: -5}},
		{"scrub forward", Event{Control: Dial(1), Kind: KindTurn, Magnitude: 4}, Seek{DeltaSeconds: 20}},
		{"transport push", Event{Control: Dial(1), Kind: KindPush}, TogglePlayPause{}},
		{"brightness", Event{Control: Dial(3), Kind: KindTurn, Magnitude: 7}, AdjustBrightness{Delta: 7}},
		{"track next", Event{Control: Dial(2), Kind: KindTurn, Magnitude: 3}, SkipTrack{Direction: 1}},
		{"track previous", Event{Control: Dial(2), Kind: KindTurn, Magnitude: -1}, SkipTrack{Direction: -1}},
		{"loop key", Event{Control: Button(0), Kind: KindButtonPress}, ActivateSlot{Key: 0, Slot: m.Keys[0]}},
		{"podcast key", Event{Control: Button(1), Kind: KindButtonPress}, ActivateSlot{Key: 1, Slot: m.Keys[1]}},
		{"stream key", Event{Control: Button(2), Kind: KindButtonPress}, ActivateSlot{Key: 2, Slot: m.Keys[2]}},

		{"unmapped key", Event{Control: Button(7), Kind: KindButtonPress}, nil},
		{"unmapped dial", Event{Control: Dial(9), Kind: KindTurn, Magnitude: 1}, nil},
		{"push on volume dial", Event{Control: Dial(0), Kind: KindPush}, nil},
		{"zero turn", Event{Control: Dial(0), Kind: KindTurn}, nil},
		{"turn reported on a key", Event{Control: Button(0), Kind: KindTurn, Magnitude: 1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpret(tt.ev, m))
		})
	}
}

func TestInterpret_CustomScrub(t *testing.T) {
	m := testMapping()
	m.ScrubSeconds = 15
	got := Interpret(Event{Control: Dial(1), Kind: KindTurn, Magnitude: 2}, m)
	assert.Equal(t, Seek{DeltaSeconds: 30}, got)
}

func TestClampPercent_NeverLeavesRange(t *testing.T) {
	for start := 0; start <= 100; start += 10 {
		for mag := -250; mag <= 250; mag += 7 {
			v := ClampPercent(start + mag)
			if v < 0 || v > 100 {
				t.Fatalf("ClampPercent(%d%+d) = %d out of range", start, mag, v)
			}
		}
	}
	assert.Equal(t, 53, ClampPercent(50+3))
	assert.Equal(t, 100, ClampPercent(98+5))
	assert.Equal(t, 0, ClampPercent(2-5))
}

func TestSeekTarget(t *testing.T) {
	known := playback.State{Position: 100, Duration: 120, DurationKnown: true}

	for delta := -500; delta <= 500; delta += 5 {
		got := SeekTarget(known, delta)
		if got < 0 || got > 120 {
			t.Fatalf("SeekTarget(+%d) = %d outside [0,120]", delta, got)
		}
	}
	assert.Equal(t, 120, SeekTarget(known, 50))
	assert.Equal(t, 95, SeekTarget(known, -5))

	// Unknown duration: only the lower bound applies.
	unknown := playback.State{Position: 10}
	assert.Equal(t, 5, SeekTarget(unknown, -5))
	assert.Equal(t, 0, SeekTarget(unknown, -50))
	assert.Equal(t, 4010, SeekTarget(unknown, 4000))
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindTurn, KindPush, KindButtonPress} {
		got, err := ParseKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("wiggle")
	assert.Error(t, err)
}
