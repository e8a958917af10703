// Package dispatch turns intents into speaker and surface commands.
//
// Dispatch is split in three steps so that only the loop goroutine ever touches
// ControlState:
//
//	Plan     applies the optimistic update and returns one Command (loop goroutine)
//	Execute  performs the remote call (any goroutine, no state access)
//	Rollback restores the pre-command values after a failed Execute (loop goroutine)
package dispatch

import (
	"fmt"

	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

// Command is one remote call plus the values needed to undo its optimistic update.
type Command interface {
	commandMarker()
	String() string
}

// Position is a resume point for an episode URI.
type Position struct {
	URI     string
	Seconds int
	// Finished is set when playback was at the end of the episode; the stored
	// resume point is dropped instead of written.
	Finished bool
}

// SetVolume sets the speaker volume.
type SetVolume struct {
	Volume    int
	Prev      int
	PrevKnown bool
}

// SetBrightness sets the surface backlight.
type SetBrightness struct {
	Brightness int
	Prev       int
}

// SeekTo moves to an absolute position in the current track.
type SeekTo struct {
	Target int
	Prev   int
}

// SetPlaying plays (Play=true) or pauses. Save, when set, is stored as a resume
// point after a successful pause.
type SetPlaying struct {
	Play bool
	Prev playback.TransportStatus
	Save *Position

	prevLoop bool
}

// Skip moves to the next or previous queue item.
type Skip struct {
	Direction int
}

// PlayKind says why a URI is being started.
type PlayKind int

const (
	PlayStream PlayKind = iota
	PlayLoop
	PlayEpisode
)

func (k PlayKind) String() string {
	switch k {
	case PlayLoop:
		return "loop"
	case PlayEpisode:
		return "episode"
	default:
		return "stream"
	}
}

// PlayURI replaces the transport URI and starts playback.
type PlayURI struct {
	Kind   PlayKind
	URI    string
	Title  string
	Repeat bool

	// Save is the outgoing episode's position, stored before switching.
	Save *Position

	prev snapshot
}

// Rejected is a command refused locally. Executing it makes no remote call and
// returns Err.
type Rejected struct {
	Reason string
	Err    error
}

// snapshot holds the ControlState fields a PlayURI overwrites.
type snapshot struct {
	playback      playback.State
	playbackKnown bool
	loopActive    bool
	loopURI       string
	feed          string
	feedIndex     int
	feedIndexSet  bool
}

func (SetVolume) commandMarker()     {}
func (SetBrightness) commandMarker() {}
func (SeekTo) commandMarker()        {}
func (SetPlaying) commandMarker()    {}
func (Skip) commandMarker()          {}
func (PlayURI) commandMarker()       {}
func (Rejected) commandMarker()      {}

func (c SetVolume) String() string     { return fmt.Sprintf("SetVolume(%d)", c.Volume) }
func (c SetBrightness) String() string { return fmt.Sprintf("SetBrightness(%d)", c.Brightness) }
func (c SeekTo) String() string        { return fmt.Sprintf("SeekTo(%s)", playback.FormatSeekTarget(c.Target)) }
func (c SetPlaying) String() string {
	if c.Play {
		return "Play()"
	}
	return "Pause()"
}
func (c Skip) String() string     { return fmt.Sprintf("Skip(%+d)", c.Direction) }
func (c PlayURI) String() string  { return fmt.Sprintf("PlayURI(%s, %q)", c.Kind, c.URI) }
func (c Rejected) String() string { return fmt.Sprintf("Rejected(%s)", c.Reason) }

// Result is the outcome of Execute. Follow, when set, is a command the loop should
// run next (a resume seek after an episode starts).
type Result struct {
	Command Command
	Err     error
	Follow  Command
}
