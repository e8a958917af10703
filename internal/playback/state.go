// Package playback holds the data model shared by the reader, dispatcher,
// compositor and the daemon loop.
package playback

import "maps"

// TransportStatus is the playing/paused/stopped state of the speaker's active source.
type TransportStatus int

const (
	StatusStopped TransportStatus = iota
	StatusPaused
	StatusPlaying
)

func (s TransportStatus) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "stopped"
	}
}

// SourceKind classifies what the speaker is playing.
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceFile
	SourcePodcast
	SourceStream
	SourceLineIn
)

func (k SourceKind) String() string {
	switch k {
	case SourceFile:
		return "file"
	case SourcePodcast:
		return "podcast"
	case SourceStream:
		return "stream"
	case SourceLineIn:
		return "line-in"
	default:
		return "unknown"
	}
}

// Seekable reports whether a seek makes sense for this kind of source.
// Unknown sources are passed through and left to the speaker to reject.
func (k SourceKind) Seekable() bool {
	return k != SourceStream && k != SourceLineIn
}

// State is one read of the speaker's playback. It is replaced wholesale on every
// successful read and never merged field by field.
type State struct {
	Status TransportStatus

	// Position and Duration are whole seconds. Duration is meaningful only when
	// DurationKnown is true.
	Position      int
	Duration      int
	DurationKnown bool

	Title  string
	Artist string
	Album  string // album, or podcast feed name

	URI    string
	Source SourceKind
	Feed   string // podcast feed slug when Source == SourcePodcast
}

// Normalize enforces 0 <= Position <= Duration (upper bound only when known).
func (s State) Normalize() State {
	if s.Position < 0 {
		s.Position = 0
	}
	if s.Duration < 0 {
		s.Duration = 0
		s.DurationKnown = false
	}
	if s.DurationKnown && s.Position > s.Duration {
		s.Position = s.Duration
	}
	return s
}

// Subtitle picks the second metadata line: the artist if present and distinct
// from the title, else the album/feed name if present and distinct, else "".
func (s State) Subtitle() string {
	if s.Artist != "" && s.Artist != s.Title {
		return s.Artist
	}
	if s.Album != "" && s.Album != s.Title {
		return s.Album
	}
	return ""
}

// ControlState is the process-lifetime state owned by the daemon loop.
//
// Only the loop goroutine mutates it. Everything else receives a Clone.
type ControlState struct {
	Volume      int
	VolumeKnown bool

	Brightness int

	Playback      State
	PlaybackKnown bool

	// LoopActive is true while a configured loop file is playing on repeat.
	LoopActive bool
	LoopURI    string

	// FeedIndex is the next episode index per podcast feed. It is advanced by the
	// podcast-advance slot and wraps modulo the feed's episode count.
	FeedIndex map[string]int
}

// Clone returns a deep copy safe to hand to other goroutines.
func (c ControlState) Clone() ControlState {
	out := c
	if c.FeedIndex != nil {
		out.FeedIndex = maps.Clone(c.FeedIndex)
	}
	return out
}

// Progress returns position/duration in [0,1], or 0 when duration is unknown.
func (s State) Progress() float64 {
	if !s.DurationKnown || s.Duration <= 0 {
		return 0
	}
	p := float64(s.Position) / float64(s.Duration)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
