package main

import (
	"time"

	"github.com/r/streamdeck-podcastplayer/internal/dispatch"
	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

// DaemonState is everything the loop owns. Nothing outside the loop goroutine holds
// a pointer to it; other goroutines get a StateSnapshot.
type DaemonState struct {
	Control playback.ControlState

	// Catalog is the latest episode list per feed, as reported by the watcher.
	Catalog dispatch.Catalog

	// Poll bookkeeping. Failures counts consecutive failed reads.
	PollFailures int
	LastReadAt   time.Time
}

// NewDaemonState returns the state the loop starts from: nothing known about the
// speaker yet, brightness as configured.
func NewDaemonState(brightness int) *DaemonState {
	return &DaemonState{
		Control: playback.ControlState{
			Brightness: brightness,
			FeedIndex:  map[string]int{},
		},
		Catalog: dispatch.Catalog{},
	}
}

// SetObservedPlayback replaces playback after a successful read and keeps the
// loop flag consistent with what is actually playing.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) SetObservedPlayback(pb playback.State, now time.Time) {
	s.Control.Playback = pb
	s.Control.PlaybackKnown = true
	s.Control.LoopActive = s.Control.LoopURI != "" &&
		pb.URI == s.Control.LoopURI &&
		pb.Status == playback.StatusPlaying
	s.PollFailures = 0
	s.LastReadAt = now
}

// SetObservedVolume records a successful volume read.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) SetObservedVolume(volume int) {
	s.Control.Volume = volume
	s.Control.VolumeKnown = true
}

// SetEpisodes replaces one feed's episode list.
// This is intended to be called only by the daemon goroutine (single-owner).
func (s *DaemonState) SetEpisodes(feed string, eps []dispatch.Episode) {
	if s.Catalog == nil {
		s.Catalog = dispatch.Catalog{}
	}
	if len(eps) == 0 {
		delete(s.Catalog, feed)
		return
	}
	s.Catalog[feed] = eps
}

// activeLoop is the loop URI whose key should be highlighted.
func (s *DaemonState) activeLoop() string {
	if s.Control.LoopActive {
		return s.Control.LoopURI
	}
	return ""
}

// StateSnapshot is the externally visible view of DaemonState (status websocket,
// IPC). It is comparable, which the reducer uses to detect visible change.
type StateSnapshot struct {
	SpeakerKnown bool `json:"speaker_known"`

	Volume      int  `json:"volume"`
	VolumeKnown bool `json:"volume_known"`
	Brightness  int  `json:"brightness"`

	Status        string `json:"status"`
	Position      int    `json:"position"`
	Duration      int    `json:"duration"`
	DurationKnown bool   `json:"duration_known"`
	Title         string `json:"title,omitempty"`
	Artist        string `json:"artist,omitempty"`
	Album         string `json:"album,omitempty"`
	URI           string `json:"uri,omitempty"`
	Source        string `json:"source"`
	Feed          string `json:"feed,omitempty"`

	LoopActive bool `json:"loop_active"`
}

func snapshotOf(s *DaemonState) StateSnapshot {
	cs := s.Control
	pb := cs.Playback
	return StateSnapshot{
		SpeakerKnown:  cs.PlaybackKnown,
		Volume:        cs.Volume,
		VolumeKnown:   cs.VolumeKnown,
		Brightness:    cs.Brightness,
		Status:        pb.Status.String(),
		Position:      pb.Position,
		Duration:      pb.Duration,
		DurationKnown: pb.DurationKnown,
		Title:         pb.Title,
		Artist:        pb.Artist,
		Album:         pb.Album,
		URI:           pb.URI,
		Source:        pb.Source.String(),
		Feed:          pb.Feed,
		LoopActive:    cs.LoopActive,
	}
}

// ============================================================================
// Broadcasts
// ============================================================================

// StateBroadcast is a reducer-emitted notification for status clients.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastStateChanged carries the new snapshot after any visible change.
type BroadcastStateChanged struct {
	Snapshot StateSnapshot
	At       time.Time
}

func (BroadcastStateChanged) broadcastMarker() {}

// BroadcastCommandFailed reports a rolled back command.
type BroadcastCommandFailed struct {
	Command string
	Error   string
	At      time.Time
}

func (BroadcastCommandFailed) broadcastMarker() {}
