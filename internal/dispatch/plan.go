package dispatch

import (
	"errors"
	"fmt"

	"github.com/r/streamdeck-podcastplayer/internal/gesture"
	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

// ErrNoEpisodes is returned for a podcast slot whose feed has nothing downloaded.
var ErrNoEpisodes = fmt.Errorf("no episodes: %w", playback.ErrDispatchRejected)

// Episode is one playable podcast episode, already resolved to a URI the speaker
// can fetch.
type Episode struct {
	URI   string
	Title string
}

// Catalog maps feed slugs to their episodes in play order (index 0 first).
type Catalog map[string][]Episode

// Plan applies the optimistic update for in to cs and returns the command that
// makes it real. ok is false when the intent needs no remote call (a clamp left
// the value unchanged, or the intent is nil).
//
// Plan must only be called by the goroutine that owns cs.
func Plan(in gesture.Intent, cs *playback.ControlState, cat Catalog) (cmd Command, ok bool) {
	switch in := in.(type) {
	case gesture.AdjustVolume:
		if !cs.VolumeKnown {
			return Rejected{Reason: "volume unknown", Err: fmt.Errorf("volume unknown: %w", playback.ErrRemoteUnavailable)}, true
		}
		next := gesture.ClampPercent(cs.Volume + in.Delta)
		if next == cs.Volume {
			return nil, false
		}
		c := SetVolume{Volume: next, Prev: cs.Volume, PrevKnown: cs.VolumeKnown}
		cs.Volume = next
		return c, true

	case gesture.AdjustBrightness:
		next := gesture.ClampPercent(cs.Brightness + in.Delta)
		if next == cs.Brightness {
			return nil, false
		}
		c := SetBrightness{Brightness: next, Prev: cs.Brightness}
		cs.Brightness = next
		return c, true

	case gesture.Seek:
		pb := cs.Playback
		if cs.PlaybackKnown && !pb.Source.Seekable() {
			return Rejected{
				Reason: "seek on " + pb.Source.String(),
				Err:    fmt.Errorf("seek on %s source: %w", pb.Source, playback.ErrDispatchRejected),
			}, true
		}
		target := gesture.SeekTarget(pb, in.DeltaSeconds)
		if target == pb.Position {
			return nil, false
		}
		c := SeekTo{Target: target, Prev: pb.Position}
		cs.Playback.Position = target
		return c, true

	case gesture.TogglePlayPause:
		play := !cs.PlaybackKnown || cs.Playback.Status != playback.StatusPlaying
		return setPlaying(cs, play), true

	case gesture.SkipTrack:
		if cs.PlaybackKnown && cs.Playback.Source == playback.SourcePodcast {
			if c, ok := stepEpisode(cs, cat, in.Direction); ok {
				return c, true
			}
		}
		return Skip{Direction: in.Direction}, true

	case gesture.ActivateSlot:
		return planSlot(in.Slot, cs, cat)
	}
	return nil, false
}

func planSlot(slot gesture.Slot, cs *playback.ControlState, cat Catalog) (Command, bool) {
	switch slot.Kind {
	case gesture.SlotLoopToggle:
		if cs.LoopActive && cs.LoopURI == slot.URI && cs.Playback.Status == playback.StatusPlaying {
			return setPlaying(cs, false), true
		}
		c := startURI(cs, PlayURI{Kind: PlayLoop, URI: slot.URI, Title: slot.Name, Repeat: true})
		cs.LoopActive = true
		cs.LoopURI = slot.URI
		cs.Playback = playback.State{Status: playback.StatusPlaying, Title: slot.Name, URI: slot.URI, Source: playback.SourceFile}
		return c, true

	case gesture.SlotStreamPlay:
		c := startURI(cs, PlayURI{Kind: PlayStream, URI: slot.URI, Title: slot.Name})
		cs.Playback = playback.State{Status: playback.StatusPlaying, Title: slot.Name, URI: slot.URI, Source: playback.SourceStream}
		return c, true

	case gesture.SlotPodcastAdvance:
		eps := cat[slot.Feed]
		if len(eps) == 0 {
			return Rejected{Reason: "feed " + slot.Feed + " empty", Err: fmt.Errorf("feed %q: %w", slot.Feed, ErrNoEpisodes)}, true
		}
		idx := cs.FeedIndex[slot.Feed] % len(eps)
		return playEpisode(cs, slot.Feed, slot.Name, eps, idx), true
	}
	return nil, false
}

// setPlaying plans a play or pause of the current URI. The loop flag follows:
// it is only true while the loop URI itself is playing.
func setPlaying(cs *playback.ControlState, play bool) SetPlaying {
	c := SetPlaying{Play: play, Prev: cs.Playback.Status, prevLoop: cs.LoopActive}
	if play {
		cs.Playback.Status = playback.StatusPlaying
		cs.LoopActive = cs.LoopURI != "" && cs.Playback.URI == cs.LoopURI
	} else {
		c.Save = resumePoint(cs)
		cs.Playback.Status = playback.StatusPaused
		cs.LoopActive = false
	}
	return c
}

// stepEpisode moves to the neighbouring episode of the feed currently playing.
// ok is false when the current URI is not in the catalog.
func stepEpisode(cs *playback.ControlState, cat Catalog, dir int) (Command, bool) {
	feed := cs.Playback.Feed
	eps := cat[feed]
	cur := -1
	for i, ep := range eps {
		if ep.URI == cs.Playback.URI {
			cur = i
			break
		}
	}
	if cur < 0 {
		return nil, false
	}
	n := len(eps)
	next := ((cur+dir)%n + n) % n
	return playEpisode(cs, feed, cs.Playback.Album, eps, next), true
}

// playEpisode plans eps[idx] and advances the feed index past it, wrapping.
func playEpisode(cs *playback.ControlState, feed, feedName string, eps []Episode, idx int) Command {
	ep := eps[idx]
	c := startURI(cs, PlayURI{Kind: PlayEpisode, URI: ep.URI, Title: ep.Title})
	c.prev.feed = feed
	c.prev.feedIndex, c.prev.feedIndexSet = cs.FeedIndex[feed]

	if cs.FeedIndex == nil {
		cs.FeedIndex = make(map[string]int)
	}
	cs.FeedIndex[feed] = (idx + 1) % len(eps)
	cs.Playback = playback.State{
		Status: playback.StatusPlaying,
		Title:  ep.Title,
		Album:  feedName,
		URI:    ep.URI,
		Source: playback.SourcePodcast,
		Feed:   feed,
	}
	return c
}

// startURI snapshots what a PlayURI overwrites and records the outgoing resume point.
func startURI(cs *playback.ControlState, c PlayURI) PlayURI {
	c.prev = snapshot{
		playback:      cs.Playback,
		playbackKnown: cs.PlaybackKnown,
		loopActive:    cs.LoopActive,
		loopURI:       cs.LoopURI,
	}
	if cs.Playback.URI != c.URI {
		c.Save = resumePoint(cs)
	}
	if c.Kind != PlayLoop {
		cs.LoopActive = false
	}
	cs.PlaybackKnown = true
	return c
}

// resumePoint returns the current podcast position worth keeping, if any.
func resumePoint(cs *playback.ControlState) *Position {
	pb := cs.Playback
	if !cs.PlaybackKnown || pb.Source != playback.SourcePodcast || pb.URI == "" || pb.Status == playback.StatusStopped {
		return nil
	}
	return &Position{
		URI:      pb.URI,
		Seconds:  pb.Position,
		Finished: pb.DurationKnown && pb.Duration > 0 && pb.Position >= pb.Duration-finishedMargin,
	}
}

// finishedMargin is how close to the end an episode counts as heard.
const finishedMargin = 10

// Rollback restores the values cmd's optimistic update replaced.
//
// Must only be called by the goroutine that owns cs.
func Rollback(cs *playback.ControlState, cmd Command) {
	switch c := cmd.(type) {
	case SetVolume:
		cs.Volume = c.Prev
		cs.VolumeKnown = c.PrevKnown
	case SetBrightness:
		cs.Brightness = c.Prev
	case SeekTo:
		cs.Playback.Position = c.Prev
	case SetPlaying:
		cs.Playback.Status = c.Prev
		cs.LoopActive = c.prevLoop
	case PlayURI:
		cs.Playback = c.prev.playback
		cs.PlaybackKnown = c.prev.playbackKnown
		cs.LoopActive = c.prev.loopActive
		cs.LoopURI = c.prev.loopURI
		if c.prev.feed != "" {
			if c.prev.feedIndexSet {
				cs.FeedIndex[c.prev.feed] = c.prev.feedIndex
			} else {
				delete(cs.FeedIndex, c.prev.feed)
			}
		}
	}
}

// IsRejected reports whether err is a refusal rather than a transport failure.
func IsRejected(err error) bool {
	return errors.Is(err, playback.ErrDispatchRejected)
}
