package main

import (
	"time"

	"github.com/r/streamdeck-podcastplayer/internal/dispatch"
	"github.com/r/streamdeck-podcastplayer/internal/gesture"
)

// ReduceResult is the output of Reduce: next state, commands to run, and
// notifications for status clients.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce applies one event to the loop state.
//
// Rules:
//   - no I/O, no blocking
//   - remote work is requested through Commands and comes back as Events
//   - the only mutation is of s, which the loop owns
func Reduce(s *DaemonState, e Event, m gesture.Mapping) ReduceResult {
	if s == nil {
		s = NewDaemonState(defaultBrightness)
	}

	var at time.Time
	if te, ok := e.(TimedEvent); ok {
		e, at = te.Event, te.At
	}

	before := snapshotOf(s)
	loopBefore := s.activeLoop()

	var (
		cmds   []Command
		bcasts []StateBroadcast
		redraw bool
	)

	plan := func(in gesture.Intent) {
		if in == nil {
			return
		}
		if c, ok := dispatch.Plan(in, &s.Control, s.Catalog); ok {
			cmds = append(cmds, CmdDispatch{Cmd: c})
		}
	}

	switch ev := e.(type) {
	case Started:
		redraw = true
		cmds = append(cmds, CmdRenderKeys{ActiveLoop: loopBefore}, CmdPoll{})

	case GestureReceived:
		plan(gesture.Interpret(ev.Gesture, m))

	case IntentRequested:
		plan(ev.Intent)

	case PollTick:
		cmds = append(cmds, CmdPoll{})

	case PlaybackObserved:
		s.SetObservedPlayback(ev.Playback, ev.At)

	case VolumeObserved:
		s.SetObservedVolume(ev.Volume)

	case ReadFailed:
		// Keep the last known state; the next successful read repairs it.
		s.PollFailures++

	case CommandSucceeded:
		if f, ok := ev.Follow.(dispatch.SeekTo); ok {
			// Resume seek, only if the episode it belongs to is still current.
			if pu, ok := ev.Command.(dispatch.PlayURI); ok && s.Control.Playback.URI == pu.URI {
				f.Prev = s.Control.Playback.Position
				s.Control.Playback.Position = f.Target
				cmds = append(cmds, CmdDispatch{Cmd: f})
			}
		}

	case CommandFailed:
		dispatch.Rollback(&s.Control, ev.Command)
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		stamp := ev.At
		if stamp.IsZero() {
			stamp = at
		}
		bcasts = append(bcasts, BroadcastCommandFailed{Command: ev.Command.String(), Error: msg, At: stamp})

	case CatalogUpdated:
		s.SetEpisodes(ev.Feed, ev.Episodes)

	case RequestStateSnapshot:
		cmds = append(cmds, CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: before})

	default:
		// Unknown event type: no-op.
	}

	after := snapshotOf(s)
	if after != before {
		redraw = true
		bcasts = append(bcasts, BroadcastStateChanged{Snapshot: after, At: at})
	}

	// Frames go out ahead of remote calls.
	var renders []Command
	if redraw {
		renders = append(renders, CmdRenderStrip{Snapshot: s.Control.Clone()})
	}
	if loop := s.activeLoop(); loop != loopBefore {
		renders = append(renders, CmdRenderKeys{ActiveLoop: loop})
	}

	return ReduceResult{
		State:      s,
		Commands:   append(renders, cmds...),
		Broadcasts: bcasts,
	}
}
