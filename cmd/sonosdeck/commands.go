package main

import (
	"fmt"

	"github.com/r/streamdeck-podcastplayer/internal/dispatch"
	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

// Command is a side effect requested by the reducer and run by the loop.
type Command interface {
	commandMarker()
	String() string
}

// CmdDispatch performs one planned speaker or surface command.
type CmdDispatch struct {
	Cmd dispatch.Command
}

func (CmdDispatch) commandMarker()   {}
func (c CmdDispatch) String() string { return fmt.Sprintf("CmdDispatch(%s)", c.Cmd) }

// CmdPoll reads playback and volume from the speaker.
type CmdPoll struct{}

func (CmdPoll) commandMarker() {}
func (CmdPoll) String() string { return "CmdPoll()" }

// CmdRenderStrip redraws the touchscreen from a snapshot and pushes the regions
// that changed.
type CmdRenderStrip struct {
	Snapshot playback.ControlState
}

func (CmdRenderStrip) commandMarker() {}
func (CmdRenderStrip) String() string { return "CmdRenderStrip()" }

// CmdRenderKeys redraws key images. ActiveLoop is the URI of the loop currently
// playing, or "".
type CmdRenderKeys struct {
	ActiveLoop string
}

func (CmdRenderKeys) commandMarker()   {}
func (c CmdRenderKeys) String() string { return fmt.Sprintf("CmdRenderKeys(active=%q)", c.ActiveLoop) }

// CmdPublishStateSnapshot delivers a snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
