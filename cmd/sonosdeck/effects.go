package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"time"

	"github.com/r/streamdeck-podcastplayer/internal/deck"
	"github.com/r/streamdeck-podcastplayer/internal/dispatch"
	"github.com/r/streamdeck-podcastplayer/internal/playback"
	"github.com/r/streamdeck-podcastplayer/internal/render"
)

// Surface is the touchscreen and key side of the control surface.
type Surface interface {
	SetTouchImage(r image.Rectangle, img image.Image) error
	SetKeyImage(key int, img image.Image) error
	Clear() error
}

// StateReader reads playback from the speaker.
type StateReader interface {
	Read(ctx context.Context) (playback.State, error)
}

// VolumeReader reads the speaker volume.
type VolumeReader interface {
	Volume(ctx context.Context) (int, error)
}

// Executor performs planned dispatch commands.
type Executor interface {
	Execute(ctx context.Context, cmd dispatch.Command) dispatch.Result
}

// keyBinding is what a key shows. LoopURI is set for loop keys so the key can be
// highlighted while its loop plays.
type keyBinding struct {
	Face    render.KeyFace
	LoopURI string
}

// effects runs reducer-emitted commands. It is owned by the loop goroutine, like
// DaemonState, and keeps the last frame pushed to the strip.
type effects struct {
	exec    Executor
	reader  StateReader
	volume  VolumeReader
	surface Surface // nil when running headless
	comp    *render.Compositor
	keys    map[int]keyBinding
	timeout time.Duration
	logger  *slog.Logger

	frame *image.RGBA

	// fatal is set when the surface went away; the loop stops after the current
	// command batch.
	fatal error
}

// runEffect executes one command and reports observations through onEvent.
//
// It may perform I/O. It never calls Reduce; sequencing is the loop's job.
func (fx *effects) runEffect(ctx context.Context, cmd Command, onEvent func(Event)) {
	if onEvent == nil {
		return
	}
	if ctx.Err() != nil {
		switch cmd.(type) {
		case CmdRenderStrip, CmdRenderKeys:
			// Shutting down: the exit clear is the only surface write left.
			return
		}
	}
	now := time.Now()

	switch c := cmd.(type) {
	case CmdDispatch:
		if fx.exec == nil {
			onEvent(CommandFailed{Command: c.Cmd, Err: errNoSpeaker{}, At: now})
			return
		}
		res := fx.exec.Execute(ctx, c.Cmd)
		if res.Err != nil {
			level := slog.LevelWarn
			if dispatch.IsRejected(res.Err) {
				level = slog.LevelInfo
			}
			fx.logger.Log(ctx, level, "command failed", "command", c.Cmd.String(), "error", res.Err)
			if errors.Is(res.Err, deck.ErrDisconnected) {
				fx.fatal = res.Err
			}
			onEvent(CommandFailed{Command: c.Cmd, Err: res.Err, At: now})
			return
		}
		fx.logger.Debug("command done", "command", c.Cmd.String())
		onEvent(CommandSucceeded{Command: c.Cmd, Follow: res.Follow, At: now})

	case CmdPoll:
		fx.poll(ctx, now, onEvent)

	case CmdRenderStrip:
		fx.renderStrip(c.Snapshot)

	case CmdRenderKeys:
		fx.renderKeys(c.ActiveLoop)

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			fx.logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		select {
		case c.Reply <- c.Snapshot:
		default:
			fx.logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		fx.logger.Warn("unknown command type", "command", cmd.String())
	}
}

func (fx *effects) poll(ctx context.Context, now time.Time, onEvent func(Event)) {
	if fx.reader == nil {
		onEvent(ReadFailed{What: "playback", Err: errNoSpeaker{}, At: now})
		return
	}

	rctx, cancel := fx.bounded(ctx)
	pb, err := fx.reader.Read(rctx)
	cancel()
	if err != nil {
		fx.logger.Warn("playback read failed", "error", err)
		onEvent(ReadFailed{What: "playback", Err: err, At: now})
		return
	}
	onEvent(PlaybackObserved{Playback: pb, At: now})

	if fx.volume == nil {
		return
	}
	vctx, cancel := fx.bounded(ctx)
	vol, err := fx.volume.Volume(vctx)
	cancel()
	if err != nil {
		fx.logger.Warn("volume read failed", "error", err)
		onEvent(ReadFailed{What: "volume", Err: err, At: now})
		return
	}
	onEvent(VolumeObserved{Volume: vol, At: now})
}

func (fx *effects) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if fx.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, fx.timeout)
}

// renderStrip draws the snapshot and uploads only the regions whose pixels changed
// since the last successful push.
func (fx *effects) renderStrip(cs playback.ControlState) {
	if fx.comp == nil {
		return
	}
	img := fx.comp.Render(cs)
	regions := render.ChangedRegions(fx.frame, img)
	if len(regions) == 0 {
		return
	}
	if fx.surface == nil {
		fx.frame = img
		return
	}
	for _, reg := range regions {
		if err := fx.surface.SetTouchImage(reg.Rect, render.Crop(img, reg.Rect)); err != nil {
			fx.surfaceError("touch image", err, "region", reg.Name)
			// Force a full push next time.
			fx.frame = nil
			return
		}
	}
	fx.frame = img
	fx.logger.Debug("strip updated", "regions", len(regions))
}

func (fx *effects) renderKeys(activeLoop string) {
	if fx.comp == nil || fx.surface == nil {
		return
	}
	for key := 0; key < deck.NumKeys; key++ {
		b, ok := fx.keys[key]
		var img *image.RGBA
		if ok {
			face := b.Face
			face.Active = b.LoopURI != "" && b.LoopURI == activeLoop
			img = fx.comp.RenderKey(face)
		} else {
			img = fx.comp.BlankKey()
		}
		if err := fx.surface.SetKeyImage(key, img); err != nil {
			fx.surfaceError("key image", err, "key", key)
			return
		}
	}
}

// clear blanks the surface. It is the last hardware write of the process.
func (fx *effects) clear() {
	if fx.surface == nil {
		return
	}
	if err := fx.surface.Clear(); err != nil {
		fx.logger.Debug("clear surface failed", "error", err)
		return
	}
	fx.frame = nil
}

func (fx *effects) surfaceError(what string, err error, args ...any) {
	args = append([]any{"error", err}, args...)
	fx.logger.Error(what+" upload failed", args...)
	if errors.Is(err, deck.ErrDisconnected) {
		fx.fatal = err
	}
}

// keyList returns the bound keys in order.
func (fx *effects) keyList() []int {
	out := make([]int, 0, len(fx.keys))
	for k := range fx.keys {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// errNoSpeaker indicates the loop was asked to reach the speaker without a client.
type errNoSpeaker struct{}

func (errNoSpeaker) Error() string {
	return fmt.Sprintf("no speaker client: %v", playback.ErrRemoteUnavailable)
}

func (errNoSpeaker) Unwrap() error { return playback.ErrRemoteUnavailable }
