package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

// Speaker is the remote transport the executor drives.
type Speaker interface {
	SetVolume(ctx context.Context, volume int) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds int) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	SetRepeat(ctx context.Context, repeat bool) error
	PlayURI(ctx context.Context, uri, title string) error
}

// Surface is the hardware side of brightness.
type Surface interface {
	SetBrightness(percent int) error
}

// Positions stores episode resume points.
type Positions interface {
	Save(ctx context.Context, uri string, seconds int) error
	Load(ctx context.Context, uri string) (seconds int, ok bool, err error)
	Forget(ctx context.Context, uri string) error
}

// minResume is the shortest stored position worth seeking to.
const minResume = 5

// Executor performs planned commands. It holds no ControlState and may run on
// any goroutine.
type Executor struct {
	Speaker   Speaker
	Surface   Surface   // optional
	Positions Positions // optional
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Execute performs cmd. Failures come back classified in Result.Err, never as a
// panic: ErrRemoteUnavailable for transport trouble, ErrDispatchRejected for a
// refusal.
func (x *Executor) Execute(ctx context.Context, cmd Command) Result {
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}

	res := Result{Command: cmd}
	switch c := cmd.(type) {
	case Rejected:
		res.Err = c.Err
		if res.Err == nil {
			res.Err = fmt.Errorf("%s: %w", c.Reason, playback.ErrDispatchRejected)
		}
		return res

	case SetVolume:
		res.Err = x.Speaker.SetVolume(ctx, c.Volume)

	case SetBrightness:
		if x.Surface == nil {
			res.Err = fmt.Errorf("set brightness: no surface: %w", playback.ErrDispatchRejected)
			return res
		}
		res.Err = x.Surface.SetBrightness(c.Brightness)

	case SeekTo:
		res.Err = x.Speaker.Seek(ctx, c.Target)

	case SetPlaying:
		if c.Play {
			res.Err = x.Speaker.Play(ctx)
		} else {
			res.Err = x.Speaker.Pause(ctx)
			if res.Err == nil && c.Save != nil {
				x.savePosition(ctx, *c.Save)
			}
		}

	case Skip:
		if c.Direction < 0 {
			res.Err = x.Speaker.Previous(ctx)
		} else {
			res.Err = x.Speaker.Next(ctx)
		}

	case PlayURI:
		if c.Save != nil {
			x.savePosition(ctx, *c.Save)
		}
		if err := x.Speaker.SetRepeat(ctx, c.Repeat); err != nil {
			// Some sources refuse play modes; playback itself still works.
			x.Logger.Warn("set play mode failed", "error", err, "repeat", c.Repeat)
		}
		res.Err = x.Speaker.PlayURI(ctx, c.URI, c.Title)
		if res.Err == nil && c.Kind == PlayEpisode {
			if at := x.resumeAt(ctx, c.URI); at > 0 {
				res.Follow = SeekTo{Target: at}
			}
		}

	default:
		res.Err = fmt.Errorf("unknown command %T: %w", cmd, playback.ErrDispatchRejected)
	}

	res.Err = classify(res.Err)
	return res
}

func (x *Executor) savePosition(ctx context.Context, p Position) {
	if x.Positions == nil {
		return
	}
	if p.Finished {
		if err := x.Positions.Forget(ctx, p.URI); err != nil {
			x.Logger.Warn("forget position failed", "error", err, "uri", p.URI)
			return
		}
		x.Logger.Debug("episode finished, position dropped", "uri", p.URI)
		return
	}
	if err := x.Positions.Save(ctx, p.URI, p.Seconds); err != nil {
		x.Logger.Warn("save position failed", "error", err, "uri", p.URI)
		return
	}
	x.Logger.Debug("position saved", "uri", p.URI, "seconds", p.Seconds)
}

func (x *Executor) resumeAt(ctx context.Context, uri string) int {
	if x.Positions == nil {
		return 0
	}
	sec, ok, err := x.Positions.Load(ctx, uri)
	if err != nil {
		x.Logger.Warn("load position failed", "error", err, "uri", uri)
		return 0
	}
	if !ok || sec < minResume {
		return 0
	}
	return sec
}

// classify makes sure every failure carries one of the taxonomy sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playback.ErrRemoteUnavailable) ||
		errors.Is(err, playback.ErrDispatchRejected) ||
		errors.Is(err, playback.ErrMalformedRemoteData) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &ne) {
		return fmt.Errorf("%w: %w", playback.ErrRemoteUnavailable, err)
	}
	return fmt.Errorf("%w: %w", playback.ErrDispatchRejected, err)
}
