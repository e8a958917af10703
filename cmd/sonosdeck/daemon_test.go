package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/r/streamdeck-podcastplayer/internal/deck"
	"github.com/r/streamdeck-podcastplayer/internal/dispatch"
	"github.com/r/streamdeck-podcastplayer/internal/playback"
	"github.com/r/streamdeck-podcastplayer/internal/render"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSpeaker serves scripted reads and records executed commands.
type fakeSpeaker struct {
	mu       sync.Mutex
	reads    []error // consumed in order; nil means success
	pb       playback.State
	volume   int
	executed []dispatch.Command
	execErr  error
	// onExecute, when set, runs inside Execute and its error is the result.
	onExecute func(ctx context.Context) error
}

func (f *fakeSpeaker) Read(ctx context.Context) (playback.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reads) > 0 {
		err := f.reads[0]
		f.reads = f.reads[1:]
		if err != nil {
			return playback.State{}, err
		}
	}
	return f.pb, nil
}

func (f *fakeSpeaker) Volume(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume, nil
}

func (f *fakeSpeaker) Execute(ctx context.Context, cmd dispatch.Command) dispatch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, cmd)
	if r, ok := cmd.(dispatch.Rejected); ok {
		return dispatch.Result{Command: cmd, Err: r.Err}
	}
	if f.onExecute != nil {
		return dispatch.Result{Command: cmd, Err: f.onExecute(ctx)}
	}
	return dispatch.Result{Command: cmd, Err: f.execErr}
}

func (f *fakeSpeaker) commands() []dispatch.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.Command(nil), f.executed...)
}

// fakeSurface records uploads.
type fakeSurface struct {
	mu       sync.Mutex
	touches  []image.Rectangle
	keys     map[int]int
	clears   int
	touchErr error
}

func (f *fakeSurface) SetTouchImage(r image.Rectangle, img image.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	if img.Bounds().Dx() != r.Dx() || img.Bounds().Dy() != r.Dy() {
		return fmt.Errorf("image %v does not fit %v", img.Bounds(), r)
	}
	f.touches = append(f.touches, r)
	return nil
}

func (f *fakeSurface) SetKeyImage(key int, img image.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = map[int]int{}
	}
	f.keys[key]++
	return nil
}

func (f *fakeSurface) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeSurface) touchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.touches)
}

func (f *fakeSurface) touchesSince(n int) []image.Rectangle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]image.Rectangle(nil), f.touches[n:]...)
}

func (f *fakeSurface) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

type daemonHarness struct {
	speaker *fakeSpeaker
	surface *fakeSurface
	events  chan Event
	cancel  context.CancelFunc
	done    chan error
}

func startDaemon(t *testing.T, speaker *fakeSpeaker, surface *fakeSurface) *daemonHarness {
	t.Helper()
	comp, err := render.NewCompositor(render.DefaultTheme(), "")
	if err != nil {
		t.Fatalf("NewCompositor: %v", err)
	}
	fx := &effects{
		exec:    speaker,
		reader:  speaker,
		volume:  speaker,
		surface: surface,
		comp:    comp,
		keys:    map[int]keyBinding{0: {Face: render.KeyFace{Label: "The Daily"}}},
		timeout: time.Second,
		logger:  quietLogger(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &daemonHarness{
		speaker: speaker,
		surface: surface,
		events:  make(chan Event, 8),
		cancel:  cancel,
		done:    make(chan error, 1),
	}
	go func() {
		h.done <- runDaemon(ctx, h.events, NewDaemonState(60), loopDeps{
			fx:           fx,
			mapping:      testMapping(),
			pollInterval: time.Hour, // polls are driven by the test
			logger:       quietLogger(),
		})
	}()
	t.Cleanup(cancel)
	return h
}

func (h *daemonHarness) snapshot(t *testing.T) StateSnapshot {
	t.Helper()
	snap, err := requestSnapshot(context.Background(), h.events, time.Second)
	if err != nil {
		t.Fatalf("requestSnapshot: %v", err)
	}
	return snap
}

func (h *daemonHarness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for daemon to stop")
		return nil
	}
}

func playingSong() playback.State {
	return playback.State{
		Status:        playback.StatusPlaying,
		Position:      30,
		Duration:      600,
		DurationKnown: true,
		Title:         "Song",
		Artist:        "Band",
		URI:           "x-file-cifs://nas/song.mp3",
		Source:        playback.SourceFile,
	}
}

func TestRunDaemon_StartupPollsAndDraws(t *testing.T) {
	speaker := &fakeSpeaker{pb: playingSong(), volume: 50}
	surface := &fakeSurface{}
	h := startDaemon(t, speaker, surface)

	snap := h.snapshot(t)
	if !snap.SpeakerKnown || snap.Volume != 50 || snap.Title != "Song" {
		t.Fatalf("expected state from the first poll, got %+v", snap)
	}
	if surface.touchCount() == 0 {
		t.Fatal("expected the strip to be drawn on startup")
	}
	surface.mu.Lock()
	keyWrites := len(surface.keys)
	surface.mu.Unlock()
	if keyWrites != deck.NumKeys {
		t.Fatalf("expected all %d keys drawn, got %d", deck.NumKeys, keyWrites)
	}

	if err := h.stop(t); err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
	if surface.clearCount() != 1 {
		t.Fatalf("expected the surface cleared once on exit, got %d", surface.clearCount())
	}
}

func TestRunDaemon_VolumeTurnRedrawsOnlyVolumeRegion(t *testing.T) {
	speaker := &fakeSpeaker{pb: playingSong(), volume: 50}
	surface := &fakeSurface{}
	h := startDaemon(t, speaker, surface)

	h.snapshot(t) // startup settled
	before := surface.touchCount()

	h.events <- turn(0, 3)
	snap := h.snapshot(t)
	if snap.Volume != 53 {
		t.Fatalf("expected volume 53, got %d", snap.Volume)
	}

	cmds := speaker.commands()
	if len(cmds) != 1 {
		t.Fatalf("expected 1 executed command, got %v", cmds)
	}
	if sv, ok := cmds[0].(dispatch.SetVolume); !ok || sv.Volume != 53 {
		t.Fatalf("expected SetVolume(53), got %v", cmds[0])
	}

	uploads := surface.touchesSince(before)
	if len(uploads) != 1 || uploads[0] != render.RegionVolume.Rect {
		t.Fatalf("expected only the volume region uploaded, got %v", uploads)
	}
}

func TestRunDaemon_OptimisticFrameBeforeRemoteCall(t *testing.T) {
	speaker := &fakeSpeaker{pb: playingSong(), volume: 50}
	surface := &fakeSurface{}
	h := startDaemon(t, speaker, surface)

	h.snapshot(t)
	before := surface.touchCount()

	var atCall []int
	speaker.mu.Lock()
	speaker.onExecute = func(ctx context.Context) error {
		atCall = append(atCall, surface.touchCount())
		return nil
	}
	speaker.mu.Unlock()

	h.events <- turn(0, 3)
	h.snapshot(t)

	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	if len(atCall) != 1 {
		t.Fatalf("expected one remote call, got %d", len(atCall))
	}
	if atCall[0] != before+1 {
		t.Fatalf("volume frame not on screen when SetVolume was sent: uploads before=%d at call=%d", before, atCall[0])
	}
}

func TestRunDaemon_NoSurfaceWritesAfterShutdown(t *testing.T) {
	speaker := &fakeSpeaker{pb: playingSong(), volume: 50}
	surface := &fakeSurface{}
	h := startDaemon(t, speaker, surface)

	h.snapshot(t)

	atCancel := -1
	speaker.mu.Lock()
	speaker.onExecute = func(ctx context.Context) error {
		atCancel = surface.touchCount()
		h.cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	speaker.mu.Unlock()

	h.events <- turn(0, 3)
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for daemon to stop")
	}

	speaker.mu.Lock()
	got := atCancel
	speaker.mu.Unlock()
	if got < 0 {
		t.Fatal("remote call never issued")
	}
	if n := surface.touchCount(); n != got {
		t.Fatalf("strip written after shutdown: %d uploads at cancel, %d at exit", got, n)
	}
	if surface.clearCount() != 1 {
		t.Fatalf("expected one exit clear, got %d", surface.clearCount())
	}
}

func TestRunDaemon_FailedPollsKeepState(t *testing.T) {
	speaker := &fakeSpeaker{pb: playingSong(), volume: 50}
	surface := &fakeSurface{}
	h := startDaemon(t, speaker, surface)

	want := h.snapshot(t)
	before := surface.touchCount()

	speaker.mu.Lock()
	speaker.reads = []error{context.DeadlineExceeded, context.DeadlineExceeded}
	speaker.mu.Unlock()

	h.events <- PollTick{Now: time.Now()}
	h.events <- PollTick{Now: time.Now()}

	if got := h.snapshot(t); got != want {
		t.Fatalf("state changed after failed polls:\n got %+v\nwant %+v", got, want)
	}
	if n := len(surface.touchesSince(before)); n != 0 {
		t.Fatalf("expected no redraw after failed polls, got %d uploads", n)
	}
}

func TestRunDaemon_RejectedCommandRollsBack(t *testing.T) {
	speaker := &fakeSpeaker{pb: playingSong(), volume: 50, execErr: playback.ErrRemoteUnavailable}
	surface := &fakeSurface{}
	h := startDaemon(t, speaker, surface)

	h.snapshot(t)
	h.events <- turn(0, 3)

	if snap := h.snapshot(t); snap.Volume != 50 {
		t.Fatalf("expected volume rolled back to 50, got %d", snap.Volume)
	}
}

func TestRunDaemon_SurfaceLostIsFatal(t *testing.T) {
	speaker := &fakeSpeaker{pb: playingSong(), volume: 50}
	surface := &fakeSurface{touchErr: fmt.Errorf("write: %w", deck.ErrDisconnected)}
	h := startDaemon(t, speaker, surface)

	select {
	case err := <-h.done:
		if !errors.Is(err, deck.ErrDisconnected) {
			t.Fatalf("expected ErrDisconnected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon kept running after the surface went away")
	}
}

func TestRunDaemon_StopsWhenEventsClosed(t *testing.T) {
	speaker := &fakeSpeaker{pb: playingSong(), volume: 50}
	h := startDaemon(t, speaker, &fakeSurface{})

	h.snapshot(t)
	close(h.events)

	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("expected nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for daemon to stop")
	}
}
