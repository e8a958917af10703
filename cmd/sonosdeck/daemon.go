package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/r/streamdeck-podcastplayer/internal/gesture"
)

// loopDeps is what the loop needs besides its state.
type loopDeps struct {
	fx           *effects
	mapping      gesture.Mapping
	pollInterval time.Duration
	broadcasts   chan<- StateBroadcast // optional
	logger       *slog.Logger
}

// runDaemon is the sync loop. It is the only goroutine that touches state.
//
//   - events from hardware, IPC, catalog and status clients are reduced in arrival order
//   - a poll is requested every pollInterval
//   - commands run to completion before the next event is taken, so a gesture's
//     optimistic update is rendered before a later poll can overwrite it
//   - once ctx is canceled, queued renders are dropped; the exit clear is the last
//     surface write
//
// It returns nil when ctx is canceled or events is closed, and the surface error
// if the control surface goes away. The strip is cleared on the way out.
func runDaemon(ctx context.Context, events <-chan Event, state *DaemonState, d loopDeps) error {
	logger := d.logger
	if state == nil {
		state = NewDaemonState(defaultBrightness)
	}
	interval := d.pollInterval
	if interval <= 0 {
		interval = defaultPollIntervalMS * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	defer d.fx.clear()

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bs []StateBroadcast) {
		if d.broadcasts == nil {
			return
		}
		for _, b := range bs {
			select {
			case d.broadcasts <- b:
			default:
				logger.Warn("broadcast queue full, dropping state update")
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(state, ev, d.mapping)
			if rr.State != nil {
				state = rr.State
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			d.fx.runEffect(ctx, cmd, enqueueEvent)

			// Reduce observations right away so follow-up commands keep their order.
			flushEvents()
		}
	}

	step := func(ev Event) error {
		enqueueEvent(TimedEvent{Event: ev, At: time.Now()})
		flushEvents()
		flushCommands()
		return d.fx.fatal
	}

	if err := step(Started{}); err != nil {
		logger.Error("daemon stopping (surface lost)", "error", err)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return nil

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return nil
			}
			if err := step(ev); err != nil {
				logger.Error("daemon stopping (surface lost)", "error", err)
				return err
			}

		case now := <-ticker.C:
			if err := step(PollTick{Now: now}); err != nil {
				logger.Error("daemon stopping (surface lost)", "error", err)
				return err
			}
		}
	}
}
