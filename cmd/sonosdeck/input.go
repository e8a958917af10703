package main

import (
	"context"
	"log/slog"

	"github.com/r/streamdeck-podcastplayer/internal/deck"
	"github.com/r/streamdeck-podcastplayer/internal/dispatch"
	"github.com/r/streamdeck-podcastplayer/internal/gesture"
	"github.com/r/streamdeck-podcastplayer/internal/podcast"
)

// translateInput maps a raw surface input to a gesture. Releases and touches have
// no gesture.
func translateInput(in deck.Input) (gesture.Event, bool) {
	switch in.Kind {
	case deck.KeyDown:
		return gesture.Event{Control: gesture.Button(in.Index), Kind: gesture.KindButtonPress}, true
	case deck.DialDown:
		return gesture.Event{Control: gesture.Dial(in.Index), Kind: gesture.KindPush}, true
	case deck.DialTurn:
		if in.Delta == 0 {
			return gesture.Event{}, false
		}
		return gesture.Event{Control: gesture.Dial(in.Index), Kind: gesture.KindTurn, Magnitude: in.Delta}, true
	default:
		return gesture.Event{}, false
	}
}

// forwardInputs feeds surface input to the loop. Sends block, so the bounded
// events channel applies backpressure instead of dropping gestures.
func forwardInputs(ctx context.Context, inputs <-chan deck.Input, events chan<- Event, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-inputs:
			if !ok {
				return nil
			}
			g, ok := translateInput(in)
			if !ok {
				continue
			}
			logger.Debug("gesture", "control", g.Control.String(), "kind", g.Kind.String(), "magnitude", g.Magnitude)
			select {
			case events <- GestureReceived{Gesture: g}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// forwardCatalog turns watcher updates into CatalogUpdated events. uri maps an
// episode's path relative to the podcasts root to the URL the speaker fetches.
func forwardCatalog(ctx context.Context, updates <-chan podcast.Update, events chan<- Event, uri func(rel string) string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case events <- catalogEvent(u, uri):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func catalogEvent(u podcast.Update, uri func(rel string) string) CatalogUpdated {
	eps := make([]dispatch.Episode, 0, len(u.Episodes))
	for _, ep := range u.Episodes {
		eps = append(eps, dispatch.Episode{URI: uri(ep.Rel()), Title: ep.Title})
	}
	return CatalogUpdated{Feed: u.Feed, Episodes: eps}
}
