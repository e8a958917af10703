package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/r/streamdeck-podcastplayer/internal/deck"
	"github.com/r/streamdeck-podcastplayer/internal/gesture"
	"github.com/r/streamdeck-podcastplayer/internal/podcast"
)

func TestUnmarshalEvent_Gestures(t *testing.T) {
	tests := []struct {
		line string
		want gesture.Event
	}{
		{`{"type":"turn_dial","data":{"dial":0,"steps":3}}`, gesture.Event{Control: gesture.Dial(0), Kind: gesture.KindTurn, Magnitude: 3}},
		{`{"type":"push_dial","data":{"dial":1}}`, gesture.Event{Control: gesture.Dial(1), Kind: gesture.KindPush}},
		{`{"type":"press_key","data":{"key":5}}`, gesture.Event{Control: gesture.Button(5), Kind: gesture.KindButtonPress}},
		{`{"type":"gesture","data":{"control":"dial2","kind":"turn","magnitude":-1}}`, gesture.Event{Control: gesture.Dial(2), Kind: gesture.KindTurn, Magnitude: -1}},
		{`{"type":"gesture","data":{"control":"key7","kind":"press"}}`, gesture.Event{Control: gesture.Button(7), Kind: gesture.KindButtonPress}},
	}
	for _, tt := range tests {
		ev, err := UnmarshalEvent([]byte(tt.line))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.line, err)
		}
		g, ok := ev.(GestureReceived)
		if !ok {
			t.Fatalf("%s: expected GestureReceived, got %T", tt.line, ev)
		}
		if g.Gesture != tt.want {
			t.Fatalf("%s: got %+v, want %+v", tt.line, g.Gesture, tt.want)
		}
	}
}

func TestUnmarshalEvent_Intents(t *testing.T) {
	tests := []struct {
		line string
		want gesture.Intent
	}{
		{`{"type":"adjust_volume","data":{"delta":-4}}`, gesture.AdjustVolume{Delta: -4}},
		{`{"type":"adjust_brightness","data":{"delta":10}}`, gesture.AdjustBrightness{Delta: 10}},
		{`{"type":"seek","data":{"seconds":30}}`, gesture.Seek{DeltaSeconds: 30}},
		{`{"type":"skip","data":{"direction":-3}}`, gesture.SkipTrack{Direction: -1}},
		{`{"type":"toggle_play_pause"}`, gesture.TogglePlayPause{}},
	}
	for _, tt := range tests {
		ev, err := UnmarshalEvent([]byte(tt.line))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.line, err)
		}
		ir, ok := ev.(IntentRequested)
		if !ok {
			t.Fatalf("%s: expected IntentRequested, got %T", tt.line, ev)
		}
		if ir.Intent != tt.want {
			t.Fatalf("%s: got %v, want %v", tt.line, ir.Intent, tt.want)
		}
	}

	ev, err := UnmarshalEvent([]byte(`{"type":"refresh"}`))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := ev.(PollTick); !ok {
		t.Fatalf("refresh: expected PollTick, got %T", ev)
	}
}

func TestUnmarshalEvent_Errors(t *testing.T) {
	bad := []string{
		`not json`,
		`{"type":"explode"}`,
		`{"type":"turn_dial"}`,
		`{"type":"turn_dial","data":{"dial":"zero"}}`,
		`{"type":"skip","data":{"direction":0}}`,
		`{"type":"gesture","data":{"control":"knob1","kind":"turn"}}`,
		`{"type":"gesture","data":{"control":"dial1","kind":"wiggle"}}`,
	}
	for _, line := range bad {
		if _, err := UnmarshalEvent([]byte(line)); err == nil {
			t.Errorf("%s: expected error", line)
		}
	}
}

func TestParseControl_RoundTrip(t *testing.T) {
	for _, id := range []gesture.ControlID{gesture.Dial(0), gesture.Dial(3), gesture.Button(0), gesture.Button(7)} {
		got, err := parseControl(id.String())
		if err != nil {
			t.Fatalf("parseControl(%q): %v", id.String(), err)
		}
		if got != id {
			t.Fatalf("parseControl(%q) = %+v, want %+v", id.String(), got, id)
		}
	}
	for _, s := range []string{"", "dial", "key-1", "dialx"} {
		if _, err := parseControl(s); err == nil {
			t.Errorf("parseControl(%q): expected error", s)
		}
	}
}

func TestTranslateInput(t *testing.T) {
	tests := []struct {
		in   deck.Input
		want gesture.Event
		ok   bool
	}{
		{deck.Input{Kind: deck.KeyDown, Index: 2}, gesture.Event{Control: gesture.Button(2), Kind: gesture.KindButtonPress}, true},
		{deck.Input{Kind: deck.KeyUp, Index: 2}, gesture.Event{}, false},
		{deck.Input{Kind: deck.DialDown, Index: 1}, gesture.Event{Control: gesture.Dial(1), Kind: gesture.KindPush}, true},
		{deck.Input{Kind: deck.DialUp, Index: 1}, gesture.Event{}, false},
		{deck.Input{Kind: deck.DialTurn, Index: 0, Delta: -2}, gesture.Event{Control: gesture.Dial(0), Kind: gesture.KindTurn, Magnitude: -2}, true},
		{deck.Input{Kind: deck.DialTurn, Index: 0}, gesture.Event{}, false},
		{deck.Input{Kind: deck.Touch, X: 100, Y: 50}, gesture.Event{}, false},
	}
	for _, tt := range tests {
		got, ok := translateInput(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("translateInput(%+v) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCatalogEvent_MapsEpisodeURLs(t *testing.T) {
	u := podcast.Update{Feed: "daily", Episodes: []podcast.Episode{
		{Feed: "daily", Path: "/srv/podcasts/daily/ep 2.mp3", Title: "Ep 2"},
		{Feed: "daily", Path: "/srv/podcasts/daily/ep1.mp3", Title: "Ep 1"},
	}}
	ev := catalogEvent(u, func(rel string) string { return "http://h:8000/podcasts/" + rel })

	if ev.Feed != "daily" || len(ev.Episodes) != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Episodes[0].URI != "http://h:8000/podcasts/daily/ep 2.mp3" || ev.Episodes[0].Title != "Ep 2" {
		t.Fatalf("unexpected first episode %+v", ev.Episodes[0])
	}
}

func TestHandleIPCConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, client := net.Pipe()
	defer client.Close()

	events := make(chan Event, 4)
	go handleIPCConnection(ctx, server, events, quietLogger())

	// Answer state queries the way the loop would.
	go func() {
		for ev := range events {
			if req, ok := ev.(RequestStateSnapshot); ok {
				req.Reply <- StateSnapshot{Volume: 42, VolumeKnown: true}
			}
		}
	}()

	r := bufio.NewReader(client)
	roundTrip := func(line string) IPCResponse {
		t.Helper()
		if err := client.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("set deadline: %v", err)
		}
		if _, err := client.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		resp, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var out IPCResponse
		if err := json.Unmarshal(resp, &out); err != nil {
			t.Fatalf("decode %q: %v", resp, err)
		}
		return out
	}

	if resp := roundTrip(`{"type":"adjust_volume","data":{"delta":2}}`); resp.Status != "ok" {
		t.Fatalf("expected ok, got %+v", resp)
	}
	if resp := roundTrip(`{"type":"bogus"}`); resp.Status != "error" || resp.Error == "" {
		t.Fatalf("expected error reply, got %+v", resp)
	}
	resp := roundTrip(`{"type":"get_state"}`)
	if resp.Status != "ok" || resp.State == nil || resp.State.Volume != 42 {
		t.Fatalf("expected state reply, got %+v", resp)
	}
	close(events)
}

func TestRequestSnapshot_TimesOutWithoutLoop(t *testing.T) {
	events := make(chan Event) // nobody reads
	_, err := requestSnapshot(context.Background(), events, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
