package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/r/streamdeck-podcastplayer/internal/gesture"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.PollInterval().Seconds() != 2 {
		t.Errorf("expected 2s poll interval, got %v", cfg.PollInterval())
	}
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	p := writeConfig(t, `
speaker:
  host: 192.168.1.40
deck:
  brightness: 30
  buttons:
    - key: 0
      slot: podcast
      feed: daily
    - key: 1
      slot: loop
      name: Rain
      file: rain.mp3
    - key: 2
      slot: stream
      name: Radio
      uri: x-rincon-mp3radio://radio.example/stream
podcasts:
  root: /srv/podcasts
  feeds:
    daily:
      name: The Daily
`)
	cfg, err := LoadConfigFile(p)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Speaker.Host != "192.168.1.40" {
		t.Errorf("expected host from file, got %q", cfg.Speaker.Host)
	}
	if cfg.Deck.Brightness != 30 {
		t.Errorf("expected brightness 30, got %d", cfg.Deck.Brightness)
	}
	// Untouched sections keep defaults.
	if cfg.Speaker.TimeoutMS != defaultSpeakerTimeoutMS {
		t.Errorf("expected default timeout, got %d", cfg.Speaker.TimeoutMS)
	}
	if cfg.Deck.ScrubSeconds != gesture.DefaultScrubSeconds {
		t.Errorf("expected default scrub, got %d", cfg.Deck.ScrubSeconds)
	}
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	p := writeConfig(t, "speaker:\n  hostname: oops\n")
	if _, err := LoadConfigFile(p); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadConfigFile_RejectsTrailingDocument(t *testing.T) {
	p := writeConfig(t, "speaker:\n  host: a\n---\nspeaker:\n  host: b\n")
	_, err := LoadConfigFile(p)
	if err == nil || !strings.Contains(err.Error(), "trailing document") {
		t.Fatalf("expected trailing document error, got %v", err)
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	host := "10.0.0.9"
	port := 0
	FlagOverrides{SpeakerHost: &host, StatusPort: &port}.Apply(&cfg)

	if cfg.Speaker.Host != host {
		t.Errorf("expected host override, got %q", cfg.Speaker.Host)
	}
	// A set flag wins even when it holds the zero value.
	if cfg.Status.Port != 0 {
		t.Errorf("expected status port 0, got %d", cfg.Status.Port)
	}
	if cfg.HTTP.Port != 8000 {
		t.Errorf("unset flag must not change http.port, got %d", cfg.HTTP.Port)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no speaker", func(c *Config) { c.Speaker.Host, c.Speaker.Name = "", "" }, "speaker.host"},
		{"brightness", func(c *Config) { c.Deck.Brightness = 101 }, "deck.brightness"},
		{"poll", func(c *Config) { c.Deck.PollIntervalMS = 10 }, "poll_interval_ms"},
		{"dial range", func(c *Config) { c.Deck.Controls.Track = 4 }, "deck.controls.track"},
		{"dial reuse", func(c *Config) { c.Deck.Controls.Brightness = 0 }, "both use dial 0"},
		{"key range", func(c *Config) {
			c.Deck.Buttons = []ButtonConfig{{Key: 8, Slot: slotStream, URI: "x"}}
		}, "key must be between"},
		{"key twice", func(c *Config) {
			c.Deck.Buttons = []ButtonConfig{{Key: 1, Slot: slotStream, URI: "x"}, {Key: 1, Slot: slotStream, URI: "y"}}
		}, "assigned twice"},
		{"unknown feed", func(c *Config) {
			c.Deck.Buttons = []ButtonConfig{{Key: 0, Slot: slotPodcast, Feed: "nope"}}
		}, "not listed"},
		{"bad slot", func(c *Config) {
			c.Deck.Buttons = []ButtonConfig{{Key: 0, Slot: "radio"}}
		}, "slot must be"},
		{"same ports", func(c *Config) { c.Status.Port = c.HTTP.Port }, "must differ"},
		{"bad color", func(c *Config) { c.Theme.Fill = "blue" }, "theme.fill"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConfig_Mapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Deck.Controls.Brightness = -1
	cfg.Podcasts.Feeds = map[string]FeedConfig{"daily": {Name: "The Daily"}}
	cfg.Deck.Buttons = []ButtonConfig{
		{Key: 0, Slot: slotPodcast, Feed: "daily"},
		{Key: 1, Slot: slotLoop, File: "rain.mp3"},
		{Key: 2, Slot: slotStream, Name: "Radio", URI: "x-rincon-mp3radio://r"},
	}

	url := func(prefix, rel string) string { return "http://h:8000" + prefix + rel }
	m := cfg.Mapping(url, "/loops/")

	if len(m.Dials) != 3 || m.Dials[0] != gesture.RoleVolume || m.Dials[1] != gesture.RoleTransport {
		t.Errorf("unexpected dial roles: %v", m.Dials)
	}
	if _, ok := m.Dials[3]; ok {
		t.Error("disabled brightness role must not be mapped")
	}

	pod := m.Keys[0]
	if pod.Kind != gesture.SlotPodcastAdvance || pod.Feed != "daily" || pod.Name != "The Daily" {
		t.Errorf("unexpected podcast slot: %+v", pod)
	}
	loop := m.Keys[1]
	if loop.Kind != gesture.SlotLoopToggle || loop.URI != "http://h:8000/loops/rain.mp3" || loop.Name != "rain.mp3" {
		t.Errorf("unexpected loop slot: %+v", loop)
	}
	if m.Keys[2].Kind != gesture.SlotStreamPlay || m.Keys[2].URI != "x-rincon-mp3radio://r" {
		t.Errorf("unexpected stream slot: %+v", m.Keys[2])
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/podcasts"); got != filepath.Join(home, "podcasts") {
		t.Errorf("expected %q, got %q", filepath.Join(home, "podcasts"), got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path changed: %q", got)
	}
	if got := ExpandPath("~user/x"); got != "~user/x" {
		t.Errorf("~user form must be left alone, got %q", got)
	}
}
