package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/r/streamdeck-podcastplayer/internal/deck"
	"github.com/r/streamdeck-podcastplayer/internal/gesture"
	"github.com/r/streamdeck-podcastplayer/internal/render"
)

// Config is the top-level YAML configuration for the sonosdeck daemon.
//
// Defaults and validation live here so the rest of the code can assume a
// well-formed config.
type Config struct {
	Speaker  SpeakerConfig  `yaml:"speaker"`
	Deck     DeckConfig     `yaml:"deck"`
	Podcasts PodcastsConfig `yaml:"podcasts"`
	Loops    LoopsConfig    `yaml:"loops"`
	HTTP     HTTPConfig     `yaml:"http"`
	State    StateConfig    `yaml:"state"`
	IPC      IPCConfig      `yaml:"ipc"`
	Status   StatusConfig   `yaml:"status"`
	Theme    ThemeConfig    `yaml:"theme"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type SpeakerConfig struct {
	Host               string `yaml:"host"` // empty: discover by name
	Name               string `yaml:"name"`
	TimeoutMS          int    `yaml:"timeout_ms"`
	DiscoveryTimeoutMS int    `yaml:"discovery_timeout_ms"`
	PauseOnExit        bool   `yaml:"pause_on_exit"`
}

type DeckConfig struct {
	Device         string         `yaml:"device"` // empty: autodetect
	Brightness     int            `yaml:"brightness"`
	PollIntervalMS int            `yaml:"poll_interval_ms"`
	ScrubSeconds   int            `yaml:"scrub_seconds"`
	Controls       ControlsConfig `yaml:"controls"`
	Buttons        []ButtonConfig `yaml:"buttons"`
}

// ControlsConfig assigns dial indexes to roles. -1 disables a role.
type ControlsConfig struct {
	Volume     int `yaml:"volume"`
	Transport  int `yaml:"transport"`
	Track      int `yaml:"track"`
	Brightness int `yaml:"brightness"`
}

// ButtonConfig binds one key to a slot.
type ButtonConfig struct {
	Key  int    `yaml:"key"`
	Slot string `yaml:"slot"` // loop | podcast | stream
	Name string `yaml:"name,omitempty"`
	Icon string `yaml:"icon,omitempty"`

	File string `yaml:"file,omitempty"` // loop: file under loops.root
	Feed string `yaml:"feed,omitempty"` // podcast: feed slug under podcasts.root
	URI  string `yaml:"uri,omitempty"`  // stream: speaker URI
}

type PodcastsConfig struct {
	Root  string                `yaml:"root"`
	Feeds map[string]FeedConfig `yaml:"feeds"`
}

type FeedConfig struct {
	Name string `yaml:"name"`
	Icon string `yaml:"icon,omitempty"`
}

type LoopsConfig struct {
	Root string `yaml:"root"`
}

type HTTPConfig struct {
	Port          int    `yaml:"port"`
	AdvertiseHost string `yaml:"advertise_host"`
}

type StateConfig struct {
	DBPath string `yaml:"db_path"` // empty: XDG data dir
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StatusConfig struct {
	Port int `yaml:"port"` // 0 disables the status websocket
}

type ThemeConfig struct {
	Fill       string `yaml:"fill"`
	Background string `yaml:"background"`
	Outline    string `yaml:"outline"`
	Text       string `yaml:"text"`
	Dim        string `yaml:"dim"`
	FontPath   string `yaml:"font_path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	slotLoop    = "loop"
	slotPodcast = "podcast"
	slotStream  = "stream"
)

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Speaker: SpeakerConfig{
			Name:               "Living Room",
			TimeoutMS:          defaultSpeakerTimeoutMS,
			DiscoveryTimeoutMS: defaultDiscoveryTimeoutMS,
		},
		Deck: DeckConfig{
			Brightness:     defaultBrightness,
			PollIntervalMS: defaultPollIntervalMS,
			ScrubSeconds:   gesture.DefaultScrubSeconds,
			Controls: ControlsConfig{
				Volume:     0,
				Transport:  1,
				Track:      2,
				Brightness: 3,
			},
		},
		Podcasts: PodcastsConfig{
			Root: "~/podcasts",
		},
		Loops: LoopsConfig{
			Root: "~/loops",
		},
		HTTP: HTTPConfig{
			Port: 8000,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/sonosdeck.sock",
		},
		Status: StatusConfig{
			Port: 3001,
		},
		Theme: ThemeConfig{
			Fill:       render.DefaultThemeHex.Fill,
			Background: render.DefaultThemeHex.Background,
			Outline:    render.DefaultThemeHex.Outline,
			Text:       render.DefaultThemeHex.Text,
			Dim:        render.DefaultThemeHex.Dim,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds flag values that win over the config file. A nil pointer
// means the flag was not set.
type FlagOverrides struct {
	SpeakerHost *string
	SpeakerName *string
	Device      *string
	HTTPPort    *int
	IPCSocket   *string
	StatusPort  *int
	LogLevel    *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if it
// holds a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.SpeakerHost != nil {
		cfg.Speaker.Host = *o.SpeakerHost
	}
	if o.SpeakerName != nil {
		cfg.Speaker.Name = *o.SpeakerName
	}
	if o.Device != nil {
		cfg.Deck.Device = *o.Device
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}
	if o.IPCSocket != nil {
		cfg.IPC.SocketPath = *o.IPCSocket
	}
	if o.StatusPort != nil {
		cfg.Status.Port = *o.StatusPort
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	if c.Speaker.Host == "" && c.Speaker.Name == "" {
		return errors.New("speaker.host or speaker.name must be set")
	}
	if c.Speaker.TimeoutMS <= 0 {
		return errors.New("speaker.timeout_ms must be > 0")
	}
	if c.Speaker.Host == "" && c.Speaker.DiscoveryTimeoutMS <= 0 {
		return errors.New("speaker.discovery_timeout_ms must be > 0")
	}

	if c.Deck.Brightness < 0 || c.Deck.Brightness > 100 {
		return errors.New("deck.brightness must be between 0 and 100")
	}
	if c.Deck.PollIntervalMS < 100 {
		return errors.New("deck.poll_interval_ms must be >= 100")
	}
	if c.Deck.ScrubSeconds <= 0 {
		return errors.New("deck.scrub_seconds must be > 0")
	}

	dials := map[int]string{}
	for _, ctl := range []struct {
		name  string
		index int
	}{
		{"volume", c.Deck.Controls.Volume},
		{"transport", c.Deck.Controls.Transport},
		{"track", c.Deck.Controls.Track},
		{"brightness", c.Deck.Controls.Brightness},
	} {
		if ctl.index < 0 {
			continue
		}
		if ctl.index >= deck.NumDials {
			return fmt.Errorf("deck.controls.%s must be between -1 and %d", ctl.name, deck.NumDials-1)
		}
		if other, dup := dials[ctl.index]; dup {
			return fmt.Errorf("deck.controls.%s and deck.controls.%s both use dial %d", other, ctl.name, ctl.index)
		}
		dials[ctl.index] = ctl.name
	}

	keys := map[int]bool{}
	for i, b := range c.Deck.Buttons {
		if b.Key < 0 || b.Key >= deck.NumKeys {
			return fmt.Errorf("deck.buttons[%d].key must be between 0 and %d", i, deck.NumKeys-1)
		}
		if keys[b.Key] {
			return fmt.Errorf("deck.buttons[%d]: key %d is assigned twice", i, b.Key)
		}
		keys[b.Key] = true

		switch b.Slot {
		case slotLoop:
			if b.File == "" {
				return fmt.Errorf("deck.buttons[%d]: loop slot needs file", i)
			}
			if c.Loops.Root == "" {
				return fmt.Errorf("deck.buttons[%d]: loop slot needs loops.root", i)
			}
		case slotPodcast:
			if b.Feed == "" {
				return fmt.Errorf("deck.buttons[%d]: podcast slot needs feed", i)
			}
			if _, ok := c.Podcasts.Feeds[b.Feed]; !ok {
				return fmt.Errorf("deck.buttons[%d]: feed %q is not listed under podcasts.feeds", i, b.Feed)
			}
		case slotStream:
			if b.URI == "" {
				return fmt.Errorf("deck.buttons[%d]: stream slot needs uri", i)
			}
		default:
			return fmt.Errorf("deck.buttons[%d].slot must be %q, %q or %q", i, slotLoop, slotPodcast, slotStream)
		}
	}

	if len(c.Podcasts.Feeds) > 0 && c.Podcasts.Root == "" {
		return errors.New("podcasts.root must not be empty when feeds are configured")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return errors.New("status.port must be between 0 and 65535")
	}
	if c.Status.Port != 0 && c.Status.Port == c.HTTP.Port {
		return errors.New("status.port and http.port must differ")
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if _, err := render.ParseTheme(c.themeHex()); err != nil {
		return err
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

func (c *Config) themeHex() render.ThemeHex {
	return render.ThemeHex{
		Fill:       c.Theme.Fill,
		Background: c.Theme.Background,
		Outline:    c.Theme.Outline,
		Text:       c.Theme.Text,
		Dim:        c.Theme.Dim,
	}
}

// SpeakerTimeout is the per-call bound on remote requests.
func (c *Config) SpeakerTimeout() time.Duration {
	return time.Duration(c.Speaker.TimeoutMS) * time.Millisecond
}

// PollInterval is the playback refresh cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Deck.PollIntervalMS) * time.Millisecond
}

// FeedSlugs lists configured feeds.
func (c *Config) FeedSlugs() []string {
	out := make([]string, 0, len(c.Podcasts.Feeds))
	for slug := range c.Podcasts.Feeds {
		out = append(out, slug)
	}
	return out
}

// FeedNames maps feed slugs to display names (slug when no name is set).
func (c *Config) FeedNames() map[string]string {
	out := make(map[string]string, len(c.Podcasts.Feeds))
	for slug, f := range c.Podcasts.Feeds {
		name := f.Name
		if name == "" {
			name = slug
		}
		out[slug] = name
	}
	return out
}

// Mapping builds the gesture mapping. mediaURL turns a (mount prefix, relative
// path) pair into a URI the speaker can fetch.
func (c *Config) Mapping(mediaURL func(prefix, rel string) string, loopsPrefix string) gesture.Mapping {
	m := gesture.Mapping{
		Dials:        map[int]gesture.Role{},
		Keys:         map[int]gesture.Slot{},
		ScrubSeconds: c.Deck.ScrubSeconds,
	}
	roles := []struct {
		index int
		role  gesture.Role
	}{
		{c.Deck.Controls.Volume, gesture.RoleVolume},
		{c.Deck.Controls.Transport, gesture.RoleTransport},
		{c.Deck.Controls.Track, gesture.RoleTrack},
		{c.Deck.Controls.Brightness, gesture.RoleBrightness},
	}
	for _, r := range roles {
		if r.index >= 0 {
			m.Dials[r.index] = r.role
		}
	}

	names := c.FeedNames()
	for _, b := range c.Deck.Buttons {
		switch b.Slot {
		case slotLoop:
			name := b.Name
			if name == "" {
				name = filepath.Base(b.File)
			}
			m.Keys[b.Key] = gesture.Slot{Kind: gesture.SlotLoopToggle, Name: name, URI: mediaURL(loopsPrefix, b.File)}
		case slotPodcast:
			name := b.Name
			if name == "" {
				name = names[b.Feed]
			}
			m.Keys[b.Key] = gesture.Slot{Kind: gesture.SlotPodcastAdvance, Name: name, Feed: b.Feed}
		case slotStream:
			m.Keys[b.Key] = gesture.Slot{Kind: gesture.SlotStreamPlay, Name: b.Name, URI: b.URI}
		}
	}
	return m
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
