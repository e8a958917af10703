package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"golang.org/x/sync/errgroup"

	"github.com/r/streamdeck-podcastplayer/internal/deck"
	"github.com/r/streamdeck-podcastplayer/internal/dispatch"
	"github.com/r/streamdeck-podcastplayer/internal/fileserver"
	"github.com/r/streamdeck-podcastplayer/internal/gesture"
	"github.com/r/streamdeck-podcastplayer/internal/podcast"
	"github.com/r/streamdeck-podcastplayer/internal/render"
	"github.com/r/streamdeck-podcastplayer/internal/sonos"
	"github.com/r/streamdeck-podcastplayer/internal/store"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("sonosdeck v%s\n", version)
	fmt.Println("Stream Deck+ control surface for a Sonos speaker")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  sonosdeck [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        YAML config file (default: $XDG_CONFIG_HOME/sonosdeck/config.yaml if present)")
	fmt.Println()
	fmt.Println("  -speaker-host string")
	fmt.Println("        Speaker address; skips discovery")
	fmt.Println()
	fmt.Println("  -speaker-name string")
	fmt.Println("        Room name to discover when no host is set")
	fmt.Println()
	fmt.Println("  -device string")
	fmt.Println("        hidraw node of the Stream Deck+ (default: autodetect)")
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Println("        Port the speaker fetches local media from (default 8000)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/sonosdeck.sock\")")
	fmt.Println()
	fmt.Println("  -status-port int")
	fmt.Println("        Status websocket port, 0 disables (default 3001)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read/write access to the hidraw node (udev rule or 'plugdev' group)")
	fmt.Println("  - The speaker must be able to reach this host on -http-port")
	fmt.Println()
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "YAML config file")
		speakerHost = flag.String("speaker-host", "", "Speaker address (skips discovery)")
		speakerName = flag.String("speaker-name", "", "Room name to discover")
		device      = flag.String("device", "", "hidraw node of the Stream Deck+ (empty: autodetect)")
		httpPort    = flag.Int("http-port", 0, "Port the speaker fetches local media from")
		ipcSocket   = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		statusPort  = flag.Int("status-port", 0, "Status websocket port (0 disables)")
		logLevelStr = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return 0
	}
	if *showVersion {
		printVersion()
		return 0
	}

	// Only flags given on the command line override the file.
	var ov FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "speaker-host":
			ov.SpeakerHost = speakerHost
		case "speaker-name":
			ov.SpeakerName = speakerName
		case "device":
			ov.Device = device
		case "http-port":
			ov.HTTPPort = httpPort
		case "ipc-socket":
			ov.IPCSocket = ipcSocket
		case "status-port":
			ov.StatusPort = statusPort
		case "log-level":
			ov.LogLevel = logLevelStr
		}
	})

	cfg, cfgFile, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	ov.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		return 1
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	logger := setupLogger(logLevel)
	logger.Debug("starting sonosdeck", "version", version, "config_file", cfgFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runApp(ctx, cfg, logger); err != nil {
		if errors.Is(err, deck.ErrDisconnected) {
			logger.Error("control surface lost, exiting", "error", err)
		} else {
			logger.Error("sonosdeck failed", "error", err)
		}
		return 1
	}
	logger.Info("shut down")
	return 0
}

// loadConfig reads path, or the XDG default when path is empty and the file
// exists. It returns the file actually used ("" for built-in defaults).
func loadConfig(path string) (Config, string, error) {
	if path == "" {
		found, err := xdg.SearchConfigFile(filepath.Join("sonosdeck", "config.yaml"))
		if err != nil {
			return DefaultConfig(), "", nil
		}
		path = found
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// runApp wires the collaborators and runs until ctx is canceled or something
// fatal happens.
func runApp(ctx context.Context, cfg Config, logger *slog.Logger) error {
	host := cfg.Speaker.Host
	if host == "" {
		sp, err := sonos.Discover(ctx, cfg.Speaker.Name,
			time.Duration(cfg.Speaker.DiscoveryTimeoutMS)*time.Millisecond, logger)
		if err != nil {
			return fmt.Errorf("discover %q: %w", cfg.Speaker.Name, err)
		}
		logger.Info("speaker discovered", "room", sp.RoomName, "host", sp.Host, "model", sp.Model)
		host = sp.Host
	}

	client, err := sonos.NewClient(host, logger, cfg.SpeakerTimeout())
	if err != nil {
		return fmt.Errorf("speaker client: %w", err)
	}

	positions, err := store.Open(ExpandPath(cfg.State.DBPath))
	if err != nil {
		return fmt.Errorf("open position store: %w", err)
	}
	defer positions.Close()
	if n, err := positions.Prune(ctx, positionMaxAge); err != nil {
		logger.Warn("prune positions failed", "error", err)
	} else if n > 0 {
		logger.Info("pruned stale resume positions", "count", n)
	}

	podcastsRoot := ExpandPath(cfg.Podcasts.Root)
	loopsRoot := ExpandPath(cfg.Loops.Root)
	media, err := fileserver.New(cfg.HTTP.Port, cfg.HTTP.AdvertiseHost, host, podcastsRoot, loopsRoot, logger)
	if err != nil {
		return err
	}
	mapping := cfg.Mapping(media.URL, fileserver.LoopsPrefix)

	theme, err := render.ParseTheme(cfg.themeHex())
	if err != nil {
		return err
	}
	comp, err := render.NewCompositor(theme, ExpandPath(cfg.Theme.FontPath))
	if err != nil {
		return fmt.Errorf("compositor: %w", err)
	}

	dev, err := deck.Open(cfg.Deck.Device, logger)
	if err != nil {
		return fmt.Errorf("open control surface: %w", err)
	}
	defer dev.Close()
	if err := dev.Reset(); err != nil {
		logger.Warn("surface reset failed", "error", err)
	}
	if err := dev.SetBrightness(cfg.Deck.Brightness); err != nil {
		logger.Warn("set brightness failed", "error", err)
	}

	fx := &effects{
		exec: &dispatch.Executor{
			Speaker:   client,
			Surface:   dev,
			Positions: positions,
			Timeout:   cfg.SpeakerTimeout(),
			Logger:    logger,
		},
		reader:  sonos.NewReader(client, cfg.FeedNames(), logger),
		volume:  client,
		surface: dev,
		comp:    comp,
		keys:    keyBindings(cfg, mapping, logger),
		timeout: cfg.SpeakerTimeout(),
		logger:  logger,
	}

	events := make(chan Event, eventQueueSize)
	inputs := make(chan deck.Input, eventQueueSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return dev.Run(gctx, inputs) })
	g.Go(func() error { return forwardInputs(gctx, inputs, events, logger) })
	g.Go(func() error { return media.Run(gctx) })
	g.Go(func() error { return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger) })

	if feeds := cfg.FeedSlugs(); len(feeds) > 0 {
		updates := make(chan podcast.Update, len(feeds))
		w := podcast.NewWatcher(podcastsRoot, feeds, logger)
		g.Go(func() error { return w.Run(gctx, updates) })
		g.Go(func() error {
			return forwardCatalog(gctx, updates, events, func(rel string) string {
				return media.URL(fileserver.PodcastsPrefix, rel)
			})
		})
	}

	var broadcasts chan StateBroadcast
	if cfg.Status.Port != 0 {
		broadcasts = make(chan StateBroadcast, broadcastQueue)
		status := NewStatusServer(logger, events, HubConfig{})
		g.Go(func() error { status.Hub().Run(gctx); return nil })
		g.Go(func() error { RunBroadcaster(gctx, status.Hub(), broadcasts, logger); return nil })
		g.Go(func() error { return runStatusServer(gctx, cfg.Status.Port, status, logger) })
	}

	g.Go(func() error {
		return runDaemon(gctx, events, NewDaemonState(cfg.Deck.Brightness), loopDeps{
			fx:           fx,
			mapping:      mapping,
			pollInterval: cfg.PollInterval(),
			broadcasts:   broadcasts,
			logger:       logger,
		})
	})

	logger.Info("listening",
		"speaker", host,
		"surface", dev.Path(),
		"media", media.BaseURL(),
		"ipc", cfg.IPC.SocketPath,
		"status_port", cfg.Status.Port,
		"keys", fx.keyList(),
		"poll_interval", cfg.PollInterval())

	err = g.Wait()

	if cfg.Speaker.PauseOnExit {
		pctx, cancel := context.WithTimeout(context.Background(), cfg.SpeakerTimeout())
		if perr := client.Pause(pctx); perr != nil {
			logger.Warn("pause on exit failed", "error", perr)
		}
		cancel()
	}
	return err
}

// keyBindings resolves what each configured key shows. Icon failures fall back to
// the text label.
func keyBindings(cfg Config, m gesture.Mapping, logger *slog.Logger) map[int]keyBinding {
	out := make(map[int]keyBinding, len(cfg.Deck.Buttons))
	for _, b := range cfg.Deck.Buttons {
		slot := m.Keys[b.Key]
		kb := keyBinding{Face: render.KeyFace{Label: slot.Name}}
		if slot.Kind == gesture.SlotLoopToggle {
			kb.LoopURI = slot.URI
		}

		icon := b.Icon
		if icon == "" && b.Slot == slotPodcast {
			icon = cfg.Podcasts.Feeds[b.Feed].Icon
		}
		if icon != "" {
			img, err := render.LoadIcon(ExpandPath(icon))
			if err != nil {
				logger.Warn("key icon unavailable, using label", "key", b.Key, "error", err)
			} else {
				kb.Face.Icon = img
			}
		}
		out[b.Key] = kb
	}
	return out
}
