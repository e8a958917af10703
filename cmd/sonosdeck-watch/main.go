package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattn/go-runewidth"

	"github.com/r/streamdeck-podcastplayer/internal/render"
)

// frame is the status websocket envelope.
type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type snapshot struct {
	SpeakerKnown  bool   `json:"speaker_known"`
	Volume        int    `json:"volume"`
	VolumeKnown   bool   `json:"volume_known"`
	Status        string `json:"status"`
	Position      int    `json:"position"`
	Duration      int    `json:"duration"`
	DurationKnown bool   `json:"duration_known"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Album         string `json:"album"`
	LoopActive    bool   `json:"loop_active"`
}

type commandFailed struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3001/ws", "sonosdeck status websocket URL")
		width = flag.Int("width", 40, "Terminal cells for the title column")
		raw   = flag.Bool("raw", false, "Print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	// The daemon pings every 20s.
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if *raw {
				fmt.Println(string(message))
				continue
			}
			fmt.Println(formatFrame(message, *width))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatFrame renders one frame as a single line.
func formatFrame(message []byte, width int) string {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		return "[TEXT] " + string(message)
	}

	stamp := "--:--:--"
	if f.Ts != nil {
		stamp = f.Ts.Local().Format("15:04:05")
	}

	switch f.Type {
	case "state_init", "state_changed":
		var s snapshot
		if err := json.Unmarshal(f.Data, &s); err != nil {
			return fmt.Sprintf("%s [%s] undecodable: %v", stamp, f.Type, err)
		}
		return stamp + " " + formatSnapshot(s, width)

	case "command_failed":
		var c commandFailed
		if err := json.Unmarshal(f.Data, &c); err != nil {
			return fmt.Sprintf("%s [%s] undecodable: %v", stamp, f.Type, err)
		}
		return fmt.Sprintf("%s FAILED %s: %s", stamp, c.Command, c.Error)

	default:
		return fmt.Sprintf("%s [%s] %s", stamp, f.Type, string(f.Data))
	}
}

func formatSnapshot(s snapshot, width int) string {
	if !s.SpeakerKnown {
		return "speaker not reachable"
	}

	title := s.Title
	if s.Artist != "" && s.Artist != s.Title {
		title += " - " + s.Artist
	} else if s.Album != "" && s.Album != s.Title {
		title += " - " + s.Album
	}
	// Pad so the time column lines up across frames.
	title = runewidth.FillRight(render.TruncateCells(title, width), width)

	dur := "—"
	if s.DurationKnown {
		dur = render.FormatTime(s.Duration)
	}
	vol := "?"
	if s.VolumeKnown {
		vol = fmt.Sprintf("%d%%", s.Volume)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-7s %s  %s / %s  vol %s", s.Status, title, render.FormatTime(s.Position), dur, vol)
	if s.LoopActive {
		b.WriteString("  [loop]")
	}
	return b.String()
}
