package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/r/streamdeck-podcastplayer/internal/render"
)

// ============================================================================
// sonosdeck-ctl - command-line IPC client
// ============================================================================
// Sends one event to the sonosdeck daemon and prints the reply.
//
// Usage:
//   sonosdeck-ctl vol +5
//   sonosdeck-ctl seek -30
//   sonosdeck-ctl key 2
//   sonosdeck-ctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/sonosdeck.sock)
// ============================================================================

const defaultSocket = "/tmp/sonosdeck.sock"

// request is one IPC line. Wire names match the daemon's envelope.
type request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// stateView is the subset of the daemon snapshot the status command prints.
type stateView struct {
	SpeakerKnown  bool   `json:"speaker_known"`
	Volume        int    `json:"volume"`
	VolumeKnown   bool   `json:"volume_known"`
	Brightness    int    `json:"brightness"`
	Status        string `json:"status"`
	Position      int    `json:"position"`
	Duration      int    `json:"duration"`
	DurationKnown bool   `json:"duration_known"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Album         string `json:"album"`
	Source        string `json:"source"`
	LoopActive    bool   `json:"loop_active"`
}

type response struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	State  *stateView `json:"state,omitempty"`
}

func main() {
	socketPath := defaultSocket

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		os.Exit(0)
	}

	req, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	resp, err := send(socketPath, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if resp.State != nil {
		printState(*resp.State)
		return
	}
	fmt.Println("ok")
}

// parseCommand turns command-line words into a request.
func parseCommand(args []string) (request, error) {
	intArg := func(name string) (int, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("%s requires a number", name)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, fmt.Errorf("%s: invalid number %q", name, args[1])
		}
		return n, nil
	}

	switch args[0] {
	case "vol", "volume":
		n, err := intArg(args[0])
		if err != nil {
			return request{}, err
		}
		return withData("adjust_volume", map[string]int{"delta": n})

	case "bright", "brightness":
		n, err := intArg(args[0])
		if err != nil {
			return request{}, err
		}
		return withData("adjust_brightness", map[string]int{"delta": n})

	case "seek":
		n, err := intArg(args[0])
		if err != nil {
			return request{}, err
		}
		return withData("seek", map[string]int{"seconds": n})

	case "next":
		return withData("skip", map[string]int{"direction": 1})

	case "prev", "previous":
		return withData("skip", map[string]int{"direction": -1})

	case "toggle", "play", "pause":
		return request{Type: "toggle_play_pause"}, nil

	case "key":
		n, err := intArg(args[0])
		if err != nil {
			return request{}, err
		}
		return withData("press_key", map[string]int{"key": n})

	case "dial":
		// dial <n> push | dial <n> <steps>
		if len(args) < 3 {
			return request{}, fmt.Errorf("dial requires an index and 'push' or a step count")
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			return request{}, fmt.Errorf("dial: invalid index %q", args[1])
		}
		if args[2] == "push" {
			return withData("push_dial", map[string]int{"dial": idx})
		}
		steps, err := strconv.Atoi(args[2])
		if err != nil || steps == 0 {
			return request{}, fmt.Errorf("dial: invalid step count %q", args[2])
		}
		return withData("turn_dial", map[string]int{"dial": idx, "steps": steps})

	case "refresh":
		return request{Type: "refresh"}, nil

	case "status":
		return request{Type: "get_state"}, nil

	default:
		return request{}, fmt.Errorf("unknown command: %s", args[0])
	}
}

func withData(typ string, data any) (request, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return request{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return request{Type: typ, Data: raw}, nil
}

func send(socketPath string, req request) (response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return response{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return response{}, fmt.Errorf("send request: %w", err)
	}

	var resp response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}

func printState(s stateView) {
	if !s.SpeakerKnown {
		fmt.Println("speaker:    not reachable yet")
	} else {
		fmt.Printf("status:     %s (%s)\n", s.Status, s.Source)
		if s.Title != "" {
			fmt.Printf("title:      %s\n", s.Title)
		}
		if sub := firstNonEmpty(s.Artist, s.Album); sub != "" {
			fmt.Printf("            %s\n", sub)
		}
		dur := "—"
		if s.DurationKnown {
			dur = render.FormatTime(s.Duration)
		}
		fmt.Printf("position:   %s / %s\n", render.FormatTime(s.Position), dur)
	}
	if s.VolumeKnown {
		fmt.Printf("volume:     %d%%\n", s.Volume)
	} else {
		fmt.Println("volume:     unknown")
	}
	fmt.Printf("brightness: %d%%\n", s.Brightness)
	if s.LoopActive {
		fmt.Println("loop:       on")
	}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `sonosdeck-ctl - Control the sonosdeck daemon via IPC

Usage:
  sonosdeck-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)

Commands:
  vol <delta>              Change volume by delta percent (e.g. +5, -3)
  bright <delta>           Change surface brightness by delta percent
  seek <seconds>           Seek relative to the current position
  next, prev               Skip track (or episode)
  toggle                   Play/pause
  key <n>                  Press key n (0-7)
  dial <n> push            Push dial n (0-3)
  dial <n> <steps>         Turn dial n by steps
  refresh                  Poll the speaker now
  status                   Print the daemon's current state
  help, -h, --help         Show this help message

Examples:
  sonosdeck-ctl vol -5
  sonosdeck-ctl key 0
  sonosdeck-ctl -socket /run/sonosdeck.sock status
`, defaultSocket)
}
