package sonos

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ssdpAddr   = "239.255.255.250:1900"
	ssdpTarget = "urn:schemas-upnp-org:device:ZonePlayer:1"
)

// ErrSpeakerNotFound is returned when discovery finishes without a room match.
var ErrSpeakerNotFound = errors.New("speaker not found")

// Speaker is one discovered zone player.
type Speaker struct {
	Host     string // host:port of the control endpoint
	RoomName string
	Model    string
}

type deviceDescription struct {
	Device struct {
		RoomName  string `xml:"roomName"`
		ModelName string `xml:"modelName"`
	} `xml:"device"`
}

func searchRequest(mx int) []byte {
	var b bytes.Buffer
	b.WriteString("M-SEARCH * HTTP/1.1\r\n")
	fmt.Fprintf(&b, "HOST: %s\r\n", ssdpAddr)
	b.WriteString("MAN: \"ssdp:discover\"\r\n")
	fmt.Fprintf(&b, "MX: %d\r\n", mx)
	fmt.Fprintf(&b, "ST: %s\r\n\r\n", ssdpTarget)
	return b.Bytes()
}

// parseLocation extracts the LOCATION header from an SSDP response datagram.
func parseLocation(datagram []byte) (string, bool) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(datagram)), nil)
	if err != nil {
		return "", false
	}
	resp.Body.Close()
	loc := resp.Header.Get("Location")
	return loc, loc != ""
}

// Discover multicasts an M-SEARCH and returns the first zone player whose room
// name matches name (case-insensitive). It gives up after timeout.
func Discover(ctx context.Context, name string, timeout time.Duration, logger *slog.Logger) (Speaker, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return Speaker{}, fmt.Errorf("ssdp listen: %w", err)
	}
	defer conn.Close()

	dst, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return Speaker{}, fmt.Errorf("ssdp resolve: %w", err)
	}
	if _, err := conn.WriteTo(searchRequest(1), dst); err != nil {
		return Speaker{}, fmt.Errorf("ssdp send: %w", err)
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)

	seen := make(map[string]bool)
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return Speaker{}, fmt.Errorf("ssdp read: %w", err)
		}

		loc, ok := parseLocation(buf[:n])
		if !ok || seen[loc] {
			continue
		}
		seen[loc] = true

		sp, err := describe(ctx, loc)
		if err != nil {
			logger.Debug("device description failed", "location", loc, "error", err)
			continue
		}
		logger.Debug("found speaker", "room", sp.RoomName, "host", sp.Host, "model", sp.Model)
		if strings.EqualFold(sp.RoomName, name) {
			return sp, nil
		}
	}
	return Speaker{}, fmt.Errorf("%w: room %q", ErrSpeakerNotFound, name)
}

// describe fetches a device description and resolves the control host.
func describe(ctx context.Context, location string) (Speaker, error) {
	u, err := url.Parse(location)
	if err != nil {
		return Speaker{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return Speaker{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Speaker{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Speaker{}, fmt.Errorf("device description: HTTP %d", resp.StatusCode)
	}

	var d deviceDescription
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&d); err != nil {
		return Speaker{}, fmt.Errorf("device description: %w", err)
	}
	return Speaker{
		Host:     u.Host,
		RoomName: strings.TrimSpace(d.Device.RoomName),
		Model:    d.Device.ModelName,
	}, nil
}
