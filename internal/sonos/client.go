// Package sonos talks to a Sonos speaker over its local UPnP control API.
package sonos

import (
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
	"strconv"
	"strings"
	"time"

	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

const (
	defaultPort    = 1400
	defaultTimeout = 1500 * time.Millisecond
)

type service struct {
	urn     string
	control string
}

var (
	avTransport = service{
		urn:     "urn:schemas-upnp-org:service:AVTransport:1",
		control: "/MediaRenderer/AVTransport/Control",
	}
	renderingControl = service{
		urn:     "urn:schemas-upnp-org:service:RenderingControl:1",
		control: "/MediaRenderer/RenderingControl/Control",
	}
)

// UPnPError is a SOAP fault returned by the speaker. It classifies as
// playback.ErrDispatchRejected.
type UPnPError struct {
	Action      string
	Code        int
	Description string
}

func (e *UPnPError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: upnp error %d (%s)", e.Action, e.Code, e.Description)
	}
	return fmt.Sprintf("%s: upnp error %d", e.Action, e.Code)
}

func (e *UPnPError) Unwrap() error { return playback.ErrDispatchRejected }

// Client issues SOAP actions against one speaker.
// It is safe for concurrent use; every call is bounded by the client timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
}

// NewClient creates a client for host, which may be "ip", "ip:port" or a full
// "http://ip:port" base URL.
func NewClient(host string, logger *slog.Logger, timeout time.Duration) (*Client, error) {
	if host == "" {
		return nil, errors.New("sonos: empty host")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	base := host
	if !strings.Contains(host, "://") {
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, strconv.Itoa(defaultPort))
		}
		base = "http://" + host
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid speaker address: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid speaker address: %q", host)
	}

	return &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		timeout:    timeout,
	}, nil
}

// BaseURL returns the speaker's control base URL.
func (c *Client) BaseURL() string { return c.baseURL }

type argument struct {
	name  string
	value string
}

type soapEnvelope struct {
	Body struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

type soapResponse struct {
	XMLName xml.Name
	Args    []struct {
		XMLName xml.Name
		Value   string `xml:",chardata"`
	} `xml:",any"`
}

type soapFault struct {
	Body struct {
		Fault struct {
			FaultString string `xml:"faultstring"`
			Detail      struct {
				UPnPError struct {
					ErrorCode        int    `xml:"errorCode"`
					ErrorDescription string `xml:"errorDescription"`
				} `xml:"UPnPError"`
			} `xml:"detail"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

func buildEnvelope(svc service, action string, args []argument) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`)
	fmt.Fprintf(&b, `<u:%s xmlns:u="%s">`, action, svc.urn)
	for _, a := range args {
		fmt.Fprintf(&b, "<%s>", a.name)
		_ = xml.EscapeText(&b, []byte(a.value))
		fmt.Fprintf(&b, "</%s>", a.name)
	}
	fmt.Fprintf(&b, `</u:%s></s:Body></s:Envelope>`, action)
	return b.Bytes()
}

// call performs one SOAP action and returns its output arguments by name.
func (c *Client) call(ctx context.Context, svc service, action string, args []argument) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+svc.control, bytes.NewReader(buildEnvelope(svc, action, args)))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", action, err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, svc.urn, action))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", action, playback.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w: %w", action, playback.ErrRemoteUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var f soapFault
		if xml.Unmarshal(body, &f) == nil && f.Body.Fault.Detail.UPnPError.ErrorCode != 0 {
			return nil, &UPnPError{
				Action:      action,
				Code:        f.Body.Fault.Detail.UPnPError.ErrorCode,
				Description: f.Body.Fault.Detail.UPnPError.ErrorDescription,
			}
		}
		return nil, fmt.Errorf("%s: HTTP %d: %w", action, resp.StatusCode, playback.ErrRemoteUnavailable)
	}

	var env soapEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%s: parse envelope: %w: %w", action, playback.ErrMalformedRemoteData, err)
	}
	var out soapResponse
	if len(bytes.TrimSpace(env.Body.Inner)) > 0 {
		if err := xml.Unmarshal(env.Body.Inner, &out); err != nil {
			return nil, fmt.Errorf("%s: parse response: %w: %w", action, playback.ErrMalformedRemoteData, err)
		}
	}

	values := make(map[string]string, len(out.Args))
	for _, a := range out.Args {
		values[a.XMLName.Local] = a.Value
	}

	c.logger.Debug("sonos call", "action", action, "values", len(values))
	return values, nil
}

var instance0 = argument{"InstanceID", "0"}

// TransportInfo is the subset of GetTransportInfo we use.
type TransportInfo struct {
	State string // PLAYING, PAUSED_PLAYBACK, STOPPED, TRANSITIONING, NO_MEDIA_PRESENT
}

// GetTransportInfo returns the raw transport state string.
func (c *Client) GetTransportInfo(ctx context.Context) (TransportInfo, error) {
	v, err := c.call(ctx, avTransport, "GetTransportInfo", []argument{instance0})
	if err != nil {
		return TransportInfo{}, fmt.Errorf("get transport info: %w", err)
	}
	return TransportInfo{State: v["CurrentTransportState"]}, nil
}

// PositionInfo holds the raw GetPositionInfo fields. Time fields are left as
// strings; parsing them is the reader's job.
type PositionInfo struct {
	Track    string
	Duration string
	Metadata string
	URI      string
	RelTime  string
}

// GetPositionInfo returns the raw position fields.
func (c *Client) GetPositionInfo(ctx context.Context) (PositionInfo, error) {
	v, err := c.call(ctx, avTransport, "GetPositionInfo", []argument{instance0})
	if err != nil {
		return PositionInfo{}, fmt.Errorf("get position info: %w", err)
	}
	return PositionInfo{
		Track:    v["Track"],
		Duration: v["TrackDuration"],
		Metadata: v["TrackMetaData"],
		URI:      v["TrackURI"],
		RelTime:  v["RelTime"],
	}, nil
}

// Volume returns the master volume (0-100).
func (c *Client) Volume(ctx context.Context) (int, error) {
	v, err := c.call(ctx, renderingControl, "GetVolume", []argument{instance0, {"Channel", "Master"}})
	if err != nil {
		return 0, fmt.Errorf("get volume: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v["CurrentVolume"]))
	if err != nil || n < 0 || n > 100 {
		return 0, fmt.Errorf("get volume: %w: %q", playback.ErrMalformedRemoteData, v["CurrentVolume"])
	}
	return n, nil
}

// SetVolume sets the master volume (0-100).
func (c *Client) SetVolume(ctx context.Context, volume int) error {
	_, err := c.call(ctx, renderingControl, "SetVolume", []argument{
		instance0,
		{"Channel", "Master"},
		{"DesiredVolume", strconv.Itoa(volume)},
	})
	if err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	return nil
}

// Play resumes or starts the current transport URI.
func (c *Client) Play(ctx context.Context) error {
	if _, err := c.call(ctx, avTransport, "Play", []argument{instance0, {"Speed", "1"}}); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context) error {
	if _, err := c.call(ctx, avTransport, "Pause", []argument{instance0}); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

// Seek moves to an absolute position in the current track.
func (c *Client) Seek(ctx context.Context, seconds int) error {
	_, err := c.call(ctx, avTransport, "Seek", []argument{
		instance0,
		{"Unit", "REL_TIME"},
		{"Target", playback.FormatSeekTarget(seconds)},
	})
	if err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// Next skips to the next queue item.
func (c *Client) Next(ctx context.Context) error {
	if _, err := c.call(ctx, avTransport, "Next", []argument{instance0}); err != nil {
		return fmt.Errorf("next: %w", err)
	}
	return nil
}

// Previous skips to the previous queue item.
func (c *Client) Previous(ctx context.Context) error {
	if _, err := c.call(ctx, avTransport, "Previous", []argument{instance0}); err != nil {
		return fmt.Errorf("previous: %w", err)
	}
	return nil
}

// SetRepeat switches between repeat-all and normal play mode.
func (c *Client) SetRepeat(ctx context.Context, repeat bool) error {
	mode := "NORMAL"
	if repeat {
		mode = "REPEAT_ALL"
	}
	if _, err := c.call(ctx, avTransport, "SetPlayMode", []argument{instance0, {"NewPlayMode", mode}}); err != nil {
		return fmt.Errorf("set play mode: %w", err)
	}
	return nil
}

// PlayURI replaces the transport URI and starts playback. title, when set, is
// sent as DIDL-Lite metadata so the speaker reports it back in GetPositionInfo.
func (c *Client) PlayURI(ctx context.Context, uri, title string) error {
	_, err := c.call(ctx, avTransport, "SetAVTransportURI", []argument{
		instance0,
		{"CurrentURI", uri},
		{"CurrentURIMetaData", trackMetadata(uri, title)},
	})
	if err != nil {
		return fmt.Errorf("set transport uri: %w", err)
	}
	return c.Play(ctx)
}
