package sonos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

// Reader reads one normalized playback.State per call.
type Reader struct {
	client *Client
	logger *slog.Logger

	// feedNames maps podcast slugs to display names; used when the speaker
	// reports no album for a podcast episode.
	feedNames map[string]string
}

// NewReader wraps a client. feedNames may be nil.
func NewReader(client *Client, feedNames map[string]string, logger *slog.Logger) *Reader {
	return &Reader{client: client, feedNames: feedNames, logger: logger}
}

// Read queries transport and position info and returns a normalized state.
//
// Unparseable fields degrade to unknown and are logged; only a failed call
// fails the read, and that error always wraps playback.ErrRemoteUnavailable so
// the caller keeps its previous state.
func (r *Reader) Read(ctx context.Context) (playback.State, error) {
	ti, err := r.client.GetTransportInfo(ctx)
	if err != nil {
		return playback.State{}, unavailable(err)
	}
	pi, err := r.client.GetPositionInfo(ctx)
	if err != nil {
		return playback.State{}, unavailable(err)
	}
	return r.decode(ti, pi), nil
}

func unavailable(err error) error {
	if isUnavailable(err) {
		return err
	}
	return fmt.Errorf("read playback: %w: %w", playback.ErrRemoteUnavailable, err)
}

func isUnavailable(err error) bool {
	return errors.Is(err, playback.ErrRemoteUnavailable)
}

func (r *Reader) decode(ti TransportInfo, pi PositionInfo) playback.State {
	var st playback.State

	switch strings.TrimSpace(ti.State) {
	case "PLAYING", "TRANSITIONING":
		st.Status = playback.StatusPlaying
	case "PAUSED_PLAYBACK", "PAUSED":
		st.Status = playback.StatusPaused
	case "STOPPED", "NO_MEDIA_PRESENT":
		st.Status = playback.StatusStopped
	default:
		r.malformed("CurrentTransportState", ti.State)
		st.Status = playback.StatusStopped
	}

	if pos, ok := playback.ParseClock(pi.RelTime); ok {
		st.Position = pos
	} else if !placeholder(pi.RelTime) {
		r.malformed("RelTime", pi.RelTime)
	}

	if dur, ok := playback.ParseClock(pi.Duration); ok && dur > 0 {
		st.Duration = dur
		st.DurationKnown = true
	} else if !ok && !placeholder(pi.Duration) {
		r.malformed("TrackDuration", pi.Duration)
	}

	meta, ok := parseTrackMetadata(pi.Metadata)
	if !ok {
		r.malformed("TrackMetaData", truncateForLog(pi.Metadata))
	}
	st.Title = meta.Title
	st.Artist = meta.Artist
	st.Album = meta.Album

	st.URI = pi.URI
	st.Source, st.Feed = classifySource(pi.URI)

	if st.Source == playback.SourcePodcast && st.Album == "" {
		st.Album = r.feedNames[st.Feed]
	}
	if st.Title == "" && st.Source != playback.SourceLineIn {
		st.Title = titleFromURI(pi.URI)
	}

	return st.Normalize()
}

func (r *Reader) malformed(field, value string) {
	r.logger.Warn("speaker returned unparseable field",
		"error", playback.ErrMalformedRemoteData,
		"field", field,
		"value", value)
}

// placeholder reports values the speaker uses for "no value" rather than garbage.
func placeholder(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "NOT_IMPLEMENTED"
}

func truncateForLog(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var streamPrefixes = []string{
	"x-rincon-mp3radio:",
	"x-sonosapi-stream:",
	"x-sonosapi-radio:",
	"x-sonosapi-hls:",
	"x-sonosapi-hls-static:",
	"aac:",
	"hls-radio:",
}

var lineInPrefixes = []string{
	"x-rincon-stream:",
	"x-sonos-htastream:",
}

var filePrefixes = []string{
	"http:",
	"https:",
	"x-file-cifs:",
	"x-sonos-spotify:",
	"x-sonos-http:",
}

// classifySource derives the source kind from a track URI. For podcast episodes
// served by the local file server ("/podcasts/<feed>/...") the feed slug is
// returned as well.
func classifySource(uri string) (playback.SourceKind, string) {
	u := strings.ToLower(strings.TrimSpace(uri))
	if u == "" {
		return playback.SourceUnknown, ""
	}
	for _, p := range streamPrefixes {
		if strings.HasPrefix(u, p) {
			return playback.SourceStream, ""
		}
	}
	for _, p := range lineInPrefixes {
		if strings.HasPrefix(u, p) {
			return playback.SourceLineIn, ""
		}
	}
	if feed := podcastFeed(uri); feed != "" {
		return playback.SourcePodcast, feed
	}
	for _, p := range filePrefixes {
		if strings.HasPrefix(u, p) {
			return playback.SourceFile, ""
		}
	}
	return playback.SourceUnknown, ""
}

// podcastFeed extracts <feed> from ".../podcasts/<feed>/<file>".
func podcastFeed(uri string) string {
	path := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		path = u.Path
	}
	_, rest, found := strings.Cut(path, "/podcasts/")
	if !found {
		return ""
	}
	feed, file, found := strings.Cut(rest, "/")
	if !found || feed == "" || file == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(feed); err == nil {
		feed = unescaped
	}
	return feed
}

// titleFromURI falls back to the file name when no metadata is reported.
func titleFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Path == "" {
		return ""
	}
	name := u.Path[strings.LastIndexByte(u.Path, '/')+1:]
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}
