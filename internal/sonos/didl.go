package sonos

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

// didlLite is the DIDL-Lite document carried in TrackMetaData.
type didlLite struct {
	Items []didlItem `xml:"item"`
}

type didlItem struct {
	Title         string `xml:"title"`
	Creator       string `xml:"creator"`
	Album         string `xml:"album"`
	StreamContent string `xml:"streamContent"`
}

// trackMeta is the metadata the reader cares about.
type trackMeta struct {
	Title  string
	Artist string
	Album  string
}

// parseTrackMetadata decodes TrackMetaData. ok is false when the document is
// present but unparseable; an empty or NOT_IMPLEMENTED field is not an error.
func parseTrackMetadata(raw string) (trackMeta, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "NOT_IMPLEMENTED" {
		return trackMeta{}, true
	}

	var d didlLite
	if err := xml.Unmarshal([]byte(raw), &d); err != nil {
		return trackMeta{}, false
	}
	if len(d.Items) == 0 {
		return trackMeta{}, true
	}
	it := d.Items[0]

	m := trackMeta{
		Title:  strings.TrimSpace(it.Title),
		Artist: strings.TrimSpace(it.Creator),
		Album:  strings.TrimSpace(it.Album),
	}

	// Radio streams put "Artist - Song" (or a station message) in streamContent
	// and often a URI-looking string in the title.
	if sc := strings.TrimSpace(it.StreamContent); sc != "" {
		station := m.Title
		if looksLikeURI(station) {
			station = ""
		}
		if artist, song, found := strings.Cut(sc, " - "); found && m.Artist == "" {
			m.Artist = strings.TrimSpace(artist)
			m.Title = strings.TrimSpace(song)
		} else {
			m.Title = sc
		}
		if m.Album == "" {
			m.Album = station
		}
	} else if looksLikeURI(m.Title) {
		m.Title = ""
	}
	return m, true
}

func looksLikeURI(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "x-")
}

// trackMetadata builds the DIDL-Lite sent with SetAVTransportURI.
func trackMetadata(uri, title string) string {
	if title == "" {
		return ""
	}
	class := "object.item.audioItem.musicTrack"
	if kind, _ := classifySource(uri); kind == playback.SourceStream {
		class = "object.item.audioItem.audioBroadcast"
	}

	var b bytes.Buffer
	b.WriteString(`<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns:r="urn:schemas-rinconnetworks-com:metadata-1-0/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">`)
	b.WriteString(`<item id="R:0/0/0" parentID="R:0/0" restricted="true"><dc:title>`)
	_ = xml.EscapeText(&b, []byte(title))
	b.WriteString(`</dc:title><upnp:class>`)
	b.WriteString(class)
	b.WriteString(`</upnp:class></item></DIDL-Lite>`)
	return b.String()
}
