// Package render draws the touchscreen strip and key images.
//
// Everything here is a pure function of its inputs: the same ControlState always
// produces the same pixels.
package render

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/r/streamdeck-podcastplayer/internal/playback"
)

// Touchscreen strip geometry (Stream Deck+).
const (
	Width  = 800
	Height = 100

	fontSizeLarge = 26
	fontSizeSmall = 15

	pad       = 14
	barHeight = 10
	barY      = Height - pad - barHeight
)

// Unknown duration placeholder in the transport readout.
const durationPlaceholder = "—"

// Region is one fixed rectangle of the strip.
type Region struct {
	Name string
	Rect image.Rectangle
}

var (
	RegionVolume    = Region{"volume", image.Rect(0, 0, 200, Height)}
	RegionTransport = Region{"transport", image.Rect(200, 0, 400, Height)}
	RegionMetadata  = Region{"metadata", image.Rect(400, 0, 800, Height)}
)

// Regions lists the strip regions left to right.
func Regions() []Region {
	return []Region{RegionVolume, RegionTransport, RegionMetadata}
}

// Compositor renders ControlState snapshots. Faces are built once so output is
// stable; a Compositor is not safe for concurrent use.
type Compositor struct {
	theme Theme
	large font.Face
	small font.Face
}

// NewCompositor loads fonts. An empty fontPath uses the embedded Go Regular face.
func NewCompositor(theme Theme, fontPath string) (*Compositor, error) {
	large, err := loadFace(fontPath, fontSizeLarge)
	if err != nil {
		return nil, err
	}
	small, err := loadFace(fontPath, fontSizeSmall)
	if err != nil {
		return nil, err
	}
	return &Compositor{theme: theme, large: large, small: small}, nil
}

func loadFace(path string, size float64) (font.Face, error) {
	if path != "" {
		face, err := gg.LoadFontFace(path, size)
		if err != nil {
			return nil, fmt.Errorf("load font %s: %w", path, err)
		}
		return face, nil
	}
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse embedded font: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: size, Hinting: font.HintingFull}), nil
}

// Render draws the whole strip from one snapshot.
func (c *Compositor) Render(cs playback.ControlState) *image.RGBA {
	dc := gg.NewContext(Width, Height)
	dc.SetColor(c.theme.Background)
	dc.Clear()

	c.drawVolume(dc, cs)
	c.drawTransport(dc, cs)
	c.drawMetadata(dc, cs)

	return dc.Image().(*image.RGBA)
}

func (c *Compositor) drawVolume(dc *gg.Context, cs playback.ControlState) {
	r := RegionVolume.Rect
	x := float64(r.Min.X + pad)

	dc.SetFontFace(c.small)
	dc.SetColor(c.theme.Dim)
	dc.DrawStringAnchored("Volume", x, pad, 0, 1)

	text := "--%"
	frac := 0.0
	if cs.VolumeKnown {
		text = fmt.Sprintf("%d%%", cs.Volume)
		frac = float64(cs.Volume) / 100
	}
	dc.SetFontFace(c.large)
	dc.SetColor(c.theme.Text)
	dc.DrawStringAnchored(text, x, float64(Height)/2, 0, 0.5)

	c.drawBar(dc, r, frac)
}

func (c *Compositor) drawTransport(dc *gg.Context, cs playback.ControlState) {
	r := RegionTransport.Rect
	x := float64(r.Min.X + pad)
	pb := cs.Playback

	status := playback.StatusStopped
	if cs.PlaybackKnown {
		status = pb.Status
	}
	c.drawStatusGlyph(dc, x, pad, status)
	dc.SetFontFace(c.small)
	dc.SetColor(c.theme.Dim)
	dc.DrawStringAnchored(statusLabel(status), x+18, pad, 0, 1)

	dc.SetFontFace(c.large)
	dc.SetColor(c.theme.Text)
	maxW := float64(r.Dx() - 2*pad)
	dc.DrawStringAnchored(Truncate(TransportText(pb), maxW, c.large), x, float64(Height)/2, 0, 0.5)

	c.drawBar(dc, r, pb.Progress())
}

func (c *Compositor) drawMetadata(dc *gg.Context, cs playback.ControlState) {
	r := RegionMetadata.Rect
	x := float64(r.Min.X + pad)
	maxW := float64(r.Dx() - 2*pad)

	if !cs.PlaybackKnown {
		dc.SetFontFace(c.small)
		dc.SetColor(c.theme.Dim)
		dc.DrawStringAnchored("No speaker", x, float64(Height)/2, 0, 0.5)
		return
	}

	pb := cs.Playback
	title := pb.Title
	if title == "" {
		title = durationPlaceholder
	}
	dc.SetFontFace(c.large)
	dc.SetColor(c.theme.Text)
	dc.DrawStringAnchored(Truncate(title, maxW, c.large), x, 38, 0, 0.5)

	if sub := pb.Subtitle(); sub != "" {
		dc.SetFontFace(c.small)
		dc.SetColor(c.theme.Dim)
		dc.DrawStringAnchored(Truncate(sub, maxW, c.small), x, 72, 0, 0.5)
	}
}

// drawBar draws the outlined bar along the bottom of r, filled to frac.
func (c *Compositor) drawBar(dc *gg.Context, r image.Rectangle, frac float64) {
	bx, bw := barGeometry(r)

	dc.SetColor(c.theme.Outline)
	dc.DrawRectangle(float64(bx), barY, float64(bw), barHeight)
	dc.Fill()

	if w := FillWidth(bw, frac); w > 0 {
		dc.SetColor(c.theme.Fill)
		dc.DrawRectangle(float64(bx), barY, float64(w), barHeight)
		dc.Fill()
	}
}

func barGeometry(r image.Rectangle) (x, w int) {
	return r.Min.X + pad, r.Dx() - 2*pad
}

// FillWidth is the filled length of a bar of width w at fraction frac, clamped
// to [0, w].
func FillWidth(w int, frac float64) int {
	if frac <= 0 || math.IsNaN(frac) {
		return 0
	}
	if frac >= 1 {
		return w
	}
	return int(math.Round(float64(w) * frac))
}

func (c *Compositor) drawStatusGlyph(dc *gg.Context, x, y float64, s playback.TransportStatus) {
	const size = 12
	dc.SetColor(c.theme.Fill)
	switch s {
	case playback.StatusPlaying:
		dc.MoveTo(x, y)
		dc.LineTo(x+size, y+size/2)
		dc.LineTo(x, y+size)
		dc.ClosePath()
	case playback.StatusPaused:
		dc.DrawRectangle(x, y, size/3, size)
		dc.DrawRectangle(x+2*size/3, y, size/3, size)
	default:
		dc.DrawRectangle(x, y, size, size)
	}
	dc.Fill()
}

func statusLabel(s playback.TransportStatus) string {
	switch s {
	case playback.StatusPlaying:
		return "Playing"
	case playback.StatusPaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// TransportText is the "position / duration" readout.
func TransportText(pb playback.State) string {
	if !pb.DurationKnown {
		return FormatTime(pb.Position) + " / " + durationPlaceholder
	}
	return FormatTime(pb.Position) + " / " + FormatTime(pb.Duration)
}

// ChangedRegions returns the regions whose pixels differ between prev and next.
// A nil prev reports every region.
func ChangedRegions(prev, next *image.RGBA) []Region {
	if prev == nil || prev.Bounds() != next.Bounds() {
		return Regions()
	}
	var out []Region
	for _, reg := range Regions() {
		if !sameRegion(prev, next, reg.Rect) {
			out = append(out, reg)
		}
	}
	return out
}

func sameRegion(a, b *image.RGBA, r image.Rectangle) bool {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		ia := a.PixOffset(r.Min.X, y)
		ib := b.PixOffset(r.Min.X, y)
		n := r.Dx() * 4
		if !bytes.Equal(a.Pix[ia:ia+n], b.Pix[ib:ib+n]) {
			return false
		}
	}
	return true
}

// Crop returns the sub-image for r, sharing pixels with img.
func Crop(img *image.RGBA, r image.Rectangle) *image.RGBA {
	return img.SubImage(r).(*image.RGBA)
}
