package render

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"github.com/nfnt/resize"
)

// KeySize is the pixel size of one Stream Deck+ key.
const KeySize = 120

// KeyFace is what one key shows.
type KeyFace struct {
	Icon   image.Image // optional, pre-scaled by LoadIcon
	Label  string
	Active bool // draws the highlight ring (loop playing)
}

// LoadIcon reads an image file and scales it to fit a key with some margin.
func LoadIcon(path string) (image.Image, error) {
	img, err := gg.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("load icon %s: %w", path, err)
	}
	const inner = KeySize - 2*8
	return resize.Thumbnail(inner, inner, img, resize.Lanczos3), nil
}

// RenderKey draws one key image.
func (c *Compositor) RenderKey(k KeyFace) *image.RGBA {
	dc := gg.NewContext(KeySize, KeySize)
	dc.SetColor(c.theme.Background)
	dc.Clear()

	if k.Icon != nil {
		dc.DrawImageAnchored(k.Icon, KeySize/2, KeySize/2, 0.5, 0.5)
	} else if k.Label != "" {
		dc.SetFontFace(c.small)
		dc.SetColor(c.theme.Text)
		dc.DrawStringAnchored(Truncate(k.Label, KeySize-12, c.small), KeySize/2, KeySize/2, 0.5, 0.5)
	}

	if k.Active {
		dc.SetColor(c.theme.Fill)
		dc.SetLineWidth(6)
		dc.DrawRectangle(3, 3, KeySize-6, KeySize-6)
		dc.Stroke()
	}
	return dc.Image().(*image.RGBA)
}

// BlankKey is an unassigned key.
func (c *Compositor) BlankKey() *image.RGBA {
	return c.RenderKey(KeyFace{})
}
