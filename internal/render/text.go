package render

import (
	"fmt"

	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Ellipsis is appended to truncated text.
const Ellipsis = "..."

// FormatTime renders whole seconds as "M:SS".
//
// Minutes are not wrapped into hours: 3600 renders as "60:00". Content is
// assumed to be under an hour; longer tracks still render, just wider.
func FormatTime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// measureString returns the advance width of s in pixels, kerning included.
func measureString(s string, face font.Face) float64 {
	width := fixed.Int26_6(0)
	prev := rune(-1)
	for _, r := range s {
		if prev >= 0 {
			width += face.Kern(prev, r)
		}
		adv, ok := face.GlyphAdvance(r)
		if !ok {
			continue
		}
		width += adv
		prev = r
	}
	return float64(width) / 64.0
}

// clusterEnds returns the byte offset after each grapheme cluster of s.
func clusterEnds(s string) []int {
	ends := make([]int, 0, len(s))
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		_, to := g.Positions()
		ends = append(ends, to)
	}
	return ends
}

// Truncate shortens s to fit maxWidth pixels in face. When s is too wide the
// longest grapheme-cluster prefix that fits together with Ellipsis is kept, so
// a multi-byte character or combining sequence is never split. If not even the
// ellipsis fits, the result is empty.
func Truncate(s string, maxWidth float64, face font.Face) string {
	if measureString(s, face) <= maxWidth {
		return s
	}
	if measureString(Ellipsis, face) > maxWidth {
		return ""
	}

	ends := clusterEnds(s)
	fits := func(k int) bool {
		if k == 0 {
			return true
		}
		return measureString(s[:ends[k-1]]+Ellipsis, face) <= maxWidth
	}

	// Largest k in [0, len(ends)) with fits(k); fits is monotone in k.
	lo, hi := 0, len(ends)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if fits(mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return Ellipsis
	}
	return s[:ends[lo-1]] + Ellipsis
}

// TruncateCells is the terminal variant of Truncate: the budget is a number of
// monospace cells rather than pixels.
func TruncateCells(s string, cells int) string {
	if runewidth.StringWidth(s) <= cells {
		return s
	}
	return runewidth.Truncate(s, cells, Ellipsis)
}
