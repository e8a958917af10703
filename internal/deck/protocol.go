// Package deck drives an Elgato Stream Deck+ over Linux hidraw.
//
// The wire format (input reports, image pages, feature reports) lives in this
// file and is platform independent; the device I/O is in hidraw_linux.go.
package deck

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

// USB identifiers of the Stream Deck+.
const (
	VendorID  = 0x0fd9
	ProductID = 0x0084
)

// Device geometry.
const (
	NumKeys     = 8
	NumDials    = 4
	KeySize     = 120
	TouchWidth  = 800
	TouchHeight = 100
)

const (
	inputReportSize   = 14
	featureReportSize = 32
	imagePacketSize   = 1024
	keyHeaderSize     = 8
	touchHeaderSize   = 16

	jpegQuality = 90
)

// ErrDisconnected means the device went away. It is fatal to the control loop.
var ErrDisconnected = errors.New("control surface disconnected")

// InputKind is the kind of a decoded input.
type InputKind int

const (
	KeyDown InputKind = iota
	KeyUp
	DialDown
	DialUp
	DialTurn
	Touch
)

func (k InputKind) String() string {
	switch k {
	case KeyDown:
		return "key_down"
	case KeyUp:
		return "key_up"
	case DialDown:
		return "dial_down"
	case DialUp:
		return "dial_up"
	case DialTurn:
		return "dial_turn"
	case Touch:
		return "touch"
	default:
		return fmt.Sprintf("input(%d)", int(k))
	}
}

// Input is one decoded change on the surface. Delta is the signed notch count
// for DialTurn; X and Y are set for Touch.
type Input struct {
	Kind  InputKind
	Index int
	Delta int
	X, Y  int
}

// decoder turns state reports into edge events. Keys and dial pushes are
// reported as full state bitmaps, so the previous state is needed to tell a
// press from a repeat.
type decoder struct {
	keys  [NumKeys]bool
	dials [NumDials]bool
}

// decode parses one input report (report id at data[0]).
func (d *decoder) decode(data []byte) []Input {
	if len(data) < 5 || data[0] != 0x01 {
		return nil
	}
	var out []Input
	switch data[1] {
	case 0x00: // keys
		if len(data) < 4+NumKeys {
			return nil
		}
		for i := 0; i < NumKeys; i++ {
			down := data[4+i] != 0
			if down == d.keys[i] {
				continue
			}
			d.keys[i] = down
			if down {
				out = append(out, Input{Kind: KeyDown, Index: i})
			} else {
				out = append(out, Input{Kind: KeyUp, Index: i})
			}
		}

	case 0x02: // touchscreen
		if len(data) < 10 {
			return nil
		}
		out = append(out, Input{
			Kind: Touch,
			X:    int(data[6]) | int(data[7])<<8,
			Y:    int(data[8]) | int(data[9])<<8,
		})

	case 0x03: // dials
		if len(data) < 5+NumDials {
			return nil
		}
		switch data[4] {
		case 0x00: // push state
			for i := 0; i < NumDials; i++ {
				down := data[5+i] != 0
				if down == d.dials[i] {
					continue
				}
				d.dials[i] = down
				if down {
					out = append(out, Input{Kind: DialDown, Index: i})
				} else {
					out = append(out, Input{Kind: DialUp, Index: i})
				}
			}
		case 0x01: // rotation, signed notches per dial
			for i := 0; i < NumDials; i++ {
				if v := int(int8(data[5+i])); v != 0 {
					out = append(out, Input{Kind: DialTurn, Index: i, Delta: v})
				}
			}
		}
	}
	return out
}

// featureReport pads payload to the feature report size.
func featureReport(payload ...byte) []byte {
	buf := make([]byte, featureReportSize)
	copy(buf, payload)
	return buf
}

func brightnessReport(percent int) []byte {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return featureReport(0x03, 0x08, byte(percent))
}

func resetReport() []byte {
	return featureReport(0x03, 0x02)
}

// keyImagePackets splits a JPEG into output reports for one key.
func keyImagePackets(key int, jpg []byte) [][]byte {
	const chunk = imagePacketSize - keyHeaderSize
	var out [][]byte
	for page := 0; ; page++ {
		start := page * chunk
		end := min(start+chunk, len(jpg))
		n := end - start
		last := end == len(jpg)

		pkt := make([]byte, imagePacketSize)
		pkt[0] = 0x02
		pkt[1] = 0x07
		pkt[2] = byte(key)
		if last {
			pkt[3] = 1
		}
		pkt[4] = byte(n)
		pkt[5] = byte(n >> 8)
		pkt[6] = byte(page)
		pkt[7] = byte(page >> 8)
		copy(pkt[keyHeaderSize:], jpg[start:end])
		out = append(out, pkt)
		if last {
			return out
		}
	}
}

// touchImagePackets splits a JPEG into output reports for a rectangle of the
// touchscreen strip.
func touchImagePackets(r image.Rectangle, jpg []byte) [][]byte {
	const chunk = imagePacketSize - touchHeaderSize
	var out [][]byte
	for page := 0; ; page++ {
		start := page * chunk
		end := min(start+chunk, len(jpg))
		n := end - start
		last := end == len(jpg)

		pkt := make([]byte, imagePacketSize)
		pkt[0] = 0x02
		pkt[1] = 0x0c
		putLE16(pkt[2:], r.Min.X)
		putLE16(pkt[4:], r.Min.Y)
		putLE16(pkt[6:], r.Dx())
		putLE16(pkt[8:], r.Dy())
		if last {
			pkt[10] = 1
		}
		putLE16(pkt[11:], page)
		putLE16(pkt[13:], n)
		copy(pkt[touchHeaderSize:], jpg[start:end])
		out = append(out, pkt)
		if last {
			return out
		}
	}
}

func putLE16(b []byte, v int) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// keyResetPacket blanks every key.
func keyResetPacket() []byte {
	pkt := make([]byte, imagePacketSize)
	pkt[0] = 0x02
	return pkt
}

// EncodeJPEG encodes img the way the device expects.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
