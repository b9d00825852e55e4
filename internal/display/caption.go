package display

import (
	"fmt"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// StubReason identifies why the mirror is painting a stub screen instead of
// the live capture.
type StubReason int

const (
	StubReasonUser StubReason = iota
	StubReasonBadResolution
	StubReasonBadFormat
	StubReasonNoSignal
	StubReasonBusy
)

// DeviceInfo carries the capture parameters a stub caption may report.
type DeviceInfo struct {
	Width, Height, Hz uint32
}

// caption renders the fixed message for reason, matching the literal
// substrings scenarios check for.
func caption(reason StubReason, dev DeviceInfo) string {
	switch reason {
	case StubReasonBadResolution:
		return fmt.Sprintf("UNSUPPORTED RESOLUTION\n%dx%d %dHz", dev.Width, dev.Height, dev.Hz)
	case StubReasonBadFormat:
		return "UNSUPPORTED CAPTURE FORMAT\nhttps://github.com/pikvm/pikvm/issues"
	case StubReasonNoSignal:
		return "NO SIGNAL"
	case StubReasonBusy:
		return "ONLINE IS ACTIVE"
	default:
		return ""
	}
}

// rasterizer paints a stub caption into an RGB24 dumb-buffer mapping. It is
// the "text rasterizer handle" the display runtime carries.
type rasterizer struct {
	width, height int
}

func newRasterizer(width, height int) *rasterizer {
	return &rasterizer{width: width, height: height}
}

// paint renders reason's caption centered on a black background directly
// into dst, which must be a packed-RGB24 buffer of width*height*3 bytes.
func (r *rasterizer) paint(dst []byte, reason StubReason, dev DeviceInfo) {
	dc := gg.NewContext(r.width, r.height)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.SetRGB(1, 1, 1)
	dc.SetFontFace(basicfont.Face7x13)

	text := caption(reason, dev)
	dc.DrawStringAnchored(text, float64(r.width)/2, float64(r.height)/2, 0.5, 0.5)

	img := dc.Image()
	bounds := img.Bounds()
	stride := r.width * 3
	for y := 0; y < r.height && y < bounds.Dy(); y++ {
		for x := 0; x < r.width && x < bounds.Dx(); x++ {
			rr, gg_, bb, _ := img.At(x, y).RGBA()
			off := y*stride + x*3
			if off+2 >= len(dst) {
				continue
			}
			dst[off] = byte(rr >> 8)
			dst[off+1] = byte(gg_ >> 8)
			dst[off+2] = byte(bb >> 8)
		}
	}
}
