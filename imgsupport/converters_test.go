package imgsupport

import (
	"bytes"
	"image/jpeg"
	"testing"
	"time"

	"github.com/pikvm-go/ustreamer/device"
	"github.com/pikvm-go/ustreamer/v4l2"
)

func solidYUYV(width, height int, y, u, v byte) []byte {
	buf := make([]byte, width*height*2)
	for i := 0; i < len(buf); i += 4 {
		buf[i] = y
		buf[i+1] = u
		buf[i+2] = y
		buf[i+3] = v
	}
	return buf
}

func TestYuyv2JpegProducesDecodableImage(t *testing.T) {
	frame := solidYUYV(16, 16, 128, 128, 128)
	out, err := Yuyv2Jpeg(16, 16, frame)
	if err != nil {
		t.Fatalf("Yuyv2Jpeg: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 16 {
		t.Fatalf("unexpected bounds: %v", img.Bounds())
	}
}

func TestYuyv2JpegShortFrameErrors(t *testing.T) {
	if _, err := Yuyv2Jpeg(16, 16, make([]byte, 4)); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestRgb24ToJpegProducesDecodableImage(t *testing.T) {
	frame := make([]byte, 8*8*3)
	for i := range frame {
		frame[i] = 200
	}
	out, err := Rgb24ToJpeg(8, 8, frame)
	if err != nil {
		t.Fatalf("Rgb24ToJpeg: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(out)); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestJPEGEncoderDispatchesOnPixelFormat(t *testing.T) {
	hw := &device.HardwareBuffer{
		Index: 0,
		Frame: &device.Frame{
			Width:       16,
			Height:      16,
			PixelFormat: v4l2.PixelFmtYUYV,
			Online:      true,
			Timestamp:   time.Now(),
			Sequence:    7,
			Data:        solidYUYV(16, 16, 100, 110, 120),
		},
	}
	dest := &device.Frame{}
	enc := JPEGEncoder{}
	if err := enc.Encode(hw, dest); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(dest.Data) == 0 {
		t.Fatal("expected encoded data")
	}
	if dest.Sequence != 7 || !dest.Online {
		t.Fatalf("expected metadata to carry through, got %+v", dest)
	}
}

func TestJPEGEncoderRejectsUnsupportedFormat(t *testing.T) {
	hw := &device.HardwareBuffer{Frame: &device.Frame{PixelFormat: v4l2.PixelFmtMJPEG}}
	if err := (JPEGEncoder{}).Encode(hw, &device.Frame{}); err == nil {
		t.Fatal("expected error for unsupported pixel format")
	}
}
