package imgsupport

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/pikvm-go/ustreamer/device"
	"github.com/pikvm-go/ustreamer/v4l2"
)

// Yuyv2Jpeg converts a packed YUYV 4:2:2 frame to JPEG. Each four bytes of
// input encode two horizontally adjacent pixels as Y0 U Y1 V.
func Yuyv2Jpeg(width, height int, frame []byte) ([]byte, error) {
	rowBytes := width * 2
	if len(frame) < rowBytes*height {
		return nil, fmt.Errorf("imgsupport: short frame: want %d bytes, got %d", rowBytes*height, len(frame))
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for row := 0; row < height; row++ {
		src := frame[row*rowBytes : (row+1)*rowBytes]
		for col := 0; col+1 < width; col += 2 {
			o := col * 2
			y0, u, y1, v := src[o], src[o+1], src[o+2], src[o+3]

			img.Y[img.YOffset(col, row)] = y0
			img.Y[img.YOffset(col+1, row)] = y1
			ci := img.COffset(col, row)
			img.Cb[ci] = u
			img.Cr[ci] = v
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("imgsupport: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Rgb24ToJpeg converts a packed 24-bit RGB frame to JPEG.
func Rgb24ToJpeg(width, height int, frame []byte) ([]byte, error) {
	rowBytes := width * 3
	if len(frame) < rowBytes*height {
		return nil, fmt.Errorf("imgsupport: short frame: want %d bytes, got %d", rowBytes*height, len(frame))
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for row := 0; row < height; row++ {
		src := frame[row*rowBytes : (row+1)*rowBytes]
		for col := 0; col < width; col++ {
			o := col * 3
			di := img.PixOffset(col, row)
			img.Pix[di] = src[o]
			img.Pix[di+1] = src[o+1]
			img.Pix[di+2] = src[o+2]
			img.Pix[di+3] = 0xff
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("imgsupport: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// JPEGEncoder is an encoderpool.Encoder that converts a captured hardware
// buffer to a JPEG-encoded still frame, dispatching on the buffer's pixel
// format. The controller takes its Encoder from its caller; JPEGEncoder is
// one such implementation.
type JPEGEncoder struct{}

// Encode implements encoderpool.Encoder.
func (e JPEGEncoder) Encode(hw *device.HardwareBuffer, dest *device.Frame) error {
	src := hw.Frame
	var data []byte
	var err error

	switch src.PixelFormat {
	case v4l2.PixelFmtYUYV:
		data, err = Yuyv2Jpeg(int(src.Width), int(src.Height), src.Data)
	case v4l2.PixelFmtRGB24:
		data, err = Rgb24ToJpeg(int(src.Width), int(src.Height), src.Data)
	default:
		return fmt.Errorf("imgsupport: unsupported pixel format %v", src.PixelFormat)
	}
	if err != nil {
		return err
	}

	dest.Data = data
	dest.Width = src.Width
	dest.Height = src.Height
	dest.PixelFormat = src.PixelFormat
	dest.Hz = src.Hz
	dest.Online = src.Online
	dest.Timestamp = src.Timestamp
	dest.Sequence = src.Sequence
	dest.Index = src.Index
	return nil
}
