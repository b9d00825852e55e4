package device

import (
	"github.com/pikvm-go/ustreamer/v4l2"
)

// config holds device configuration parameters.
// This type is unexported and managed by functional options.
type config struct {
	pixFormat v4l2.PixFormat
	bufSize   uint32
	dmaExport bool
}

// Option is a functional option type for configuring a Device.
// It's a function that takes a pointer to a config struct and modifies it.
type Option func(*config)

// WithDMAExport creates an Option that switches buffer memory from mmap to
// DMA-BUF export (V4L2_MEMORY_DMABUF), handing each buffer's file descriptor
// to the caller instead of a mapped slice. Required for zero-copy hand-off
// to the display mirror.
func WithDMAExport() Option {
	return func(o *config) {
		o.dmaExport = true
	}
}

// WithPixFormat creates an Option to set the pixel format for the device.
// This includes parameters like width, height, and pixel format code.
// Example: WithPixFormat(v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: v4l2.PixelFmtMJPEG})
func WithPixFormat(pixFmt v4l2.PixFormat) Option {
	return func(o *config) {
		o.pixFormat = pixFmt
	}
}

// WithBufferSize creates an Option to set the number of buffers to be used for streaming.
// Example: WithBufferSize(4)
func WithBufferSize(size uint32) Option {
	return func(o *config) {
		o.bufSize = size
	}
}
