package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	sys "golang.org/x/sys/unix"

	"github.com/pikvm-go/ustreamer/v4l2"
)

// Sentinel errors returned by GrabBuffer. ErrBrokenFrame is recoverable:
// the caller retries without treating it as an error. ErrGrabTimeout is
// persistent and signals the caller to reopen the device.
var (
	ErrBrokenFrame = errors.New("device: broken frame")
	ErrGrabTimeout = errors.New("device: grab timeout")
)

// HardwareBuffer is a kernel-visible buffer slot: the Frame view over its
// bytes plus the identifiers needed to hand it back to the kernel queue or
// export it for zero-copy display.
type HardwareBuffer struct {
	Index uint32
	// DMAFd is the buffer's DMA-BUF export descriptor, or -1 if the device
	// was not opened with WithDMAExport.
	DMAFd int32
	Frame *Frame
}

// Device wraps an opened V4L2 capture device and its mmap'd (or
// DMA-exported) buffer array. GrabBuffer, ReleaseBuffer and Close each take
// the Device's internal mutex, so calls from different goroutines are
// serialized; GrabBuffer holds it while it waits for a frame, so a
// concurrent ReleaseBuffer blocks until that wait ends.
type Device struct {
	path string
	fd   uintptr

	cfg config

	pixFormat v4l2.PixFormat
	hz        uint32

	buffers   [][]byte
	dmaFds    []int32
	streaming bool

	pool *FramePool

	mu sync.Mutex

	log zerolog.Logger
}

// Open negotiates pixel format and buffer count against the device at path,
// allocates buffers, and enables streaming. If WithDMAExport was supplied,
// every buffer is additionally exported as a DMA-BUF descriptor.
func Open(path string, logger zerolog.Logger, opts ...Option) (*Device, error) {
	cfg := config{
		bufSize: 4,
	}
	for _, o := range opts {
		o(&cfg)
	}

	fd, err := v4l2.OpenDevice(path, sys.O_RDWR|sys.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}

	d := &Device{
		path: path,
		fd:   fd,
		cfg:  cfg,
		pool: DefaultFramePool(),
		log:  logger.With().Str("component", "device").Str("path", path).Logger(),
	}

	if err := d.negotiate(); err != nil {
		v4l2.CloseDevice(fd)
		return nil, err
	}

	if err := d.allocateBuffers(); err != nil {
		v4l2.CloseDevice(fd)
		return nil, err
	}

	if err := v4l2.StreamOn(d.fd); err != nil {
		d.teardownBuffers()
		v4l2.CloseDevice(fd)
		return nil, fmt.Errorf("device: stream on: %w", err)
	}
	d.streaming = true

	return d, nil
}

func (d *Device) negotiate() error {
	cap, err := v4l2.GetCapability(d.fd)
	if err != nil {
		return fmt.Errorf("device: capability: %w", err)
	}
	if !cap.IsVideoCaptureSupported() {
		return fmt.Errorf("device: %s: video capture unsupported", d.path)
	}
	if !cap.IsStreamingSupported() {
		return fmt.Errorf("device: %s: streaming io unsupported", d.path)
	}

	if d.cfg.pixFormat.Width != 0 {
		if err := v4l2.SetPixFormat(d.fd, d.cfg.pixFormat); err != nil {
			return fmt.Errorf("device: set pix format: %w", err)
		}
	}
	pixFmt, err := v4l2.GetPixFormat(d.fd)
	if err != nil {
		return fmt.Errorf("device: get pix format: %w", err)
	}
	d.pixFormat = pixFmt

	param, err := v4l2.GetStreamCaptureParam(d.fd)
	if err == nil && param.TimePerFrame.Numerator != 0 {
		d.hz = param.TimePerFrame.Denominator / param.TimePerFrame.Numerator
	}

	d.log.Info().
		Uint32("width", d.pixFormat.Width).
		Uint32("height", d.pixFormat.Height).
		Str("format", v4l2.PixelFormats[d.pixFormat.PixelFormat]).
		Uint32("hz", d.hz).
		Msg("negotiated capture format")

	return nil
}

func (d *Device) allocateBuffers() error {
	memType := v4l2.StreamTypeMMAP
	if d.cfg.dmaExport {
		memType = v4l2.StreamTypeDMABuf
	}

	req, err := v4l2.InitBuffersType(d.fd, d.cfg.bufSize, memType)
	if err != nil {
		return fmt.Errorf("device: init buffers: %w", err)
	}

	count := req.Count
	d.buffers = make([][]byte, count)
	d.dmaFds = make([]int32, count)
	for i := range d.dmaFds {
		d.dmaFds[i] = -1
	}

	for i := uint32(0); i < count; i++ {
		buf, err := v4l2.GetBufferType(d.fd, i, memType)
		if err != nil {
			d.teardownBuffers()
			return fmt.Errorf("device: query buffer %d: %w", i, err)
		}

		if d.cfg.dmaExport {
			dmaFd, err := v4l2.ExportBuffer(d.fd, i)
			if err != nil {
				d.teardownBuffers()
				return fmt.Errorf("device: export buffer %d: %w", i, err)
			}
			d.dmaFds[i] = dmaFd
		} else {
			mapped, err := v4l2.MapMemoryBuffer(d.fd, int64(buf.Info.Offset), int(buf.Length))
			if err != nil {
				d.teardownBuffers()
				return fmt.Errorf("device: mmap buffer %d: %w", i, err)
			}
			d.buffers[i] = mapped
		}

		if _, err := v4l2.QueueBufferType(d.fd, i, memType); err != nil {
			d.teardownBuffers()
			return fmt.Errorf("device: queue buffer %d: %w", i, err)
		}
	}

	return nil
}

func (d *Device) teardownBuffers() {
	for _, b := range d.buffers {
		if b != nil {
			v4l2.UnmapMemoryBuffer(b)
		}
	}
	d.buffers = nil
	d.dmaFds = nil
}

// Width, Height, Stride, Format and Hz report the negotiated capture format,
// available after Open returns.
func (d *Device) Width() uint32             { return d.pixFormat.Width }
func (d *Device) Height() uint32            { return d.pixFormat.Height }
func (d *Device) Stride() uint32            { return d.pixFormat.BytesPerLine }
func (d *Device) Format() v4l2.FourCCType   { return d.pixFormat.PixelFormat }
func (d *Device) Hz() uint32                { return d.hz }
func (d *Device) DMAExportEnabled() bool    { return d.cfg.dmaExport }

// BufferCount reports how many hardware buffer slots the device negotiated,
// used to size a releaser pool with one goroutine per slot.
func (d *Device) BufferCount() uint32 { return uint32(len(d.dmaFds)) }

// DMAFds returns a copy of the per-slot DMA-BUF export descriptors, or a
// slice of -1 entries if the device was not opened with WithDMAExport.
func (d *Device) DMAFds() []int32 {
	out := make([]int32, len(d.dmaFds))
	copy(out, d.dmaFds)
	return out
}

// GrabBuffer dequeues the next ready hardware buffer. A broken or
// incomplete capture yields ErrBrokenFrame: the caller should retry without
// counting it as a device error. A kernel wait timeout yields
// ErrGrabTimeout, which is persistent and should force a reopen.
func (d *Device) GrabBuffer(timeout time.Duration) (*HardwareBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := v4l2.WaitForDeviceRead(d.fd, timeout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGrabTimeout, err)
	}

	memType := v4l2.StreamTypeMMAP
	if d.cfg.dmaExport {
		memType = v4l2.StreamTypeDMABuf
	}

	buf, err := v4l2.DequeueBufferType(d.fd, memType)
	if err != nil {
		return nil, fmt.Errorf("device: dequeue: %w", err)
	}

	idx := buf.Index
	if buf.BytesUsed == 0 || buf.Flags&v4l2.BufFlagError != 0 {
		// Hand straight back to the kernel queue: a broken frame still
		// occupies a buffer slot that must be requeued immediately.
		if _, err := v4l2.QueueBufferType(d.fd, idx, memType); err != nil {
			return nil, fmt.Errorf("device: requeue broken buffer: %w", err)
		}
		return nil, ErrBrokenFrame
	}

	frame := &Frame{
		Width:       d.pixFormat.Width,
		Height:      d.pixFormat.Height,
		Stride:      d.pixFormat.BytesPerLine,
		PixelFormat: d.pixFormat.PixelFormat,
		Hz:          d.hz,
		Online:      true,
		Timestamp:   time.Unix(int64(buf.Timestamp.Sec), int64(buf.Timestamp.Usec)*1000),
		Sequence:    buf.Sequence,
		Flags:       buf.Flags,
		Index:       idx,
	}
	if !d.cfg.dmaExport {
		frame.Data = d.buffers[idx][:buf.BytesUsed]
	}

	hw := &HardwareBuffer{
		Index: idx,
		Frame: frame,
	}
	if d.cfg.dmaExport {
		hw.DMAFd = d.dmaFds[idx]
	} else {
		hw.DMAFd = -1
	}
	return hw, nil
}

// ReleaseBuffer returns a hardware buffer to the kernel capture queue.
func (d *Device) ReleaseBuffer(hw *HardwareBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	memType := v4l2.StreamTypeMMAP
	if d.cfg.dmaExport {
		memType = v4l2.StreamTypeDMABuf
	}
	if _, err := v4l2.QueueBufferType(d.fd, hw.Index, memType); err != nil {
		return fmt.Errorf("device: release buffer %d: %w", hw.Index, err)
	}
	return nil
}

// Close stops streaming, unmaps buffers and closes the device descriptor.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.streaming {
		if err := v4l2.StreamOff(d.fd); err != nil {
			d.log.Warn().Err(err).Msg("stream off failed during close")
		}
		d.streaming = false
	}
	d.teardownBuffers()
	return v4l2.CloseDevice(d.fd)
}
