package device

import (
	"time"

	"github.com/pikvm-go/ustreamer/v4l2"
)

// Frame represents a captured video frame with metadata and lifecycle management.
// It contains the frame data along with timing information, sequence numbers,
// and buffer flags that provide context about the frame.
//
// A Frame whose Data was taken from a FramePool returns that buffer to the
// pool on Release(). Frames produced by Device.GrabBuffer carry no pool:
// their Data is a view of the device's mapped buffer and Release() is a
// no-op for them.
//
// # Usage Pattern
//
// Frames from the device:
//
//	hw, err := dev.GrabBuffer(2 * time.Second)
//	if err == nil {
//	    processFrame(hw.Frame.Data)
//	    dev.ReleaseBuffer(hw)  // hw.Frame.Data is invalid from here on
//	}
//
// Saving frame data for later use:
//
//	saved := make([]byte, len(hw.Frame.Data))
//	copy(saved, hw.Frame.Data)  // Must copy before ReleaseBuffer()
//	dev.ReleaseBuffer(hw)
//
// # Memory Management
//
// For a pool-backed frame, the Data slice becomes invalid after Release();
// for a grabbed frame, after Device.ReleaseBuffer. If you need to retain
// frame data beyond that point, make a copy first.
//
// # Thread Safety
//
// Frame is NOT safe for concurrent access. Each frame should be processed
// by a single goroutine. The Release() method is safe to call multiple times
// (subsequent calls are no-ops).
type Frame struct {
	// Data contains the raw frame data in the device's pixel format.
	// The format is given by the PixelFormat field.
	// This slice is valid only until Release() (or, for a grabbed frame,
	// Device.ReleaseBuffer) is called.
	Data []byte

	// Width and Height are the frame's pixel dimensions.
	Width, Height uint32

	// Stride is the number of bytes per row, including any padding.
	Stride uint32

	// PixelFormat is the FourCC code describing how Data is encoded.
	PixelFormat v4l2.FourCCType

	// Hz is the capture source's declared refresh rate at the time this
	// frame was produced.
	Hz uint32

	// Online is true when this frame was produced from a live capture
	// buffer, false when it is a synthetic placeholder (e.g. a stub
	// blank rendered while no signal is present).
	Online bool

	// Timestamp is the capture time of this frame.
	// The timestamp source depends on the driver configuration.
	Timestamp time.Time

	// Sequence is a monotonically increasing frame counter.
	// Gaps in the sequence number indicate dropped frames.
	Sequence uint32

	// Flags contains buffer status flags (see v4l2.BufFlag* constants).
	// Common flags:
	//   - BufFlagKeyFrame: Frame is a keyframe (I-frame)
	//   - BufFlagPFrame: Frame is a predicted frame
	//   - BufFlagBFrame: Frame is a bidirectional predicted frame
	//   - BufFlagError: Frame contains errors
	Flags uint32

	// Index is the internal buffer index used by the driver.
	// This is primarily for debugging and internal use.
	Index uint32

	// pool is the FramePool this frame's buffer came from
	pool *FramePool

	// released tracks whether Release() has been called
	released bool
}

// Release returns the frame's buffer to the pool for reuse.
// This method should be called as soon as processing is complete to reduce
// memory pressure and improve performance.
//
// After calling Release(), the Data slice becomes invalid and must not be accessed.
// Calling Release() multiple times is safe (subsequent calls are no-ops).
//
// Example:
//
//	frame := &Frame{Data: pool.Get(size), pool: pool}
//	processFrame(frame.Data)
//	frame.Release()  // Always call when done
func (f *Frame) Release() {
	if f.released || f.pool == nil || f.Data == nil {
		return
	}
	f.released = true

	// Return buffer to pool
	f.pool.Put(f.Data)
	f.Data = nil
}

// IsKeyFrame returns true if this frame is a keyframe (I-frame).
// This is useful for identifying frames that can be decoded independently
// in compressed video streams (H.264, MJPEG, etc.).
func (f *Frame) IsKeyFrame() bool {
	return f.Flags&v4l2.BufFlagKeyFrame != 0
}

// IsPFrame returns true if this frame is a predicted frame (P-frame).
// P-frames depend on previous frames for decoding.
func (f *Frame) IsPFrame() bool {
	return f.Flags&v4l2.BufFlagPFrame != 0
}

// IsBFrame returns true if this frame is a bidirectional predicted frame (B-frame).
// B-frames depend on both previous and future frames for decoding.
func (f *Frame) IsBFrame() bool {
	return f.Flags&v4l2.BufFlagBFrame != 0
}

// HasError returns true if the driver reported an error for this frame.
// Error frames may have incomplete or corrupted data.
func (f *Frame) HasError() bool {
	return f.Flags&v4l2.BufFlagError != 0
}
