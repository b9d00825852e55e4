// Package motionvideo defines the seam between the core and the
// motion-video codec backend. From the core's perspective the processor is
// stateless: it is simply fed raw frames with a force-keyframe hint and
// publishes its own encoded output to its own sink.
package motionvideo

import "github.com/pikvm-go/ustreamer/device"

// Processor receives raw frames in grab order. ForceKeyframe is set by the
// controller when slowdown gating determined a full idle second elapsed,
// so a late-arriving client's first decoded frame is a keyframe.
type Processor interface {
	Feed(frame *device.Frame, forceKeyframe bool)
}

// Noop is a Processor that discards every frame, used when no motion-video
// backend is wired in.
type Noop struct{}

func (Noop) Feed(*device.Frame, bool) {}
