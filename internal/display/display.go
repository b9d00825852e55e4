// Package display implements the direct-rendering page-flip mirror: it
// imports capture hardware buffers zero-copy when the capture format and a
// connector mode agree, or paints reason-coded stub screens otherwise.
package display

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pikvm-go/ustreamer/device"
	"github.com/pikvm-go/ustreamer/v4l2"
)

// State is the display runtime's top-level state.
type State int

const (
	Closed State = iota
	OpenForDMA
	OpenForStub
)

func (s State) String() string {
	switch s {
	case OpenForDMA:
		return "OpenForDMA"
	case OpenForStub:
		return "OpenForStub"
	default:
		return "Closed"
	}
}

// Sentinel errors surfaced to the stream controller.
var (
	ErrUnplugged = errors.New("display: connector unplugged")
	ErrTimeout   = errors.New("display: vsync wait timeout")
)

// buffer is a display-owned (dumb) or imported framebuffer.
type buffer struct {
	fbID   uint32
	handle uint32
	data   []byte // non-nil only for dumb buffers
}

// Runtime is the opened display device: connector, CRTC, chosen mode,
// buffer set, and the bookkeeping the page-flip protocol needs.
type Runtime struct {
	mu sync.Mutex

	path        string
	port        string
	vsyncTimeout time.Duration

	f *os.File

	state State

	connectorID uint32
	crtcID      uint32
	mode        drmModeModeInfo
	savedCrtc   drmModeCrtc

	buffers []buffer

	hasVsync        bool
	exposingDMAFd   int32
	stubRotateIndex int

	unplugReported bool

	rasterizer *rasterizer

	log zerolog.Logger
}

// New creates an unopened Runtime bound to path/port and the vsync-wait
// timeout used by WaitForVsync.
func New(path, port string, vsyncTimeout time.Duration, logger zerolog.Logger) *Runtime {
	return &Runtime{
		path:         path,
		port:         port,
		vsyncTimeout: vsyncTimeout,
		exposingDMAFd: -1,
		log:          logger.With().Str("component", "display").Logger(),
	}
}

func statusPath(port string) string {
	return fmt.Sprintf("/sys/class/drm/card0-%s/status", port)
}

func connectorIsUnplugged(port string) bool {
	b, err := readConnectorStatusFile(statusPath(port))
	if err != nil {
		// Unreadable status is treated as "don't know"; callers proceed
		// and let the DRM connector query be authoritative.
		return false
	}
	return b == 'd'
}

// mode selection rule from the component design: prefer exact (w,h) with
// matching hz; otherwise exact (w,h) at any hz; otherwise exact width with
// a mode height above the capture height (letterboxable); otherwise the connector's preferred
// mode; otherwise mode zero. Interlaced modes are discarded first.
func chooseMode(modes []drmModeModeInfo, width, height, hz uint32) (drmModeModeInfo, bool) {
	var progressive []drmModeModeInfo
	for _, m := range modes {
		if m.Flags&modeFlagInterlace != 0 {
			continue
		}
		progressive = append(progressive, m)
	}
	if len(progressive) == 0 {
		return drmModeModeInfo{}, false
	}

	for _, m := range progressive {
		if uint32(m.Hdisplay) == width && uint32(m.Vdisplay) == height && m.Vrefresh == hz {
			return m, true
		}
	}
	for _, m := range progressive {
		if uint32(m.Hdisplay) == width && uint32(m.Vdisplay) == height {
			return m, true
		}
	}
	for _, m := range progressive {
		if uint32(m.Hdisplay) == width && uint32(m.Vdisplay) >= height {
			return m, true
		}
	}
	for _, m := range progressive {
		if m.Type&modeTypePreferred != 0 {
			return m, true
		}
	}
	return progressive[0], true
}

// OpenOptions configures Open.
type OpenOptions struct {
	// Stub requests Closed -> OpenForStub directly (user-requested stub
	// mode), regardless of capture format.
	Stub bool

	CaptureWidth, CaptureHeight, CaptureHz uint32
	CaptureFormat                          v4l2.FourCCType

	// DMAFds, indexed by hardware-buffer index, for importing capture
	// buffers when opening OpenForDMA.
	DMAFds []int32

	// StubBufferCount is how many dumb buffers to rotate through in
	// OpenForStub (4 per the component design).
	StubBufferCount int
}

// Open transitions Closed -> OpenForDMA or OpenForStub per the component
// design's rules, returning the resulting state and a stub reason when
// applicable.
func (r *Runtime) Open(opts OpenOptions) (State, StubReason, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if connectorIsUnplugged(r.port) {
		return Closed, 0, ErrUnplugged
	}
	r.unplugReported = false

	f, err := openDRM(r.path)
	if err != nil {
		return Closed, 0, err
	}
	r.f = f

	crtcIDs, connectorIDs, err := getResources(f)
	if err != nil {
		f.Close()
		return Closed, 0, err
	}
	if len(crtcIDs) == 0 || len(connectorIDs) == 0 {
		f.Close()
		return Closed, 0, fmt.Errorf("display: no crtcs/connectors")
	}
	r.connectorID = connectorIDs[0]
	r.crtcID = crtcIDs[0]

	_, modes, err := getConnector(f, r.connectorID)
	if err != nil {
		f.Close()
		return Closed, 0, err
	}

	if saved, err := getCrtc(f, r.crtcID); err == nil {
		r.savedCrtc = saved
	}

	wantDMA := !opts.Stub && opts.CaptureFormat == v4l2.PixelFmtRGB24
	var reason StubReason = StubReasonUser
	if !opts.Stub && opts.CaptureFormat != v4l2.PixelFmtRGB24 {
		wantDMA = false
		reason = StubReasonBadFormat
	}

	mode, ok := chooseMode(modes, opts.CaptureWidth, opts.CaptureHeight, opts.CaptureHz)
	if !ok {
		f.Close()
		return Closed, 0, fmt.Errorf("display: connector %d has no usable mode", r.connectorID)
	}

	if wantDMA {
		if uint32(mode.Hdisplay) != opts.CaptureWidth {
			wantDMA = false
			reason = StubReasonBadResolution
		}
	}
	r.mode = mode

	if wantDMA {
		if err := r.openForDMA(opts); err != nil {
			f.Close()
			return Closed, 0, err
		}
		r.state = OpenForDMA
		return OpenForDMA, 0, nil
	}

	if err := r.openForStub(opts); err != nil {
		f.Close()
		return Closed, 0, err
	}
	r.state = OpenForStub
	return OpenForStub, reason, nil
}

func (r *Runtime) openForDMA(opts OpenOptions) error {
	r.buffers = make([]buffer, len(opts.DMAFds))
	stride := opts.CaptureWidth * 3
	for i, fd := range opts.DMAFds {
		handle, err := primeFDToHandle(r.f, fd)
		if err != nil {
			return fmt.Errorf("display: import hw buffer %d: %w", i, err)
		}
		fbID, err := addFB(r.f, opts.CaptureWidth, opts.CaptureHeight, stride, 24, 24, handle)
		if err != nil {
			return fmt.Errorf("display: addfb hw buffer %d: %w", i, err)
		}
		r.buffers[i] = buffer{fbID: fbID, handle: handle}
	}
	if err := setCrtc(r.f, r.connectorID, r.crtcID, r.buffers[0].fbID, r.mode); err != nil {
		return err
	}
	return nil
}

func (r *Runtime) openForStub(opts OpenOptions) error {
	count := opts.StubBufferCount
	if count <= 0 {
		count = 4
	}
	width, height := uint32(r.mode.Hdisplay), uint32(r.mode.Vdisplay)
	r.buffers = make([]buffer, count)
	r.rasterizer = newRasterizer(int(width), int(height))

	for i := 0; i < count; i++ {
		dumb, err := createDumb(r.f, width, height, 24)
		if err != nil {
			return fmt.Errorf("display: create dumb %d: %w", i, err)
		}
		data, err := mapDumb(r.f, dumb.Handle, dumb.Size)
		if err != nil {
			return fmt.Errorf("display: map dumb %d: %w", i, err)
		}
		fbID, err := addFB(r.f, width, height, dumb.Pitch, 24, 24, dumb.Handle)
		if err != nil {
			return fmt.Errorf("display: addfb dumb %d: %w", i, err)
		}
		r.buffers[i] = buffer{fbID: fbID, handle: dumb.Handle, data: data}
	}

	return setCrtc(r.f, r.connectorID, r.crtcID, r.buffers[0].fbID, r.mode)
}

// Close tears down buffers and restores the previously-active CRTC.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Closed {
		return nil
	}

	for _, b := range r.buffers {
		if b.data != nil {
			destroyDumb(r.f, b.handle)
		}
		removeFB(r.f, b.fbID)
	}
	r.buffers = nil

	restoreCrtc(r.f, r.connectorID, r.savedCrtc)

	err := r.f.Close()
	r.f = nil
	r.state = Closed
	r.hasVsync = false
	r.exposingDMAFd = -1
	return err
}

// ExposeDMA page-flips to the framebuffer for hw.Index. Requires
// OpenForDMA.
func (r *Runtime) ExposeDMA(hw *device.HardwareBuffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != OpenForDMA {
		return fmt.Errorf("display: expose_dma requires OpenForDMA, have %s", r.state)
	}
	if int(hw.Index) >= len(r.buffers) {
		return fmt.Errorf("display: hw index %d out of range", hw.Index)
	}

	if err := pageFlip(r.f, r.crtcID, r.buffers[hw.Index].fbID, uint64(hw.Index)); err != nil {
		return err
	}
	r.hasVsync = false
	r.exposingDMAFd = hw.DMAFd
	return nil
}

// ExposeStub rasterizes reason's caption into the next stub buffer in
// round-robin order and page-flips to it. Requires OpenForStub.
func (r *Runtime) ExposeStub(reason StubReason, dev DeviceInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != OpenForStub {
		return fmt.Errorf("display: expose_stub requires OpenForStub, have %s", r.state)
	}

	idx := r.stubRotateIndex % len(r.buffers)
	r.stubRotateIndex++
	b := r.buffers[idx]
	r.rasterizer.paint(b.data, reason, dev)

	if err := pageFlip(r.f, r.crtcID, b.fbID, uint64(idx)); err != nil {
		return err
	}
	r.hasVsync = false
	return nil
}

// WaitForVsync blocks until the pending page-flip's event has landed,
// returning immediately if one already has. Returns ErrTimeout if no event
// arrives within the configured timeout, ErrUnplugged if the connector's
// sysfs status reads disconnected.
func (r *Runtime) WaitForVsync() error {
	r.mu.Lock()
	already := r.hasVsync
	f := r.f
	port := r.port
	r.mu.Unlock()

	if already {
		return nil
	}

	ready, err := waitReadable(f, r.vsyncTimeout)
	if err != nil {
		return err
	}
	if !ready {
		if connectorIsUnplugged(port) {
			r.reportUnplugged()
			return ErrUnplugged
		}
		return ErrTimeout
	}

	if err := drainPageFlipEvent(f); err != nil {
		return err
	}

	r.mu.Lock()
	r.hasVsync = true
	r.exposingDMAFd = -1
	r.mu.Unlock()
	return nil
}

// reportUnplugged logs the unplug transition exactly once per transition,
// per the "reported once" latch.
func (r *Runtime) reportUnplugged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unplugReported {
		return
	}
	r.unplugReported = true
	r.log.Warn().Str("port", r.port).Msg("display connector unplugged")
}

// ClearUnplugReported resets the latch so the next unplug transition logs
// again. Open resets it the same way whenever it finds the connector plugged.
func (r *Runtime) ClearUnplugReported() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unplugReported = false
}

// DPMSPowerOff issues a DPMS-off property set on the connector. The
// connector can transiently flap to "disconnected" during the transition;
// the mirror does not treat that as an unplug.
func (r *Runtime) DPMSPowerOff() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Closed {
		return fmt.Errorf("display: dpms_power_off on closed runtime")
	}
	return setDPMSProperty(r.f, r.connectorID, dpmsOff)
}

// State reports the runtime's current top-level state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}
