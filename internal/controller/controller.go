// Package controller implements the stream controller: the outer
// reinit-on-error loop and the inner grab/encode/expose/release cycle that
// ties the device, frame ring, sinks, encoder pool, releaser pool and
// display mirror together.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pikvm-go/ustreamer/device"
	"github.com/pikvm-go/ustreamer/imgsupport"
	"github.com/pikvm-go/ustreamer/internal/config"
	"github.com/pikvm-go/ustreamer/internal/display"
	"github.com/pikvm-go/ustreamer/internal/encoderpool"
	"github.com/pikvm-go/ustreamer/internal/hwbuffer"
	"github.com/pikvm-go/ustreamer/internal/metrics"
	"github.com/pikvm-go/ustreamer/internal/motionvideo"
	"github.com/pikvm-go/ustreamer/internal/releaser"
	"github.com/pikvm-go/ustreamer/internal/ring"
	"github.com/pikvm-go/ustreamer/internal/sink"
	"github.com/pikvm-go/ustreamer/v4l2"
)

// errStopRequested unwinds the outer loop without logging it as a failure.
var errStopRequested = errors.New("controller: stop requested")

const (
	grabTimeout        = 2 * time.Second
	ringAcquireTimeout = 50 * time.Millisecond
	slowdownSlice      = 100 * time.Millisecond
	slowdownTotal      = 1 * time.Second
	encoderWorkers     = 2
	encodeDeadline     = 150 * time.Millisecond
)

// Controller runs one capture device end to end: outer reinit loop plus the
// grab/encode/expose/release inner loop.
type Controller struct {
	cfg     config.Settings
	devPath string
	devOpts []device.Option

	encoder encoderpool.Encoder
	motion  motionvideo.Processor

	imageSink *sink.Sink
	telemetry *metrics.Telemetry
	disp      *display.Runtime
	status    StatusSink

	log zerolog.Logger

	stopFlag atomic.Bool
	errnoLog errnoLatch
}

// New assembles a Controller. encoder and motion are supplied by the codec
// backend; imageSink is the consumer-facing endpoint the inner loop
// publishes encoded frames to.
func New(
	cfg config.Settings,
	devPath string,
	devOpts []device.Option,
	encoder encoderpool.Encoder,
	motion motionvideo.Processor,
	imageSink *sink.Sink,
	telemetry *metrics.Telemetry,
	disp *display.Runtime,
	logger zerolog.Logger,
	opts ...Option,
) *Controller {
	if motion == nil {
		motion = motionvideo.Noop{}
	}
	c := &Controller{
		cfg:       cfg,
		devPath:   devPath,
		devOpts:   devOpts,
		encoder:   encoder,
		motion:    motion,
		imageSink: imageSink,
		telemetry: telemetry,
		disp:      disp,
		status:    NoopStatusSink{},
		log:       logger.With().Str("component", "controller").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stop asks the controller to exit its outer loop once the current
// generation unwinds.
func (c *Controller) Stop() { c.stopFlag.Store(true) }

// Run drives the outer reinit loop until Stop is called or ctx is canceled.
// Every other error ends the current generation; it is logged and the loop
// retries after config.ErrorDelay.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if c.stopFlag.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.runGeneration(ctx)
		if err == nil || errors.Is(err, errStopRequested) {
			return nil
		}

		var errno syscall.Errno
		if errors.As(err, &errno) && !c.errnoLog.shouldLog(errno) {
			c.log.Debug().Err(err).Msg("stream generation ended (errno already reported)")
		} else {
			c.log.Error().Err(err).Msg("stream generation ended, reopening after delay")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(c.cfg.ErrorDelay) * time.Second):
		}
	}
}

// runGeneration opens the device and display once, runs the inner loop
// until it returns, and tears everything down. Each call tags the buffers
// it grabs with a fresh generation id and creates (and closes) its own
// releaser and encoder pools; those goroutines do not check the id.
func (c *Controller) runGeneration(ctx context.Context) error {
	generation := uuid.New()

	dev, err := device.Open(c.devPath, c.log, c.devOpts...)
	if err != nil {
		c.exposeOpenFailure()
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()

	c.status.SetStreaming(true)
	defer c.status.SetStreaming(false)

	var releaseMu sync.Mutex
	releaserPool := releaser.New(dev, &releaseMu, int(dev.BufferCount()), c.log)
	defer releaserPool.Close()

	state, reason, err := c.openDisplay(dev)
	if err != nil {
		return fmt.Errorf("open display: %w", err)
	}
	c.log.Info().Str("state", state.String()).Int("stub_reason", int(reason)).Msg("display opened")
	c.telemetry.SetDisplayState(displayMetricState(state))
	defer c.disp.Close()

	pool := encoderpool.New(encoderWorkers, "encoder", c.encoder, encodeDeadline, c.log)
	defer pool.Close()

	frameRing := ring.New(4)

	return c.innerLoop(ctx, dev, &releaseMu, releaserPool, frameRing, pool, generation)
}

func displayMetricState(s display.State) int {
	switch s {
	case display.OpenForDMA:
		return metrics.DisplayOpenForDMA
	case display.OpenForStub:
		return metrics.DisplayOpenForStub
	default:
		return metrics.DisplayClosed
	}
}

// openDisplay opens the mirror against dev's negotiated capture parameters,
// importing its DMA-BUF buffers if the device was opened with
// WithDMAExport.
func (c *Controller) openDisplay(dev *device.Device) (display.State, display.StubReason, error) {
	return c.disp.Open(display.OpenOptions{
		CaptureWidth:    dev.Width(),
		CaptureHeight:   dev.Height(),
		CaptureHz:       dev.Hz(),
		CaptureFormat:   dev.Format(),
		DMAFds:          dev.DMAFds(),
		StubBufferCount: 4,
	})
}

// exposeOpenFailure paints a NO SIGNAL stub when the device itself could
// not be opened, so the mirror never freezes on a black screen with no
// explanation while the outer loop retries.
func (c *Controller) exposeOpenFailure() {
	if c.disp.State() != display.Closed {
		return
	}
	state, _, err := c.disp.Open(display.OpenOptions{Stub: true, StubBufferCount: 4})
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to open stub display after device-open failure")
		return
	}
	if state == display.OpenForStub {
		c.disp.ExposeStub(display.StubReasonNoSignal, display.DeviceInfo{})
	}
}

// innerLoop is the five-step grab/encode/expose/release cycle: wait for an
// idle worker and harvest its previous job, apply slowdown gating, grab a
// new buffer, apply fluency pacing (assign to the worker or skip encoding
// entirely), and account captured fps.
func (c *Controller) innerLoop(
	ctx context.Context,
	dev *device.Device,
	releaseMu *sync.Mutex,
	releaserPool *releaser.Pool,
	frameRing *ring.Ring,
	pool *encoderpool.Pool,
	generation uuid.UUID,
) error {
	owners := make(map[uint32]*hwbuffer.Buffer)

	var offlineSince time.Time
	blanked := false
	bs := &blankFrameState{}
	lastClientsSeen := time.Now()
	hadClients := false

	lastFPSTick := time.Now()
	framesThisSecond := 0

	var grabAfter time.Time

	for {
		if c.stopFlag.Load() {
			return errStopRequested
		}
		if releaserPool.Stopped() {
			return errors.New("releaser pool stopped, buffer release is no longer reliable")
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if done := c.checkExitOnIdle(&lastClientsSeen); done {
			c.Stop()
			return errStopRequested
		}

		if hasClients := c.imageSink.HasClients(); hasClients != hadClients {
			c.status.SetHasClients(hasClients)
			hadClients = hasClients
		}

		// Step 1: wait for an idle worker and harvest whatever job it was
		// carrying before handing it a new one.
		worker, prevJob := pool.Wait()
		if prevJob != nil {
			c.settleJob(prevJob, owners, releaserPool, frameRing, dev, bs)
		}

		// Step 2: slowdown gating.
		forceKeyframe := c.applySlowdown()

		// Step 3: grab a new buffer.
		releaseMu.Lock()
		hw, err := dev.GrabBuffer(grabTimeout)
		releaseMu.Unlock()
		if err != nil {
			pool.Release(worker)
			if errors.Is(err, device.ErrBrokenFrame) {
				continue
			}
			if errors.Is(err, device.ErrGrabTimeout) {
				if offlineSince.IsZero() {
					offlineSince = time.Now()
				}
				if !blanked && c.shouldBlank(offlineSince) {
					c.blankIfPossible(dev)
					blanked = true
				}
				c.exposeFrame(bs, nil, dev, frameRing)
				continue
			}
			return fmt.Errorf("grab: %w", err)
		}
		offlineSince = time.Time{}
		blanked = false

		buf := hwbuffer.New(hw, generation)
		if err := buf.Transfer(hwbuffer.OwnerKernel, hwbuffer.OwnerWorker); err != nil {
			c.log.Error().Err(err).Msg("ownership invariant violated on grab")
			pool.Release(worker)
			releaserPool.Enqueue(hw)
			continue
		}

		// Step 4: fluency pacing. If the previous assignment's pacing
		// window hasn't elapsed yet, release the buffer without encoding
		// instead of assigning it to the worker.
		now := time.Now()
		if !grabAfter.IsZero() && now.Before(grabAfter) {
			if err := buf.Transfer(hwbuffer.OwnerWorker, hwbuffer.OwnerReleaser); err != nil {
				c.log.Error().Err(err).Msg("ownership invariant violated on fluency release")
			}
			releaserPool.Enqueue(hw)
			pool.Release(worker)
			c.telemetry.RingPublishes.WithLabelValues(metrics.OutcomeDroppedFluency).Inc()
			continue
		}
		owners[hw.Index] = buf

		job := &encoderpool.Job{HW: hw, Dest: &device.Frame{}}
		pool.Assign(worker, job)
		grabAfter = now.Add(pool.GetFluencyDelay(worker))

		c.motion.Feed(hw.Frame, forceKeyframe)
		c.tickFPS(&lastFPSTick, &framesThisSecond)

		if c.disp.State() == display.OpenForDMA {
			if err := c.disp.ExposeDMA(hw); err == nil {
				if err := c.disp.WaitForVsync(); err == nil {
					c.telemetry.PageFlips.Inc()
				}
			}
		}
	}
}

// applySlowdown implements §4.7.1: when slowdown is enabled and no sink
// client is present, sleep in 100ms slices up to a full second, checking
// for a client (and the stop flag) each slice. Returns true iff the full
// second elapsed with no client appearing, which forces a keyframe on the
// next motion-video packet so a late-arriving client decodes immediately.
func (c *Controller) applySlowdown() bool {
	if !c.cfg.Slowdown || c.imageSink.HasClients() {
		return false
	}
	var elapsed time.Duration
	for elapsed < slowdownTotal {
		if c.stopFlag.Load() {
			return false
		}
		time.Sleep(slowdownSlice)
		elapsed += slowdownSlice
		if c.imageSink.HasClients() {
			return false
		}
	}
	return true
}

// settleJob harvests a just-completed encode job: a failed or late job is
// recorded and dropped, otherwise it is handed to the blank/online policy
// (§4.7.3), which exposes it as the live frame. Either way the underlying
// hardware buffer is handed to the releaser pool.
func (c *Controller) settleJob(
	job *encoderpool.Job,
	owners map[uint32]*hwbuffer.Buffer,
	releaserPool *releaser.Pool,
	frameRing *ring.Ring,
	dev *device.Device,
	bs *blankFrameState,
) {
	hw := job.HW
	buf := owners[hw.Index]
	delete(owners, hw.Index)

	switch {
	case job.JobFailed:
		c.telemetry.RingPublishes.WithLabelValues(metrics.OutcomeDroppedFailed).Inc()
	case !job.JobTimely:
		c.telemetry.RingPublishes.WithLabelValues(metrics.OutcomeDroppedLate).Inc()
	default:
		c.exposeFrame(bs, job.Dest, dev, frameRing)
	}

	if buf != nil {
		if err := buf.Transfer(hwbuffer.OwnerWorker, hwbuffer.OwnerReleaser); err != nil {
			c.log.Error().Err(err).Msg("ownership invariant violated on release")
		}
	}
	releaserPool.Enqueue(hw)
}

// blankFrameState holds the Stream Runtime's "blank-frame renderer",
// "last_as_blank expiry timestamp", and "last_online" flag (§9's Stream
// Runtime fields) for one device-open generation.
type blankFrameState struct {
	lastOnline bool
	blankAt    time.Time
	jpeg       []byte
	width      uint32
	height     uint32
}

// exposeFrame implements §4.7.3's `_expose_frame`: a live frame always
// exposes and arms last_online; going offline blanks immediately, after a
// timer, or never, depending on last_as_blank; an already-offline tick
// re-evaluates the same timer rather than re-arming it ("first transition
// wins", per the open question this leaves documented).
func (c *Controller) exposeFrame(bs *blankFrameState, frame *device.Frame, dev *device.Device, frameRing *ring.Ring) {
	if frame != nil {
		bs.lastOnline = true
		bs.blankAt = time.Time{}
		c.publish(frame, frameRing)
		return
	}

	wasOnline := bs.lastOnline
	bs.lastOnline = false

	switch {
	case c.cfg.LastAsBlank < 0:
		c.publishBlank(bs, dev, frameRing)
	case c.cfg.LastAsBlank == 0:
		// Freeze the last live frame forever: nothing to publish.
	default:
		if wasOnline {
			bs.blankAt = time.Now().Add(time.Duration(c.cfg.LastAsBlank) * time.Second)
		}
		if !bs.blankAt.IsZero() && !time.Now().Before(bs.blankAt) {
			c.publishBlank(bs, dev, frameRing)
		}
	}
}

// publishBlank renders (and caches, per generation and capture size) the
// pre-rendered "NO SIGNAL" blank jpeg and publishes it with online=false.
func (c *Controller) publishBlank(bs *blankFrameState, dev *device.Device, frameRing *ring.Ring) {
	if bs.jpeg == nil || bs.width != dev.Width() || bs.height != dev.Height() {
		jpeg, err := renderBlankJPEG(dev.Width(), dev.Height())
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to render blank frame")
			return
		}
		bs.jpeg, bs.width, bs.height = jpeg, dev.Width(), dev.Height()
	}
	c.publish(&device.Frame{
		Width:       dev.Width(),
		Height:      dev.Height(),
		PixelFormat: v4l2.PixelFmtMJPEG,
		Online:      false,
		Timestamp:   time.Now(),
		Data:        bs.jpeg,
	}, frameRing)
}

// renderBlankJPEG renders a solid-black "NO SIGNAL" placeholder the size of
// the capture format, reusing the same RGB24-to-JPEG path the encoder pool
// uses for live frames.
func renderBlankJPEG(width, height uint32) ([]byte, error) {
	return imgsupport.Rgb24ToJpeg(int(width), int(height), make([]byte, int(width)*int(height)*3))
}

// publish round-trips frame through the image ring before handing it to the
// sink, matching the frame-ring's producer/consumer contract even though
// this controller consumes it on the same goroutine that produced it. A
// full ring is retried in a tight loop until a slot frees up or the
// controller is asked to stop.
func (c *Controller) publish(frame *device.Frame, frameRing *ring.Ring) {
	var idx int
	for {
		var err error
		idx, err = frameRing.ProducerAcquire(ringAcquireTimeout)
		if err == nil {
			break
		}
		c.log.Error().Msg("image ring full, retrying")
		if c.stopFlag.Load() {
			return
		}
	}
	*frameRing.Item(idx) = *frame
	frameRing.ProducerRelease(idx)

	cidx, err := frameRing.ConsumerAcquire(ringAcquireTimeout)
	if err != nil {
		c.log.Warn().Msg("image ring produced but not immediately consumable")
		return
	}
	item := frameRing.Item(cidx)
	keyRequested := c.imageSink.ServerPut(sink.Frame{
		Data:      item.Data,
		Online:    item.Online,
		Sequence:  uint64(item.Sequence),
		Timestamp: item.Timestamp,
	})
	frameRing.ConsumerRelease(cidx)
	if keyRequested {
		c.motion.Feed(item, true)
	}
	c.telemetry.RingPublishes.WithLabelValues(metrics.OutcomeExposed).Inc()
}

func (c *Controller) tickFPS(lastTick *time.Time, count *int) {
	*count++
	if time.Since(*lastTick) >= time.Second {
		c.telemetry.CapturedFPS.Set(float64(*count))
		*count = 0
		*lastTick = time.Now()
	}
}

// checkExitOnIdle reports whether the grace period configured by
// ExitOnNoClients has elapsed with no sink reader attached.
func (c *Controller) checkExitOnIdle(lastClientsSeen *time.Time) bool {
	if c.cfg.ExitOnNoClients <= 0 {
		return false
	}
	if c.imageSink.HasClients() {
		*lastClientsSeen = time.Now()
		return false
	}
	return time.Since(*lastClientsSeen) >= time.Duration(c.cfg.ExitOnNoClients)*time.Second
}

// shouldBlank decides, from how long the device has been unreadable,
// whether the display mirror should switch to a blank (NO SIGNAL) stub.
// Negative LastAsBlank blanks immediately, zero never blanks (freezes the
// last frame forever), positive values blank after that many seconds.
func (c *Controller) shouldBlank(offlineSince time.Time) bool {
	if offlineSince.IsZero() {
		return false
	}
	switch {
	case c.cfg.LastAsBlank < 0:
		return true
	case c.cfg.LastAsBlank == 0:
		return false
	default:
		return time.Since(offlineSince) >= time.Duration(c.cfg.LastAsBlank)*time.Second
	}
}

func (c *Controller) blankIfPossible(dev *device.Device) {
	if c.disp.State() != display.OpenForStub {
		return
	}
	c.disp.ExposeStub(display.StubReasonNoSignal, display.DeviceInfo{
		Width: dev.Width(), Height: dev.Height(), Hz: dev.Hz(),
	})
}
