// Package releaser implements the per-buffer-slot releaser pool: one
// goroutine per hardware-buffer slot that returns used capture buffers to
// the device, decoupling the (possibly blocking) kernel release call from
// the controller's hot grab loop.
package releaser

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pikvm-go/ustreamer/device"
)

// queueTimeout is how long a releaser goroutine waits on its private queue
// before looping back to check the stop flag.
const queueTimeout = 100 * time.Millisecond

// Device is the subset of device.Device the releaser pool depends on.
type Device interface {
	ReleaseBuffer(hw *device.HardwareBuffer) error
}

// Pool runs one goroutine per hardware-buffer slot. Each slot has its own
// single-element queue, so enqueuing one buffer never waits behind another
// buffer's release; the release calls themselves are serialized by the
// shared mutex.
type Pool struct {
	dev Device
	log zerolog.Logger

	mu       *sync.Mutex // shared with the controller's grab calls
	queues   []chan *device.HardwareBuffer
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New starts a releaser pool with one slot queue per hardware buffer.
// mu is the same mutex the controller holds around Device.GrabBuffer, since
// release_buffer and grab_buffer are serialized against each other.
func New(dev Device, mu *sync.Mutex, slots int, logger zerolog.Logger) *Pool {
	p := &Pool{
		dev:    dev,
		log:    logger.With().Str("component", "releaser").Logger(),
		mu:     mu,
		queues: make([]chan *device.HardwareBuffer, slots),
		stop:   make(chan struct{}),
	}
	for i := range p.queues {
		p.queues[i] = make(chan *device.HardwareBuffer, 1)
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

func (p *Pool) run(slot int) {
	defer p.wg.Done()
	q := p.queues[slot]
	for {
		select {
		case <-p.stop:
			return
		case hw := <-q:
			p.mu.Lock()
			err := p.dev.ReleaseBuffer(hw)
			p.mu.Unlock()
			if err != nil {
				p.log.Error().Err(err).Uint32("index", hw.Index).Msg("release failed, stopping pool")
				p.signalStop()
				return
			}
		case <-time.After(queueTimeout):
			// loop back and re-check the stop flag.
		}
	}
}

// Enqueue hands a hardware buffer to its slot's releaser goroutine. The
// slot index must match hw.Index; callers create one Pool per device with
// exactly as many slots as the device has buffers.
func (p *Pool) Enqueue(hw *device.HardwareBuffer) {
	p.queues[hw.Index] <- hw
}

// Stopped reports whether a releaser goroutine has signaled a fatal release
// error; the controller must drain out of its inner loop when true.
func (p *Pool) Stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

func (p *Pool) signalStop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Close signals every releaser goroutine to exit and waits for them.
func (p *Pool) Close() {
	p.signalStop()
	p.wg.Wait()
}
