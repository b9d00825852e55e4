// Package encoderpool implements the worker pool that encodes captured
// hardware buffers into still-image frames concurrently, pacing the
// controller's grab cadence to the slowest worker via a per-worker fluency
// delay.
package encoderpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/pikvm-go/ustreamer/device"
)

var encodeLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "encoder_latency_seconds",
		Help: "Encoder worker latency by worker name",
		Buckets: []float64{
			0.001, 0.005, 0.010, 0.020, 0.040, 0.080, 0.160, 0.320,
		},
	},
	[]string{"worker"},
)

// Encoder turns a raw hardware buffer into an encoded still-image frame.
// Implementations are supplied by an external codec backend; the pool is
// agnostic to the wire format produced.
type Encoder interface {
	Encode(hw *device.HardwareBuffer, dest *device.Frame) error
}

// Job is an encoder input/output pair. After the worker finishes,
// JobFailed is set when the encode errored and JobTimely is set when it
// succeeded within the deadline (neither is set for a late success): the
// controller reads both to decide expose / drop-failed / drop-late.
type Job struct {
	HW   *device.HardwareBuffer
	Dest *device.Frame

	JobFailed bool
	JobTimely bool
}

type worker struct {
	name string

	jobCh   chan *Job
	doneCh  chan *Job
	encoder Encoder

	mu       sync.Mutex
	recent   []time.Duration
	deadline time.Duration
}

// Pool is a fixed-size set of named encoder workers.
type Pool struct {
	workers []*worker
	idle    chan *worker
	log     zerolog.Logger
}

// New starts n workers, each running encoder, with deadline bounding how
// long an encode may run before its result is considered late.
func New(n int, namePrefix string, encoder Encoder, deadline time.Duration, logger zerolog.Logger) *Pool {
	p := &Pool{
		idle: make(chan *worker, n),
		log:  logger.With().Str("component", "encoderpool").Logger(),
	}
	for i := 0; i < n; i++ {
		w := &worker{
			name:     fmt.Sprintf("%s-%d", namePrefix, i),
			jobCh:    make(chan *Job, 1),
			doneCh:   make(chan *Job, 1),
			encoder:  encoder,
			deadline: deadline,
			recent:   make([]time.Duration, 0, 8),
		}
		p.workers = append(p.workers, w)
		go p.run(w)
		p.idle <- w
	}
	return p
}

func (p *Pool) run(w *worker) {
	for job := range w.jobCh {
		start := time.Now()
		err := w.encoder.Encode(job.HW, job.Dest)
		elapsed := time.Since(start)

		encodeLatency.WithLabelValues(w.name).Observe(elapsed.Seconds())

		job.JobFailed = err != nil
		job.JobTimely = err == nil && (w.deadline <= 0 || elapsed <= w.deadline)
		if err != nil {
			p.log.Debug().Err(err).Str("worker", w.name).Msg("encode failed")
		}

		w.mu.Lock()
		w.recent = append(w.recent, elapsed)
		if len(w.recent) > 8 {
			w.recent = w.recent[1:]
		}
		w.mu.Unlock()

		w.doneCh <- job
		p.idle <- w
	}
}

// Worker opaquely identifies one of the pool's workers to the caller.
type Worker struct {
	w *worker
}

// Wait blocks until any worker is idle, returning it along with the
// completed job it was carrying, if any (nil if the worker had no prior
// assignment, e.g. right after New).
func (p *Pool) Wait() (Worker, *Job) {
	w := <-p.idle
	select {
	case job := <-w.doneCh:
		return Worker{w}, job
	default:
		return Worker{w}, nil
	}
}

// Assign hands the worker its next job; the worker encodes asynchronously
// and becomes available again via Wait once done.
func (p *Pool) Assign(worker Worker, job *Job) {
	worker.w.jobCh <- job
}

// Release returns a worker to the idle set without assigning it a job, used
// when the controller assigns nothing this tick (a failed grab, or a grabbed
// buffer skipped by fluency pacing) but still needs the worker's slot back
// for the next Wait.
func (p *Pool) Release(worker Worker) {
	p.idle <- worker.w
}

// GetFluencyDelay returns how long the controller should wait before
// grabbing another frame, derived from this worker's recent latencies
// relative to its own deadline. A slower-than-average recent run increases
// the delay so the slowest worker doesn't dominate capture cadence.
func (p *Pool) GetFluencyDelay(worker Worker) time.Duration {
	w := worker.w
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.recent) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range w.recent {
		total += d
	}
	avg := total / time.Duration(len(w.recent))
	if w.deadline > 0 && avg > w.deadline {
		return avg - w.deadline
	}
	return 0
}

// Close stops every worker's loop. Jobs already in flight are abandoned;
// callers must have already drained outstanding hardware buffers via the
// releaser pool.
func (p *Pool) Close() {
	for _, w := range p.workers {
		close(w.jobCh)
	}
}
