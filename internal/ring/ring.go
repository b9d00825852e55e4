// Package ring implements the bounded single-producer/single-consumer frame
// ring described for the image sink: a fixed-capacity slot array where a
// producer acquire fails when the next write slot is still "ready", and a
// consumer acquire fails when the next read slot is not "ready". With a zero
// timeout the failure is immediate; otherwise acquire retries until the
// timeout elapses.
package ring

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/pikvm-go/ustreamer/device"
)

// ErrTimeout is returned by the blocking Acquire variants when no slot
// becomes available before the deadline.
var ErrTimeout = errors.New("ring: timeout")

type slotState int32

const (
	slotFree slotState = iota
	slotBeingWritten
	slotReady
	slotBeingRead
)

type slot struct {
	state slotState
	item  device.Frame
	seq   uint64
}

// Ring is a fixed-capacity ordered array of pre-allocated frame slots.
// Slots are consumed in the order they were released by the producer.
type Ring struct {
	slots   []slot
	head    atomic.Uint64 // next slot index to acquire for write
	tail    atomic.Uint64 // next slot index to acquire for read
	nextSeq atomic.Uint64
}

// New creates a ring with the given fixed capacity (4 for the image ring,
// per the frame-ring specification).
func New(capacity int) *Ring {
	return &Ring{slots: make([]slot, capacity)}
}

// ProducerAcquire returns the index of a free slot the producer may
// exclusively write, or ErrTimeout if every slot is still ready and the
// deadline (zero meaning "try once, don't block") elapses first.
func (r *Ring) ProducerAcquire(timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		idx := int(r.head.Load()) % len(r.slots)
		s := &r.slots[idx]
		if slotState(atomic.LoadInt32((*int32)(&s.state))) == slotFree {
			atomic.StoreInt32((*int32)(&s.state), int32(slotBeingWritten))
			return idx, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return -1, ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// Item returns a pointer to the frame storage for slot idx, valid for
// writing between ProducerAcquire and ProducerRelease.
func (r *Ring) Item(idx int) *device.Frame {
	return &r.slots[idx].item
}

// ProducerRelease publishes the slot as ready for consumption and advances
// the write cursor.
func (r *Ring) ProducerRelease(idx int) {
	s := &r.slots[idx]
	s.seq = r.nextSeq.Add(1)
	atomic.StoreInt32((*int32)(&s.state), int32(slotReady))
	r.head.Add(1)
}

// ConsumerAcquire returns the index of the oldest ready slot, or ErrTimeout
// if no slot is ready before the deadline.
func (r *Ring) ConsumerAcquire(timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		idx := int(r.tail.Load()) % len(r.slots)
		s := &r.slots[idx]
		if slotState(atomic.LoadInt32((*int32)(&s.state))) == slotReady {
			atomic.StoreInt32((*int32)(&s.state), int32(slotBeingRead))
			return idx, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return -1, ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}

// ConsumerRelease publishes the slot as free again and advances the read
// cursor.
func (r *Ring) ConsumerRelease(idx int) {
	s := &r.slots[idx]
	atomic.StoreInt32((*int32)(&s.state), int32(slotFree))
	r.tail.Add(1)
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int { return len(r.slots) }
