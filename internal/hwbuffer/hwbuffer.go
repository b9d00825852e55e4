// Package hwbuffer enforces the hardware-buffer ownership invariant: a
// buffer dequeued from the capture device is owned by exactly one of the
// kernel queue, an in-flight worker job, or a releaser queue slot, never
// more than one at a time.
package hwbuffer

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pikvm-go/ustreamer/device"
)

// Owner identifies the current holder of a Buffer.
type Owner int32

const (
	OwnerNone Owner = iota
	OwnerKernel
	OwnerWorker
	OwnerReleaser
)

func (o Owner) String() string {
	switch o {
	case OwnerKernel:
		return "kernel"
	case OwnerWorker:
		return "worker"
	case OwnerReleaser:
		return "releaser"
	default:
		return "none"
	}
}

// Buffer wraps a device.HardwareBuffer with an atomically-checked owner tag
// and the generation id of the device-open cycle it was grabbed from.
// Every hand-off between Device, Worker Job and Releaser Pool goes through
// Transfer so a debug build can assert the invariant holds.
type Buffer struct {
	Raw        *device.HardwareBuffer
	Generation uuid.UUID

	owner atomic.Int32
}

// New wraps a freshly-grabbed hardware buffer, initially owned by the
// kernel's perspective (it was just dequeued on the controller's behalf).
func New(raw *device.HardwareBuffer, generation uuid.UUID) *Buffer {
	b := &Buffer{Raw: raw, Generation: generation}
	b.owner.Store(int32(OwnerKernel))
	return b
}

// Transfer moves ownership from `from` to `to`, failing if the buffer is
// not currently held by `from`. This is the sole mutation path for owner
// state, so a failed transfer always indicates a lifecycle bug rather than
// a race the caller should retry.
func (b *Buffer) Transfer(from, to Owner) error {
	if !b.owner.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("hwbuffer: index %d: expected owner %s, found %s",
			b.Raw.Index, from, Owner(b.owner.Load()))
	}
	return nil
}

// Owner reports the current holder, for logging and assertions only;
// callers must not branch production logic on it outside of Transfer.
func (b *Buffer) Owner() Owner {
	return Owner(b.owner.Load())
}

// StaleFor reports whether this buffer belongs to a device-open cycle other
// than current. The releaser and encoder pools do not call it.
func (b *Buffer) StaleFor(current uuid.UUID) bool {
	return b.Generation != current
}
