package releaser

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pikvm-go/ustreamer/device"
)

type fakeDevice struct {
	mu       sync.Mutex
	released []uint32
	failAt   uint32
}

func (f *fakeDevice) ReleaseBuffer(hw *device.HardwareBuffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hw.Index == f.failAt {
		return errors.New("release failed")
	}
	f.released = append(f.released, hw.Index)
	return nil
}

func TestEnqueueReleasesBuffer(t *testing.T) {
	dev := &fakeDevice{failAt: 999}
	var mu sync.Mutex
	pool := New(dev, &mu, 2, zerolog.Nop())
	defer pool.Close()

	pool.Enqueue(&device.HardwareBuffer{Index: 0})
	pool.Enqueue(&device.HardwareBuffer{Index: 1})

	require.Eventually(t, func() bool {
		dev.mu.Lock()
		defer dev.mu.Unlock()
		return len(dev.released) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestReleaseErrorStopsPool(t *testing.T) {
	dev := &fakeDevice{failAt: 0}
	var mu sync.Mutex
	pool := New(dev, &mu, 1, zerolog.Nop())
	defer pool.Close()

	pool.Enqueue(&device.HardwareBuffer{Index: 0})

	require.Eventually(t, func() bool {
		return pool.Stopped()
	}, time.Second, 5*time.Millisecond)
	assert.True(t, pool.Stopped())
}
