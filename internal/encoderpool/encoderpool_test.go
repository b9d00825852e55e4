package encoderpool

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pikvm-go/ustreamer/device"
)

type fakeEncoder struct {
	delay time.Duration
	err   error
}

func (f *fakeEncoder) Encode(hw *device.HardwareBuffer, dest *device.Frame) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

func TestAssignAndWaitRoundTrip(t *testing.T) {
	pool := New(1, "test", &fakeEncoder{}, time.Second, zerolog.Nop())
	defer pool.Close()

	worker, prior := pool.Wait()
	assert.Nil(t, prior)

	job := &Job{HW: &device.HardwareBuffer{Index: 1}, Dest: &device.Frame{}}
	pool.Assign(worker, job)

	worker2, done := pool.Wait()
	require.NotNil(t, done)
	assert.False(t, done.JobFailed)
	assert.True(t, done.JobTimely)
	pool.Release(worker2)
}

func TestJobFailedOnEncodeError(t *testing.T) {
	pool := New(1, "test", &fakeEncoder{err: errors.New("boom")}, time.Second, zerolog.Nop())
	defer pool.Close()

	worker, _ := pool.Wait()
	job := &Job{HW: &device.HardwareBuffer{}, Dest: &device.Frame{}}
	pool.Assign(worker, job)

	_, done := pool.Wait()
	require.NotNil(t, done)
	assert.True(t, done.JobFailed)
	assert.False(t, done.JobTimely)
}

func TestJobLateWhenPastDeadline(t *testing.T) {
	pool := New(1, "test", &fakeEncoder{delay: 20 * time.Millisecond}, 5*time.Millisecond, zerolog.Nop())
	defer pool.Close()

	worker, _ := pool.Wait()
	job := &Job{HW: &device.HardwareBuffer{}, Dest: &device.Frame{}}
	pool.Assign(worker, job)

	_, done := pool.Wait()
	require.NotNil(t, done)
	assert.False(t, done.JobFailed)
	assert.False(t, done.JobTimely)
}
