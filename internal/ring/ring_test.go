package ring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerConsumerRoundTrip(t *testing.T) {
	r := New(4)

	idx, err := r.ProducerAcquire(0)
	require.NoError(t, err)
	r.Item(idx).Sequence = 42
	r.ProducerRelease(idx)

	cidx, err := r.ConsumerAcquire(0)
	require.NoError(t, err)
	assert.Equal(t, idx, cidx)
	assert.Equal(t, uint32(42), r.Item(cidx).Sequence)
	r.ConsumerRelease(cidx)
}

func TestProducerAcquireFailsImmediatelyWhenFull(t *testing.T) {
	r := New(2)

	for i := 0; i < 2; i++ {
		idx, err := r.ProducerAcquire(0)
		require.NoError(t, err)
		r.ProducerRelease(idx)
	}

	_, err := r.ProducerAcquire(0)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestConsumerAcquireTimesOutWhenEmpty(t *testing.T) {
	r := New(4)
	_, err := r.ConsumerAcquire(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestConsumptionOrderMatchesReleaseOrder(t *testing.T) {
	r := New(4)

	for i := 0; i < 3; i++ {
		idx, err := r.ProducerAcquire(0)
		require.NoError(t, err)
		r.Item(idx).Sequence = uint32(i)
		r.ProducerRelease(idx)
	}

	for i := 0; i < 3; i++ {
		idx, err := r.ConsumerAcquire(0)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), r.Item(idx).Sequence)
		r.ConsumerRelease(idx)
	}
}
