package sink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasClientsFollowsHeartbeatWindow(t *testing.T) {
	s := New("image", 0, 20*time.Millisecond)
	assert.False(t, s.HasClients())

	s.Heartbeat()
	assert.True(t, s.HasClients())

	time.Sleep(30 * time.Millisecond)
	assert.False(t, s.HasClients())
}

func TestServerCheckGatesWhenNoClients(t *testing.T) {
	s := New("image", 50*time.Millisecond, time.Second)

	assert.True(t, s.ServerCheck(time.Now()))
	s.ServerPut(Frame{Sequence: 1})
	assert.False(t, s.ServerCheck(time.Now()))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, s.ServerCheck(time.Now()))
}

func TestKeyRequestedConsumedOnce(t *testing.T) {
	s := New("video", 0, time.Second)
	s.RequestKeyframe()

	assert.True(t, s.ServerPut(Frame{Sequence: 1}))
	assert.False(t, s.ServerPut(Frame{Sequence: 2}))
}
