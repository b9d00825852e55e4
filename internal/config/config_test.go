package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsAreValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestNegativeDesiredFPSRejected(t *testing.T) {
	s := Default()
	s.DesiredFPS = -1
	assert.Error(t, s.Validate())
}

func TestExitOnNoClientsBelowHeartbeatRejected(t *testing.T) {
	s := Default()
	s.ExitOnNoClients = 1
	s.SinkHeartbeatInterval = 2 * time.Second
	assert.Error(t, s.Validate())
}

func TestLastAsBlankAcceptsAnySign(t *testing.T) {
	for _, v := range []int{-1, 0, 5} {
		s := Default()
		s.LastAsBlank = v
		assert.NoError(t, s.Validate())
	}
}
