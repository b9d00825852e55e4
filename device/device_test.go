package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigOptions(t *testing.T) {
	var cfg config
	WithBufferSize(6)(&cfg)
	WithDMAExport()(&cfg)

	assert.Equal(t, uint32(6), cfg.bufSize)
	assert.True(t, cfg.dmaExport)
}

func TestHardwareBufferCarriesFrameMetadata(t *testing.T) {
	hw := &HardwareBuffer{
		Index: 2,
		DMAFd: -1,
		Frame: &Frame{
			Width:  1920,
			Height: 1080,
			Online: true,
		},
	}

	require.NotNil(t, hw.Frame)
	assert.Equal(t, uint32(2), hw.Index)
	assert.True(t, hw.Frame.Online)
	assert.EqualValues(t, -1, hw.DMAFd)
}
