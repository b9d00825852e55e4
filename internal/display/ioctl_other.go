//go:build !linux

package display

import (
	"errors"
	"os"
	"time"
)

var errUnsupportedPlatform = errors.New("display: DRM is only supported on linux")

func openDRM(path string) (*os.File, error) { return nil, errUnsupportedPlatform }

func getResources(f *os.File) (crtcIDs, connectorIDs []uint32, err error) {
	return nil, nil, errUnsupportedPlatform
}

func getConnector(f *os.File, connectorID uint32) (drmModeGetConnector, []drmModeModeInfo, error) {
	return drmModeGetConnector{}, nil, errUnsupportedPlatform
}

func getCrtc(f *os.File, crtcID uint32) (drmModeCrtc, error) {
	return drmModeCrtc{}, errUnsupportedPlatform
}

func setCrtc(f *os.File, connectorID, crtcID, fbID uint32, mode drmModeModeInfo) error {
	return errUnsupportedPlatform
}

func restoreCrtc(f *os.File, connectorID uint32, saved drmModeCrtc) error {
	return errUnsupportedPlatform
}

func createDumb(f *os.File, width, height, bpp uint32) (drmModeCreateDumb, error) {
	return drmModeCreateDumb{}, errUnsupportedPlatform
}

func mapDumb(f *os.File, handle uint32, size uint64) ([]byte, error) {
	return nil, errUnsupportedPlatform
}

func destroyDumb(f *os.File, handle uint32) error { return errUnsupportedPlatform }

func addFB(f *os.File, width, height, pitch, bpp, depth, handle uint32) (uint32, error) {
	return 0, errUnsupportedPlatform
}

func removeFB(f *os.File, fbID uint32) error { return errUnsupportedPlatform }

func primeFDToHandle(f *os.File, dmaFd int32) (uint32, error) {
	return 0, errUnsupportedPlatform
}

func pageFlip(f *os.File, crtcID, fbID uint32, userData uint64) error {
	return errUnsupportedPlatform
}

func waitReadable(f *os.File, timeout time.Duration) (bool, error) {
	return false, errUnsupportedPlatform
}

func drainPageFlipEvent(f *os.File) error { return errUnsupportedPlatform }

func readConnectorStatusFile(path string) (byte, error) {
	return 0, errUnsupportedPlatform
}

const dpmsOff = 3

func setDPMSProperty(f *os.File, connectorID uint32, value uint64) error {
	return errUnsupportedPlatform
}

type drmModeGetConnector struct {
	ConnectorID uint32
	Connection  uint32
}

type drmModeModeInfo struct {
	Hdisplay uint16
	Vdisplay uint16
	Vrefresh uint32
	Flags    uint32
	Type     uint32
	Name     [32]byte
}

type drmModeCrtc struct {
	CrtcID uint32
	FbID   uint32
	Mode   drmModeModeInfo
}

type drmModeCreateDumb struct {
	Handle uint32
	Pitch  uint32
	Size   uint64
}

const (
	connectorStatusConnected    = 1
	connectorStatusDisconnected = 2
	modeFlagInterlace           = 1 << 4
	modeTypePreferred           = 1 << 3
)
