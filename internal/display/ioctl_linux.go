//go:build linux

package display

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DRM ioctl numbers, standard Linux ioctl encoding:
//
//	_IO(type, nr)         = (type << 8) | nr
//	_IOR(type, nr, size)  = 0x80000000 | (size << 16) | (type << 8) | nr
//	_IOW(type, nr, size)  = 0x40000000 | (size << 16) | (type << 8) | nr
//	_IOWR(type, nr, size) = 0xC0000000 | (size << 16) | (type << 8) | nr
//
// type is always 'd' (0x64) for DRM.
const (
	ioctlSetMaster        = 0x641e
	ioctlDropMaster        = 0x641f
	ioctlModeGetResources  = 0xc04064a0
	ioctlModeGetConnector  = 0xc05064a7
	ioctlModeGetCrtc       = 0xc06864a1
	ioctlModeSetCrtc       = 0xc06864a2
	ioctlModeCreateDumb    = 0xc02064b2
	ioctlModeMapDumb       = 0xc01064b3
	ioctlModeDestroyDumb   = 0xc00464b4
	ioctlModeAddFb         = 0xc01c64ae
	ioctlModeRmFb          = 0xc00464af
	ioctlModePageFlip      = 0xc01864b0
	ioctlPrimeFdToHandle   = 0xc00c642e
	ioctlModeObjGetProps   = 0xc02064b9
	ioctlModeObjSetProp    = 0xc01864ba
)

// Connector status, as reported by drmModeGetConnector.Connection.
const (
	connectorStatusConnected    = 1
	connectorStatusDisconnected = 2
)

type drmModeCardRes struct {
	FbIDPtr         uint64
	CrtcIDPtr       uint64
	ConnectorIDPtr  uint64
	EncoderIDPtr    uint64
	CountFbs        uint32
	CountCrtcs      uint32
	CountConnectors uint32
	CountEncoders   uint32
	MinWidth        uint32
	MaxWidth        uint32
	MinHeight       uint32
	MaxHeight       uint32
}

type drmModeModeInfo struct {
	Clock      uint32
	Hdisplay   uint16
	HsyncStart uint16
	HsyncEnd   uint16
	Htotal     uint16
	Hskew      uint16
	Vdisplay   uint16
	VsyncStart uint16
	VsyncEnd   uint16
	Vtotal     uint16
	Vscan      uint16
	Vrefresh   uint32
	Flags      uint32
	Type       uint32
	Name       [32]byte
}

// modeFlagInterlace mirrors DRM_MODE_FLAG_INTERLACE.
const modeFlagInterlace = 1 << 4

// modeTypePreferred mirrors DRM_MODE_TYPE_PREFERRED.
const modeTypePreferred = 1 << 3

type drmModeGetConnector struct {
	EncodersPtr     uint64
	ModesPtr        uint64
	PropsPtr        uint64
	PropValuesPtr   uint64
	CountModes      uint32
	CountProps      uint32
	CountEncoders   uint32
	EncoderID       uint32
	ConnectorID     uint32
	ConnectorType   uint32
	ConnectorTypeID uint32
	Connection      uint32
	MmWidth         uint32
	MmHeight        uint32
	Subpixel        uint32
	Pad             uint32
}

type drmModeCrtc struct {
	SetConnectorsPtr uint64
	CountConnectors  uint32
	CrtcID           uint32
	FbID             uint32
	X                uint32
	Y                uint32
	GammaSize        uint32
	ModeValid        uint32
	Mode             drmModeModeInfo
}

type drmModeCreateDumb struct {
	Height uint32
	Width  uint32
	Bpp    uint32
	Flags  uint32
	Handle uint32
	Pitch  uint32
	Size   uint64
}

type drmModeMapDumb struct {
	Handle uint32
	Pad    uint32
	Offset uint64
}

type drmModeFbCmd struct {
	FbID   uint32
	Width  uint32
	Height uint32
	Pitch  uint32
	Bpp    uint32
	Depth  uint32
	Handle uint32
}

type drmModePageFlip struct {
	CrtcID   uint32
	FbID     uint32
	Flags    uint32
	Reserved uint32
	UserData uint64
}

type drmPrimeHandle struct {
	Handle uint32
	Flags  uint32
	FD     int32
}

type drmModeObjGetProperties struct {
	PropsPtr      uint64
	PropValuesPtr uint64
	CountProps    uint32
	ObjID         uint32
	ObjType       uint32
}

type drmModeObjSetProperty struct {
	Value    uint64
	PropID   uint32
	ObjID    uint32
	ObjType  uint32
}

const pageFlipEventFlag = 0x01
const pageFlipAsyncFlag = 0x02

// pageFlip event as read off the DRM fd (struct drm_event_vblank header).
type drmEventHeader struct {
	Type   uint32
	Length uint32
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func openDRM(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("display: open %s: %w", path, err)
	}
	if err := ioctl(f.Fd(), ioctlSetMaster, nil); err != nil {
		// Not fatal: some compositors already hold master; the mirror can
		// still enumerate resources and page-flip through a lease.
	}
	return f, nil
}

func getResources(f *os.File) (crtcIDs, connectorIDs []uint32, err error) {
	var res drmModeCardRes
	if err := ioctl(f.Fd(), ioctlModeGetResources, unsafe.Pointer(&res)); err != nil {
		return nil, nil, fmt.Errorf("GETRESOURCES count: %w", err)
	}
	if res.CountCrtcs == 0 || res.CountConnectors == 0 {
		return nil, nil, fmt.Errorf("no crtcs or connectors (crtcs=%d connectors=%d)", res.CountCrtcs, res.CountConnectors)
	}

	crtcIDs = make([]uint32, res.CountCrtcs)
	connectorIDs = make([]uint32, res.CountConnectors)
	res2 := drmModeCardRes{
		CrtcIDPtr:       uint64(uintptr(unsafe.Pointer(&crtcIDs[0]))),
		ConnectorIDPtr:  uint64(uintptr(unsafe.Pointer(&connectorIDs[0]))),
		CountCrtcs:      res.CountCrtcs,
		CountConnectors: res.CountConnectors,
	}
	if err := ioctl(f.Fd(), ioctlModeGetResources, unsafe.Pointer(&res2)); err != nil {
		return nil, nil, fmt.Errorf("GETRESOURCES fill: %w", err)
	}
	return crtcIDs, connectorIDs, nil
}

func getConnector(f *os.File, connectorID uint32) (drmModeGetConnector, []drmModeModeInfo, error) {
	conn := drmModeGetConnector{ConnectorID: connectorID}
	if err := ioctl(f.Fd(), ioctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
		return drmModeGetConnector{}, nil, fmt.Errorf("GETCONNECTOR count: %w", err)
	}
	if conn.CountModes == 0 {
		return conn, nil, nil
	}

	modes := make([]drmModeModeInfo, conn.CountModes)
	conn2 := drmModeGetConnector{
		ConnectorID: connectorID,
		ModesPtr:    uint64(uintptr(unsafe.Pointer(&modes[0]))),
		CountModes:  conn.CountModes,
	}
	if err := ioctl(f.Fd(), ioctlModeGetConnector, unsafe.Pointer(&conn2)); err != nil {
		return conn, nil, fmt.Errorf("GETCONNECTOR modes: %w", err)
	}
	return conn2, modes, nil
}

func getCrtc(f *os.File, crtcID uint32) (drmModeCrtc, error) {
	crtc := drmModeCrtc{CrtcID: crtcID}
	if err := ioctl(f.Fd(), ioctlModeGetCrtc, unsafe.Pointer(&crtc)); err != nil {
		return drmModeCrtc{}, fmt.Errorf("GETCRTC: %w", err)
	}
	return crtc, nil
}

func setCrtc(f *os.File, connectorID, crtcID, fbID uint32, mode drmModeModeInfo) error {
	connectors := []uint32{connectorID}
	crtc := drmModeCrtc{
		CrtcID:           crtcID,
		FbID:             fbID,
		SetConnectorsPtr: uint64(uintptr(unsafe.Pointer(&connectors[0]))),
		CountConnectors:  1,
		ModeValid:        1,
		Mode:             mode,
	}
	if err := ioctl(f.Fd(), ioctlModeSetCrtc, unsafe.Pointer(&crtc)); err != nil {
		return fmt.Errorf("SETCRTC: %w", err)
	}
	return nil
}

func restoreCrtc(f *os.File, connectorID uint32, saved drmModeCrtc) error {
	if saved.FbID == 0 {
		// Nothing was scanned out before we took over; leave the CRTC off.
		return nil
	}
	return setCrtc(f, connectorID, saved.CrtcID, saved.FbID, saved.Mode)
}

func createDumb(f *os.File, width, height, bpp uint32) (drmModeCreateDumb, error) {
	dumb := drmModeCreateDumb{Width: width, Height: height, Bpp: bpp}
	if err := ioctl(f.Fd(), ioctlModeCreateDumb, unsafe.Pointer(&dumb)); err != nil {
		return drmModeCreateDumb{}, fmt.Errorf("CREATE_DUMB: %w", err)
	}
	return dumb, nil
}

func mapDumb(f *os.File, handle uint32, size uint64) ([]byte, error) {
	m := drmModeMapDumb{Handle: handle}
	if err := ioctl(f.Fd(), ioctlModeMapDumb, unsafe.Pointer(&m)); err != nil {
		return nil, fmt.Errorf("MAP_DUMB: %w", err)
	}
	data, err := unix.Mmap(int(f.Fd()), int64(m.Offset), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap dumb buffer: %w", err)
	}
	return data, nil
}

func destroyDumb(f *os.File, handle uint32) error {
	h := handle
	return ioctl(f.Fd(), ioctlModeDestroyDumb, unsafe.Pointer(&h))
}

func addFB(f *os.File, width, height, pitch, bpp, depth, handle uint32) (uint32, error) {
	fb := drmModeFbCmd{Width: width, Height: height, Pitch: pitch, Bpp: bpp, Depth: depth, Handle: handle}
	if err := ioctl(f.Fd(), ioctlModeAddFb, unsafe.Pointer(&fb)); err != nil {
		return 0, fmt.Errorf("ADDFB: %w", err)
	}
	return fb.FbID, nil
}

func removeFB(f *os.File, fbID uint32) error {
	id := fbID
	return ioctl(f.Fd(), ioctlModeRmFb, unsafe.Pointer(&id))
}

func primeFDToHandle(f *os.File, dmaFd int32) (uint32, error) {
	req := drmPrimeHandle{FD: dmaFd}
	if err := ioctl(f.Fd(), ioctlPrimeFdToHandle, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("PRIME_FD_TO_HANDLE: %w", err)
	}
	return req.Handle, nil
}

func pageFlip(f *os.File, crtcID, fbID uint32, userData uint64) error {
	flip := drmModePageFlip{
		CrtcID:   crtcID,
		FbID:     fbID,
		Flags:    pageFlipEventFlag,
		UserData: userData,
	}
	if err := ioctl(f.Fd(), ioctlModePageFlip, unsafe.Pointer(&flip)); err != nil {
		return fmt.Errorf("PAGE_FLIP: %w", err)
	}
	return nil
}

// waitReadable blocks until f is readable (a DRM event is queued) or
// timeout elapses.
func waitReadable(f *os.File, timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(f.Fd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}

// drainPageFlipEvent reads and discards one event record from the DRM fd.
// Any event on this fd that we requested with PAGE_FLIP_EVENT is a
// page-flip completion; the caller already knows which framebuffer it
// flipped to via exposingDMAFd/current stub index, so the payload itself
// is not parsed beyond the generic header.
func drainPageFlipEvent(f *os.File) error {
	buf := make([]byte, 4096)
	n, err := unix.Read(int(f.Fd()), buf)
	if err != nil {
		return err
	}
	if n < 8 {
		return fmt.Errorf("display: short event read (%d bytes)", n)
	}
	return nil
}

// dpmsOff mirrors the DRM_MODE_DPMS_OFF property value.
const dpmsOff = 3

// dpmsPropertyName is the standard connector property DRM exposes for
// power management.
const dpmsPropertyName = "DPMS"

// setDPMSProperty looks up the connector's "DPMS" property by name and
// sets it to value.
func setDPMSProperty(f *os.File, connectorID uint32, value uint64) error {
	propID, err := findObjectProperty(f, connectorID, drmModeObjectConnector, dpmsPropertyName)
	if err != nil {
		return err
	}
	req := drmModeObjSetProperty{
		Value:   value,
		PropID:  propID,
		ObjID:   connectorID,
		ObjType: drmModeObjectConnector,
	}
	if err := ioctl(f.Fd(), ioctlModeObjSetProp, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("OBJ_SETPROPERTY(DPMS): %w", err)
	}
	return nil
}

// drmModeObjectConnector mirrors DRM_MODE_OBJECT_CONNECTOR.
const drmModeObjectConnector = 0xc0c0c0c0

// ioctlModeGetProperty mirrors DRM_IOCTL_MODE_GETPROPERTY (struct
// drm_mode_get_property, 64 bytes, nr=0xaa).
const ioctlModeGetProperty = 0xc04064aa

type drmModeGetProperty struct {
	ValuesPtr      uint64
	EnumBlobPtr    uint64
	PropID         uint32
	Flags          uint32
	Name           [32]byte
	CountValues    uint32
	CountEnumBlobs uint32
}

func findObjectProperty(f *os.File, objID uint32, objType uint32, name string) (uint32, error) {
	var req drmModeObjGetProperties
	req.ObjID = objID
	req.ObjType = objType
	if err := ioctl(f.Fd(), ioctlModeObjGetProps, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("OBJ_GETPROPERTIES count: %w", err)
	}
	if req.CountProps == 0 {
		return 0, fmt.Errorf("display: connector %d has no properties", objID)
	}

	propIDs := make([]uint32, req.CountProps)
	propValues := make([]uint64, req.CountProps)
	req2 := drmModeObjGetProperties{
		ObjID:         objID,
		ObjType:       objType,
		PropsPtr:      uint64(uintptr(unsafe.Pointer(&propIDs[0]))),
		PropValuesPtr: uint64(uintptr(unsafe.Pointer(&propValues[0]))),
		CountProps:    req.CountProps,
	}
	if err := ioctl(f.Fd(), ioctlModeObjGetProps, unsafe.Pointer(&req2)); err != nil {
		return 0, fmt.Errorf("OBJ_GETPROPERTIES fill: %w", err)
	}

	for _, id := range propIDs {
		var pReq drmModeGetProperty
		pReq.PropID = id
		if err := ioctl(f.Fd(), ioctlModeGetProperty, unsafe.Pointer(&pReq)); err != nil {
			continue
		}
		n := 0
		for n < len(pReq.Name) && pReq.Name[n] != 0 {
			n++
		}
		if string(pReq.Name[:n]) == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("display: property %q not found on object %d", name, objID)
}

func readConnectorStatusFile(path string) (byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, 1)
	if _, err := f.Read(buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}
