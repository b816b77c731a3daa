package devices

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/evmacro/evmacro/types"
)

const inputDir = "/dev/input"

// Kernel input event types.
const (
	EvSyn = 0x00
	EvKey = 0x01
	EvRel = 0x02
	EvAbs = 0x03
	EvMsc = 0x04
	EvSw  = 0x05
	EvLed = 0x11
	EvSnd = 0x12
	EvRep = 0x14
	EvFf  = 0x15

	SynReport = 0x00
)

// sizeof(struct input_event) on 64-bit: 16-byte timeval + type + code + value
const inputEventSize = 24

// ioctl request encoding (Linux _IOC macro)
const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uint32) uint {
	return uint(dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift)
}

func eviocGrab() uint {
	// EVIOCGRAB = _IOW('E', 0x90, int)
	return ioc(iocWrite, 'E', 0x90, 4)
}

func eviocGID() uint {
	// EVIOCGID = _IOR('E', 0x02, struct input_id)
	return ioc(iocRead, 'E', 0x02, uint32(unsafe.Sizeof(inputID{})))
}

func eviocGName(size uint32) uint {
	// EVIOCGNAME(len) = _IOC(_IOC_READ, 'E', 0x06, len)
	return ioc(iocRead, 'E', 0x06, size)
}

func eviocGPhys(size uint32) uint {
	// EVIOCGPHYS(len) = _IOC(_IOC_READ, 'E', 0x07, len)
	return ioc(iocRead, 'E', 0x07, size)
}

func eviocGBit(size uint32) uint {
	// EVIOCGBIT(0, len) = _IOC(_IOC_READ, 'E', 0x20, len)
	return ioc(iocRead, 'E', 0x20, size)
}

// struct input_id from input.h
type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

var capabilityNames = map[uint]string{
	EvSyn: "syn",
	EvKey: "key",
	EvRel: "rel",
	EvAbs: "abs",
	EvMsc: "msc",
	EvSw:  "sw",
	EvLed: "led",
	EvSnd: "snd",
	EvRep: "rep",
	EvFf:  "ff",
}

// RawEvent is one parsed kernel event without device attribution.
type RawEvent struct {
	Type  uint16
	Code  uint16
	Value int32
	Time  int64 // nanoseconds
}

// NodeHandle is an open, exclusively claimable device node.
type NodeHandle interface {
	Grab() error
	Ungrab() error
	ReadEvent() (RawEvent, error)
	Close() error
}

// Backend abstracts the kernel input subsystem so the registry can be
// exercised against fakes in tests.
type Backend interface {
	ScanPaths() ([]string, error)
	Rdev(path string) (uint64, error)
	Describe(path string) (types.DeviceInfo, error)
	Open(path string) (NodeHandle, error)
}

type evdevBackend struct {
	dir string
}

// NewEvdevBackend returns the real /dev/input backend.
func NewEvdevBackend() Backend {
	return &evdevBackend{dir: inputDir}
}

func (b *evdevBackend) ScanPaths() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", b.dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "event") {
			paths = append(paths, filepath.Join(b.dir, entry.Name()))
		}
	}

	sort.Strings(paths)
	return paths, nil
}

func (b *evdevBackend) Rdev(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Rdev), nil
}

func (b *evdevBackend) Describe(path string) (types.DeviceInfo, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return types.DeviceInfo{}, err
	}
	defer f.Close()

	var info types.DeviceInfo
	info.ID = filepath.Base(path)
	info.Path = path
	info.State = types.DeviceStateFree

	err = controlFd(f, func(fd uintptr) error {
		var nameBuf [256]byte
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(eviocGName(uint32(len(nameBuf)))), uintptr(unsafe.Pointer(&nameBuf[0]))); errno != 0 {
			return errno
		}
		info.Name = cString(nameBuf[:])

		var physBuf [256]byte
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(eviocGPhys(uint32(len(physBuf)))), uintptr(unsafe.Pointer(&physBuf[0]))); errno == 0 {
			info.Phys = cString(physBuf[:])
		}

		var id inputID
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(eviocGID()), uintptr(unsafe.Pointer(&id))); errno == 0 {
			info.Vendor = id.Vendor
			info.Product = id.Product
		}

		var evBits [4]byte // EV_MAX < 32
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(eviocGBit(uint32(len(evBits)))), uintptr(unsafe.Pointer(&evBits[0]))); errno != 0 {
			return errno
		}
		info.Capabilities = decodeCapabilities(evBits[:])

		return nil
	})
	if err != nil {
		return types.DeviceInfo{}, fmt.Errorf("failed to query %s: %w", path, err)
	}

	return info, nil
}

func (b *evdevBackend) Open(path string) (NodeHandle, error) {
	// nonblocking open keeps reads on the runtime poller, so Close
	// interrupts a pending ReadEvent
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}
	return &evdevHandle{f: f}, nil
}

type evdevHandle struct {
	f *os.File
}

func (h *evdevHandle) Grab() error {
	return h.grabArg(1)
}

func (h *evdevHandle) Ungrab() error {
	return h.grabArg(0)
}

func (h *evdevHandle) grabArg(arg int) error {
	return controlFd(h.f, func(fd uintptr) error {
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(eviocGrab()), uintptr(arg)); errno != 0 {
			return errno
		}
		return nil
	})
}

func (h *evdevHandle) ReadEvent() (RawEvent, error) {
	var buf [inputEventSize]byte
	if _, err := io.ReadFull(h.f, buf[:]); err != nil {
		return RawEvent{}, err
	}
	return parseInputEvent(buf[:]), nil
}

func (h *evdevHandle) Close() error {
	return h.f.Close()
}

// controlFd runs fn with the raw descriptor without putting the file back
// into blocking mode, unlike File.Fd.
func controlFd(f *os.File, fn func(fd uintptr) error) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) {
		opErr = fn(fd)
	}); err != nil {
		return err
	}
	return opErr
}

func parseInputEvent(buf []byte) RawEvent {
	sec := binary.LittleEndian.Uint64(buf[0:8])
	usec := binary.LittleEndian.Uint64(buf[8:16])
	return RawEvent{
		Time:  int64(sec)*1e9 + int64(usec)*1e3,
		Type:  binary.LittleEndian.Uint16(buf[16:18]),
		Code:  binary.LittleEndian.Uint16(buf[18:20]),
		Value: int32(binary.LittleEndian.Uint32(buf[20:24])),
	}
}

func decodeCapabilities(bits []byte) []string {
	var caps []string
	for bit := uint(0); bit < uint(len(bits)*8); bit++ {
		if bits[bit/8]&(1<<(bit%8)) == 0 {
			continue
		}
		if name, ok := capabilityNames[bit]; ok && name != "syn" {
			caps = append(caps, name)
		}
	}
	return caps
}

func cString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
