// Package uinput owns the synthetic output device. Events written here are
// indistinguishable from hardware input for the rest of the system.
package uinput

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/evmacro/evmacro/types"
	"github.com/evmacro/evmacro/utils"
)

const uinputPath = "/dev/uinput"

// DefaultDeviceName is the name the virtual device registers under.
const DefaultDeviceName = "evmacro virtual input"

// Injector is a single uinput virtual device. Emissions are serialized;
// order is preserved exactly as submitted.
type Injector struct {
	mu   sync.Mutex
	f    *os.File
	name string
}

// New creates the virtual device, advertising every key/button plus
// relative X/Y/wheel. Fails when /dev/uinput is absent or not writable,
// which is fatal at daemon startup.
func New(name string) (*Injector, error) {
	if name == "" {
		name = DefaultDeviceName
	}

	f, err := os.OpenFile(uinputPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, types.NewError(types.KindInjection, "failed to open %s: %v (is the uinput module loaded?)", uinputPath, err)
	}

	inj := &Injector{f: f, name: name}
	if err := inj.setup(); err != nil {
		_ = f.Close()
		return nil, err
	}

	utils.Info("Created virtual input device %q", name)
	return inj, nil
}

func (i *Injector) setup() error {
	err := i.control(func(fd uintptr) error {
		for _, evType := range []int{evSyn, evKey, evRel} {
			if err := ioctlInt(fd, uiSetEvBit, evType); err != nil {
				return fmt.Errorf("UI_SET_EVBIT %d: %w", evType, err)
			}
		}

		for code := 0; code <= keyMax; code++ {
			if err := ioctlInt(fd, uiSetKeyBit, code); err != nil {
				return fmt.Errorf("UI_SET_KEYBIT %d: %w", code, err)
			}
		}

		for _, axis := range []int{relX, relY, relWheel} {
			if err := ioctlInt(fd, uiSetRelBit, axis); err != nil {
				return fmt.Errorf("UI_SET_RELBIT %d: %w", axis, err)
			}
		}

		dev := uinputUserDev{
			ID: inputID{
				Bustype: busVirtual,
				Vendor:  0x1,
				Product: 0x1,
				Version: 1,
			},
		}
		copy(dev.Name[:], i.name)

		buf := (*[unsafe.Sizeof(dev)]byte)(unsafe.Pointer(&dev))[:]
		if _, err := unix.Write(int(fd), buf); err != nil {
			return fmt.Errorf("write device descriptor: %w", err)
		}

		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uiDevCreate, 0); errno != 0 {
			return fmt.Errorf("UI_DEV_CREATE: %w", errno)
		}
		return nil
	})
	if err != nil {
		return types.NewError(types.KindInjection, "failed to create virtual device: %v", err)
	}
	return nil
}

// Emit writes one event followed by a SYN_REPORT marker.
func (i *Injector) Emit(ev types.InputEvent) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.f == nil {
		return types.NewError(types.KindInjection, "virtual device is not available")
	}

	if err := i.writeEvent(ev.Type, ev.Code, ev.Value); err != nil {
		return err
	}
	return i.writeEvent(evSyn, synReport, 0)
}

func (i *Injector) writeEvent(evType, code uint16, value int32) error {
	var tv unix.Timeval
	_ = unix.Gettimeofday(&tv)

	event := inputEvent{Time: tv, Type: evType, Code: code, Value: value}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &event); err != nil {
		return types.NewError(types.KindInjection, "encode event: %v", err)
	}
	if _, err := i.f.Write(buf.Bytes()); err != nil {
		return types.NewError(types.KindInjection, "write to virtual device failed: %v", err)
	}
	return nil
}

// Close destroys the virtual device.
func (i *Injector) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.f == nil {
		return nil
	}

	err := i.control(func(fd uintptr) error {
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uiDevDestroy, 0); errno != 0 {
			return errno
		}
		return nil
	})
	if err != nil {
		utils.Warn("UI_DEV_DESTROY failed: %v", err)
	}

	closeErr := i.f.Close()
	i.f = nil
	utils.Info("Destroyed virtual input device %q", i.name)
	return closeErr
}

func (i *Injector) control(fn func(fd uintptr) error) error {
	raw, err := i.f.SyscallConn()
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

func ioctlInt(fd uintptr, request uint, arg int) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(request), uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}
