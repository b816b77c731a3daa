package uinput

import "golang.org/x/sys/unix"

const uinputMaxNameSize = 80

// uinput ioctl requests, from <linux/uinput.h>
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502

	uiSetEvBit  = 0x40045564
	uiSetKeyBit = 0x40045565
	uiSetRelBit = 0x40045566
)

// event types and codes the virtual device advertises
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02

	synReport = 0x00

	relX     = 0x00
	relY     = 0x01
	relWheel = 0x08

	keyMax     = 0x2ff // KEY_MAX, covers keys and buttons
	busVirtual = 0x06  // BUS_VIRTUAL
)

// translated from input.h
type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// translated from uinput.h
type uinputUserDev struct {
	Name         [uinputMaxNameSize]byte
	ID           inputID
	FfEffectsMax uint32
	Absmax       [64]int32
	Absmin       [64]int32
	Absfuzz      [64]int32
	Absflat      [64]int32
}

// translated from input.h
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}
