package devices

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/evmacro/evmacro/types"
)

const captureBuffer = 256

// Capture is the lazy event sequence of one grabbed device. It ends when
// the device is released (clean), disconnects, or fails; a new grab always
// yields a new Capture.
type Capture struct {
	deviceID string
	handle   NodeHandle
	events   chan types.InputEvent
	done     chan struct{}
	err      error
}

func newCapture(deviceID string, handle NodeHandle) *Capture {
	c := &Capture{
		deviceID: deviceID,
		handle:   handle,
		events:   make(chan types.InputEvent, captureBuffer),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Events yields events in kernel delivery order. The channel closes when
// the capture ends; Err distinguishes why.
func (c *Capture) Events() <-chan types.InputEvent {
	return c.events
}

// Done is closed when the reader has fully stopped.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}

// Err reports why the capture ended: nil for a clean release,
// Disconnected when the device vanished, IOError otherwise. Only valid
// after Done is closed.
func (c *Capture) Err() error {
	return c.err
}

func (c *Capture) run() {
	defer close(c.done)
	defer close(c.events)

	for {
		raw, err := c.handle.ReadEvent()
		if err != nil {
			c.err = classifyReadError(c.deviceID, err)
			return
		}

		c.events <- types.InputEvent{
			Device: c.deviceID,
			Type:   raw.Type,
			Code:   raw.Code,
			Value:  raw.Value,
			Time:   raw.Time,
		}
	}
}

func classifyReadError(deviceID string, err error) error {
	switch {
	case errors.Is(err, os.ErrClosed):
		// intentional release
		return nil
	case errors.Is(err, unix.ENODEV):
		return types.NewError(types.KindDisconnected, "device %s disconnected", deviceID)
	default:
		return types.NewError(types.KindIOError, "read from %s failed: %v", deviceID, err)
	}
}
