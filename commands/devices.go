package commands

import (
	"github.com/evmacro/evmacro/types"
)

// DeviceGrabRequest names the device to grab or release.
type DeviceGrabRequest struct {
	DeviceID string `json:"deviceId"`
}

// DevicesCommand lists the currently known input devices.
func DevicesCommand() *CommandResponse {
	return NewSuccessResponse(GetEnv().Registry.List())
}

// DeviceGrabCommand takes the exclusive grab on a device for the given
// owner. The owner is the protocol connection identity so a disconnect can
// release everything it held.
func DeviceGrabCommand(req DeviceGrabRequest, owner string) *CommandResponse {
	if req.DeviceID == "" {
		return NewErrorResponse(types.NewError(types.KindMalformed, "deviceId is required"))
	}
	if err := GetEnv().Registry.Grab(req.DeviceID, owner); err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(map[string]string{"deviceId": req.DeviceID, "state": types.DeviceStateGrabbed})
}

// DeviceReleaseCommand drops the grab on a device. Releasing a free device
// succeeds without effect.
func DeviceReleaseCommand(req DeviceGrabRequest) *CommandResponse {
	if req.DeviceID == "" {
		return NewErrorResponse(types.NewError(types.KindMalformed, "deviceId is required"))
	}
	if err := GetEnv().Registry.Release(req.DeviceID); err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(map[string]string{"deviceId": req.DeviceID, "state": types.DeviceStateFree})
}
