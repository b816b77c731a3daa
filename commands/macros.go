package commands

import (
	"github.com/evmacro/evmacro/types"
)

// RecordStartRequest names the macro a new recording will commit as.
type RecordStartRequest struct {
	Name string `json:"name"`
}

// MacroRequest identifies a stored macro.
type MacroRequest struct {
	MacroID string `json:"macroId"`
}

// RecordStartCommand begins buffering captured events into a new macro.
func RecordStartCommand(req RecordStartRequest) *CommandResponse {
	if req.Name == "" {
		return NewErrorResponse(types.NewError(types.KindMalformed, "name is required"))
	}
	if err := GetEnv().Engine.StartRecording(req.Name); err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(map[string]string{"name": req.Name, "state": "recording"})
}

// RecordStopCommand commits the recording buffer and returns the new macro.
func RecordStopCommand() *CommandResponse {
	macro, err := GetEnv().Engine.StopRecording()
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(macro)
}

// MacrosCommand lists stored macros in creation order.
func MacrosCommand() *CommandResponse {
	return NewSuccessResponse(GetEnv().Engine.List())
}

// MacroPlayCommand starts asynchronous playback of a stored macro.
func MacroPlayCommand(req MacroRequest) *CommandResponse {
	if req.MacroID == "" {
		return NewErrorResponse(types.NewError(types.KindMalformed, "macroId is required"))
	}
	if err := GetEnv().Engine.Play(req.MacroID); err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(map[string]string{"macroId": req.MacroID, "state": "playing"})
}

// PlaybackCancelCommand stops the active playback. Cancelling while idle
// succeeds without effect.
func PlaybackCancelCommand() *CommandResponse {
	GetEnv().Engine.CancelPlayback()
	return NewSuccessResponse(map[string]string{"state": "idle"})
}

// MacroDeleteCommand removes a stored macro.
func MacroDeleteCommand(req MacroRequest) *CommandResponse {
	if req.MacroID == "" {
		return NewErrorResponse(types.NewError(types.KindMalformed, "macroId is required"))
	}
	if err := GetEnv().Engine.Delete(req.MacroID); err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(map[string]string{"macroId": req.MacroID, "deleted": "true"})
}
