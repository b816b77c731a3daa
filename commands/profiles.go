package commands

import (
	"github.com/evmacro/evmacro/types"
)

// ProfileRequest names a saved profile.
type ProfileRequest struct {
	Name string `json:"name"`
}

// ProfileSaveCommand persists the current macro set under the given name.
func ProfileSaveCommand(req ProfileRequest) *CommandResponse {
	if req.Name == "" {
		return NewErrorResponse(types.NewError(types.KindMalformed, "name is required"))
	}
	e := GetEnv()
	set := e.Engine.Snapshot()
	if err := e.Store.Save(req.Name, set); err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(map[string]interface{}{"name": req.Name, "macroCount": len(set)})
}

// ProfileLoadCommand replaces the in-memory macro set with a saved profile.
// It refuses while a recording or playback session is active.
func ProfileLoadCommand(req ProfileRequest) *CommandResponse {
	if req.Name == "" {
		return NewErrorResponse(types.NewError(types.KindMalformed, "name is required"))
	}
	e := GetEnv()
	profile, err := e.Store.Load(req.Name)
	if err != nil {
		return NewErrorResponse(err)
	}
	if err := e.Engine.ReplaceAll(profile.Macros); err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(e.Engine.List())
}

// ProfilesCommand lists saved profile names.
func ProfilesCommand() *CommandResponse {
	names, err := GetEnv().Store.List()
	if err != nil {
		return NewErrorResponse(err)
	}
	if names == nil {
		names = []string{}
	}
	return NewSuccessResponse(names)
}

// ProfileDeleteCommand removes a saved profile from disk.
func ProfileDeleteCommand(req ProfileRequest) *CommandResponse {
	if req.Name == "" {
		return NewErrorResponse(types.NewError(types.KindMalformed, "name is required"))
	}
	if err := GetEnv().Store.Delete(req.Name); err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(map[string]string{"name": req.Name, "deleted": "true"})
}
