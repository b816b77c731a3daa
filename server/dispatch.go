package server

import (
	"encoding/json"
	"fmt"

	"github.com/evmacro/evmacro/commands"
	"github.com/evmacro/evmacro/types"
)

const (
	// Parse error: Invalid JSON was received by the server
	ErrCodeParseError = -32700

	// Invalid Request: The JSON sent is not a valid Request object
	ErrCodeInvalidRequest = -32600

	// Method not found: The method does not exist / is not available
	ErrCodeMethodNotFound = -32601

	// Invalid params: Invalid method parameters
	ErrCodeInvalidParams = -32602

	// Server error: Internal JSON-RPC error
	ErrCodeServerError = -32000
)

// JSONRPCRequest is the request envelope. A request without an id is a
// notification; the daemon only ever sends those, never accepts them.
type JSONRPCRequest struct {
	// these fields are all omitempty, so we can report back to client if they are missing
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

// JSONRPCError carries the error kind in Data so clients can branch
// without parsing message strings.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Session is the per-connection state handlers can see: the grab ownership
// identity and whether the connection has authenticated.
type Session struct {
	Owner         string
	Authenticated bool
}

// HandlerFunc is the signature for JSON-RPC method handlers
type HandlerFunc func(sess *Session, params json.RawMessage) (interface{}, error)

// Dispatcher routes method calls to handlers and enforces the auth gate.
// It is shared by the unix socket loop and the WebSocket bridge.
type Dispatcher struct {
	requireAuth bool
	token       string
	registry    map[string]HandlerFunc
}

func NewDispatcher(requireAuth bool, token string) *Dispatcher {
	d := &Dispatcher{
		requireAuth: requireAuth,
		token:       token,
	}
	d.registry = map[string]HandlerFunc{
		"devices":         handleDevicesList,
		"device_grab":     handleDeviceGrab,
		"device_release":  handleDeviceRelease,
		"record_start":    handleRecordStart,
		"record_stop":     handleRecordStop,
		"macros":          handleMacrosList,
		"macro_play":      handleMacroPlay,
		"playback_cancel": handlePlaybackCancel,
		"macro_delete":    handleMacroDelete,
		"profile_save":    handleProfileSave,
		"profile_load":    handleProfileLoad,
		"profiles":        handleProfilesList,
		"profile_delete":  handleProfileDelete,
		"status":          handleStatus,
		"authenticate":    d.handleAuthenticate,
		"daemon.shutdown": handleShutdown,
	}
	return d
}

// Dispatch runs one method call for a session and builds the response
// envelope. Transport errors are the caller's concern; everything that
// happens past the parsed request comes back as a JSONRPCResponse.
func (d *Dispatcher) Dispatch(sess *Session, req JSONRPCRequest) JSONRPCResponse {
	if req.Method == "" {
		return errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid Request", "'method' is required")
	}

	handler, exists := d.registry[req.Method]
	if !exists {
		return errorResponse(req.ID, ErrCodeMethodNotFound, "Method not found", fmt.Sprintf("Method '%s' not found", req.Method))
	}

	if d.requireAuth && !sess.Authenticated && req.Method != "authenticate" {
		err := types.NewError(types.KindUnauthorized, "authentication required")
		return domainErrorResponse(req.ID, err)
	}

	result, err := handler(sess, req.Params)
	if err != nil {
		return domainErrorResponse(req.ID, err)
	}

	return JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func errorResponse(id interface{}, code int, message string, data interface{}) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	}
}

func domainErrorResponse(id interface{}, err error) JSONRPCResponse {
	kind := types.KindOf(err)
	return errorResponse(id, kindCode(kind), err.Error(), map[string]string{"kind": string(kind)})
}

// kindCode maps the error taxonomy into the JSON-RPC server-error range.
// Malformed parameters reuse the standard invalid-params code.
func kindCode(kind types.ErrorKind) int {
	switch kind {
	case types.KindMalformed:
		return ErrCodeInvalidParams
	case types.KindNotFound:
		return -32001
	case types.KindAlreadyGrabbed:
		return -32002
	case types.KindPermissionDenied:
		return -32003
	case types.KindIOError:
		return -32004
	case types.KindDisconnected:
		return -32005
	case types.KindUnauthorized:
		return -32006
	case types.KindTimeout:
		return -32007
	case types.KindConflict:
		return -32008
	case types.KindCorruptData:
		return -32009
	case types.KindInjection:
		return -32010
	default:
		return ErrCodeServerError
	}
}

// responseResult converts a CommandResponse back into (result, error) for
// the JSON-RPC layer, preserving the error kind.
func responseResult(resp *commands.CommandResponse) (interface{}, error) {
	if resp.Status == "error" {
		kind := types.ErrorKind(resp.ErrorKind)
		if kind == "" {
			kind = types.KindInternal
		}
		return nil, types.NewError(kind, "%s", resp.Error)
	}
	return resp.Data, nil
}

func handleDevicesList(_ *Session, _ json.RawMessage) (interface{}, error) {
	return responseResult(commands.DevicesCommand())
}

func handleDeviceGrab(sess *Session, params json.RawMessage) (interface{}, error) {
	var req commands.DeviceGrabRequest
	if err := unmarshalParams(params, &req, "deviceId"); err != nil {
		return nil, err
	}
	return responseResult(commands.DeviceGrabCommand(req, sess.Owner))
}

func handleDeviceRelease(_ *Session, params json.RawMessage) (interface{}, error) {
	var req commands.DeviceGrabRequest
	if err := unmarshalParams(params, &req, "deviceId"); err != nil {
		return nil, err
	}
	return responseResult(commands.DeviceReleaseCommand(req))
}

func handleRecordStart(_ *Session, params json.RawMessage) (interface{}, error) {
	var req commands.RecordStartRequest
	if err := unmarshalParams(params, &req, "name"); err != nil {
		return nil, err
	}
	return responseResult(commands.RecordStartCommand(req))
}

func handleRecordStop(_ *Session, _ json.RawMessage) (interface{}, error) {
	return responseResult(commands.RecordStopCommand())
}

func handleMacrosList(_ *Session, _ json.RawMessage) (interface{}, error) {
	return responseResult(commands.MacrosCommand())
}

func handleMacroPlay(_ *Session, params json.RawMessage) (interface{}, error) {
	var req commands.MacroRequest
	if err := unmarshalParams(params, &req, "macroId"); err != nil {
		return nil, err
	}
	return responseResult(commands.MacroPlayCommand(req))
}

func handlePlaybackCancel(_ *Session, _ json.RawMessage) (interface{}, error) {
	return responseResult(commands.PlaybackCancelCommand())
}

func handleMacroDelete(_ *Session, params json.RawMessage) (interface{}, error) {
	var req commands.MacroRequest
	if err := unmarshalParams(params, &req, "macroId"); err != nil {
		return nil, err
	}
	return responseResult(commands.MacroDeleteCommand(req))
}

func handleProfileSave(_ *Session, params json.RawMessage) (interface{}, error) {
	var req commands.ProfileRequest
	if err := unmarshalParams(params, &req, "name"); err != nil {
		return nil, err
	}
	return responseResult(commands.ProfileSaveCommand(req))
}

func handleProfileLoad(_ *Session, params json.RawMessage) (interface{}, error) {
	var req commands.ProfileRequest
	if err := unmarshalParams(params, &req, "name"); err != nil {
		return nil, err
	}
	return responseResult(commands.ProfileLoadCommand(req))
}

func handleProfilesList(_ *Session, _ json.RawMessage) (interface{}, error) {
	return responseResult(commands.ProfilesCommand())
}

func handleProfileDelete(_ *Session, params json.RawMessage) (interface{}, error) {
	var req commands.ProfileRequest
	if err := unmarshalParams(params, &req, "name"); err != nil {
		return nil, err
	}
	return responseResult(commands.ProfileDeleteCommand(req))
}

func handleStatus(_ *Session, _ json.RawMessage) (interface{}, error) {
	return responseResult(commands.StatusCommand())
}

func handleShutdown(_ *Session, _ json.RawMessage) (interface{}, error) {
	return responseResult(commands.ShutdownCommand())
}

// AuthenticateParams carries the token a client read from the token file.
type AuthenticateParams struct {
	Token string `json:"token"`
}

func (d *Dispatcher) handleAuthenticate(sess *Session, params json.RawMessage) (interface{}, error) {
	if !d.requireAuth {
		sess.Authenticated = true
		return map[string]string{"status": "ok"}, nil
	}

	var req AuthenticateParams
	if err := unmarshalParams(params, &req, "token"); err != nil {
		return nil, err
	}
	if req.Token != d.token {
		return nil, types.NewError(types.KindUnauthorized, "invalid token")
	}
	sess.Authenticated = true
	return map[string]string{"status": "ok"}, nil
}

func unmarshalParams(params json.RawMessage, v interface{}, fields string) error {
	if len(params) == 0 {
		return types.NewError(types.KindMalformed, "'params' is required with fields: %s", fields)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return types.NewError(types.KindMalformed, "invalid parameters: %v. Expected fields: %s", err, fields)
	}
	return nil
}
