package commands

import (
	"time"

	"github.com/evmacro/evmacro/devices"
	"github.com/evmacro/evmacro/macros"
	"github.com/evmacro/evmacro/profiles"
	"github.com/evmacro/evmacro/types"
)

// CommandResponse represents a standardized response format for all commands
type CommandResponse struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorKind string      `json:"errorKind,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}) *CommandResponse {
	return &CommandResponse{
		Status: "ok",
		Data:   data,
	}
}

// NewErrorResponse creates an error response carrying the error kind so
// protocol layers can map it without string matching
func NewErrorResponse(err error) *CommandResponse {
	return &CommandResponse{
		Status:    "error",
		Error:     err.Error(),
		ErrorKind: string(types.KindOf(err)),
	}
}

// Env holds the daemon-side collaborators every command works against.
type Env struct {
	Registry  *devices.Registry
	Engine    *macros.Engine
	Store     *profiles.Store
	Version   string
	StartedAt time.Time

	// RequestShutdown asks the daemon to stop; wired by the daemon runner.
	RequestShutdown func()
}

// env is set once at daemon startup via SetEnv and read by every command.
var env *Env

// SetEnv installs the command environment. It must be called before any
// command runs; commands panic on a nil environment because that is a
// wiring bug, not a runtime condition.
func SetEnv(e *Env) {
	env = e
}

// GetEnv returns the current command environment.
func GetEnv() *Env {
	if env == nil {
		panic("commands: environment not initialized")
	}
	return env
}

// StatusCommand reports daemon identity and counters.
func StatusCommand() *CommandResponse {
	e := GetEnv()
	return NewSuccessResponse(types.StatusInfo{
		Version:       e.Version,
		UptimeSeconds: int64(time.Since(e.StartedAt).Seconds()),
		DeviceCount:   e.Registry.Count(),
		MacroCount:    e.Engine.Count(),
	})
}

// ShutdownCommand asks the daemon to terminate. The response is produced
// before the shutdown actually proceeds so the client gets an answer.
func ShutdownCommand() *CommandResponse {
	e := GetEnv()
	if e.RequestShutdown != nil {
		e.RequestShutdown()
	}
	return NewSuccessResponse(map[string]string{"message": "shutting down"})
}
