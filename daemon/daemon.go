package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	daemonize "github.com/sevlyar/go-daemon"

	"github.com/evmacro/evmacro/client"
)

const (
	// DaemonEnvVar is the environment variable that marks a daemon child process
	DaemonEnvVar = "EVMACRO_DAEMON_CHILD"

	killTimeout = 10 * time.Second
)

// Daemonize detaches the process and returns the child process handle
// If the returned process is nil, this is the child process
// If the returned process is non-nil, this is the parent process
func Daemonize() (*os.Process, error) {
	// no PID file, and logging is the daemon's own concern
	ctx := &daemonize.Context{
		PidFileName: "",
		PidFilePerm: 0,
		LogFileName: "",
		LogFilePerm: 0,
		WorkDir:     "/",
		Umask:       027,
		Args:        os.Args,
		Env:         append(os.Environ(), fmt.Sprintf("%s=1", DaemonEnvVar)),
	}

	child, err := ctx.Reborn()
	if err != nil {
		return nil, fmt.Errorf("failed to daemonize: %w", err)
	}

	return child, nil
}

// IsChild returns true if this is the daemon child process
func IsChild() bool {
	return os.Getenv(DaemonEnvVar) == "1"
}

// KillServer connects to the daemon socket and asks it to shut down.
func KillServer(socketPath, token string) error {
	c, err := client.Dial(socketPath)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()

	if token != "" {
		if err := c.Authenticate(ctx, token); err != nil {
			return err
		}
	}
	return c.Call(ctx, "daemon.shutdown", nil, nil)
}
