// Package config loads daemon settings from an ini file, falling back to
// defaults when the file or a key is absent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

const (
	DefaultSocketPath  = "/run/evmacro/evmacrod.sock"
	DefaultProfilesDir = "/etc/evmacro/profiles"
	DefaultTokenPath   = "/run/evmacro/token"

	// World-writable by default. Any local user may drive the daemon; this
	// is a deployment policy choice, tighten via socket_mode/require_auth.
	DefaultSocketMode = 0o666

	DefaultPollInterval = 2 * time.Second
)

// Config holds all daemon settings.
type Config struct {
	// unix socket the protocol server listens on
	SocketPath string
	SocketMode os.FileMode

	// optional HTTP listen address for the WebSocket bridge ("" = disabled)
	WebSocketAddr string

	// directory holding persisted profiles
	ProfilesDir string

	// device rescan interval for hot-plug detection
	PollInterval time.Duration

	// token authentication gate; disabled by default
	RequireAuth bool
	TokenPath   string

	Verbose bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SocketPath:   DefaultSocketPath,
		SocketMode:   DefaultSocketMode,
		ProfilesDir:  DefaultProfilesDir,
		PollInterval: DefaultPollInterval,
		TokenPath:    DefaultTokenPath,
	}
}

// Load parses the ini file at path on top of the defaults. A missing file
// is not an error; an unreadable or malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	daemon := file.Section("daemon")
	if key := daemon.Key("socket_path"); key.String() != "" {
		cfg.SocketPath = key.String()
	}
	if key := daemon.Key("socket_mode"); key.String() != "" {
		mode, err := strconv.ParseUint(key.String(), 8, 32)
		if err != nil || mode > 0o777 {
			return cfg, fmt.Errorf("invalid socket_mode %q", key.String())
		}
		cfg.SocketMode = os.FileMode(mode)
	}
	if key := daemon.Key("websocket_addr"); key.String() != "" {
		cfg.WebSocketAddr = key.String()
	}
	cfg.Verbose = daemon.Key("verbose").MustBool(cfg.Verbose)

	profiles := file.Section("profiles")
	if key := profiles.Key("dir"); key.String() != "" {
		cfg.ProfilesDir = key.String()
	}

	discovery := file.Section("discovery")
	if key := discovery.Key("poll_interval"); key.String() != "" {
		interval, err := time.ParseDuration(key.String())
		if err != nil || interval <= 0 {
			return cfg, fmt.Errorf("invalid poll_interval %q", key.String())
		}
		cfg.PollInterval = interval
	}

	security := file.Section("security")
	cfg.RequireAuth = security.Key("require_auth").MustBool(cfg.RequireAuth)
	if key := security.Key("token_path"); key.String() != "" {
		cfg.TokenPath = key.String()
	}

	return cfg, nil
}
