package daemon

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/evmacro/evmacro/commands"
	"github.com/evmacro/evmacro/config"
	"github.com/evmacro/evmacro/devices"
	"github.com/evmacro/evmacro/macros"
	"github.com/evmacro/evmacro/profiles"
	"github.com/evmacro/evmacro/server"
	"github.com/evmacro/evmacro/uinput"
	"github.com/evmacro/evmacro/utils"
)

// Run assembles the daemon and blocks until a shutdown signal or a
// daemon.shutdown request arrives. Startup failures (uinput, socket bind)
// return an error; everything after that recovers in place.
func Run(cfg config.Config, version string) error {
	if cfg.Verbose {
		utils.SetVerbose(true)
	}

	injector, err := uinput.New(uinput.DefaultDeviceName)
	if err != nil {
		return fmt.Errorf("creating virtual input device: %w", err)
	}

	registry := devices.NewRegistry(devices.NewEvdevBackend())
	engine := macros.NewEngine(injector)
	store, err := profiles.NewStore(cfg.ProfilesDir)
	if err != nil {
		injector.Close()
		return err
	}

	hub := server.NewHub()
	registry.SetNotifier(hub)
	registry.SetSink(engine)
	engine.SetNotifier(hub)

	stop := make(chan struct{})
	var once sync.Once
	stopOnce := func() { once.Do(func() { close(stop) }) }

	commands.SetEnv(&commands.Env{
		Registry:  registry,
		Engine:    engine,
		Store:     store,
		Version:   version,
		StartedAt: time.Now(),
		RequestShutdown: func() {
			// give the in-flight response time to reach the client
			go func() {
				time.Sleep(100 * time.Millisecond)
				stopOnce()
			}()
		},
	})

	token := ""
	if cfg.RequireAuth {
		token = uuid.NewString()
		if err := server.WriteTokenFile(cfg.TokenPath, token); err != nil {
			injector.Close()
			return err
		}
		utils.Info("Authentication enabled, token written to %s", cfg.TokenPath)
	}

	if _, err := registry.Enumerate(); err != nil {
		utils.Warn("Initial device scan failed: %v", err)
	}

	srv := server.NewServer(cfg.SocketPath, cfg.SocketMode, server.NewDispatcher(cfg.RequireAuth, token), hub, registry)
	if err := srv.Start(); err != nil {
		injector.Close()
		return err
	}

	hook := NewShutdownHook()
	hook.Register("protocol server", srv.Close)
	if cfg.WebSocketAddr != "" {
		ws := server.NewWSServer(cfg.WebSocketAddr, server.NewDispatcher(cfg.RequireAuth, token), hub, registry)
		wsErr := ws.Start()
		go func() {
			if err, ok := <-wsErr; ok && err != nil {
				utils.Error("WebSocket endpoint failed: %v", err)
			}
		}()
		hook.Register("websocket server", ws.Close)
	}
	hook.Register("playback", func() error {
		engine.CancelPlayback()
		return nil
	})
	hook.Register("device registry", registry.Shutdown)
	hook.Register("uinput injector", injector.Close)
	if cfg.RequireAuth {
		hook.Register("token file", func() error {
			return os.Remove(cfg.TokenPath)
		})
	}

	// hot-plug detection by periodic rescan
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	utils.Info("evmacro daemon %s ready", version)

	for {
		select {
		case <-ticker.C:
			if _, err := registry.Enumerate(); err != nil {
				utils.Warn("Device rescan failed: %v", err)
			}
		case sig := <-sigChan:
			utils.Info("Received %v, shutting down", sig)
			return hook.Shutdown()
		case <-stop:
			utils.Info("Shutdown requested, shutting down")
			return hook.Shutdown()
		}
	}
}
