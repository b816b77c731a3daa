package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evmacro/evmacro/config"
	"github.com/evmacro/evmacro/daemon"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Daemon management commands",
	Long:  `Commands for starting and stopping the evmacro daemon.`,
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the evmacro daemon",
	Long:  `Starts the daemon: opens the uinput injector, binds the protocol socket, and begins watching input devices. Requires permission to read /dev/input and write /dev/uinput.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serverConfigPath)
		if err != nil {
			return err
		}
		if socketFlag := cmd.Flag("socket"); socketFlag.Changed {
			cfg.SocketPath = socketFlag.Value.String()
		}
		if verbose {
			cfg.Verbose = true
		}

		if serverDaemonize && !daemon.IsChild() {
			_, err := daemon.Daemonize()
			if err != nil {
				return fmt.Errorf("failed to start daemon: %w", err)
			}

			fmt.Printf("Daemon spawned, socket at %s\n", cfg.SocketPath)
			return nil
		}

		return daemon.Run(cfg, version)
	},
}

var serverKillCmd = &cobra.Command{
	Use:   "kill",
	Short: "Stop the running evmacro daemon",
	Long:  `Connects to the daemon socket and sends a shutdown request.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readTokenFile()
		if err != nil {
			return err
		}
		if err := daemon.KillServer(socketPath, token); err != nil {
			return err
		}

		fmt.Printf("Daemon shutdown command sent successfully\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// add server subcommands
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverKillCmd)

	// server start flags
	serverStartCmd.Flags().StringVar(&serverConfigPath, "config", "", "path to the daemon configuration file")
	serverStartCmd.Flags().BoolVarP(&serverDaemonize, "daemon", "d", false, "run in daemon mode (background)")
}
