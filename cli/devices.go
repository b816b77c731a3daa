package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List input devices",
	Long:  `List the input devices the daemon currently knows about, with their capabilities and grab state.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("devices", nil)
	},
}

var grabCmd = &cobra.Command{
	Use:   "grab [device]",
	Short: "Exclusively grab an input device",
	Long: `Takes the exclusive grab on a device so its events stop reaching the rest of the system.
The grab is held until this command is interrupted (Ctrl-C); disconnecting releases it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		var result interface{}
		if err := c.Call(ctx, "device_grab", map[string]string{"deviceId": deviceID}, &result); err != nil {
			return err
		}
		printJson(result)

		// the grab lives as long as this connection; hold it open
		fmt.Fprintf(os.Stderr, "holding grab on %s, press Ctrl-C to release\n", deviceID)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), callTimeout)
		defer releaseCancel()
		return c.Call(releaseCtx, "device_release", map[string]string{"deviceId": deviceID}, nil)
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release [device]",
	Short: "Release a grabbed input device",
	Long:  `Drops the exclusive grab on a device. Releasing a device that is not grabbed succeeds without effect.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("device_release", map[string]string{"deviceId": args[0]})
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(grabCmd)
	rootCmd.AddCommand(releaseCmd)
}
