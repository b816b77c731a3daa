package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evmacro/evmacro/types"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Recording session commands",
	Long:  `Commands for recording timed macros from a grabbed input device.`,
}

var recordStartCmd = &cobra.Command{
	Use:   "start [name]",
	Short: "Grab a device and record a macro until interrupted",
	Long: `Grabs the device given with --device, starts a recording session, and streams captured
events into the macro buffer. Interrupt with Ctrl-C to commit the macro and release the device.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if recordDevice == "" {
			return fmt.Errorf("--device is required")
		}

		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Call(ctx, "device_grab", map[string]string{"deviceId": recordDevice}, nil); err != nil {
			return err
		}
		if err := c.Call(ctx, "record_start", map[string]string{"name": name}, nil); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "recording %q from %s, press Ctrl-C to stop\n", name, recordDevice)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		for {
			select {
			case n, ok := <-c.Notifications():
				if !ok {
					return fmt.Errorf("daemon connection lost")
				}
				switch n.Method {
				case types.NotifyRecordingProgress:
					if recordFollow {
						var p types.RecordingProgressParams
						if json.Unmarshal(n.Params, &p) == nil {
							fmt.Fprintf(os.Stderr, "\rcaptured %d event(s)", p.EventCount)
						}
					}
				case types.NotifySessionError:
					var p types.SessionErrorParams
					_ = json.Unmarshal(n.Params, &p)
					return fmt.Errorf("recording aborted: %s", p.Detail)
				}
			case <-sigChan:
				if recordFollow {
					fmt.Fprintln(os.Stderr)
				}
				stopCtx, stopCancel := context.WithTimeout(context.Background(), callTimeout)
				defer stopCancel()

				var macro interface{}
				if err := c.Call(stopCtx, "record_stop", nil, &macro); err != nil {
					return err
				}
				printJson(macro)
				return c.Call(stopCtx, "device_release", map[string]string{"deviceId": recordDevice}, nil)
			}
		}
	},
}

var recordStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the active recording session",
	Long:  `Commits the recording session started by another client and prints the resulting macro.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("record_stop", nil)
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordStartCmd)
	recordCmd.AddCommand(recordStopCmd)

	recordStartCmd.Flags().StringVar(&recordDevice, "device", "", "device to grab and record from (see 'evmacro devices')")
	recordStartCmd.Flags().BoolVar(&recordFollow, "follow", false, "print capture progress while recording")
}
