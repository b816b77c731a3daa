package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evmacro/evmacro/types"
)

var macrosCmd = &cobra.Command{
	Use:   "macros",
	Short: "List stored macros",
	Long:  `List the macros currently held by the daemon, in creation order.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("macros", nil)
	},
}

var playCmd = &cobra.Command{
	Use:   "play [macro-id]",
	Short: "Play a stored macro",
	Long:  `Replays a macro through the virtual input device with its recorded timing. Playback is asynchronous unless --wait is given.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !playWait {
			return call("macro_play", map[string]string{"macroId": args[0]})
		}

		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		var result interface{}
		if err := c.Call(ctx, "macro_play", map[string]string{"macroId": args[0]}, &result); err != nil {
			return err
		}

		for n := range c.Notifications() {
			switch n.Method {
			case types.NotifyPlaybackCompleted:
				var p types.PlaybackCompletedParams
				_ = json.Unmarshal(n.Params, &p)
				fmt.Printf("played %d event(s)\n", p.Emitted)
				return nil
			case types.NotifySessionError:
				var p types.SessionErrorParams
				_ = json.Unmarshal(n.Params, &p)
				return fmt.Errorf("playback failed: %s", p.Detail)
			}
		}
		return fmt.Errorf("daemon connection lost")
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the active playback",
	Long:  `Stops the running playback session. No further events are injected once this returns.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("playback_cancel", nil)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [macro-id]",
	Short: "Delete a stored macro",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return call("macro_delete", map[string]string{"macroId": args[0]})
	},
}

func init() {
	rootCmd.AddCommand(macrosCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(deleteCmd)

	playCmd.Flags().BoolVar(&playWait, "wait", false, "wait for playback to finish")
}
