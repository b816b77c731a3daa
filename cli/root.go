package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/evmacro/evmacro/client"
	"github.com/evmacro/evmacro/config"
	"github.com/evmacro/evmacro/utils"
)

const version = "dev"

// callTimeout bounds every one-shot request/response exchange.
const callTimeout = 10 * time.Second

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "evmacro",
	Short: "Record and replay Linux input-device macros",
	Long:  `A tool for exclusively grabbing evdev input devices, recording timed macros, and replaying them through a virtual uinput device.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func initConfig() {
	utils.SetVerbose(verbose)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", config.Default().SocketPath, "path to the daemon socket")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "path to the session token file (only needed when the daemon requires authentication)")
}

// Execute runs the root command
func Execute() error {
	// enable microseconds in logs
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	return rootCmd.Execute()
}

// printJson is a helper function to print JSON responses
func printJson(data interface{}) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(jsonData))
}

// readTokenFile returns the session token, or "" when no token file was
// given on the command line.
func readTokenFile() (string, error) {
	if tokenFile == "" {
		return "", nil
	}
	token, err := os.ReadFile(tokenFile)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(token)), nil
}

// connect dials the daemon and authenticates when a token file is given.
func connect(ctx context.Context) (*client.Client, error) {
	c, err := client.Dial(socketPath)
	if err != nil {
		return nil, err
	}
	token, err := readTokenFile()
	if err != nil {
		c.Close()
		return nil, err
	}
	if token != "" {
		if err := c.Authenticate(ctx, token); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// call performs one request against the daemon and prints the result.
func call(method string, params interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	var result interface{}
	if err := c.Call(ctx, method, params, &result); err != nil {
		return err
	}
	printJson(result)
	return nil
}
