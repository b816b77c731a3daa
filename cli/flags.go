package cli

var (
	verbose bool

	// all commands
	socketPath string
	tokenFile  string

	// for record command
	recordDevice string
	recordFollow bool

	// for play command
	playWait bool

	// for server start command
	serverConfigPath string
	serverDaemonize  bool
)
