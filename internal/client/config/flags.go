package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/circle/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the server (default from Config)
//	-f string   path to the local database file
//	-r int      minimum reconnect delay (in milliseconds)
//	-y int      typing indicator timeout (in seconds)
//	-i int      online check interval (in seconds)
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-f", "-r", "-y", "-i"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "a", cfg.ServerURL, "server base URL")
	fs.StringVar(&cfg.DatabasePath, "f", cfg.DatabasePath, "local database file")
	reconnectMin := fs.Int("r", int(cfg.ReconnectMin.Milliseconds()), "minimum reconnect delay (in milliseconds)")
	typingTimeout := fs.Int("y", int(cfg.TypingTimeout.Seconds()), "typing indicator timeout (in seconds)")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.ReconnectMin = time.Duration(*reconnectMin) * time.Millisecond
	cfg.TypingTimeout = time.Duration(*typingTimeout) * time.Second
	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
}
