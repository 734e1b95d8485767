package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/mediscan/internal/flagx"
)

var knownFlags = []string{"-d", "-r", "-i", "-s", "-k", "-m", "-g", "-l"}

// parseFlags populates selected Config fields from command-line flags. Only
// the flags listed in knownFlags are parsed; anything else on the command
// line is ignored. It panics on malformed values.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], knownFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.StringVar(&cfg.LocalDSN, "d", cfg.LocalDSN, "local SQLite DSN")
	fs.StringVar(&cfg.RemoteDSN, "r", cfg.RemoteDSN, "remote PostgreSQL DSN")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.SessionSecret, "s", cfg.SessionSecret, "session signing secret")
	fs.StringVar(&cfg.AIAPIKey, "k", cfg.AIAPIKey, "image analysis API key")
	fs.StringVar(&cfg.MetricsAddr, "m", cfg.MetricsAddr, "metrics listen address")
	fs.StringVar(&cfg.HealthAddr, "g", cfg.HealthAddr, "gRPC health listen address")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// JSON may carry sub-second intervals; only override when -i was given.
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
		}
	})
}
