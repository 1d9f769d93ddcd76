package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/rosepanel/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   bind hostname (e.g. "0.0.0.0")
//	-p int      bind port
//	-d string   data directory (settings.json + servers/)
//	-t int      token lifespan, minutes
//	-s int      stop escalation step timeout, seconds
//	-o bool     one active session per account
//	-q bool     ask before exiting
//	-x bool     clear sessions on exit
//
// Boolean flags must use the -o=false form to be switched off.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-a", "-p", "-d", "-t", "-s", "-o", "-q", "-x"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.Hostname, "a", config.Hostname, "hostname to bind")
	fs.IntVar(&config.Port, "p", config.Port, "port to bind")
	fs.StringVar(&config.DataDir, "d", config.DataDir, "data directory")

	tokenLifespan := fs.Int("t", int(config.TokenLifespan.Minutes()), "token lifespan (in minutes)")
	stopStep := fs.Int("s", int(config.StopStepTimeout.Seconds()), "stop step timeout (in seconds)")

	fs.BoolVar(&config.OneTokenAccounts, "o", config.OneTokenAccounts, "one active session per account")
	fs.BoolVar(&config.AskToExit, "q", config.AskToExit, "ask before exiting")
	fs.BoolVar(&config.ClearSessionsOnExit, "x", config.ClearSessionsOnExit, "clear sessions on exit")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenLifespan = time.Duration(*tokenLifespan) * time.Minute
	config.StopStepTimeout = time.Duration(*stopStep) * time.Second
}
