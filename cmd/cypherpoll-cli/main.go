// Command cypherpoll-cli is the voter side of a poll: it generates keys,
// registers identities, proves membership to vote, and runs the groth16
// setup.
package main

import (
	"fmt"
	"os"

	"github.com/consensys/gnark/logger"
	"github.com/urfave/cli/v2"
	"github.com/vocdoni/cypherpoll/log"
)

// Version is the build version, set at build time with -ldflags
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                 "cypherpoll-cli",
		Usage:                "register and vote in cypherpoll polls",
		Version:              Version,
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store", Usage: "client store directory", Value: defaultStoreDir(), EnvVars: []string{"CYPHERPOLL_STORE"}},
			&cli.StringFlag{Name: "server", Usage: "node API URL", Value: "http://127.0.0.1:9090", EnvVars: []string{"CYPHERPOLL_SERVER"}},
			&cli.StringFlag{Name: "log-level", Usage: "log level (debug, info, warn, error)", Value: log.LogLevelInfo},
		},
		Before: func(c *cli.Context) error {
			if _, err := log.ParseLevel(c.String("log-level")); err != nil {
				return err
			}
			log.Init(c.String("log-level"), "stderr", nil)
			logger.Set(log.Logger().With().Str("module", "gnark").Logger())
			return nil
		},
		Commands: []*cli.Command{
			keygenCommand,
			registerCommand,
			voteCommand,
			setupCommand,
			infoCommand,
		},
	}
}
