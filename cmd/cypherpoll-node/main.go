// Command cypherpoll-node serves an anonymous poll: it registers voters
// whose keys are listed by the key authority and accepts one vote per
// nullifier backed by a membership proof.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/consensys/gnark/logger"
	flag "github.com/spf13/pflag"
	"github.com/vocdoni/cypherpoll/log"
	"github.com/vocdoni/cypherpoll/service"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	var errOut io.Writer
	if cfg.Log.ErrorOutput != "" {
		f, err := os.OpenFile(cfg.Log.ErrorOutput, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening error log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		errOut = f
	}
	log.Init(cfg.Log.Level, cfg.Log.Output, errOut)
	logger.Set(log.Logger().With().Str("module", "gnark").Logger())
	log.Infow("starting cypherpoll-node", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	st, err := service.NewState(cfg.pollConfig())
	if err != nil {
		log.Fatalf("Failed to create poll: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	api := service.NewAPI(st, cfg.API.Host, cfg.API.Port, false)
	api.VoteTimeout = cfg.API.VoteTimeout
	if err := api.Start(ctx); err != nil {
		log.Fatalf("Failed to start API service: %v", err)
	}
	log.Infow("API service started", "url", api.URL())

	<-ctx.Done()
	log.Infow("received signal, shutting down")
	if err := api.Wait(); err != nil {
		log.Errorw(err, "API service stopped with error")
		os.Exit(1)
	}
}
