package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/app"
	"github.com/ternarybob/expunge/internal/common"
	"github.com/ternarybob/expunge/internal/interfaces"
)

var (
	configPath   = flag.String("config", "", "Configuration file path")
	configPathC  = flag.String("c", "", "Configuration file path (shorthand)")
	runNow       = flag.Bool("run-now", false, "Run a manual pass over every broker immediately, then keep scheduling")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Expunge version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup order: config, logger, banner, application.
	path := *configPath
	if path == "" {
		path = *configPathC
	}
	if path == "" {
		if _, err := os.Stat("expunge.toml"); err == nil {
			path = "expunge.toml"
		} else if _, err := os.Stat("deployments/local/expunge.toml"); err == nil {
			path = "deployments/local/expunge.toml"
		}
	}

	config, err := common.LoadFromFile(path)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Str("path", path).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("config", path).
		Str("environment", config.Environment).
		Str("brokers_dir", config.Brokers.Dir).
		Str("schedule", config.Queue.Schedule).
		Int("concurrency", config.Queue.Concurrency).
		Msg("Configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	if err := application.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start scheduler")
		os.Exit(1)
	}

	if *runNow {
		logger.Info().Msg("Starting manual pass")
		application.RunManual(context.Background(), func(results []interfaces.TupleResult) {
			failed := 0
			for _, res := range results {
				if res.Err != nil {
					failed++
				}
			}
			logger.Info().
				Int("collections", len(results)).
				Int("failed", failed).
				Msg("Manual pass completed")
		})
	}

	// Block until interrupted; Close handles the orderly shutdown.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")
}
