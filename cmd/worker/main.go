// Package main is the worker process: the Worker Runtime, polling its
// configured broker queues and fanning out per-job handlers across a
// bounded pool. It never serves HTTP and never advances scheduled
// jobs; those are cmd/orchestratord and cmd/scheduler respectively.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/appctx"
	"github.com/ternarybob/netctl/internal/common"
)

var (
	configPath = flag.String("config", "worker.toml", "Configuration file path")
	showVer    = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("worker version %s\n", common.GetVersion())
		os.Exit(0)
	}

	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		tmp := arbor.NewLogger()
		tmp.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(cfg)
	common.PrintBanner("worker", cfg, logger)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("configuration invalid")
		os.Exit(1)
	}

	app, err := appctx.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application context")
		os.Exit(1)
	}
	defer app.Close()

	app.WorkerPool.Start()

	logger.Info().
		Strs("queues", cfg.Worker.Queues).
		Int("max_concurrency", cfg.Worker.MaxConcurrency).
		Msg("worker ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	common.PrintShutdownBanner("worker", logger)
	app.WorkerPool.Stop()
	common.Stop()
}
