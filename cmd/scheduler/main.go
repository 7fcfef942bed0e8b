// Package main is the scheduler process: the Scheduler, releasing
// due scheduled jobs into the queue, reconciling stale queued jobs, and
// running the retention sweep. A single active instance is expected;
// nothing in this process elects a leader among several instances.
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
	configPath = flag.String("config", "scheduler.toml", "Configuration file path")
	showVer    = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("scheduler version %s\n", common.GetVersion())
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
	common.PrintBanner("scheduler", cfg, logger)

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

	app.Scheduler.Start()

	logger.Info().
		Dur("tick_interval", cfg.Scheduler.TickInterval()).
		Int("batch_size", cfg.Scheduler.BatchSize).
		Msg("scheduler ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	common.PrintShutdownBanner("scheduler", logger)
	app.Scheduler.Stop()
	common.Stop()
}
