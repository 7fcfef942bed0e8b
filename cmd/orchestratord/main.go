// Package main is the orchestratord process: the HTTP/WebSocket API
// surface, the Event Publisher delivery loop, and the Log Stream Bus.
// It owns the Job Store connection these all share but
// never polls the broker itself (that's cmd/worker) and never advances
// scheduled jobs itself (that's cmd/scheduler).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/api"
	"github.com/ternarybob/netctl/internal/appctx"
	"github.com/ternarybob/netctl/internal/common"
)

var (
	configPath = flag.String("config", "orchestratord.toml", "Configuration file path")
	port       = flag.Int("port", 0, "HTTP listen port (overrides config)")
	showVer    = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("orchestratord version %s\n", common.GetVersion())
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
	if *port != 0 {
		cfg.Server.Port = *port
	}

	logger := common.SetupLogger(cfg)
	common.PrintBanner("orchestratord", cfg, logger)

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

	app.EventLoop.Start()
	defer app.EventLoop.Stop()

	mux := api.NewMux(api.Deps{
		Jobs:   api.NewJobsHandler(app.Jobs, app.Store, app.Reporting, app.Tenant, logger),
		Create: api.NewCreateHandler(app.Jobs, app.Tenant, logger),
		Auth:   api.NewAuthHandler(app.Tenant, logger),
		Stream: api.NewStreamHandler(app.StreamBus, app.SSHBridge, app.Tenant, logger),
	})
	srv := api.NewServer(cfg.Server.Host, cfg.Server.Port, mux, logger)

	common.SafeGo(logger, "http-server", func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("orchestratord ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	common.PrintShutdownBanner("orchestratord", logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	common.Stop()
}
