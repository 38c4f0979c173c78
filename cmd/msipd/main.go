package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/msip/internal/config"
	"github.com/zeusync/msip/internal/core/observability/log"
	"github.com/zeusync/msip/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to a .yaml/.yml or .toml config file")
	listenAddr := flag.String("listen", "", "TCP listen address, overrides the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(2)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
		if err = cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading config:", err)
			os.Exit(2)
		}
	}

	app, cleanup, err := injector.InitializeApp(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error building server:", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = app.Server.Start(ctx); err != nil {
		app.Logger.Error("Error starting server", log.Error(err))
		cleanup()
		os.Exit(1)
	}

	<-ctx.Done()
	app.Logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = app.Server.Stop(shutdownCtx); err != nil {
		app.Logger.Error("Error stopping server", log.Error(err))
	}
}
