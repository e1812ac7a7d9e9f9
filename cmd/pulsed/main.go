package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantpulse-lab/pulse-trading/internal/logger"
	"github.com/quantpulse-lab/pulse-trading/internal/marketdata"
	"github.com/quantpulse-lab/pulse-trading/internal/persistence"
	"github.com/quantpulse-lab/pulse-trading/internal/registry"
	"github.com/quantpulse-lab/pulse-trading/internal/stream"
	"github.com/quantpulse-lab/pulse-trading/internal/webhook"
)

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadDaemonConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	if cmd.IsSet("data") {
		cfg.DataDir = cmd.String("data")
	}

	if cmd.IsSet("symbols") {
		cfg.PreloadSymbols = cmd.StringSlice("symbols")
	}

	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	appLogger, err := logger.NewLoggerWithLevel(level)
	if err != nil {
		return err
	}
	defer appLogger.Sync() //nolint:errcheck

	store, err := persistence.NewFileStore(cfg.DataDir)
	if err != nil {
		return err
	}

	provider := marketdata.NewBinanceProvider(appLogger)
	streams := stream.NewManager(provider, store, appLogger)
	sink := webhook.NewHTTPSink()
	reg := registry.NewRegistry(streams, sink, store, provider, appLogger, registry.Callbacks{})

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := reg.Start(runCtx, cfg.PreloadSymbols); err != nil {
		return err
	}

	appLogger.Info("daemon started",
		zap.String("data_dir", cfg.DataDir),
		zap.Strings("preload_symbols", cfg.PreloadSymbols))

	<-runCtx.Done()

	appLogger.Info("shutting down")

	reg.Close()
	streams.Close()

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "pulsed",
		Usage: "Live crossover trading daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the yaml daemon config file",
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "Path to the data directory",
			},
			&cli.StringSliceFlag{
				Name:    "symbols",
				Aliases: []string{"s"},
				Usage:   "Symbols to pre-warm on startup",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
		},
		Action: runAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
