// Command infinitic runs a node hosting lifecycle engines, an optional
// worker pool and the admin HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/api"
	audithook "github.com/alpex29/infinitic/audit_hook"
	"github.com/alpex29/infinitic/engine"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := infinitic.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := infinitic.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("infinitic: starting",
		slog.String("version", version),
		slog.String("store", cfg.Store.Driver),
		slog.String("transport", cfg.Transport.Driver),
		slog.Any("kinds", cfg.Kinds),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers closers
	defer closers.close(logger)

	st, err := openStore(ctx, cfg.Store, logger, &closers)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate %s store: %w", cfg.Store.Driver, err)
	}

	tr, err := openTransport(cfg.Transport, logger, &closers)
	if err != nil {
		return err
	}

	n, err := infinitic.New(
		infinitic.WithConfig(cfg),
		infinitic.WithLogger(logger),
		infinitic.WithStore(st),
		infinitic.WithTransport(tr),
	)
	if err != nil {
		return err
	}

	var engOpts []engine.Option
	if cfg.Audit {
		engOpts = append(engOpts, engine.WithExtension(audithook.New(
			audithook.SlogRecorder(logger.With(slog.String("component", "audit"))),
			audithook.WithLogger(logger),
		)))
	}

	eng, err := engine.Build(n, engOpts...)
	if err != nil {
		return err
	}
	if err := n.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	if cfg.API.Enabled {
		serveErr = api.NewServer(cfg.API.Addr, eng, logger).Run(ctx)
	} else {
		<-ctx.Done()
	}

	logger.Info("infinitic: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	return errors.Join(serveErr, n.Stop(shutdownCtx))
}
