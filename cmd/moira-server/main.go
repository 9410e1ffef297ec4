// Command moira-server runs the workflow engine behind its HTTP API.
//
//	moira-server -config /etc/moira/server.yaml
//
// Without a config file it serves the built-in methylation catalog from
// an in-memory store, which is enough for local development against a
// Docker daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hyunkyoun/moira"
	"github.com/hyunkyoun/moira/api"
	audithook "github.com/hyunkyoun/moira/audit_hook"
	"github.com/hyunkyoun/moira/engine"
	mw "github.com/hyunkyoun/moira/middleware"
	"github.com/hyunkyoun/moira/steps/container"
	"github.com/hyunkyoun/moira/stream"
)

func main() {
	configPath := flag.String("config", os.Getenv("MOIRA_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "moira-server: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(os.Stderr, cfg.Server)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("moira-server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then drains the HTTP server and the
// engine.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	var cl closers
	defer cl.close(logger)

	cat, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}
	factories, err := runtimes(cat, cfg.Container, logger)
	if err != nil {
		return err
	}
	reg, err := buildRegistry(cat, factories)
	if err != nil {
		return err
	}
	sink, err := openSink(cfg.Artifacts, logger, &cl)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.Store, logger, &cl)
	if err != nil {
		return err
	}
	// The orchestrator closes the store once it has started.
	closeStore := true
	defer func() {
		if closeStore {
			st.Close() //nolint:errcheck // startup already failed
		}
	}()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	o, err := moira.New(
		moira.WithConfig(cfg.moiraConfig()),
		moira.WithLogger(logger),
		moira.WithStore(st),
	)
	if err != nil {
		return err
	}

	broker := stream.NewBroker(logger)
	engOpts := []engine.Option{
		engine.WithRegistry(reg),
		engine.WithArtifactSink(sink),
		engine.WithExtension(broker),
	}
	if cfg.Audit.Enabled {
		var opts []audithook.Option
		if len(cfg.Audit.Actions) > 0 {
			opts = append(opts, audithook.WithActions(cfg.Audit.Actions...))
		}
		if cfg.Audit.MinSeverity != "" {
			opts = append(opts, audithook.WithMinSeverity(cfg.Audit.MinSeverity))
		}
		opts = append(opts, audithook.WithLogger(logger))
		engOpts = append(engOpts, engine.WithExtension(audithook.New(audithook.LogRecorder(logger), opts...)))
	}
	if cfg.Container.StartsPerSecond > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.Container.StartsPerSecond), max(cfg.Container.StartBurst, 1))
		engOpts = append(engOpts, engine.WithMiddleware(mw.Throttle(limiter, container.RuntimeName)))
	}
	eng, err := engine.Build(o, engOpts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.New(eng, apiOptions(cfg.API, broker, logger)...).Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	closeStore = false

	logger.Info("moira-server starting",
		slog.String("addr", srv.Addr),
		slog.String("version", moira.Version),
		slog.String("store", cfg.Store.Driver),
		slog.String("artifacts", cfg.Artifacts.Driver),
		slog.Int("steps", len(reg.Names())),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("moira-server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		httpErr := srv.Shutdown(shutdownCtx)
		// Stop applies the engine's own drain timeout.
		engErr := o.Stop(context.WithoutCancel(ctx))
		return errors.Join(httpErr, engErr)
	})
	return g.Wait()
}

func apiOptions(cfg APIConfig, broker *stream.Broker, logger *slog.Logger) []api.Option {
	opts := []api.Option{
		api.WithBroker(broker),
		api.WithLogger(logger),
	}
	if cfg.OwnerHeader != "" {
		opts = append(opts, api.WithOwnerHeader(cfg.OwnerHeader))
	}
	if cfg.Anonymous {
		opts = append(opts, api.WithAnonymous())
	}
	if cfg.SubmitRate > 0 {
		opts = append(opts, api.WithSubmitRate(cfg.SubmitRate, cfg.SubmitBurst))
	}
	return opts
}
