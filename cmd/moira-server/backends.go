package main

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hyunkyoun/moira/artifact"
	fssink "github.com/hyunkyoun/moira/artifact/fs"
	memsink "github.com/hyunkyoun/moira/artifact/memory"
	redissink "github.com/hyunkyoun/moira/artifact/redis"
	"github.com/hyunkyoun/moira/store"
	bunstore "github.com/hyunkyoun/moira/store/bun"
	etcdstore "github.com/hyunkyoun/moira/store/etcd"
	memstore "github.com/hyunkyoun/moira/store/memory"
	mongostore "github.com/hyunkyoun/moira/store/mongo"
	pgstore "github.com/hyunkyoun/moira/store/postgres"
	redisstore "github.com/hyunkyoun/moira/store/redis"
)

// closers collects cleanup for clients the stores do not own.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

// close runs the cleanups in reverse order, logging failures.
func (c closers) close(logger *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}

// openStore connects the configured job store. The returned store is
// not yet migrated.
func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger, cl *closers) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.New(), nil

	case "postgres":
		return pgstore.New(ctx, cfg.DSN, pgstore.WithLogger(logger))

	case "bun":
		return bunstore.Open(cfg.DSN, bunstore.WithLogger(logger)), nil

	case "redis":
		client, err := redisClient(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		cl.add(client.Close)
		opts := []redisstore.Option{redisstore.WithLogger(logger)}
		if cfg.Prefix != "" {
			opts = append(opts, redisstore.WithKeyPrefix(cfg.Prefix))
		}
		return redisstore.New(client, opts...), nil

	case "mongo":
		return mongostore.Open(ctx, cfg.DSN, cfg.Database, mongostore.WithLogger(logger))

	case "etcd":
		opts := []etcdstore.Option{etcdstore.WithLogger(logger)}
		if cfg.Prefix != "" {
			opts = append(opts, etcdstore.WithPrefix(cfg.Prefix))
		}
		return etcdstore.Open(cfg.Endpoints, opts...)

	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// openSink builds the configured artifact sink.
func openSink(cfg ArtifactsConfig, logger *slog.Logger, cl *closers) (artifact.Sink, error) {
	switch cfg.Driver {
	case "memory":
		return memsink.New(), nil

	case "fs":
		return fssink.New(cfg.Dir, fssink.WithLogger(logger))

	case "redis":
		client, err := redisClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("artifacts: %w", err)
		}
		cl.add(client.Close)
		var opts []redissink.Option
		if cfg.TTL > 0 {
			opts = append(opts, redissink.WithTTL(cfg.TTL))
		}
		return redissink.New(client, opts...), nil

	default:
		return nil, fmt.Errorf("artifacts: unknown driver %q", cfg.Driver)
	}
}

func redisClient(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return goredis.NewClient(opts), nil
}
