package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/alpex29/infinitic"
	"github.com/alpex29/infinitic/store"
	bunstore "github.com/alpex29/infinitic/store/bun"
	memstore "github.com/alpex29/infinitic/store/memory"
	mongostore "github.com/alpex29/infinitic/store/mongo"
	natsstore "github.com/alpex29/infinitic/store/nats"
	pgstore "github.com/alpex29/infinitic/store/postgres"
	redisstore "github.com/alpex29/infinitic/store/redis"
	sqlitestore "github.com/alpex29/infinitic/store/sqlite"
	"github.com/alpex29/infinitic/transport"
	memtransport "github.com/alpex29/infinitic/transport/memory"
	redistransport "github.com/alpex29/infinitic/transport/redis"
)

const defaultMongoDatabase = "infinitic"

// closers releases client connections the stores and transports do not own,
// in reverse order of acquisition.
type closers []func() error

func (c *closers) add(f func() error) { *c = append(*c, f) }

func (c closers) close(logger *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Warn("close backend", slog.String("error", err.Error()))
		}
	}
}

func openStore(ctx context.Context, cfg infinitic.StoreConfig, logger *slog.Logger, c *closers) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return memstore.New(), nil

	case "postgres":
		return pgstore.New(ctx, cfg.DSN, pgstore.WithLogger(logger))

	case "bun":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		c.add(db.Close)
		return bunstore.New(db, bunstore.WithLogger(logger)), nil

	case "sqlite":
		return sqlitestore.Open(ctx, cfg.DSN, sqlitestore.WithLogger(logger))

	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		client := goredis.NewClient(opts)
		c.add(client.Close)
		return redisstore.New(client, redisstore.WithLogger(logger)), nil

	case "mongo":
		client, err := mongod.Connect(options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("mongo store: %w", err)
		}
		c.add(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})
		database := cfg.Database
		if database == "" {
			database = defaultMongoDatabase
		}
		return mongostore.New(client.Database(database), mongostore.WithLogger(logger)), nil

	case "nats":
		nc, err := nats.Connect(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("nats store: %w", err)
		}
		c.add(func() error {
			nc.Close()
			return nil
		})
		return natsstore.New(nc, natsstore.WithLogger(logger))

	default:
		return nil, fmt.Errorf("store %q: %w", cfg.Driver, infinitic.ErrUnknownDriver)
	}
}

func openTransport(cfg infinitic.TransportConfig, logger *slog.Logger, c *closers) (transport.Transport, error) {
	switch cfg.Driver {
	case "", "memory":
		return memtransport.New(
			memtransport.WithPartitions(cfg.Partitions),
			memtransport.WithLogger(logger),
		), nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("redis transport: %w", err)
		}
		client := goredis.NewClient(opts)
		c.add(client.Close)
		tropts := []redistransport.Option{redistransport.WithLogger(logger)}
		if cfg.Lease > 0 {
			tropts = append(tropts, redistransport.WithLease(cfg.Lease))
		}
		return redistransport.New(client, tropts...), nil

	default:
		return nil, fmt.Errorf("transport %q: %w", cfg.Driver, infinitic.ErrUnknownDriver)
	}
}
