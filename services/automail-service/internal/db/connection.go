package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
)

var Pool *pgxpool.Pool

// Init opens the shared connection pool using database.url from the
// configuration and verifies the database is reachable.
func Init(ctx context.Context) error {
	connString := viper.GetString("database.url")
	if connString == "" {
		return fmt.Errorf("database.url not configured")
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return fmt.Errorf("invalid database.url: %w", err)
	}
	if max := viper.GetInt32("database.max_conns"); max > 0 {
		cfg.MaxConns = max
	}

	Pool, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := Pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func Close() {
	if Pool != nil {
		Pool.Close()
	}
}
