package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig describes the shared pool every hospital schema is served from.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ApplicationName string
}

const resetTimeout = 2 * time.Second

func (pc PoolConfig) parse() (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(pc.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	name := pc.ApplicationName
	if name == "" {
		name = "careflow"
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = name

	// Connections come back pointed at some hospital's schema. Reset them so
	// pool-level queries never run against a leftover tenant; a connection
	// that cannot be reset is discarded.
	cfg.AfterRelease = func(conn *pgx.Conn) bool {
		ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
		defer cancel()
		_, err := conn.Exec(ctx, "RESET search_path")
		return err == nil
	}
	return cfg, nil
}

// NewPool opens the pool and verifies it with a ping.
func NewPool(ctx context.Context, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pc.parse()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
