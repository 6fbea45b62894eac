// Package store provides the bounded Postgres connection pool and the
// chunked row fetcher built on top of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotInitialized is returned by Acquire before Initialize has run.
var ErrNotInitialized = errors.New("store: pool not initialized")

// Pool is an initialize-once wrapper around pgxpool. Acquire blocks until
// a connection is free; every borrowed connection must be released on all
// exit paths. CloseAll is only for process shutdown.
type Pool struct {
	mu    sync.Mutex
	pool  *pgxpool.Pool
	chunk int
	log   *zap.Logger
}

// NewPool returns an uninitialized pool. chunkSize bounds per-batch memory
// for fetchers created from this pool.
func NewPool(chunkSize int, log *zap.Logger) *Pool {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	return &Pool{chunk: chunkSize, log: log}
}

// Initialize creates the underlying pgx pool exactly once; repeated calls
// are no-ops. min and max bound the number of physical connections.
func (p *Pool) Initialize(ctx context.Context, dsn string, min, max int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return nil
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("store: parse dsn: %w", err)
	}
	if min > 0 {
		cfg.MinConns = min
	}
	if max > 0 {
		cfg.MaxConns = max
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store: create pool: %w", err)
	}
	p.pool = pool
	p.log.Info("connection pool initialized",
		zap.Int32("min_conns", cfg.MinConns),
		zap.Int32("max_conns", cfg.MaxConns))
	return nil
}

// Acquire blocks until a pooled connection is available or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()
	if pool == nil {
		return nil, ErrNotInitialized
	}
	return pool.Acquire(ctx)
}

// Fetcher borrows one connection and wraps it in a Fetcher. The caller
// owns the fetcher and must Close it to return the connection.
func (p *Pool) Fetcher(ctx context.Context) (*Fetcher, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return newFetcher(conn, conn.Release, p.chunk, p.log), nil
}

// Ping verifies the relational store is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()
	if pool == nil {
		return ErrNotInitialized
	}
	return pool.Ping(ctx)
}

// CloseAll tears down every pooled connection. Process shutdown only.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}
