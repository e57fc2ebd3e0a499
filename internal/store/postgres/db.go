// Copyright 2026 The Warehouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package postgres persists warehouse state: accounts, projects, macaroon
// records, publishers, and sessions. Each repository owns one aggregate; the
// macaroon table is the root of trust for token revocation.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/001_initial_schema.up.sql
var InitialSchema string

// DB wraps a pgx connection pool shared by all repositories.
type DB struct {
	pool *pgxpool.Pool
}

// Config holds connection settings. MaxOpenConns/MaxIdleConns map onto the
// pool's max/min connection counts.
type Config struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

// New opens a connection pool and verifies the database is reachable.
func New(ctx context.Context, cfg Config) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
		cfg.MaxOpenConns,
		cfg.MaxIdleConns,
	)
	if cfg.ConnMaxLifetime != "" {
		connStr += fmt.Sprintf(" pool_max_conn_lifetime=%s", cfg.ConnMaxLifetime)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool exposes the underlying pool for callers that need raw access, such as
// integration test cleanup.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Migrate applies a schema script in a single exec.
func (db *DB) Migrate(ctx context.Context, script string) error {
	_, err := db.pool.Exec(ctx, script)
	return err
}
