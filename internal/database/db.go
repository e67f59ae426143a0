package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaFile embed.FS

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// Config holds database configuration
type Config struct {
	URL            string
	MaxConnections int
	MaxIdle        int
	ConnMaxLife    time.Duration
}

// New creates a new database connection
func New(cfg Config) (*DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLife)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to database")

	return &DB{db}, nil
}

// InitSchema initializes the database schema
func (db *DB) InitSchema() error {
	schema, err := schemaFile.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	log.Info().Msg("Database schema initialized successfully")
	return nil
}

// SeedPools creates one liquidity pool row per configured currency. Existing
// pools keep their current balances; the seed only fills gaps.
func (db *DB) SeedPools(ctx context.Context, balances map[string]decimal.Decimal) error {
	for currency, balance := range balances {
		_, err := db.ExecContext(ctx, `
			INSERT INTO liquidity_pools (currency, balance, reserved_balance, updated_at)
			VALUES ($1, $2, 0, NOW())
			ON CONFLICT (currency) DO NOTHING
		`, currency, balance)
		if err != nil {
			return fmt.Errorf("failed to seed pool %s: %w", currency, err)
		}
	}

	log.Info().Int("pools", len(balances)).Msg("Liquidity pools seeded")
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	log.Info().Msg("Closing database connection")
	return db.DB.Close()
}
