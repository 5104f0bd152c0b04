package cpm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresBlobs stores documents in a single JSONB table.
type PostgresBlobs struct {
	db         *sql.DB
	nowFunc    func() time.Time
	schemaOnce sync.Once
	schemaErr  error
}

// OpenPostgresBlobs opens dsn with the pgx driver.
func OpenPostgresBlobs(dsn string) (*PostgresBlobs, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresBlobs(db), nil
}

// NewPostgresBlobs wraps an existing connection pool.
func NewPostgresBlobs(db *sql.DB) *PostgresBlobs {
	return &PostgresBlobs{db: db, nowFunc: time.Now}
}

const createModelsTable = `CREATE TABLE IF NOT EXISTS checkout_process_models (
    product_key TEXT PRIMARY KEY,
    document JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`

func (p *PostgresBlobs) ensureSchema(ctx context.Context) error {
	p.schemaOnce.Do(func() {
		_, p.schemaErr = p.db.ExecContext(ctx, createModelsTable)
	})
	return p.schemaErr
}

func (p *PostgresBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT document FROM checkout_process_models WHERE product_key = $1`, key,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *PostgresBlobs) Put(ctx context.Context, key string, doc []byte) error {
	if err := p.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO checkout_process_models (product_key, document, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (product_key) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		key, string(doc), p.nowFunc().UTC())
	return err
}

// Close releases the connection pool.
func (p *PostgresBlobs) Close() error { return p.db.Close() }
