package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

var schemas = map[Dialect]string{
	DialectMySQL: `
		CREATE TABLE IF NOT EXISTS collections (
			name       VARCHAR(64) NOT NULL PRIMARY KEY,
			payload    LONGTEXT NOT NULL,
			version    BIGINT NOT NULL DEFAULT 0,
			updated_at DATETIME(6) NOT NULL
		)`,
	DialectSQLite: `
		CREATE TABLE IF NOT EXISTS collections (
			name       TEXT NOT NULL PRIMARY KEY,
			payload    TEXT NOT NULL,
			version    INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,
}

var upserts = map[Dialect]string{
	DialectMySQL: `
		INSERT INTO collections (name, payload, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON DUPLICATE KEY UPDATE payload = VALUES(payload), version = version + 1, updated_at = VALUES(updated_at)`,
	DialectSQLite: `
		INSERT INTO collections (name, payload, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, version = collections.version + 1, updated_at = excluded.updated_at`,
}

// SQLAdapter stores each collection as one row of the collections table.
// The version column counts writes per collection.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) (*SQLAdapter, error) {
	if _, ok := schemas[dialect]; !ok {
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
	return &SQLAdapter{db: db, dialect: dialect}, nil
}

func (m *SQLAdapter) EnsureSchema(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, schemas[m.dialect]); err != nil {
		return fmt.Errorf("create collections table: %w", err)
	}
	return nil
}

func (m *SQLAdapter) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := m.db.QueryRowContext(ctx, `SELECT payload FROM collections WHERE name = ?`, key).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query collection: %w", err)
	}
	return payload, true, nil
}

func (m *SQLAdapter) Write(ctx context.Context, key string, payload []byte) error {
	_, err := m.db.ExecContext(ctx, upserts[m.dialect], key, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert collection: %w", err)
	}
	return nil
}

func (m *SQLAdapter) RemoveAll(ctx context.Context, keys []string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, key); err != nil {
			return fmt.Errorf("delete collection %s: %w", key, err)
		}
	}

	return tx.Commit()
}
