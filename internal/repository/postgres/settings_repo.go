package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/emberwallet/core/internal/errs"
)

// SettingsRepo implements SettingsRepository using PostgreSQL.
type SettingsRepo struct{ db *DB }

// NewSettingsRepo constructs a settings repository.
func NewSettingsRepo(db *DB) *SettingsRepo { return &SettingsRepo{db: db} }

// Get returns the value for key.
func (r *SettingsRepo) Get(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM settings WHERE key=$1`
	var v string
	if err := r.db.Pool.QueryRow(ctx, q, key).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	return v, nil
}

// Set stores the value under key.
func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO settings (key, value) VALUES ($1,$2)
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value`
	_, err := r.db.Pool.Exec(ctx, q, key, value)
	return err
}
