package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/model"
)

// HealthRepo implements HealthRepository using PostgreSQL.
type HealthRepo struct{ db *DB }

// NewHealthRepo constructs a health-record repository.
func NewHealthRepo(db *DB) *HealthRepo { return &HealthRepo{db: db} }

// Get loads a single provider record.
func (r *HealthRepo) Get(ctx context.Context, providerID string) (*model.HealthRecord, error) {
	const q = `
SELECT provider_id, last_checked_at, is_healthy, latency_ms, success_rate, fail_count
FROM health_records WHERE provider_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, providerID)
	var rec model.HealthRecord
	if err := row.Scan(&rec.ProviderID, &rec.LastCheckedAt, &rec.IsHealthy,
		&rec.LatencyMs, &rec.SuccessRate, &rec.FailCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert creates or replaces a provider record. The row-level write
// lock serializes concurrent updates per provider.
func (r *HealthRepo) Upsert(ctx context.Context, rec model.HealthRecord) error {
	const q = `
INSERT INTO health_records (provider_id, last_checked_at, is_healthy, latency_ms, success_rate, fail_count)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (provider_id) DO UPDATE
SET last_checked_at=EXCLUDED.last_checked_at,
    is_healthy=EXCLUDED.is_healthy,
    latency_ms=EXCLUDED.latency_ms,
    success_rate=EXCLUDED.success_rate,
    fail_count=EXCLUDED.fail_count`
	_, err := r.db.Pool.Exec(ctx, q, rec.ProviderID, rec.LastCheckedAt,
		rec.IsHealthy, rec.LatencyMs, rec.SuccessRate, rec.FailCount)
	return err
}

// List returns all known records ordered by provider id.
func (r *HealthRepo) List(ctx context.Context) ([]model.HealthRecord, error) {
	const q = `
SELECT provider_id, last_checked_at, is_healthy, latency_ms, success_rate, fail_count
FROM health_records ORDER BY provider_id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HealthRecord
	for rows.Next() {
		var rec model.HealthRecord
		if err = rows.Scan(&rec.ProviderID, &rec.LastCheckedAt, &rec.IsHealthy,
			&rec.LatencyMs, &rec.SuccessRate, &rec.FailCount); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
