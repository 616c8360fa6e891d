package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/model"
)

// BackupRepo implements BackupRepository using PostgreSQL.
type BackupRepo struct{ db *DB }

// NewBackupRepo constructs a backup-record repository.
func NewBackupRepo(db *DB) *BackupRepo { return &BackupRepo{db: db} }

// Append records a completed backup.
func (r *BackupRepo) Append(ctx context.Context, rec model.BackupRecord) error {
	const q = `
INSERT INTO backup_records (id, version, created_at, payload_hash, kind)
VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.Pool.Exec(ctx, q, rec.ID, rec.Version, rec.CreatedAt, rec.PayloadHash, string(rec.Kind))
	return err
}

// List returns the newest records first, at most limit. A limit of
// zero or less returns everything, same as the in-memory store.
func (r *BackupRepo) List(ctx context.Context, limit int) ([]model.BackupRecord, error) {
	const q = `
SELECT id, version, created_at, payload_hash, kind
FROM backup_records ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, q, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BackupRecord
	for rows.Next() {
		var (
			rec  model.BackupRecord
			kind string
		)
		if err = rows.Scan(&rec.ID, &rec.Version, &rec.CreatedAt, &rec.PayloadHash, &kind); err != nil {
			return nil, err
		}
		rec.Kind = model.BackupKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Summary returns the single last-backup state row.
func (r *BackupRepo) Summary(ctx context.Context) (*model.BackupSummary, error) {
	const q = `SELECT last_backup_at, kind, hash FROM backup_state WHERE id=1`
	var (
		s    model.BackupSummary
		kind string
	)
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&s.LastBackupAt, &kind, &s.Hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	s.Kind = model.BackupKind(kind)
	return &s, nil
}

// SetSummary replaces the last-backup state.
func (r *BackupRepo) SetSummary(ctx context.Context, s model.BackupSummary) error {
	const q = `
INSERT INTO backup_state (id, last_backup_at, kind, hash)
VALUES (1,$1,$2,$3)
ON CONFLICT (id) DO UPDATE
SET last_backup_at=EXCLUDED.last_backup_at, kind=EXCLUDED.kind, hash=EXCLUDED.hash`
	_, err := r.db.Pool.Exec(ctx, q, s.LastBackupAt, string(s.Kind), s.Hash)
	return err
}
