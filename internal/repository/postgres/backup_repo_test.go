package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/model"
)

func TestBackupRepo_Append(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBackupRepo(db)

	rec := model.BackupRecord{
		ID:          uuid.Must(uuid.NewV4()),
		Version:     1,
		CreatedAt:   time.Now(),
		PayloadHash: "abcd",
		Kind:        model.BackupLocal,
	}
	mock.ExpectExec(`INSERT INTO backup_records`).
		WithArgs(rec.ID, rec.Version, rec.CreatedAt, rec.PayloadHash, "local").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Append(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackupRepo_List(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBackupRepo(db)
	now := time.Now()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM backup_records ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "version", "created_at", "payload_hash", "kind"}).
			AddRow(id, int64(3), now, "h3", "cloud").
			AddRow(id, int64(2), now.Add(-time.Minute), "h2", "local"))
	out, err := r.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, model.BackupCloud, out[0].Kind)
	require.Equal(t, "h2", out[1].PayloadHash)
}

func TestBackupRepo_ListZeroLimitReturnsAll(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBackupRepo(db)
	now := time.Now()
	id := uuid.Must(uuid.NewV4())

	// Zero limit binds NULL, which Postgres reads as unbounded.
	mock.ExpectQuery(`FROM backup_records ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(nil).
		WillReturnRows(pgxmock.NewRows([]string{"id", "version", "created_at", "payload_hash", "kind"}).
			AddRow(id, int64(2), now, "h2", "local").
			AddRow(id, int64(1), now.Add(-time.Minute), "h1", "local"))
	out, err := r.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBackupRepo_Summary(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBackupRepo(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`SELECT last_backup_at, kind, hash FROM backup_state WHERE id=1`).
		WillReturnRows(pgxmock.NewRows([]string{"last_backup_at", "kind", "hash"}).
			AddRow(now, "local", "deadbeef"))
	s, err := r.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, model.BackupLocal, s.Kind)
	require.Equal(t, "deadbeef", s.Hash)

	mock.ExpectQuery(`SELECT last_backup_at, kind, hash FROM backup_state WHERE id=1`).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Summary(ctx)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestBackupRepo_SetSummary(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewBackupRepo(db)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO backup_state`).
		WithArgs(now, "manual", "cafe").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.SetSummary(context.Background(), model.BackupSummary{
		LastBackupAt: now,
		Kind:         model.BackupManual,
		Hash:         "cafe",
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
