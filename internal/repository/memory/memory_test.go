package memory

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/model"
)

func TestHealthStore(t *testing.T) {
	ctx := context.Background()
	s := NewHealthStore()

	_, err := s.Get(ctx, "lsp-a")
	require.ErrorIs(t, err, errs.ErrNotFound)

	rec := model.HealthRecord{ProviderID: "lsp-a", SuccessRate: 1.0, IsHealthy: true}
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Get(ctx, "lsp-a")
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	// Update in place supersedes.
	rec.SuccessRate = 0.9
	rec.FailCount = 1
	require.NoError(t, s.Upsert(ctx, rec))
	got, err = s.Get(ctx, "lsp-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.FailCount)

	require.NoError(t, s.Upsert(ctx, model.HealthRecord{ProviderID: "lsp-b"}))
	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "lsp-a", all[0].ProviderID)
}

func TestBackupStore(t *testing.T) {
	ctx := context.Background()
	s := NewBackupStore()

	_, err := s.Summary(ctx)
	require.ErrorIs(t, err, errs.ErrNotFound)

	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(ctx, model.BackupRecord{
			ID:        uuid.Must(uuid.NewV4()),
			Version:   int64(i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Kind:      model.BackupLocal,
		}))
	}

	out, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].Version, "newest first")

	require.NoError(t, s.SetSummary(ctx, model.BackupSummary{Kind: model.BackupCloud, Hash: "h"}))
	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BackupCloud, sum.Kind)
}

func TestPaymentAndSettingsStores(t *testing.T) {
	ctx := context.Background()
	p := NewPaymentStore()
	require.NoError(t, p.Append(ctx, model.Payment{
		ID:        uuid.Must(uuid.NewV4()),
		CreatedAt: time.Now(),
		Method:    model.MethodOnchain,
		Amount:    100,
	}))
	out, err := p.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)

	s := NewSettingsStore()
	_, err = s.Get(ctx, "auto_backup")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, s.Set(ctx, "auto_backup", "true"))
	v, err := s.Get(ctx, "auto_backup")
	require.NoError(t, err)
	assert.Equal(t, "true", v)
}
