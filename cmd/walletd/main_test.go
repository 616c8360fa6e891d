package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberwallet/core/internal/repository/memory"
)

func TestResolveAutoBackup(t *testing.T) {
	ctx := context.Background()
	settings := memory.NewSettingsStore()

	// No flag, no stored toggle: off.
	enabled, err := resolveAutoBackup(ctx, settings, false, false)
	require.NoError(t, err)
	assert.False(t, enabled)

	// Explicit -auto-backup persists the on state.
	enabled, err = resolveAutoBackup(ctx, settings, true, true)
	require.NoError(t, err)
	assert.True(t, enabled)
	v, err := settings.Get(ctx, autoBackupSetting)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	// A later start without the flag picks the stored toggle up.
	enabled, err = resolveAutoBackup(ctx, settings, false, false)
	require.NoError(t, err)
	assert.True(t, enabled)

	// Explicit -auto-backup=false durably turns it off again.
	enabled, err = resolveAutoBackup(ctx, settings, true, false)
	require.NoError(t, err)
	assert.False(t, enabled)
	v, err = settings.Get(ctx, autoBackupSetting)
	require.NoError(t, err)
	assert.Equal(t, "0", v)

	enabled, err = resolveAutoBackup(ctx, settings, false, false)
	require.NoError(t, err)
	assert.False(t, enabled, "stored off state survives restarts")
}
