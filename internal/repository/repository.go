// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/emberwallet/core/internal/model"
)

// HealthRepository persists one HealthRecord per known provider.
// Records are updated in place, never deleted.
type HealthRepository interface {
	// Get loads a provider's record, or errs.ErrNotFound.
	Get(ctx context.Context, providerID string) (*model.HealthRecord, error)
	// Upsert creates or replaces a provider's record. Writes for the
	// same provider serialize at the storage layer.
	Upsert(ctx context.Context, rec model.HealthRecord) error
	// List returns all known records.
	List(ctx context.Context) ([]model.HealthRecord, error)
}

// BackupRepository persists the rotating backup-record log and the
// last-backup summary.
type BackupRepository interface {
	// Append records a completed backup.
	Append(ctx context.Context, rec model.BackupRecord) error
	// List returns the newest records first, at most limit; a limit of
	// zero or less returns everything.
	List(ctx context.Context, limit int) ([]model.BackupRecord, error)
	// Summary returns the last-backup state, or errs.ErrNotFound before
	// the first backup.
	Summary(ctx context.Context) (*model.BackupSummary, error)
	// SetSummary replaces the last-backup state.
	SetSummary(ctx context.Context, s model.BackupSummary) error
}

// PaymentRepository persists settled payment history.
type PaymentRepository interface {
	// Append stores a settled payment.
	Append(ctx context.Context, p model.Payment) error
	// List returns newest payments first, at most limit; a limit of
	// zero or less returns everything.
	List(ctx context.Context, limit int) ([]model.Payment, error)
}

// SettingsRepository persists small feature toggles (auto-backup,
// auto-lock) as key/value pairs.
type SettingsRepository interface {
	// Get returns the value for key, or errs.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set stores the value under key.
	Set(ctx context.Context, key, value string) error
}
