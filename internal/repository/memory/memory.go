// Package memory contains in-memory implementations of the repository
// interfaces, used by tests and daemon-less embedding.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/model"
)

// HealthStore is an in-memory HealthRepository. Writes serialize per
// store; records for different providers never interfere.
type HealthStore struct {
	mu   sync.RWMutex
	recs map[string]model.HealthRecord
}

func NewHealthStore() *HealthStore {
	return &HealthStore{recs: make(map[string]model.HealthRecord)}
}

func (s *HealthStore) Get(_ context.Context, providerID string) (*model.HealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[providerID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &rec, nil
}

func (s *HealthStore) Upsert(_ context.Context, rec model.HealthRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ProviderID] = rec
	return nil
}

func (s *HealthStore) List(_ context.Context) ([]model.HealthRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.HealthRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}

// BackupStore is an in-memory BackupRepository.
type BackupStore struct {
	mu      sync.RWMutex
	recs    []model.BackupRecord
	summary *model.BackupSummary
}

func NewBackupStore() *BackupStore { return &BackupStore{} }

func (s *BackupStore) Append(_ context.Context, rec model.BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *BackupStore) List(_ context.Context, limit int) ([]model.BackupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BackupRecord, len(s.recs))
	copy(out, s.recs)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *BackupStore) Summary(_ context.Context) (*model.BackupSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summary == nil {
		return nil, errs.ErrNotFound
	}
	cpy := *s.summary
	return &cpy, nil
}

func (s *BackupStore) SetSummary(_ context.Context, sum model.BackupSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = &sum
	return nil
}

// PaymentStore is an in-memory PaymentRepository.
type PaymentStore struct {
	mu   sync.RWMutex
	recs []model.Payment
}

func NewPaymentStore() *PaymentStore { return &PaymentStore{} }

func (s *PaymentStore) Append(_ context.Context, p model.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, p)
	return nil
}

func (s *PaymentStore) List(_ context.Context, limit int) ([]model.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Payment, len(s.recs))
	copy(out, s.recs)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SettingsStore is an in-memory SettingsRepository.
type SettingsStore struct {
	mu   sync.RWMutex
	vals map[string]string
}

func NewSettingsStore() *SettingsStore {
	return &SettingsStore{vals: make(map[string]string)}
}

func (s *SettingsStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	if !ok {
		return "", errs.ErrNotFound
	}
	return v, nil
}

func (s *SettingsStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
	return nil
}
