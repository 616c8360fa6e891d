// Package provider tracks liquidity providers, their health, and
// performs selection and failover.
package provider

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"go.uber.org/zap"

	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/model"
	"github.com/emberwallet/core/internal/node"
	"github.com/emberwallet/core/internal/repository"
)

// Criteria selects the sort order for provider selection.
type Criteria int

const (
	// ByFee picks the lowest combined fee for a reference amount.
	ByFee Criteria = iota
	// ByCapacity picks the highest maximum capacity.
	ByCapacity
	// ByLatency picks the lowest measured round-trip latency.
	ByLatency
)

// Health smoothing: only failures degrade the success rate; successful
// probes recover it at half the failure step, so trust is rebuilt
// gradually, never instantly.
const (
	failStep         = 0.1
	recoverStep      = 0.05
	healthyThreshold = 0.5
)

// quantizeRate snaps a success rate onto the step grid. Repeated
// float64 steps accumulate drift (five 0.1 subtractions from 1.0 land
// just above 0.5), which would keep a provider healthy past the
// threshold.
func quantizeRate(rate float64) float64 {
	return math.Round(rate*100) / 100
}

// FeeQuote is one provider's fee for a reference amount.
type FeeQuote struct {
	ProviderID string
	Fee        model.Amount
}

// Registry maintains the set of known providers and their health
// records. One long-lived instance owns the state; callers hold a
// reference.
type Registry struct {
	node   node.Service
	health repository.HealthRepository
	logger *zap.Logger

	mu        sync.Mutex
	providers map[string]model.ProviderDescriptor
	active    string

	// per-provider write locks so concurrent health updates serialize
	// per key while different providers proceed independently
	recMu map[string]*sync.Mutex
}

// NewRegistry constructs a registry over the node service and the
// persistent health-record store.
func NewRegistry(n node.Service, health repository.HealthRepository, logger *zap.Logger) *Registry {
	return &Registry{
		node:      n,
		health:    health,
		logger:    logger,
		providers: make(map[string]model.ProviderDescriptor),
		recMu:     make(map[string]*sync.Mutex),
	}
}

// Register adds a provider to the known set. The descriptor pubkey must
// parse as a compressed secp256k1 point. A health record is created on
// first sight with full trust.
func (r *Registry) Register(ctx context.Context, p model.ProviderDescriptor) error {
	if p.ID == "" {
		return errors.New("register: empty provider id")
	}
	raw, err := hex.DecodeString(p.Pubkey)
	if err != nil {
		return fmt.Errorf("register %s: pubkey hex: %w", p.ID, err)
	}
	if _, err := btcec.ParsePubKey(raw); err != nil {
		return fmt.Errorf("register %s: pubkey: %w", p.ID, err)
	}

	r.mu.Lock()
	r.providers[p.ID] = p
	if p.IsDefault && r.active == "" {
		r.active = p.ID
	}
	r.mu.Unlock()

	if _, err := r.health.Get(ctx, p.ID); errors.Is(err, errs.ErrNotFound) {
		return r.health.Upsert(ctx, model.HealthRecord{
			ProviderID:    p.ID,
			LastCheckedAt: time.Now(),
			IsHealthy:     true,
			SuccessRate:   1.0,
		})
	} else if err != nil {
		return err
	}
	return nil
}

// Sync pulls the provider list from the node service and registers any
// provider not yet known.
func (r *Registry) Sync(ctx context.Context) error {
	list, err := r.node.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}
	for _, p := range list {
		if err := r.Register(ctx, p); err != nil {
			r.logger.Warn("skipping provider", zap.String("provider", p.ID), zap.Error(err))
		}
	}
	return nil
}

// Active returns the currently active provider id, empty if none.
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SelectBest filters out excluded and unhealthy providers, sorts the
// rest by the requested criterion, and returns the winner. Returns
// errs.ErrProviderUnavailable when no candidate remains.
func (r *Registry) SelectBest(ctx context.Context, c Criteria, refAmount model.Amount, exclude ...string) (*model.ProviderDescriptor, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	r.mu.Lock()
	candidates := make([]model.ProviderDescriptor, 0, len(r.providers))
	for _, p := range r.providers {
		if !excluded[p.ID] {
			candidates = append(candidates, p)
		}
	}
	r.mu.Unlock()

	healthy := candidates[:0]
	latency := make(map[string]int64, len(candidates))
	for _, p := range candidates {
		rec, err := r.health.Get(ctx, p.ID)
		if err != nil || !rec.IsHealthy {
			continue
		}
		latency[p.ID] = rec.LatencyMs
		healthy = append(healthy, p)
	}
	if len(healthy) == 0 {
		return nil, errs.ErrProviderUnavailable
	}

	sort.SliceStable(healthy, func(i, j int) bool {
		a, b := healthy[i], healthy[j]
		switch c {
		case ByCapacity:
			return a.MaxCapacity > b.MaxCapacity
		case ByLatency:
			return latency[a.ID] < latency[b.ID]
		default:
			return a.Fee(refAmount) < b.Fee(refAmount)
		}
	})
	best := healthy[0]
	return &best, nil
}

// Connect switches the active provider. On failure the provider's
// health record is degraded and persisted, and the error is returned to
// the caller; nothing panics or retries.
func (r *Registry) Connect(ctx context.Context, providerID string) error {
	if err := r.node.SelectProvider(ctx, providerID); err != nil {
		r.logger.Warn("provider connect failed",
			zap.String("provider", providerID), zap.Error(err))
		if derr := r.degrade(ctx, providerID, 0); derr != nil {
			r.logger.Error("health degrade failed",
				zap.String("provider", providerID), zap.Error(derr))
		}
		return fmt.Errorf("connect %s: %w", providerID, err)
	}
	r.mu.Lock()
	r.active = providerID
	r.mu.Unlock()
	r.logger.Info("provider connected", zap.String("provider", providerID))
	return nil
}

// Failover selects the lowest-latency healthy alternative to the
// active provider and connects to it.
func (r *Registry) Failover(ctx context.Context) (*model.ProviderDescriptor, error) {
	active := r.Active()
	next, err := r.SelectBest(ctx, ByLatency, 0, active)
	if err != nil {
		return nil, err
	}
	if err := r.Connect(ctx, next.ID); err != nil {
		return nil, err
	}
	return next, nil
}

// CheckHealth probes every known provider, concurrently across
// providers, serialized per record. Probe failures degrade the success
// rate; successes recover it gradually.
func (r *Registry) CheckHealth(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.probe(ctx, id)
		}(id)
	}
	wg.Wait()
}

// EstimateFees returns fee quotes from all healthy providers, ascending
// by fee.
func (r *Registry) EstimateFees(ctx context.Context, amount model.Amount) ([]FeeQuote, error) {
	r.mu.Lock()
	candidates := make([]model.ProviderDescriptor, 0, len(r.providers))
	for _, p := range r.providers {
		candidates = append(candidates, p)
	}
	r.mu.Unlock()

	var out []FeeQuote
	for _, p := range candidates {
		rec, err := r.health.Get(ctx, p.ID)
		if err != nil || !rec.IsHealthy {
			continue
		}
		out = append(out, FeeQuote{ProviderID: p.ID, Fee: p.Fee(amount)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fee < out[j].Fee })
	return out, nil
}

func (r *Registry) probe(ctx context.Context, id string) {
	started := time.Now()
	rtt, err := r.node.ProbeProvider(ctx, id)
	if err != nil {
		r.logger.Warn("health probe failed", zap.String("provider", id), zap.Error(err))
		if derr := r.degrade(ctx, id, 0); derr != nil {
			r.logger.Error("health degrade failed", zap.String("provider", id), zap.Error(derr))
		}
		return
	}
	if rtt == 0 {
		rtt = time.Since(started)
	}

	lock := r.recordLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec := r.loadOrInit(ctx, id)
	rec.LastCheckedAt = time.Now()
	rec.LatencyMs = rtt.Milliseconds()
	if rec.SuccessRate < 1.0 {
		rec.SuccessRate = quantizeRate(min(1.0, rec.SuccessRate+recoverStep))
	}
	rec.IsHealthy = rec.SuccessRate > healthyThreshold
	if err := r.health.Upsert(ctx, rec); err != nil {
		r.logger.Error("health upsert failed", zap.String("provider", id), zap.Error(err))
	}
}

// degrade records one failure: success rate steps down by failStep
// (floored at 0), fail count increments, health is recomputed.
func (r *Registry) degrade(ctx context.Context, id string, latencyMs int64) error {
	lock := r.recordLock(id)
	lock.Lock()
	defer lock.Unlock()

	rec := r.loadOrInit(ctx, id)
	rec.LastCheckedAt = time.Now()
	if latencyMs > 0 {
		rec.LatencyMs = latencyMs
	}
	rec.SuccessRate = quantizeRate(max(0, rec.SuccessRate-failStep))
	rec.FailCount++
	rec.IsHealthy = rec.SuccessRate > healthyThreshold
	return r.health.Upsert(ctx, rec)
}

func (r *Registry) loadOrInit(ctx context.Context, id string) model.HealthRecord {
	if rec, err := r.health.Get(ctx, id); err == nil {
		rec.SuccessRate = quantizeRate(rec.SuccessRate)
		return *rec
	}
	return model.HealthRecord{
		ProviderID:  id,
		IsHealthy:   true,
		SuccessRate: 1.0,
	}
}

func (r *Registry) recordLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recMu[id]; !ok {
		r.recMu[id] = &sync.Mutex{}
	}
	return r.recMu[id]
}
