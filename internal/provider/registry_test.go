package provider

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/model"
	"github.com/emberwallet/core/internal/node"
	"github.com/emberwallet/core/internal/repository/memory"
)

func testPubkey(t *testing.T) string {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

func testDescriptor(t *testing.T, id string, baseFee model.Amount, ppm int64, maxCap model.Amount) model.ProviderDescriptor {
	t.Helper()
	return model.ProviderDescriptor{
		ID:          id,
		Name:        id,
		Endpoint:    "https://" + id + ".example",
		Pubkey:      testPubkey(t),
		BaseFee:     baseFee,
		FeeRatePPM:  ppm,
		MaxCapacity: maxCap,
	}
}

func newTestRegistry(t *testing.T) (*Registry, *node.Sim, *memory.HealthStore) {
	t.Helper()
	sim := node.NewSim(0)
	health := memory.NewHealthStore()
	reg := NewRegistry(sim, health, zap.NewNop())
	return reg, sim, health
}

func TestRegistry_Register(t *testing.T) {
	ctx := context.Background()
	reg, sim, health := newTestRegistry(t)

	p := testDescriptor(t, "lsp-a", 1000, 2000, 1_000_000)
	sim.AddProvider(p, 10*time.Millisecond)
	require.NoError(t, reg.Register(ctx, p))

	rec, err := health.Get(ctx, "lsp-a")
	require.NoError(t, err)
	assert.True(t, rec.IsHealthy)
	assert.Equal(t, 1.0, rec.SuccessRate)

	// Bad pubkey is refused.
	bad := p
	bad.ID = "lsp-bad"
	bad.Pubkey = "deadbeef"
	require.Error(t, reg.Register(ctx, bad))
}

func TestRegistry_SelectBest(t *testing.T) {
	ctx := context.Background()
	reg, sim, health := newTestRegistry(t)

	cheap := testDescriptor(t, "cheap", 100, 100, 1000)
	big := testDescriptor(t, "big", 5000, 5000, 1_000_000)
	fast := testDescriptor(t, "fast", 2000, 2000, 10_000)
	for _, p := range []model.ProviderDescriptor{cheap, big, fast} {
		sim.AddProvider(p, time.Millisecond)
		require.NoError(t, reg.Register(ctx, p))
	}
	// Seed latencies.
	for id, ms := range map[string]int64{"cheap": 50, "big": 40, "fast": 5} {
		rec, err := health.Get(ctx, id)
		require.NoError(t, err)
		rec.LatencyMs = ms
		require.NoError(t, health.Upsert(ctx, *rec))
	}

	best, err := reg.SelectBest(ctx, ByFee, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "cheap", best.ID)

	best, err = reg.SelectBest(ctx, ByCapacity, 0)
	require.NoError(t, err)
	assert.Equal(t, "big", best.ID)

	best, err = reg.SelectBest(ctx, ByLatency, 0)
	require.NoError(t, err)
	assert.Equal(t, "fast", best.ID)

	// Excluded ids never win.
	best, err = reg.SelectBest(ctx, ByLatency, 0, "fast")
	require.NoError(t, err)
	assert.Equal(t, "big", best.ID)

	// Unhealthy providers never win.
	rec, err := health.Get(ctx, "cheap")
	require.NoError(t, err)
	rec.IsHealthy = false
	require.NoError(t, health.Upsert(ctx, *rec))
	best, err = reg.SelectBest(ctx, ByFee, 1_000_000)
	require.NoError(t, err)
	assert.NotEqual(t, "cheap", best.ID)

	// All unhealthy or excluded: none.
	_, err = reg.SelectBest(ctx, ByFee, 0, "big", "fast")
	assert.ErrorIs(t, err, errs.ErrProviderUnavailable)
}

func TestRegistry_ConnectFailureDegrades(t *testing.T) {
	ctx := context.Background()
	reg, sim, health := newTestRegistry(t)

	p := testDescriptor(t, "lsp-a", 0, 0, 0)
	sim.AddProvider(p, time.Millisecond)
	require.NoError(t, reg.Register(ctx, p))
	sim.SetFailing("lsp-a", true)

	// Four consecutive failures from 1.0: rate 0.6, still healthy.
	for i := 0; i < 4; i++ {
		require.Error(t, reg.Connect(ctx, "lsp-a"))
	}
	rec, err := health.Get(ctx, "lsp-a")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, rec.SuccessRate, 1e-9)
	assert.True(t, rec.IsHealthy)
	assert.Equal(t, int64(4), rec.FailCount)

	// Fifth failure: rate exactly 0.5, unhealthy. Each step is snapped
	// onto the grid, so no float drift can keep the rate above the
	// threshold.
	require.Error(t, reg.Connect(ctx, "lsp-a"))
	rec, err = health.Get(ctx, "lsp-a")
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.SuccessRate)
	assert.False(t, rec.IsHealthy)

	// The degraded provider is no longer selectable.
	_, err = reg.SelectBest(ctx, ByFee, 0)
	assert.ErrorIs(t, err, errs.ErrProviderUnavailable)

	// Active never switched.
	assert.Empty(t, reg.Active())
}

func TestRegistry_SuccessRateStaysOnStepGrid(t *testing.T) {
	ctx := context.Background()
	reg, sim, health := newTestRegistry(t)

	p := testDescriptor(t, "lsp-a", 0, 0, 0)
	sim.AddProvider(p, time.Millisecond)
	require.NoError(t, reg.Register(ctx, p))

	// Alternate failed connects and successful probes; every observed
	// rate must sit exactly on a multiple of the recovery step.
	sim.SetFailing("lsp-a", true)
	for i := 0; i < 7; i++ {
		require.Error(t, reg.Connect(ctx, "lsp-a"))
	}
	sim.SetFailing("lsp-a", false)
	for i := 0; i < 3; i++ {
		reg.CheckHealth(ctx)
	}

	rec, err := health.Get(ctx, "lsp-a")
	require.NoError(t, err)
	assert.Equal(t, 0.45, rec.SuccessRate)
	assert.False(t, rec.IsHealthy)

	reg.CheckHealth(ctx)
	reg.CheckHealth(ctx)
	rec, err = health.Get(ctx, "lsp-a")
	require.NoError(t, err)
	assert.Equal(t, 0.55, rec.SuccessRate)
	assert.True(t, rec.IsHealthy)
}

func TestRegistry_Failover(t *testing.T) {
	ctx := context.Background()
	reg, sim, health := newTestRegistry(t)

	a := testDescriptor(t, "lsp-a", 0, 0, 0)
	a.IsDefault = true
	b := testDescriptor(t, "lsp-b", 0, 0, 0)
	sim.AddProvider(a, time.Millisecond)
	sim.AddProvider(b, time.Millisecond)
	require.NoError(t, reg.Register(ctx, a))
	require.NoError(t, reg.Register(ctx, b))
	require.NoError(t, reg.Connect(ctx, "lsp-a"))

	next, err := reg.Failover(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lsp-b", next.ID)
	assert.Equal(t, "lsp-b", reg.Active())

	// No healthy alternative left: failover reports failure.
	rec, err := health.Get(ctx, "lsp-a")
	require.NoError(t, err)
	rec.IsHealthy = false
	require.NoError(t, health.Upsert(ctx, *rec))
	_, err = reg.Failover(ctx)
	assert.ErrorIs(t, err, errs.ErrProviderUnavailable)
}

func TestRegistry_CheckHealth(t *testing.T) {
	ctx := context.Background()
	reg, sim, health := newTestRegistry(t)

	ok := testDescriptor(t, "ok", 0, 0, 0)
	down := testDescriptor(t, "down", 0, 0, 0)
	sim.AddProvider(ok, 25*time.Millisecond)
	sim.AddProvider(down, time.Millisecond)
	require.NoError(t, reg.Register(ctx, ok))
	require.NoError(t, reg.Register(ctx, down))
	sim.SetFailing("down", true)

	before, err := health.Get(ctx, "ok")
	require.NoError(t, err)

	reg.CheckHealth(ctx)

	rec, err := health.Get(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, int64(25), rec.LatencyMs)
	assert.True(t, rec.LastCheckedAt.After(before.LastCheckedAt) || rec.LastCheckedAt.Equal(before.LastCheckedAt))
	// Success does not inflate a full success rate.
	assert.Equal(t, 1.0, rec.SuccessRate)

	rec, err = health.Get(ctx, "down")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, rec.SuccessRate, 1e-9)
	assert.Equal(t, int64(1), rec.FailCount)
}

func TestRegistry_GradualRecovery(t *testing.T) {
	ctx := context.Background()
	reg, sim, health := newTestRegistry(t)

	p := testDescriptor(t, "flaky", 0, 0, 0)
	sim.AddProvider(p, time.Millisecond)
	require.NoError(t, reg.Register(ctx, p))

	// Degrade to 0.4 (unhealthy).
	sim.SetFailing("flaky", true)
	for i := 0; i < 6; i++ {
		_ = reg.Connect(ctx, "flaky")
	}
	rec, err := health.Get(ctx, "flaky")
	require.NoError(t, err)
	require.False(t, rec.IsHealthy)

	// One clean probe recovers half a failure step, not full health.
	sim.SetFailing("flaky", false)
	reg.CheckHealth(ctx)
	rec, err = health.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.InDelta(t, 0.45, rec.SuccessRate, 1e-9)
	assert.False(t, rec.IsHealthy)

	// Two more probes cross the threshold.
	reg.CheckHealth(ctx)
	reg.CheckHealth(ctx)
	rec, err = health.Get(ctx, "flaky")
	require.NoError(t, err)
	assert.InDelta(t, 0.55, rec.SuccessRate, 1e-9)
	assert.True(t, rec.IsHealthy)
}

func TestRegistry_EstimateFees(t *testing.T) {
	ctx := context.Background()
	reg, sim, health := newTestRegistry(t)

	cheap := testDescriptor(t, "cheap", 100, 100, 0)
	mid := testDescriptor(t, "mid", 1000, 1000, 0)
	down := testDescriptor(t, "down", 1, 1, 0)
	for _, p := range []model.ProviderDescriptor{cheap, mid, down} {
		sim.AddProvider(p, time.Millisecond)
		require.NoError(t, reg.Register(ctx, p))
	}
	rec, err := health.Get(ctx, "down")
	require.NoError(t, err)
	rec.IsHealthy = false
	require.NoError(t, health.Upsert(ctx, *rec))

	quotes, err := reg.EstimateFees(ctx, 1_000_000)
	require.NoError(t, err)
	require.Len(t, quotes, 2, "unhealthy providers excluded")
	assert.Equal(t, "cheap", quotes[0].ProviderID)
	// base 100 + 1_000_000*100/1_000_000 = 200
	assert.Equal(t, model.Amount(200), quotes[0].Fee)
	assert.Equal(t, "mid", quotes[1].ProviderID)
	assert.LessOrEqual(t, quotes[0].Fee, quotes[1].Fee)
}

func TestMonitor_StartStop(t *testing.T) {
	reg, sim, health := newTestRegistry(t)
	p := testDescriptor(t, "lsp-a", 0, 0, 0)
	sim.AddProvider(p, 7*time.Millisecond)
	require.NoError(t, reg.Register(context.Background(), p))

	m := NewMonitor(reg, time.Hour, zap.NewNop())
	require.NoError(t, m.Start())
	require.NoError(t, m.Start(), "double start is a no-op")

	// The immediate probe round runs asynchronously.
	require.Eventually(t, func() bool {
		rec, err := health.Get(context.Background(), "lsp-a")
		return err == nil && rec.LatencyMs == 7
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop()
}

func TestRegistry_SyncFromNode(t *testing.T) {
	ctx := context.Background()
	reg, sim, _ := newTestRegistry(t)

	sim.AddProvider(testDescriptor(t, "lsp-a", 0, 0, 0), time.Millisecond)
	sim.AddProvider(testDescriptor(t, "lsp-b", 0, 0, 0), time.Millisecond)
	require.NoError(t, reg.Sync(ctx))

	quotes, err := reg.EstimateFees(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
}

func TestRegistry_ConnectUnknownStillReturnsError(t *testing.T) {
	reg, _, health := newTestRegistry(t)
	err := reg.Connect(context.Background(), "ghost")
	require.Error(t, err)
	assert.False(t, errors.Is(err, errs.ErrProviderUnavailable))

	// Even unknown ids get a degraded record rather than a crash.
	rec, gerr := health.Get(context.Background(), "ghost")
	require.NoError(t, gerr)
	assert.InDelta(t, 0.9, rec.SuccessRate, 1e-9)
}
