package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Monitor drives periodic health probing. It owns its schedule and is
// independently stoppable; probing never blocks the payment path.
type Monitor struct {
	reg      *Registry
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewMonitor constructs a stopped monitor probing at the given interval.
func NewMonitor(reg *Registry, interval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{reg: reg, interval: interval, logger: logger}
}

// Start runs one immediate probe round and then probes on the
// interval. Starting a running monitor is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", m.interval), func() {
		m.reg.CheckHealth(ctx)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule health probe: %w", err)
	}
	m.cron = c
	c.Start()

	go m.reg.CheckHealth(ctx)
	m.logger.Info("health monitor started", zap.Duration("interval", m.interval))
	return nil
}

// Stop cancels in-flight probes and halts the schedule.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cron == nil {
		return
	}
	m.cancel()
	<-m.cron.Stop().Done()
	m.cron = nil
	m.logger.Info("health monitor stopped")
}
