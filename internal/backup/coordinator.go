package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/emberwallet/core/internal/errs"
	"github.com/emberwallet/core/internal/model"
	"github.com/emberwallet/core/internal/node"
	"github.com/emberwallet/core/internal/repository"
)

// keepNewest bounds the rotating snapshot set per store.
const keepNewest = 5

// AuditSink receives a notification for every completed backup.
type AuditSink interface {
	RecordAudit(ctx context.Context, event string)
}

// Result reports one completed backup. Payload is populated for manual
// exports only; stored kinds keep the bytes in their store.
type Result struct {
	Timestamp time.Time
	Hash      string
	Kind      model.BackupKind
	Payload   []byte
}

// Coordinator produces, verifies, and rotates integrity-checked
// snapshots of wallet-critical state. Backups serialize on one mutex;
// concurrent triggers queue rather than interleave rotation.
type Coordinator struct {
	node    node.Service
	records repository.BackupRepository
	local   Store
	cloud   Store // nil when no cloud target is configured
	audit   AuditSink
	logger  *zap.Logger
	now     func() time.Time

	mu sync.Mutex

	autoMu       sync.Mutex
	autoCron     *cron.Cron
	autoCancel   context.CancelFunc
	autoInterval time.Duration
}

func NewCoordinator(n node.Service, records repository.BackupRepository, local Store, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		node:         n,
		records:      records,
		local:        local,
		logger:       logger,
		now:          time.Now,
		autoInterval: 5 * time.Minute,
	}
}

// WithInterval overrides the automatic-backup interval.
func (c *Coordinator) WithInterval(d time.Duration) *Coordinator {
	c.autoInterval = d
	return c
}

// WithCloud attaches a cloud store. Without one, cloud backups fall
// back to the local store.
func (c *Coordinator) WithCloud(s Store) *Coordinator {
	c.cloud = s
	return c
}

// WithAudit attaches the audit sink notified after each backup.
func (c *Coordinator) WithAudit(a AuditSink) *Coordinator {
	c.audit = a
	return c
}

// PerformBackup assembles, seals, and persists one snapshot per kind.
// A failed backup is never recorded as successful; records and the
// summary update only after the payload is safely persisted.
func (c *Coordinator) PerformBackup(ctx context.Context, kind model.BackupKind) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	blob, err := c.node.ChannelState(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: channel state: %w", errs.ErrExecutionFailure, err)
	}

	ts := c.now()
	payload, err := seal(Payload{
		Version:   payloadVersion,
		CreatedAt: ts.UnixNano(),
		Channels:  blob,
	})
	if err != nil {
		return Result{}, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := Verify(data); err != nil {
		return Result{}, err
	}

	res := Result{Timestamp: ts, Hash: payload.Hash, Kind: kind}
	switch kind {
	case model.BackupManual:
		// Verified and handed back to the caller, never stored.
		res.Payload = data
	case model.BackupCloud:
		target := c.cloud
		if target == nil {
			c.logger.Warn("no cloud store configured, falling back to local")
			target = c.local
			res.Kind = model.BackupLocal
		}
		if err := c.persist(ctx, target, res.Kind, ts, data); err != nil {
			return Result{}, err
		}
	case model.BackupLocal:
		if err := c.persist(ctx, c.local, kind, ts, data); err != nil {
			return Result{}, err
		}
	default:
		return Result{}, fmt.Errorf("backup kind %q: %w", kind, errs.ErrInvalidState)
	}

	rec := model.BackupRecord{
		ID:          uuid.Must(uuid.NewV4()),
		Version:     payloadVersion,
		CreatedAt:   ts,
		PayloadHash: payload.Hash,
		Kind:        res.Kind,
	}
	if err := c.records.Append(ctx, rec); err != nil {
		return Result{}, fmt.Errorf("record backup: %w", err)
	}
	if err := c.records.SetSummary(ctx, model.BackupSummary{
		LastBackupAt: ts,
		Kind:         res.Kind,
		Hash:         payload.Hash,
	}); err != nil {
		return Result{}, fmt.Errorf("update backup summary: %w", err)
	}

	if c.audit != nil {
		c.audit.RecordAudit(ctx, fmt.Sprintf("backup %s %s", res.Kind, payload.Hash[:12]))
	}
	c.logger.Info("backup completed",
		zap.String("kind", string(res.Kind)),
		zap.String("hash", payload.Hash))
	return res, nil
}

// persist saves to the target store and rotates its snapshot set.
func (c *Coordinator) persist(ctx context.Context, target Store, kind model.BackupKind, ts time.Time, data []byte) error {
	if err := target.Save(ctx, objectName(ts), data); err != nil {
		return fmt.Errorf("persist %s backup: %w", kind, err)
	}
	if err := c.rotate(ctx, target); err != nil {
		// The snapshot itself is safe; rotation retries on the next run.
		c.logger.Warn("snapshot rotation failed", zap.Error(err))
	}
	return nil
}

// rotate deletes everything but the newest snapshots. Names embed
// timestamps, so lexical order is age order.
func (c *Coordinator) rotate(ctx context.Context, target Store) error {
	names, err := target.List(ctx)
	if err != nil {
		return err
	}
	if len(names) <= keepNewest {
		return nil
	}
	for _, name := range names[:len(names)-keepNewest] {
		if err := target.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Summary exposes the persisted last-backup state.
func (c *Coordinator) Summary(ctx context.Context) (*model.BackupSummary, error) {
	return c.records.Summary(ctx)
}

// History lists the newest backup records first.
func (c *Coordinator) History(ctx context.Context, limit int) ([]model.BackupRecord, error) {
	return c.records.List(ctx, limit)
}

// EnableAuto runs an immediate local backup and then repeats on the
// coordinator's interval until DisableAuto. Enabling twice is a no-op.
func (c *Coordinator) EnableAuto() error {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()
	if c.autoCron != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.autoCancel = cancel

	run := func() {
		if _, err := c.PerformBackup(ctx, model.BackupLocal); err != nil && ctx.Err() == nil {
			c.logger.Error("automatic backup failed", zap.Error(err))
		}
	}

	cr := cron.New()
	if _, err := cr.AddFunc(fmt.Sprintf("@every %s", c.autoInterval), run); err != nil {
		cancel()
		return fmt.Errorf("schedule automatic backup: %w", err)
	}
	c.autoCron = cr
	cr.Start()

	go run()
	c.logger.Info("automatic backup enabled", zap.Duration("interval", c.autoInterval))
	return nil
}

// DisableAuto cancels in-flight automatic work and halts the schedule.
func (c *Coordinator) DisableAuto() {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()
	if c.autoCron == nil {
		return
	}
	c.autoCancel()
	<-c.autoCron.Stop().Done()
	c.autoCron = nil
	c.logger.Info("automatic backup disabled")
}
