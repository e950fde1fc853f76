package app

import (
	"context"
	"sync"
	"time"

	deviceCommands "github.com/pavelzhukov/raylink/internal/devices/application/commands"
	entitlementCommands "github.com/pavelzhukov/raylink/internal/entitlement/application/commands"
	notificationCommands "github.com/pavelzhukov/raylink/internal/notifications/application/commands"
	paymentCommands "github.com/pavelzhukov/raylink/internal/payments/application/commands"
	"github.com/pavelzhukov/raylink/pkg/observability"
)

// Device bindings are pure GC, no schedule pressure.
const evictInterval = time.Hour

// Jobs runs the periodic passes: expiration sweeps, the notification
// ladder, invoice polling, device GC, outbox retention, and backups.
// Every pass tolerates a concurrent run from another process, so serve
// and a dedicated worker may overlap without coordination.
type Jobs struct {
	c *Container
}

// NewJobs creates the periodic job runner for a container.
func NewJobs(c *Container) *Jobs {
	return &Jobs{c: c}
}

// Run starts all passes and blocks until ctx is cancelled.
func (j *Jobs) Run(ctx context.Context) {
	cfg := j.c.Config

	var wg sync.WaitGroup
	j.every(ctx, &wg, cfg.SweepInterval, j.sweepPass)
	j.every(ctx, &wg, evictInterval, j.evictPass)
	j.every(ctx, &wg, cfg.OutboxCleanupInterval, j.cleanupPass)
	if len(j.c.Gateways) > 0 {
		j.every(ctx, &wg, cfg.InvoicePollInterval, j.invoicePass)
	}
	if j.c.BackupService != nil {
		j.every(ctx, &wg, cfg.BackupInterval, j.backupPass)
	}

	j.c.Logger.Info("periodic jobs started",
		"sweep_interval", cfg.SweepInterval,
		"invoice_poll", cfg.InvoicePollInterval,
		"backups", j.c.BackupService != nil,
	)

	wg.Wait()
}

func (j *Jobs) every(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, pass func(context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// A pass that outlives its own interval is stuck, not slow.
				// The deadline frees the loop instead of piling ticks behind
				// a hung store call.
				passCtx, cancel := context.WithTimeout(ctx, interval)
				pass(passCtx)
				cancel()
			}
		}
	}()
}

// sweepPass closes lapsed windows, then advances the notification ladder
// on the same tick so notices follow closures without a second timer.
func (j *Jobs) sweepPass(ctx context.Context) {
	sweep, err := j.c.SweepExpirationsHandler.Handle(ctx, entitlementCommands.SweepExpirationsCommand{})
	if err != nil {
		j.c.Logger.Error("expiration sweep failed", "error", err)
	} else if sweep.Expired > 0 || sweep.Failed > 0 {
		j.c.Metrics.Counter(observability.MetricWindowsExpired, int64(sweep.Expired))
		j.c.Logger.Info("expiration sweep",
			"scanned", sweep.Scanned,
			"expired", sweep.Expired,
			"failed", sweep.Failed,
		)
	}

	notify, err := j.c.NotifyExpirationsHandler.Handle(ctx, notificationCommands.NotifyExpirationsCommand{})
	if err != nil {
		j.c.Logger.Error("notification scan failed", "error", err)
	} else if notify.ExpiringQueued > 0 || notify.ExpiredQueued > 0 || notify.Failed > 0 {
		j.c.Metrics.Counter(observability.MetricNoticesQueued, int64(notify.ExpiringQueued+notify.ExpiredQueued))
		j.c.Logger.Info("notification scan",
			"scanned", notify.Scanned,
			"expiring_queued", notify.ExpiringQueued,
			"expired_queued", notify.ExpiredQueued,
			"failed", notify.Failed,
		)
	}
}

func (j *Jobs) invoicePass(ctx context.Context) {
	result, err := j.c.WatchInvoicesHandler.Handle(ctx, paymentCommands.WatchInvoicesCommand{})
	if err != nil {
		j.c.Logger.Error("invoice poll failed", "error", err)
		return
	}
	if result.Settled > 0 || result.Expired > 0 || result.Failed > 0 {
		j.c.Metrics.Counter(observability.MetricInvoicesPaid, int64(result.Settled))
		j.c.Logger.Info("invoice poll",
			"scanned", result.Scanned,
			"settled", result.Settled,
			"expired", result.Expired,
			"failed", result.Failed,
		)
	}
}

func (j *Jobs) evictPass(ctx context.Context) {
	result, err := j.c.EvictStaleHandler.Handle(ctx, deviceCommands.EvictStaleCommand{})
	if err != nil {
		j.c.Logger.Error("device eviction failed", "error", err)
		return
	}
	if result.Removed > 0 {
		j.c.Metrics.Counter(observability.MetricDevicesEvicted, result.Removed)
		j.c.Logger.Info("stale devices evicted", "removed", result.Removed)
	}
}

func (j *Jobs) cleanupPass(ctx context.Context) {
	deleted, err := j.c.OutboxRepo.DeleteOld(ctx, j.c.Config.OutboxRetentionDays)
	if err != nil {
		j.c.Logger.Error("outbox cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		j.c.Logger.Info("outbox cleanup completed",
			"deleted", deleted,
			"retention_days", j.c.Config.OutboxRetentionDays,
		)
	}
}

func (j *Jobs) backupPass(ctx context.Context) {
	// The one pass slow enough to be worth timing: VACUUM plus an upload.
	start := time.Now()
	key, err := j.c.BackupService.Snapshot(ctx, start)
	if err != nil {
		j.c.Logger.Error("backup failed", "error", err)
		return
	}
	observability.LogDuration(j.c.Logger, "backup", start, "key", key)
}
