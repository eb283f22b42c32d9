package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"fleetguard/warden/pkg/execution"
	"fleetguard/warden/pkg/execution/export"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// Days is how long terminal records are kept after completion.
	// 0 keeps records forever.
	Days int

	// Schedule is a cron expression, e.g. "0 3 * * *" (daily at 3 AM).
	Schedule string

	// BatchSize caps how many records are read and deleted per round trip.
	BatchSize int

	// ArchivePath is a directory for JSON lines archives. Empty disables
	// archiving.
	ArchivePath string
}

// DefaultConfig returns the default retention configuration, which keeps
// records forever.
func DefaultConfig() *Config {
	return &Config{
		Days:      0,
		Schedule:  "0 3 * * *",
		BatchSize: 500,
	}
}

// Pruner deletes terminal execution records older than the retention window.
type Pruner struct {
	storage   execution.Storage
	config    *Config
	logger    *slog.Logger
	scheduler *Scheduler
	now       func() time.Time
}

// NewPruner creates a new retention pruner.
func NewPruner(storage execution.Storage, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}

	p := &Pruner{
		storage: storage,
		config:  config,
		logger:  slog.Default().With("component", "execution.retention"),
		now:     time.Now,
	}
	p.scheduler = NewScheduler(p)
	return p
}

// SetClock replaces the time source used to compute the cutoff.
func (p *Pruner) SetClock(now func() time.Time) {
	p.now = now
}

// Enabled reports whether a retention window is configured.
func (p *Pruner) Enabled() bool {
	return p.config.Days > 0
}

// Cutoff returns the completion time before which records are pruned.
func (p *Pruner) Cutoff() time.Time {
	return p.now().AddDate(0, 0, -p.config.Days)
}

// Prune deletes every terminal record completed before the cutoff and
// returns how many were removed. Records deleted before an error are not
// restored; the count reflects them.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if !p.Enabled() {
		return 0, nil
	}

	cutoff := p.Cutoff()
	query := &execution.Query{
		Statuses:        execution.TerminalStatuses(),
		CompletedBefore: &cutoff,
		Limit:           p.config.BatchSize,
		SortOrder:       "asc",
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := p.storage.Query(ctx, query)
		if err != nil {
			return total, fmt.Errorf("failed to query expired executions: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		if p.config.ArchivePath != "" {
			if err := p.archive(ctx, batch); err != nil {
				return total, fmt.Errorf("failed to archive executions: %w", err)
			}
		}

		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		deleted, err := p.storage.Delete(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("failed to delete executions: %w", err)
		}
		total += deleted

		p.logger.Debug("pruned execution batch", "batch", len(batch), "deleted", deleted)

		if len(batch) < p.config.BatchSize || deleted == 0 {
			break
		}
	}

	if total > 0 {
		p.logger.Info("execution pruning completed",
			"deleted_count", total,
			"retention_days", p.config.Days,
			"cutoff", cutoff,
		)
	} else {
		p.logger.Debug("no executions pruned", "retention_days", p.config.Days)
	}
	return total, nil
}

// ArchiveFile is the archive file records pruned at t are appended to.
func (p *Pruner) ArchiveFile(t time.Time) string {
	return filepath.Join(p.config.ArchivePath, fmt.Sprintf("executions-%s.jsonl", t.UTC().Format("2006-01-02")))
}

func (p *Pruner) archive(ctx context.Context, records []*execution.Execution) error {
	if err := os.MkdirAll(p.config.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	path := p.ArchiveFile(p.now())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}

	if err := export.NewJSONLExporter().Export(ctx, records, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}

	p.logger.Debug("executions archived", "archive_file", path, "record_count", len(records))
	return nil
}

// Start starts the automatic pruning scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the automatic pruning scheduler.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled pruning.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
