package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const backupInterval = 6 * time.Hour

// Backuper is the snapshot capability consumed by DBBackup.
type Backuper interface {
	Backup(ctx context.Context, dst string) error
}

// DBBackup periodically snapshots the phrase store into a backup
// directory, keeping the most recent copies.
type DBBackup struct {
	store    Backuper
	dir      string
	keep     int
	interval time.Duration
}

// NewDBBackup creates a backup worker writing snapshots to dir.
func NewDBBackup(store Backuper, dir string, keep int) *DBBackup {
	if keep <= 0 {
		keep = 3
	}
	return &DBBackup{
		store:    store,
		dir:      dir,
		keep:     keep,
		interval: backupInterval,
	}
}

// Name returns the worker identifier.
func (w *DBBackup) Name() string { return "db_backup" }

// Run snapshots the store on a periodic schedule.
func (w *DBBackup) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("backup dir: %w", err)
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.snapshot(ctx)
		}
	}
}

func (w *DBBackup) snapshot(ctx context.Context) {
	dst := filepath.Join(w.dir, fmt.Sprintf("bhasha-%s.db", time.Now().UTC().Format("20060102T150405")))
	if err := w.store.Backup(ctx, dst); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "backup failed",
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Info("backup written", "path", dst)
	w.prune()
}

// prune removes the oldest snapshots beyond the retention count. The
// timestamped names sort chronologically.
func (w *DBBackup) prune() {
	matches, err := filepath.Glob(filepath.Join(w.dir, "bhasha-*.db"))
	if err != nil || len(matches) <= w.keep {
		return
	}
	for _, old := range matches[:len(matches)-w.keep] {
		os.Remove(old)
	}
}
