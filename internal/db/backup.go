package db

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"clinicsched/internal/config"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Backup copies the sqlite file to a side directory on a cron schedule
// and prunes copies older than the retention window.
type Backup struct {
	dbPath string
	cfg    config.BackupConfig
	cron   *cron.Cron
	logger zerolog.Logger
}

func NewBackup(dbPath string, cfg config.BackupConfig, logger zerolog.Logger) *Backup {
	return &Backup{
		dbPath: dbPath,
		cfg:    cfg,
		cron: cron.New(
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger.With().Str("component", "backup").Logger(),
	}
}

func (b *Backup) Start() error {
	if !b.cfg.Enabled {
		b.logger.Info().Msg("backups disabled")
		return nil
	}
	_, err := b.cron.AddFunc(b.cfg.Schedule, func() {
		if err := b.Run(); err != nil {
			b.logger.Error().Err(err).Msg("backup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", b.cfg.Schedule, err)
	}
	b.cron.Start()
	b.logger.Info().Str("schedule", b.cfg.Schedule).Msg("backups scheduled")
	return nil
}

func (b *Backup) Stop() {
	<-b.cron.Stop().Done()
}

// Run takes one backup and prunes expired ones.
func (b *Backup) Run() error {
	if err := os.MkdirAll(b.cfg.StoragePath, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	name := fmt.Sprintf("clinicsched_%s.db", time.Now().Format("20060102_150405"))
	dest := filepath.Join(b.cfg.StoragePath, name)

	if err := copyFile(b.dbPath, dest); err != nil {
		return err
	}
	b.logger.Info().Str("path", dest).Msg("backup written")

	b.prune()
	return nil
}

func (b *Backup) prune() {
	if b.cfg.RetentionDays <= 0 {
		return
	}

	entries, err := os.ReadDir(b.cfg.StoragePath)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to list backups for pruning")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -b.cfg.RetentionDays)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			b.logger.Info().Str("file", entry.Name()).Msg("pruning expired backup")
			_ = os.Remove(filepath.Join(b.cfg.StoragePath, entry.Name()))
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
