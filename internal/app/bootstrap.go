package app

import (
	"fmt"
	"strings"
	"time"

	"postbot/internal/config"
	"postbot/internal/observability/pprof"
	"postbot/internal/post"
	"postbot/internal/publish"
	"postbot/internal/storage"
	logx "postbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Moderator: logx.ModeratorConfig{
			Enabled:    cfg.Logging.Moderator.Enabled,
			MinLevel:   cfg.Logging.Moderator.MinLevel,
			RatePerSec: cfg.Logging.Moderator.RatePerSec,
		},
	}
}

func mapStoreOptions(cfg *config.Config) (post.Options, error) {
	path := cfg.Store.PostsPath
	if strings.TrimSpace(path) == "" {
		path = "./data/posts.json"
	}
	backupDir := cfg.Store.BackupDir
	if strings.TrimSpace(backupDir) == "" {
		backupDir = "./data/backups"
	}
	retention, err := config.ParseDurationOrDefault("store.backup_retention", cfg.Store.BackupRetention, 168*time.Hour)
	if err != nil {
		return post.Options{}, err
	}
	return post.Options{
		Path:            path,
		BackupDir:       backupDir,
		BackupRetention: retention,
	}, nil
}

func mapPublisherConfig(cfg *config.Config) (publish.Config, error) {
	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval, 60*time.Second)
	if err != nil {
		return publish.Config{}, err
	}
	return publish.Config{
		TickInterval:  tick,
		DailyHour:     cfg.Scheduler.DailyHour,
		RetentionDays: cfg.Scheduler.RetentionDays,
		Timezone:      cfg.Scheduler.Timezone,
		RatePerSec:    cfg.Scheduler.RatePerSec,
	}, nil
}

// mapAuditConfig returns the storage config and whether auditing is
// enabled at all.
func mapAuditConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Audit == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Audit.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("audit.busy_timeout", cfg.Audit.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        cfg.Audit.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	if cfg.Pprof == nil {
		return pprof.Config{}, nil
	}
	read, err := config.ParseDurationOrDefault("pprof.read_timeout", cfg.Pprof.ReadTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("pprof.write_timeout", cfg.Pprof.WriteTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("pprof.idle_timeout", cfg.Pprof.IdleTimeout, 0)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// validateConfig rejects a config before it is committed or hot
// reloaded.
func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if cfg.Telegram.ModeratorID == 0 {
		return fmt.Errorf("telegram.moderator_id is required")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("store.flush_interval", cfg.Store.FlushInterval); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("store.backup_retention", cfg.Store.BackupRetention); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("scheduler.tick_interval", cfg.Scheduler.TickInterval); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("session.idle_timeout", cfg.Session.IdleTimeout); err != nil {
		return err
	}
	if cfg.Scheduler.DailyHour < 0 || cfg.Scheduler.DailyHour > 23 {
		return fmt.Errorf("scheduler.daily_hour must be 0-23")
	}
	if cfg.Scheduler.RetentionDays < 0 {
		return fmt.Errorf("scheduler.retention_days must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, _, err := mapAuditConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	return nil
}
