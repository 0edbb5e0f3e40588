package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Session   SessionConfig   `json:"session"`
	Audit     *AuditConfig    `json:"audit,omitempty"`
	Pprof     *PprofConfig    `json:"pprof,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ModeratorID is the single privileged identity. All moderation,
	// channel management, and cleanup operations are gated on it.
	ModeratorID int64 `json:"moderator_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level     string           `json:"level"`
	Console   bool             `json:"console"`
	File      LoggingFile      `json:"file"`
	Moderator LoggingModerator `json:"moderator"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingModerator forwards warn+ log lines to the moderator chat.
type LoggingModerator struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StoreConfig controls on-disk persistence of posts and channels.
//
// All durations are Go duration strings (e.g. "30s", "1h").
// Defaults (when fields are omitted/zero):
//   - posts_path: "./data/posts.json"
//   - channels_path: "./data/channels.json"
//   - backup_dir: "./data/backups"
//   - backup_retention: "168h" (7 days)
//   - flush_interval: "30s"
type StoreConfig struct {
	PostsPath       string `json:"posts_path,omitempty"`
	ChannelsPath    string `json:"channels_path,omitempty"`
	BackupDir       string `json:"backup_dir,omitempty"`
	BackupRetention string `json:"backup_retention,omitempty"`
	FlushInterval   string `json:"flush_interval,omitempty"`
}

// SchedulerConfig controls the publish loop and daily housekeeping.
type SchedulerConfig struct {
	// TickInterval between scans for due approved posts. Default "60s".
	TickInterval string `json:"tick_interval,omitempty"`
	// DailyHour is the local hour for the "next day" publish slot and
	// the daily housekeeping jobs. Default 6.
	DailyHour int `json:"daily_hour,omitempty"`
	// RetentionDays for the daily purge. 0 disables the purge job.
	// Default 30.
	RetentionDays int    `json:"retention_days,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	// RatePerSec caps outgoing channel sends. Default 3.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type SessionConfig struct {
	// IdleTimeout after which an inactive submission session is
	// discarded. Default "2h".
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// AuditConfig controls the optional moderator action audit log.
//
// Driver values:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// If the section is omitted or driver is empty/"none", auditing is off.
type AuditConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// PprofConfig controls the optional profiling HTTP server. Binding to
// a non-loopback addr requires token or allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
