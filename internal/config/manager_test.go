package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  moderator_id: 99
  poll_timeout: "10s"
logging:
  level: "debug"
  console: true
  file:
    enabled: false
    path: ""
  moderator:
    enabled: true
    min_level: "warn"
store:
  posts_path: "./data/posts.json"
  backup_retention: "72h"
scheduler:
  daily_hour: 7
  retention_days: 14
  timezone: "UTC"
session:
  idle_timeout: "1h"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.ModeratorID != 99 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Scheduler.DailyHour != 7 || cfg.Scheduler.Timezone != "UTC" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if !cfg.Logging.Moderator.Enabled || cfg.Logging.Moderator.MinLevel != "warn" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	doc := `{"telegram":{"token":"t","moderator_id":1},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""},"moderator":{"enabled":false}},"store":{},"scheduler":{},"session":{}}`
	m := NewManager(writeConfig(t, "config.json", doc))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "t" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	bad := strings.Replace(sampleYAML, "daily_hour: 7", "daily_hour: 7\n  surprise: 1", 1)
	m := NewManager(writeConfig(t, "config.yaml", bad))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseAcceptsAuditSection(t *testing.T) {
	withAudit := sampleYAML + `
audit:
  driver: "file"
  path: "./data/audit.jsonl"
`
	m := NewManager(writeConfig(t, "config.yaml", withAudit))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load with audit: %v", err)
	}
	if cfg.Audit == nil || cfg.Audit.Driver != "file" {
		t.Fatalf("audit = %+v", cfg.Audit)
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", sampleYAML))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	cfg := m.Get()
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config published")
		}
	default:
		t.Fatal("nothing published")
	}

	// A slow subscriber keeps the newest config, not the oldest.
	m.publish(cfg)
	next := &Config{}
	m.publish(next)
	if got := <-ch; got != next {
		t.Fatal("stale config survived a full buffer")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel open after Unsubscribe")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("garbage accepted")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2m", time.Minute); err != nil || d != 2*time.Minute {
		t.Fatalf("override = %v, %v", d, err)
	}
}
