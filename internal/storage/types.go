package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("audit storage disabled")

// Config configures audit storage.
//
// Driver values:
//   - "file": dependency-free append-only JSON Lines
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// If Driver is empty or "none", auditing is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry records one moderator action.
// Keep it compact and schema-stable.
type Entry struct {
	At      time.Time
	ActorID int64
	Action  string
	PostID  int64
	Channel string
	Detail  string
	Error   string
}
