// Package channel tracks publish destinations the moderator curates.
// Exactly one channel may be "current" at a time; it is the default
// destination captured by new submissions.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "postbot/pkg/logx"
)

type Channel struct {
	// ID is the destination identifier, opaque to everything but the
	// messaging endpoint ("@name" or a numeric chat id).
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	AddedAt time.Time `json:"added_at"`
}

// DisplayTitle falls back to the id when no title is known.
func (c Channel) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

// Registry is the durable channel list plus the singleton "current"
// pointer. The whole document is rewritten atomically on every change.
type Registry struct {
	log logx.Logger

	mu       sync.Mutex
	channels []Channel
	current  string
	path     string
	now      func() time.Time
}

type document struct {
	Channels []Channel `json:"channels"`
	Current  string    `json:"current"`
}

type Options struct {
	Path string
	Now  func() time.Time
}

func Open(opts Options, log logx.Logger) (*Registry, error) {
	if opts.Path == "" {
		return nil, errors.New("channel registry path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	r := &Registry{log: log, path: opts.Path, now: now}

	b, err := os.ReadFile(opts.Path)
	switch {
	case err == nil:
		var doc document
		if derr := json.Unmarshal(b, &doc); derr != nil {
			log.Error("channel registry corrupt; starting empty",
				logx.String("path", opts.Path), logx.Err(derr))
		} else {
			r.channels = doc.Channels
			r.current = doc.Current
			r.normalizeLocked()
		}
	case os.IsNotExist(err):
		// first run
	default:
		return nil, fmt.Errorf("read channel registry: %w", err)
	}
	return r, nil
}

// normalizeLocked repairs a current pointer that no longer matches a
// listed channel (e.g. hand-edited file).
func (r *Registry) normalizeLocked() {
	if r.current == "" {
		return
	}
	for _, c := range r.channels {
		if c.ID == r.current {
			return
		}
	}
	if len(r.channels) > 0 {
		r.current = r.channels[0].ID
	} else {
		r.current = ""
	}
}

// Add inserts a channel. Returns false if the id is already present
// (idempotent no-op). The first channel added becomes current.
func (r *Registry) Add(id, title string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if c.ID == id {
			return false
		}
	}
	r.channels = append(r.channels, Channel{ID: id, Title: title, AddedAt: r.now()})
	if len(r.channels) == 1 {
		r.current = id
	}
	r.saveLocked()
	return true
}

// Remove deletes a channel. If it was current, current moves to an
// arbitrary remaining channel, or to none.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.channels {
		if c.ID == id {
			r.channels = append(r.channels[:i], r.channels[i+1:]...)
			break
		}
	}
	if r.current == id {
		if len(r.channels) > 0 {
			r.current = r.channels[0].ID
		} else {
			r.current = ""
		}
	}
	r.saveLocked()
}

// SetCurrent returns false when the id is unknown.
func (r *Registry) SetCurrent(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if c.ID == id {
			r.current = id
			r.saveLocked()
			return true
		}
	}
	return false
}

// Current returns the current channel, if one is set.
func (r *Registry) Current() (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if c.ID == r.current {
			return c, true
		}
	}
	return Channel{}, false
}

// Get looks a channel up by id.
func (r *Registry) Get(id string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if c.ID == id {
			return c, true
		}
	}
	return Channel{}, false
}

// List returns channels in insertion order.
func (r *Registry) List() []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Channel(nil), r.channels...)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func (r *Registry) saveLocked() {
	doc := document{Channels: r.channels, Current: r.current}
	b, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		r.log.Error("channel registry encode failed", logx.Err(err))
		return
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		r.log.Error("channel registry write failed", logx.Err(err))
		return
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		r.log.Error("channel registry rename failed", logx.Err(err))
	}
}
