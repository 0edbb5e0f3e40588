package post

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	logx "postbot/pkg/logx"
)

var (
	ErrNotFound    = errors.New("post not found")
	ErrNotPending  = errors.New("post is not pending")
	ErrNotApproved = errors.New("post is not approved")
)

// Options configures the durable post store.
type Options struct {
	// Path of the primary snapshot file.
	Path string
	// BackupDir receives timestamped snapshot copies; empty disables backups.
	BackupDir string
	// BackupRetention prunes backups older than this. 0 means 7 days.
	BackupRetention time.Duration
	// Now is an injectable clock for tests. Defaults to time.Now.
	Now func() time.Time
}

// Store is the durable, append-mostly record of submitted content.
//
// The full record set is the unit of persistence: every successful
// mutation rewrites the whole snapshot atomically (temp + rename). The
// in-memory state stays authoritative when a write fails; the dirty flag
// makes the periodic flush retry it.
type Store struct {
	log logx.Logger

	mu        sync.Mutex
	posts     []*Post
	nextID    int64
	dirty     bool
	path      string
	backupDir string
	retention time.Duration
	now       func() time.Time
}

// snapshot is the on-disk format. NextID travels with the record set so
// ids stay monotonic across restarts and deletions.
type snapshot struct {
	NextID int64   `json:"next_id"`
	Posts  []*Post `json:"posts"`
}

// Open loads the store from disk. A missing file starts empty; a corrupt
// file triggers restoration from the most recent readable backup.
func Open(opts Options, log logx.Logger) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("post store path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	retention := opts.BackupRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{
		log:       log,
		nextID:    1,
		path:      opts.Path,
		backupDir: opts.BackupDir,
		retention: retention,
		now:       now,
	}

	snap, err := readSnapshot(opts.Path)
	switch {
	case err == nil:
		s.adopt(snap)
	case os.IsNotExist(err):
		log.Info("post store file absent; starting empty", logx.String("path", opts.Path))
	default:
		log.Error("post store load failed; attempting backup restore",
			logx.String("path", opts.Path), logx.Err(err))
		restored, rerr := s.restoreLatestBackup()
		if rerr != nil {
			log.Error("backup restore failed; starting empty", logx.Err(rerr))
		} else {
			s.adopt(restored)
			log.Warn("post store restored from backup",
				logx.Int("posts", len(s.posts)), logx.Int64("next_id", s.nextID))
		}
	}
	return s, nil
}

func (s *Store) adopt(snap *snapshot) {
	s.posts = snap.Posts
	s.nextID = snap.NextID
	// Tolerate snapshots written before next_id existed.
	for _, p := range s.posts {
		if p.ID >= s.nextID {
			s.nextID = p.ID + 1
		}
	}
	if s.nextID < 1 {
		s.nextID = 1
	}
}

func readSnapshot(path string) (*snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for _, p := range snap.Posts {
		if p == nil {
			return nil, errors.New("decode snapshot: null post record")
		}
		if err := p.Content.Validate(); err != nil {
			return nil, fmt.Errorf("post #%d: %w", p.ID, err)
		}
	}
	return &snap, nil
}

// Add stores a new pending post. Persistence is best-effort, like
// every other mutation: memory stays authoritative and a failed
// snapshot write is retried by the periodic flush.
func (s *Store) Add(contributorID int64, contributorName string, content Content, destination string) (int64, error) {
	if err := content.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := &Post{
		ID:              s.nextID,
		ContributorID:   contributorID,
		ContributorName: contributorName,
		Content:         content,
		Status:          StatusPending,
		CreatedAt:       s.now(),
		Destination:     destination,
	}
	s.nextID++
	s.posts = append(s.posts, p)
	s.flushAfterMutationLocked("add", p.ID)
	return p.ID, nil
}

func (s *Store) findLocked(id int64) *Post {
	for _, p := range s.posts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// Get returns a copy of the post, if present.
func (s *Store) Get(id int64) (Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findLocked(id)
	if p == nil {
		return Post{}, false
	}
	return p.clone(), true
}

// ListPending returns copies of all pending posts. Order is storage
// order; callers sort for display.
func (s *Store) ListPending() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Post, 0, len(s.posts))
	for _, p := range s.posts {
		if p.Status == StatusPending {
			out = append(out, p.clone())
		}
	}
	return out
}

// HasUnresolvedFrom reports whether the contributor has a pending post.
// Contributors with one are blocked from starting a new submission.
func (s *Store) HasUnresolvedFrom(contributorID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.posts {
		if p.ContributorID == contributorID && p.Status == StatusPending {
			return true
		}
	}
	return false
}

// Approve transitions pending->approved. A zero when approves without an
// explicit schedule (daily-slot candidate); otherwise ScheduledAt is set
// and the scheduler must not publish before it.
func (s *Store) Approve(id int64, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findLocked(id)
	if p == nil {
		return ErrNotFound
	}
	if p.Status != StatusPending {
		return fmt.Errorf("%w: post #%d is %s", ErrNotPending, id, p.Status)
	}
	p.Status = StatusApproved
	if when.IsZero() {
		p.ScheduledAt = nil
	} else {
		t := when
		p.ScheduledAt = &t
	}
	s.flushAfterMutationLocked("approve", id)
	return nil
}

// MarkPublished transitions approved->published and stamps PublishedAt.
// ScheduledAt is cleared: it is only meaningful while approved.
func (s *Store) MarkPublished(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.findLocked(id)
	if p == nil {
		return ErrNotFound
	}
	if p.Status != StatusApproved {
		return fmt.Errorf("%w: post #%d is %s", ErrNotApproved, id, p.Status)
	}
	now := s.now()
	p.Status = StatusPublished
	p.PublishedAt = &now
	p.ScheduledAt = nil
	s.flushAfterMutationLocked("publish", id)
	return nil
}

// Delete removes the record unconditionally. Used for rejection and
// moderator cleanup; rejected posts are deleted, not archived.
func (s *Store) Delete(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.posts {
		if p.ID == id {
			s.posts = append(s.posts[:i], s.posts[i+1:]...)
			s.flushAfterMutationLocked("delete", id)
			return true
		}
	}
	return false
}

// PurgeOlderThan deletes posts created before now-age and returns the count.
func (s *Store) PurgeOlderThan(age time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-age)
	kept := s.posts[:0]
	removed := 0
	for _, p := range s.posts {
		if p.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.posts = kept
	if removed > 0 {
		s.flushAfterMutationLocked("purge_older_than", 0)
	}
	return removed
}

// PurgePublished deletes all published posts and returns the count.
// Calling it twice in a row removes nothing on the second call.
func (s *Store) PurgePublished() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.posts[:0]
	removed := 0
	for _, p := range s.posts {
		if p.Status == StatusPublished {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.posts = kept
	if removed > 0 {
		s.flushAfterMutationLocked("purge_published", 0)
	}
	return removed
}

// Due returns copies of approved posts whose schedule has come.
func (s *Store) Due(now time.Time) []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Post
	for _, p := range s.posts {
		if p.Status == StatusApproved && p.ScheduledAt != nil && !p.ScheduledAt.After(now) {
			out = append(out, p.clone())
		}
	}
	return out
}

// HasScheduled reports whether any approved post carries an explicit
// schedule (used to keep the daily slot from racing planned publishes).
func (s *Store) HasScheduled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.posts {
		if p.Status == StatusApproved && p.ScheduledAt != nil {
			return true
		}
	}
	return false
}

// DailySlotCandidate returns the oldest approved post without an explicit
// schedule for the given destination.
func (s *Store) DailySlotCandidate(destination string) (Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Post
	for _, p := range s.posts {
		if p.Status != StatusApproved || p.ScheduledAt != nil || p.Destination != destination {
			continue
		}
		if best == nil || p.CreatedAt.Before(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return Post{}, false
	}
	return best.clone(), true
}

type Stats struct {
	Total     int
	Pending   int
	Approved  int
	Published int
	Oldest    time.Time
	Newest    time.Time
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Total: len(s.posts)}
	for _, p := range s.posts {
		switch p.Status {
		case StatusPending:
			st.Pending++
		case StatusApproved:
			st.Approved++
		case StatusPublished:
			st.Published++
		}
		if st.Oldest.IsZero() || p.CreatedAt.Before(st.Oldest) {
			st.Oldest = p.CreatedAt
		}
		if p.CreatedAt.After(st.Newest) {
			st.Newest = p.CreatedAt
		}
	}
	return st
}

// flushAfterMutationLocked persists immediately after a moderator-visible
// mutation. Failures are logged, not fatal: memory stays authoritative
// and the periodic flush retries.
func (s *Store) flushAfterMutationLocked(op string, id int64) {
	if err := s.saveLocked(); err != nil {
		s.log.Error("post store flush failed", logx.String("op", op),
			logx.Int64("post_id", id), logx.Err(err))
	}
}

func (s *Store) saveLocked() error {
	snap := snapshot{NextID: s.nextID, Posts: s.posts}
	b, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		s.dirty = true
		return err
	}
	if err := writeFileAtomic(s.path, b); err != nil {
		s.dirty = true
		return err
	}
	s.dirty = false
	return nil
}

// Flush persists the snapshot if there are unsaved changes.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.saveLocked()
}

// writeFileAtomic writes via a temp file and rename so readers never
// observe a half-written snapshot.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// SortPendingNewestFirst orders posts for the moderation queue.
func SortPendingNewestFirst(posts []Post) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID > posts[j].ID
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}
