package post

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	logx "postbot/pkg/logx"
)

const backupTimeLayout = "20060102T150405"

// Backup writes a timestamped snapshot copy into the backup directory and
// prunes copies older than the retention window. Backups are what Open
// falls back to when the primary file is corrupt.
func (s *Store) Backup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backupDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	snap := snapshot{NextID: s.nextID, Posts: s.posts}
	b, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return err
	}

	name := "posts-" + s.now().UTC().Format(backupTimeLayout) + ".json"
	if err := writeFileAtomic(filepath.Join(s.backupDir, name), b); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	s.pruneBackupsLocked()
	return nil
}

func (s *Store) pruneBackupsLocked() {
	names, err := listBackups(s.backupDir)
	if err != nil {
		s.log.Warn("backup prune skipped", logx.Err(err))
		return
	}
	cutoff := s.now().UTC().Add(-s.retention).Format(backupTimeLayout)
	for _, name := range names {
		if stamp := backupStamp(name); stamp != "" && stamp < cutoff {
			if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil {
				s.log.Warn("backup prune failed", logx.String("name", name), logx.Err(err))
			}
		}
	}
}

// restoreLatestBackup returns the newest readable backup snapshot.
func (s *Store) restoreLatestBackup() (*snapshot, error) {
	if s.backupDir == "" {
		return nil, errors.New("no backup dir configured")
	}
	names, err := listBackups(s.backupDir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.New("no backups found")
	}

	// Newest first; skip unreadable/corrupt copies.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	var lastErr error
	for _, name := range names {
		snap, err := readSnapshot(filepath.Join(s.backupDir, name))
		if err != nil {
			s.log.Warn("backup unreadable; trying older one",
				logx.String("name", name), logx.Err(err))
			lastErr = err
			continue
		}
		return snap, nil
	}
	return nil, fmt.Errorf("all backups unreadable: %w", lastErr)
}

func listBackups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if backupStamp(e.Name()) != "" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// backupStamp extracts the timestamp part of "posts-<stamp>.json", or ""
// when the name doesn't match.
func backupStamp(name string) string {
	if !strings.HasPrefix(name, "posts-") || !strings.HasSuffix(name, ".json") {
		return ""
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "posts-"), ".json")
	if len(stamp) != len(backupTimeLayout) {
		return ""
	}
	return stamp
}
