package post

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "postbot/pkg/logx"
)

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	cur := start
	now := func() time.Time { return cur }
	advance := func(d time.Duration) { cur = cur.Add(d) }
	return now, advance
}

func openTestStore(t *testing.T, dir string, now func() time.Time) *Store {
	t.Helper()
	s, err := Open(Options{
		Path:      filepath.Join(dir, "posts.json"),
		BackupDir: filepath.Join(dir, "backups"),
		Now:       now,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func regularContent(n int) Content {
	c := Content{Kind: ShapeRegular}
	for i := 0; i < n; i++ {
		c.Photos = append(c.Photos, "photo-file")
	}
	return c
}

func TestAddAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now, _ := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s := openTestStore(t, dir, now)
	id, err := s.Add(42, "alice", regularContent(2), "@chan")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != 1 {
		t.Fatalf("first id = %d, want 1", id)
	}

	// A fresh Open must see the same record.
	s2 := openTestStore(t, dir, now)
	p, ok := s2.Get(id)
	if !ok {
		t.Fatalf("post #%d missing after reopen", id)
	}
	if p.Status != StatusPending || p.ContributorID != 42 || p.Destination != "@chan" {
		t.Fatalf("unexpected record: %+v", p)
	}
	if p.Content.MediaCount() != 2 {
		t.Fatalf("media count = %d, want 2", p.Content.MediaCount())
	}
}

func TestAddSurvivesPersistFailure(t *testing.T) {
	dir := t.TempDir()
	now, _ := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s := openTestStore(t, dir, now)
	if _, err := s.Add(1, "a", regularContent(1), "@chan"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Make the snapshot rename fail by squatting a directory on its path.
	path := filepath.Join(dir, "posts.json")
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	id, err := s.Add(2, "b", regularContent(1), "@chan")
	if err != nil {
		t.Fatalf("Add with failing snapshot: %v", err)
	}
	if _, ok := s.Get(id); !ok {
		t.Fatalf("post #%d missing from memory after failed persist", id)
	}
	if got := len(s.ListPending()); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}

	// Once the path is writable again the dirty flag drives a full save.
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove dir: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	s2 := openTestStore(t, dir, now)
	if got := len(s2.ListPending()); got != 2 {
		t.Fatalf("pending after reopen = %d, want 2", got)
	}
}

func TestIDsMonotonicAcrossDeleteAndRestart(t *testing.T) {
	dir := t.TempDir()
	now, _ := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s := openTestStore(t, dir, now)
	id1, _ := s.Add(1, "a", regularContent(1), "@chan")
	id2, _ := s.Add(2, "b", regularContent(1), "@chan")
	if !s.Delete(id2) {
		t.Fatalf("Delete(%d) = false", id2)
	}

	s2 := openTestStore(t, dir, now)
	id3, err := s2.Add(3, "c", regularContent(1), "@chan")
	if err != nil {
		t.Fatalf("Add after reopen: %v", err)
	}
	if id3 <= id2 {
		t.Fatalf("id after delete+reopen = %d, want > %d (ids never reused)", id3, id2)
	}
	_ = id1
}

func TestApproveTransitions(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now, _ := testClock(base)

	s := openTestStore(t, dir, now)
	id, _ := s.Add(1, "a", regularContent(1), "@chan")

	when := base.Add(10 * time.Minute)
	if err := s.Approve(id, when); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	p, _ := s.Get(id)
	if p.Status != StatusApproved || p.ScheduledAt == nil || !p.ScheduledAt.Equal(when) {
		t.Fatalf("after approve: %+v", p)
	}

	// Approving twice is rejected.
	if err := s.Approve(id, when); err == nil {
		t.Fatal("second Approve succeeded, want error")
	}

	if err := s.MarkPublished(id); err != nil {
		t.Fatalf("MarkPublished: %v", err)
	}
	p, _ = s.Get(id)
	if p.Status != StatusPublished || p.PublishedAt == nil {
		t.Fatalf("after publish: %+v", p)
	}
	if p.ScheduledAt != nil {
		t.Fatal("ScheduledAt survived publication")
	}

	if err := s.MarkPublished(id); err == nil {
		t.Fatal("second MarkPublished succeeded, want error")
	}
	if err := s.Approve(9999, when); err != ErrNotFound {
		t.Fatalf("Approve(missing) = %v, want ErrNotFound", err)
	}
}

func TestApproveZeroTimeIsDailySlotCandidate(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now, advance := testClock(base)

	s := openTestStore(t, dir, now)
	id1, _ := s.Add(1, "a", regularContent(1), "@chan")
	advance(time.Minute)
	id2, _ := s.Add(2, "b", regularContent(1), "@chan")
	advance(time.Minute)
	id3, _ := s.Add(3, "c", regularContent(1), "@other")

	if err := s.Approve(id1, time.Time{}); err != nil {
		t.Fatalf("Approve zero: %v", err)
	}
	if err := s.Approve(id2, time.Time{}); err != nil {
		t.Fatalf("Approve zero: %v", err)
	}
	if err := s.Approve(id3, time.Time{}); err != nil {
		t.Fatalf("Approve zero: %v", err)
	}

	// Unscheduled approvals never show up as due.
	if due := s.Due(now().Add(24 * time.Hour)); len(due) != 0 {
		t.Fatalf("Due returned %d unscheduled posts", len(due))
	}
	if s.HasScheduled() {
		t.Fatal("HasScheduled = true with only unscheduled approvals")
	}

	// The oldest unscheduled post for the destination wins the slot.
	cand, ok := s.DailySlotCandidate("@chan")
	if !ok || cand.ID != id1 {
		t.Fatalf("DailySlotCandidate = (%v, %v), want post #%d", cand.ID, ok, id1)
	}
	if _, ok := s.DailySlotCandidate("@nowhere"); ok {
		t.Fatal("candidate for unknown destination")
	}
}

func TestDueRespectsSchedule(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now, _ := testClock(base)

	s := openTestStore(t, dir, now)
	id, _ := s.Add(1, "a", regularContent(1), "@chan")
	when := base.Add(time.Hour)
	if err := s.Approve(id, when); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	if due := s.Due(base.Add(59 * time.Minute)); len(due) != 0 {
		t.Fatalf("post due %d min early", 1)
	}
	due := s.Due(when)
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("Due at schedule = %v", due)
	}
	if !s.HasScheduled() {
		t.Fatal("HasScheduled = false with a scheduled approval")
	}
}

func TestHasUnresolvedFrom(t *testing.T) {
	dir := t.TempDir()
	now, _ := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s := openTestStore(t, dir, now)
	id, _ := s.Add(7, "a", regularContent(1), "@chan")
	if !s.HasUnresolvedFrom(7) {
		t.Fatal("pending post not reported as unresolved")
	}
	if s.HasUnresolvedFrom(8) {
		t.Fatal("unrelated contributor reported as unresolved")
	}
	if err := s.Approve(id, time.Time{}); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if s.HasUnresolvedFrom(7) {
		t.Fatal("approved post still reported as unresolved")
	}
}

func TestPurgeIdempotence(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now, advance := testClock(base)

	s := openTestStore(t, dir, now)
	id1, _ := s.Add(1, "a", regularContent(1), "@chan")
	_ = s.Approve(id1, time.Time{})
	_ = s.MarkPublished(id1)
	id2, _ := s.Add(2, "b", regularContent(1), "@chan")

	if got := s.PurgePublished(); got != 1 {
		t.Fatalf("PurgePublished = %d, want 1", got)
	}
	if got := s.PurgePublished(); got != 0 {
		t.Fatalf("second PurgePublished = %d, want 0", got)
	}
	if _, ok := s.Get(id2); !ok {
		t.Fatal("pending post removed by PurgePublished")
	}

	advance(48 * time.Hour)
	if got := s.PurgeOlderThan(24 * time.Hour); got != 1 {
		t.Fatalf("PurgeOlderThan = %d, want 1", got)
	}
	if got := s.PurgeOlderThan(24 * time.Hour); got != 0 {
		t.Fatalf("second PurgeOlderThan = %d, want 0", got)
	}
}

func TestBackupRestoreAfterCorruption(t *testing.T) {
	dir := t.TempDir()
	now, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s := openTestStore(t, dir, now)
	id, _ := s.Add(1, "a", regularContent(2), "@chan")
	if err := s.Backup(); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	// Clobber the primary file; Open must fall back to the backup.
	primary := filepath.Join(dir, "posts.json")
	if err := os.WriteFile(primary, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt primary: %v", err)
	}

	advance(time.Minute)
	s2 := openTestStore(t, dir, now)
	p, ok := s2.Get(id)
	if !ok {
		t.Fatalf("post #%d lost after restore", id)
	}
	if p.Content.MediaCount() != 2 {
		t.Fatalf("restored media count = %d, want 2", p.Content.MediaCount())
	}

	// Ids keep advancing from the restored snapshot.
	next, err := s2.Add(2, "b", regularContent(1), "@chan")
	if err != nil {
		t.Fatalf("Add after restore: %v", err)
	}
	if next <= id {
		t.Fatalf("id after restore = %d, want > %d", next, id)
	}
}

func TestBackupPruneKeepsRecent(t *testing.T) {
	dir := t.TempDir()
	now, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s, err := Open(Options{
		Path:            filepath.Join(dir, "posts.json"),
		BackupDir:       filepath.Join(dir, "backups"),
		BackupRetention: time.Hour,
		Now:             now,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Add(1, "a", regularContent(1), "@chan"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.Backup(); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	advance(2 * time.Hour)
	if err := s.Backup(); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("backups after prune = %d, want 1", len(entries))
	}
}

func TestContentValidate(t *testing.T) {
	att := func(slot, name string) Attachment {
		return Attachment{Slot: slot, FileID: "f", FileName: name}
	}
	cases := []struct {
		name    string
		content Content
		ok      bool
	}{
		{"regular single photo", Content{Kind: ShapeRegular, Photos: []string{"p"}}, true},
		{"regular mixed at limit", Content{Kind: ShapeRegular, Photos: []string{"p", "p"}, Videos: []string{"v", "v"}}, true},
		{"regular empty", Content{Kind: ShapeRegular}, false},
		{"regular over limit", Content{Kind: ShapeRegular, Photos: []string{"p", "p", "p", "p", "p"}}, false},
		{"regular with attachment", Content{Kind: ShapeRegular, Photos: []string{"p"}, Attachments: []Attachment{att(SlotBody, "a.txt")}}, false},
		{"livery complete", Content{Kind: ShapeLivery, Photos: []string{"p"}, Attachments: []Attachment{att(SlotBody, "b.txt"), att(SlotGlass, "g.txt")}}, true},
		{"livery missing glass", Content{Kind: ShapeLivery, Photos: []string{"p"}, Attachments: []Attachment{att(SlotBody, "b.txt")}}, false},
		{"livery with video", Content{Kind: ShapeLivery, Photos: []string{"p"}, Videos: []string{"v"}, Attachments: []Attachment{att(SlotBody, "b.txt"), att(SlotGlass, "g.txt")}}, false},
		{"livery wrong slot order", Content{Kind: ShapeLivery, Photos: []string{"p"}, Attachments: []Attachment{att(SlotGlass, "g.txt"), att(SlotBody, "b.txt")}}, false},
		{"livery bad extension", Content{Kind: ShapeLivery, Photos: []string{"p"}, Attachments: []Attachment{att(SlotBody, "b.png"), att(SlotGlass, "g.txt")}}, false},
		{"sticker complete", Content{Kind: ShapeSticker, Photos: []string{"p"}, Attachments: []Attachment{att(SlotSticker, "s.TXT")}}, true},
		{"sticker two photos", Content{Kind: ShapeSticker, Photos: []string{"p", "p"}, Attachments: []Attachment{att(SlotSticker, "s.txt")}}, false},
		{"unknown shape", Content{Kind: "meme", Photos: []string{"p"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.content.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("Validate accepted invalid content")
			}
		})
	}
}

func TestSortPendingNewestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	posts := []Post{
		{ID: 1, CreatedAt: base},
		{ID: 3, CreatedAt: base.Add(time.Minute)},
		{ID: 2, CreatedAt: base.Add(time.Minute)},
	}
	SortPendingNewestFirst(posts)
	got := []int64{posts[0].ID, posts[1].ID, posts[2].ID}
	want := []int64{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
