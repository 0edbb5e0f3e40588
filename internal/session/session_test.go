package session

import (
	"errors"
	"testing"
	"time"

	"postbot/internal/post"
	"postbot/internal/transport"
	logx "postbot/pkg/logx"
)

func photos(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{Kind: MediaPhoto, FileID: "photo"}
	}
	return out
}

func TestRegularFlow(t *testing.T) {
	m := NewManager(Options{}, logx.Nop())
	s, err := m.Start(1, "alice", post.ShapeRegular)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := s.AddMedia([]Item{{Kind: MediaPhoto, FileID: "p1"}, {Kind: MediaVideo, FileID: "v1"}}); err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if s.PhotoCount() != 1 || s.VideoCount() != 1 {
		t.Fatalf("counts = %d photos, %d videos", s.PhotoCount(), s.VideoCount())
	}

	// Regular has no attachment slots; Done goes straight to confirming.
	phase, err := s.Done()
	if err != nil {
		t.Fatalf("Done: %v", err)
	}
	if phase != PhaseConfirming {
		t.Fatalf("phase after Done = %s, want %s", phase, PhaseConfirming)
	}

	c, err := s.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if c.Kind != post.ShapeRegular || c.MediaCount() != 2 || len(c.Attachments) != 0 {
		t.Fatalf("content = %+v", c)
	}
}

func TestLiveryFlow(t *testing.T) {
	m := NewManager(Options{}, logx.Nop())
	s, _ := m.Start(1, "alice", post.ShapeLivery)

	// Video is never accepted for livery, even inside a mixed batch.
	if _, err := s.AddMedia([]Item{{Kind: MediaPhoto, FileID: "p"}, {Kind: MediaVideo, FileID: "v"}}); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("mixed batch error = %v, want ErrWrongKind", err)
	}
	if s.MediaCount() != 0 {
		t.Fatalf("rejected batch left %d items behind", s.MediaCount())
	}

	if _, err := s.AddMedia(photos(2)); err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	phase, err := s.Done()
	if err != nil {
		t.Fatalf("Done: %v", err)
	}
	if phase != PhaseAwaitingAttachment {
		t.Fatalf("phase = %s, want %s", phase, PhaseAwaitingAttachment)
	}

	slot, ok := s.CurrentSlot()
	if !ok || slot != post.SlotBody {
		t.Fatalf("first slot = %q, want %q", slot, post.SlotBody)
	}

	// Wrong extension is rejected and the slot does not advance.
	if _, err := s.AddAttachment("f1", "body.png"); !errors.Is(err, ErrBadAttachment) {
		t.Fatalf("bad extension error = %v, want ErrBadAttachment", err)
	}
	if slot, _ := s.CurrentSlot(); slot != post.SlotBody {
		t.Fatalf("slot advanced after rejection: %q", slot)
	}

	if phase, err := s.AddAttachment("f1", "body.txt"); err != nil || phase != PhaseAwaitingAttachment {
		t.Fatalf("after body: phase=%s err=%v", phase, err)
	}
	if slot, _ := s.CurrentSlot(); slot != post.SlotGlass {
		t.Fatalf("second slot = %q, want %q", slot, post.SlotGlass)
	}
	phase, err = s.AddAttachment("f2", "glass.txt")
	if err != nil {
		t.Fatalf("after glass: %v", err)
	}
	if phase != PhaseConfirming {
		t.Fatalf("phase = %s, want %s", phase, PhaseConfirming)
	}

	c, err := s.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if len(c.Attachments) != 2 || c.Attachments[0].Slot != post.SlotBody || c.Attachments[1].Slot != post.SlotGlass {
		t.Fatalf("attachments = %+v", c.Attachments)
	}
}

func TestStickerFlow(t *testing.T) {
	m := NewManager(Options{}, logx.Nop())
	s, _ := m.Start(1, "alice", post.ShapeSticker)

	if s.MediaLimit() != 1 {
		t.Fatalf("sticker limit = %d, want 1", s.MediaLimit())
	}
	if _, err := s.AddMedia(photos(2)); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("two-photo batch error = %v, want ErrLimitExceeded", err)
	}
	if _, err := s.AddMedia(photos(1)); err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if _, err := s.AddMedia(photos(1)); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("second photo error = %v, want ErrLimitExceeded", err)
	}

	if _, err := s.Done(); err != nil {
		t.Fatalf("Done: %v", err)
	}
	if slot, _ := s.CurrentSlot(); slot != post.SlotSticker {
		t.Fatalf("slot = %q, want %q", slot, post.SlotSticker)
	}
	phase, err := s.AddAttachment("f", "pack.txt")
	if err != nil || phase != PhaseConfirming {
		t.Fatalf("after sticker attachment: phase=%s err=%v", phase, err)
	}
}

func TestBatchAtomicity(t *testing.T) {
	m := NewManager(Options{}, logx.Nop())
	s, _ := m.Start(1, "alice", post.ShapeRegular)

	if _, err := s.AddMedia(photos(3)); err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	// 3/4 collected: a batch of 2 would overflow and must be rejected
	// whole, not truncated to fit.
	if _, err := s.AddMedia(photos(2)); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("overflow batch error = %v, want ErrLimitExceeded", err)
	}
	if s.MediaCount() != 3 {
		t.Fatalf("media count after rejected batch = %d, want 3", s.MediaCount())
	}
	// A batch that exactly fits still goes through.
	if _, err := s.AddMedia(photos(1)); err != nil {
		t.Fatalf("fitting batch: %v", err)
	}
}

func TestDoneRequiresMedia(t *testing.T) {
	m := NewManager(Options{}, logx.Nop())
	s, _ := m.Start(1, "alice", post.ShapeRegular)
	if _, err := s.Done(); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("Done on empty session = %v, want ErrNoMedia", err)
	}
}

func TestRedoResetsEverything(t *testing.T) {
	m := NewManager(Options{}, logx.Nop())
	s, _ := m.Start(1, "alice", post.ShapeLivery)

	_, _ = s.AddMedia(photos(1))
	_, _ = s.Done()
	_, _ = s.AddAttachment("f1", "body.txt")
	_, _ = s.AddAttachment("f2", "glass.txt")
	if s.Phase() != PhaseConfirming {
		t.Fatalf("phase = %s", s.Phase())
	}

	if err := s.Redo(); err != nil {
		t.Fatalf("Redo: %v", err)
	}
	if s.Phase() != PhaseCollecting || s.MediaCount() != 0 || len(s.Attachments()) != 0 {
		t.Fatalf("redo left state behind: phase=%s media=%d att=%d",
			s.Phase(), s.MediaCount(), len(s.Attachments()))
	}
	// The first attachment slot starts over after redo.
	_, _ = s.AddMedia(photos(1))
	_, _ = s.Done()
	if slot, _ := s.CurrentSlot(); slot != post.SlotBody {
		t.Fatalf("slot after redo = %q, want %q", slot, post.SlotBody)
	}
}

func TestPhaseGuards(t *testing.T) {
	m := NewManager(Options{}, logx.Nop())
	s, _ := m.Start(1, "alice", post.ShapeRegular)

	if _, err := s.AddAttachment("f", "a.txt"); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("AddAttachment while collecting = %v, want ErrWrongPhase", err)
	}
	if _, err := s.Content(); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("Content while collecting = %v, want ErrWrongPhase", err)
	}
	if err := s.Redo(); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("Redo while collecting = %v, want ErrWrongPhase", err)
	}

	_, _ = s.AddMedia(photos(1))
	_, _ = s.Done()
	if _, err := s.AddMedia(photos(1)); !errors.Is(err, ErrWrongPhase) {
		t.Fatalf("AddMedia while confirming = %v, want ErrWrongPhase", err)
	}
}

func TestManagerSingleSessionPerContributor(t *testing.T) {
	m := NewManager(Options{}, logx.Nop())
	if _, err := m.Start(1, "alice", post.ShapeRegular); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Start(1, "alice", post.ShapeSticker); !errors.Is(err, ErrActiveSession) {
		t.Fatalf("second Start = %v, want ErrActiveSession", err)
	}
	// A different contributor is unaffected.
	if _, err := m.Start(2, "bob", post.ShapeRegular); err != nil {
		t.Fatalf("Start other contributor: %v", err)
	}

	if _, ok := m.End(1); !ok {
		t.Fatal("End did not find the session")
	}
	if _, err := m.Start(1, "alice", post.ShapeLivery); err != nil {
		t.Fatalf("Start after End: %v", err)
	}
}

func TestSweepIdle(t *testing.T) {
	cur := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return cur }
	m := NewManager(Options{IdleTimeout: time.Hour, Now: now}, logx.Nop())

	s, _ := m.Start(1, "alice", post.ShapeRegular)
	s.TrackPrompt(transport.MessageRef{Chat: "1", MessageID: 10})
	_, _ = m.Start(2, "bob", post.ShapeRegular)

	cur = cur.Add(30 * time.Minute)
	// Touch bob's session so only alice's goes stale.
	if _, ok := m.Get(2); !ok {
		t.Fatal("Get(2) lost the session")
	}

	cur = cur.Add(45 * time.Minute)
	swept := m.SweepIdle()
	if len(swept) != 1 || swept[0].ContributorID != 1 {
		t.Fatalf("swept = %v", swept)
	}
	if got := swept[0].Prompts(); len(got) != 1 || got[0].MessageID != 10 {
		t.Fatalf("swept prompts = %v", got)
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}
}
