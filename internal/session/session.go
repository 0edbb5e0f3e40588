// Package session implements the per-contributor submission state
// machine that assembles a content package under the per-shape count
// constraints before handing it to the post store.
package session

import (
	"errors"
	"fmt"
	"time"

	"postbot/internal/post"
	"postbot/internal/transport"
)

type Phase string

const (
	// PhaseCollecting accepts media items (or batches) up to the
	// shape's count bound.
	PhaseCollecting Phase = "collecting"
	// PhaseAwaitingAttachment accepts exactly one .txt document per
	// required slot, in fixed order.
	PhaseAwaitingAttachment Phase = "awaiting_attachment"
	// PhaseConfirming presents the summary; confirm, redo, or cancel.
	PhaseConfirming Phase = "confirming"
)

var (
	ErrLimitExceeded = errors.New("media limit exceeded")
	ErrWrongKind     = errors.New("media kind not accepted for this shape")
	ErrNoMedia       = errors.New("no media collected yet")
	ErrWrongPhase    = errors.New("operation not valid in this phase")
	ErrBadAttachment = errors.New("attachment must be a " + post.AttachmentExt + " file")
)

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// Item is one media element of an incoming batch.
type Item struct {
	Kind   MediaKind
	FileID string
}

// Session is the ephemeral state of one in-progress submission. It is
// not safe for concurrent use; the single update-dispatch loop
// serializes all operations for a given contributor.
type Session struct {
	ContributorID   int64
	ContributorName string
	Shape           post.Shape

	phase       Phase
	photos      []string
	videos      []string
	attachments []post.Attachment
	slotIdx     int

	startedAt    time.Time
	lastActivity time.Time

	// prompts are messages shown to the contributor, kept so terminal
	// states can clean them up.
	prompts []transport.MessageRef
}

func newSession(contributorID int64, name string, shape post.Shape, now time.Time) *Session {
	return &Session{
		ContributorID:   contributorID,
		ContributorName: name,
		Shape:           shape,
		phase:           PhaseCollecting,
		startedAt:       now,
		lastActivity:    now,
	}
}

func (s *Session) Phase() Phase        { return s.phase }
func (s *Session) PhotoCount() int     { return len(s.photos) }
func (s *Session) VideoCount() int     { return len(s.videos) }
func (s *Session) MediaCount() int     { return len(s.photos) + len(s.videos) }
func (s *Session) MediaLimit() int     { return post.MediaLimit(s.Shape) }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Attachments returns the collected attachments in slot order.
func (s *Session) Attachments() []post.Attachment {
	return append([]post.Attachment(nil), s.attachments...)
}

// AddMedia admits a batch atomically: if any item is of the wrong kind
// or the batch would exceed the shape's remaining capacity, the whole
// batch is rejected and the buffer is left unchanged.
func (s *Session) AddMedia(batch []Item) (int, error) {
	if s.phase != PhaseCollecting {
		return s.MediaCount(), fmt.Errorf("%w: %s", ErrWrongPhase, s.phase)
	}
	if len(batch) == 0 {
		return s.MediaCount(), nil
	}
	for _, it := range batch {
		if it.Kind == MediaVideo && !post.AcceptsVideo(s.Shape) {
			return s.MediaCount(), fmt.Errorf("%w: %s accepts photos only", ErrWrongKind, s.Shape)
		}
		if it.Kind != MediaPhoto && it.Kind != MediaVideo {
			return s.MediaCount(), fmt.Errorf("%w: %q", ErrWrongKind, it.Kind)
		}
	}
	if s.MediaCount()+len(batch) > s.MediaLimit() {
		return s.MediaCount(), fmt.Errorf("%w: %d/%d collected, batch of %d rejected",
			ErrLimitExceeded, s.MediaCount(), s.MediaLimit(), len(batch))
	}
	for _, it := range batch {
		if it.Kind == MediaPhoto {
			s.photos = append(s.photos, it.FileID)
		} else {
			s.videos = append(s.videos, it.FileID)
		}
	}
	return s.MediaCount(), nil
}

// Done finishes media collection. It requires at least one item (for
// sticker, the bound of 1 makes that exactly one) and advances to the
// first attachment slot, or straight to confirmation when the shape
// has none.
func (s *Session) Done() (Phase, error) {
	if s.phase != PhaseCollecting {
		return s.phase, fmt.Errorf("%w: %s", ErrWrongPhase, s.phase)
	}
	if s.MediaCount() == 0 {
		return s.phase, ErrNoMedia
	}
	if len(post.AttachmentSlots(s.Shape)) == 0 {
		s.phase = PhaseConfirming
	} else {
		s.phase = PhaseAwaitingAttachment
		s.slotIdx = 0
	}
	return s.phase, nil
}

// CurrentSlot names the attachment slot being collected.
func (s *Session) CurrentSlot() (string, bool) {
	slots := post.AttachmentSlots(s.Shape)
	if s.phase != PhaseAwaitingAttachment || s.slotIdx >= len(slots) {
		return "", false
	}
	return slots[s.slotIdx], true
}

// AddAttachment accepts exactly one file for the current slot. A file
// without the text extension is rejected with no state change.
func (s *Session) AddAttachment(fileID, fileName string) (Phase, error) {
	slot, ok := s.CurrentSlot()
	if !ok {
		return s.phase, fmt.Errorf("%w: %s", ErrWrongPhase, s.phase)
	}
	if !post.ValidAttachmentName(fileName) {
		return s.phase, fmt.Errorf("%w: %q", ErrBadAttachment, fileName)
	}
	s.attachments = append(s.attachments, post.Attachment{
		Slot:     slot,
		FileID:   fileID,
		FileName: fileName,
	})
	s.slotIdx++
	if s.slotIdx >= len(post.AttachmentSlots(s.Shape)) {
		s.phase = PhaseConfirming
	}
	return s.phase, nil
}

// Redo discards the buffers for this shape and returns to collection.
func (s *Session) Redo() error {
	if s.phase != PhaseConfirming {
		return fmt.Errorf("%w: %s", ErrWrongPhase, s.phase)
	}
	s.photos = nil
	s.videos = nil
	s.attachments = nil
	s.slotIdx = 0
	s.phase = PhaseCollecting
	return nil
}

// Content builds the finished package. Only valid while confirming; the
// result satisfies post.Content.Validate by construction.
func (s *Session) Content() (post.Content, error) {
	if s.phase != PhaseConfirming {
		return post.Content{}, fmt.Errorf("%w: %s", ErrWrongPhase, s.phase)
	}
	c := post.Content{
		Kind:        s.Shape,
		Photos:      append([]string(nil), s.photos...),
		Videos:      append([]string(nil), s.videos...),
		Attachments: append([]post.Attachment(nil), s.attachments...),
	}
	if err := c.Validate(); err != nil {
		return post.Content{}, err
	}
	return c, nil
}

// TrackPrompt records a UI message for cleanup on terminal states.
func (s *Session) TrackPrompt(ref transport.MessageRef) {
	s.prompts = append(s.prompts, ref)
}

// Prompts returns the tracked UI messages.
func (s *Session) Prompts() []transport.MessageRef {
	return append([]transport.MessageRef(nil), s.prompts...)
}
