package post

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Shape is one of the three fixed submission templates.
type Shape string

const (
	ShapeRegular Shape = "regular"
	ShapeLivery  Shape = "livery"
	ShapeSticker Shape = "sticker"
)

// Attachment slots, in the order contributors must supply them.
const (
	SlotBody    = "body"
	SlotGlass   = "glass"
	SlotSticker = "sticker"
)

// AttachmentExt is the only file extension accepted for attachments.
const AttachmentExt = ".txt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusPublished Status = "published"
)

// MediaLimit returns the combined media count bound for a shape.
func MediaLimit(shape Shape) int {
	if shape == ShapeSticker {
		return 1
	}
	return 4
}

// AcceptsVideo reports whether the shape admits video items.
// Livery and sticker packages are photo-only.
func AcceptsVideo(shape Shape) bool { return shape == ShapeRegular }

// AttachmentSlots returns the required post-media attachment slots for a
// shape, in the fixed order they are collected.
func AttachmentSlots(shape Shape) []string {
	switch shape {
	case ShapeLivery:
		return []string{SlotBody, SlotGlass}
	case ShapeSticker:
		return []string{SlotSticker}
	default:
		return nil
	}
}

// ValidAttachmentName reports whether the filename carries the text-file
// extension (case-insensitive).
func ValidAttachmentName(name string) bool {
	return name != "" && strings.HasSuffix(strings.ToLower(name), AttachmentExt)
}

// Attachment is a named (slot) file reference with its client filename.
type Attachment struct {
	Slot     string `json:"slot"`
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

// Content is the tagged union of the three content shapes. Exactly one
// shape is populated, identified by Kind; Validate enforces the per-shape
// count and attachment constraints for the lifetime of the record.
type Content struct {
	Kind        Shape        `json:"kind"`
	Photos      []string     `json:"photos,omitempty"`
	Videos      []string     `json:"videos,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (c Content) MediaCount() int { return len(c.Photos) + len(c.Videos) }

var ErrInvalidContent = errors.New("invalid content")

func (c Content) Validate() error {
	switch c.Kind {
	case ShapeRegular:
		if len(c.Attachments) != 0 {
			return fmt.Errorf("%w: regular post carries no attachments", ErrInvalidContent)
		}
		if c.MediaCount() < 1 || c.MediaCount() > MediaLimit(ShapeRegular) {
			return fmt.Errorf("%w: regular post needs 1-%d media items, got %d",
				ErrInvalidContent, MediaLimit(ShapeRegular), c.MediaCount())
		}
	case ShapeLivery:
		if len(c.Videos) != 0 {
			return fmt.Errorf("%w: livery is photo-only", ErrInvalidContent)
		}
		if len(c.Photos) < 1 || len(c.Photos) > MediaLimit(ShapeLivery) {
			return fmt.Errorf("%w: livery needs 1-%d photos, got %d",
				ErrInvalidContent, MediaLimit(ShapeLivery), len(c.Photos))
		}
	case ShapeSticker:
		if len(c.Videos) != 0 {
			return fmt.Errorf("%w: sticker is photo-only", ErrInvalidContent)
		}
		if len(c.Photos) != 1 {
			return fmt.Errorf("%w: sticker needs exactly 1 photo, got %d",
				ErrInvalidContent, len(c.Photos))
		}
	default:
		return fmt.Errorf("%w: unknown shape %q", ErrInvalidContent, c.Kind)
	}

	slots := AttachmentSlots(c.Kind)
	if len(c.Attachments) != len(slots) {
		return fmt.Errorf("%w: %s needs %d attachments, got %d",
			ErrInvalidContent, c.Kind, len(slots), len(c.Attachments))
	}
	for i, slot := range slots {
		a := c.Attachments[i]
		if a.Slot != slot {
			return fmt.Errorf("%w: attachment %d must fill slot %q, got %q",
				ErrInvalidContent, i, slot, a.Slot)
		}
		if a.FileID == "" {
			return fmt.Errorf("%w: attachment %q has no file", ErrInvalidContent, slot)
		}
		if !ValidAttachmentName(a.FileName) {
			return fmt.Errorf("%w: attachment %q must be a %s file, got %q",
				ErrInvalidContent, slot, AttachmentExt, a.FileName)
		}
	}
	return nil
}

// Post is one submitted content package and its lifecycle state.
// Contributor identity and Destination are captured at submission time
// and never change afterwards.
type Post struct {
	ID              int64  `json:"id"`
	ContributorID   int64  `json:"contributor_id"`
	ContributorName string `json:"contributor_name"`

	Content Content `json:"content"`
	Status  Status  `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	// ScheduledAt is set on approval; an approved post with a nil
	// ScheduledAt was approved without an explicit time and is eligible
	// for the daily slot.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	// Destination is the channel id the post was submitted against.
	Destination string `json:"destination"`
}

func (p *Post) clone() Post {
	cp := *p
	cp.Content.Photos = append([]string(nil), p.Content.Photos...)
	cp.Content.Videos = append([]string(nil), p.Content.Videos...)
	cp.Content.Attachments = append([]Attachment(nil), p.Content.Attachments...)
	if p.ScheduledAt != nil {
		t := *p.ScheduledAt
		cp.ScheduledAt = &t
	}
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		cp.PublishedAt = &t
	}
	return cp
}
