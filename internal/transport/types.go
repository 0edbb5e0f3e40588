package transport

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Chat identifies a conversation or publish destination.
// Numeric chat ids ("5138605368", "-1001234567890") and channel
// usernames ("@mychannel") are both accepted; the value is opaque to
// everything except the concrete adapter.
type Chat string

// ChatID builds a Chat from a numeric Telegram id.
func ChatID(id int64) Chat { return Chat(strconv.FormatInt(id, 10)) }

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// User is the sender identity supplied by the endpoint per inbound event.
type User struct {
	ID       int64
	Username string
}

// FileRef points at a media object already stored by the platform.
type FileRef struct {
	FileID string
}

// Document is a generic file with its client-side filename.
type Document struct {
	FileID   string
	FileName string
}

type Message struct {
	ID     int
	ChatID int64
	From   User
	Text   string

	Photo    *FileRef
	Video    *FileRef
	Document *Document

	// MediaGroupID groups messages delivered as one album. Items sharing
	// a non-empty id must be admitted or rejected together.
	MediaGroupID string
}

type Callback struct {
	ID        string
	From      User
	ChatID    int64
	MessageID int
	Data      string
}

type MessageRef struct {
	Chat      Chat
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkup is adapter-specific inline keyboard markup
	// (Telegram: *telebot.ReplyMarkup).
	ReplyMarkup any
}

// RetryAfterError is returned when the endpoint applies flood control.
// The caller should suspend the offending task for After and retry; it
// must not fail the operation or stall unrelated work.
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.After)
}

// Adapter is the messaging endpoint capability required by the core.
//
// DeleteMessage and ChatTitle are best-effort: callers are expected to
// log-and-discard their errors explicitly.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to Chat, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to Chat, file FileRef, caption string) (MessageRef, error)
	SendVideo(ctx context.Context, to Chat, file FileRef, caption string) (MessageRef, error)
	SendDocument(ctx context.Context, to Chat, doc Document, caption string) (MessageRef, error)

	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error

	ChatTitle(ctx context.Context, chat Chat) (string, error)
}
