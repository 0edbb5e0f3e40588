package adapter

import (
	"errors"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "postbot/internal/transport"
)

func TestSplitTelegramTextShort(t *testing.T) {
	got := splitTelegramText("hello", 100, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("split = %v", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one\n", 30) // 270 runes
	got := splitTelegramText(text, 100, "")
	if len(got) < 3 {
		t.Fatalf("chunks = %d", len(got))
	}
	for i, chunk := range got {
		if len([]rune(chunk)) > 100 {
			t.Fatalf("chunk %d has %d runes", i, len([]rune(chunk)))
		}
		// With newline boundaries available, no line is cut mid-way.
		for _, line := range strings.Split(chunk, "\n") {
			if line != "line one" {
				t.Fatalf("chunk %d broke a line: %q", i, line)
			}
		}
	}
}

func TestSplitTelegramTextAvoidsDanglingTag(t *testing.T) {
	// Long run with a tag opening right at the window edge.
	text := strings.Repeat("x", 95) + "<b>bold</b>"
	got := splitTelegramText(text, 100, "HTML")
	if len(got) < 2 {
		t.Fatalf("chunks = %v", got)
	}
	if strings.Count(got[0], "<") != strings.Count(got[0], ">") {
		t.Fatalf("first chunk splits a tag: %q", got[0])
	}
}

func TestSplitTelegramTextNoEmptyChunks(t *testing.T) {
	text := strings.Repeat("a", 50) + "\n\n\n" + strings.Repeat("b", 50)
	for _, chunk := range splitTelegramText(text, 60, "") {
		if chunk == "" {
			t.Fatal("empty chunk produced")
		}
	}
}

func TestWrapSendErrFloodControl(t *testing.T) {
	fe := tele.FloodError{RetryAfter: 17}
	wrapped := wrapSendErr(fe)
	var ra *kit.RetryAfterError
	if !errors.As(wrapped, &ra) {
		t.Fatalf("wrapSendErr = %T, want *kit.RetryAfterError", wrapped)
	}
	if ra.After != 17*time.Second {
		t.Fatalf("After = %v, want 17s", ra.After)
	}

	plain := errors.New("boom")
	if got := wrapSendErr(plain); got != plain {
		t.Fatalf("plain error rewritten to %v", got)
	}
	if wrapSendErr(nil) != nil {
		t.Fatal("nil error wrapped")
	}
}

func TestStoredMessage(t *testing.T) {
	sm := storedMessage(kit.MessageRef{Chat: "-1001234", MessageID: 42})
	if sm.ChatID != -1001234 || sm.MessageID != "42" {
		t.Fatalf("storedMessage = %+v", sm)
	}
	// Non-numeric chats degrade to id 0 rather than panicking.
	sm = storedMessage(kit.MessageRef{Chat: "@name", MessageID: 1})
	if sm.ChatID != 0 {
		t.Fatalf("non-numeric chat id = %d", sm.ChatID)
	}
}
