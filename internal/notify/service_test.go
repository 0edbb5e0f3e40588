package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// countAdapter counts sends and can fail the first N attempts.
type countAdapter struct {
	mu       sync.Mutex
	sent     []string
	failLeft int
}

func (a *countAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *countAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *countAdapter) SendText(ctx context.Context, to kit.Chat, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failLeft > 0 {
		a.failLeft--
		return kit.MessageRef{}, errors.New("transient")
	}
	a.sent = append(a.sent, text)
	return kit.MessageRef{Chat: to, MessageID: len(a.sent)}, nil
}
func (a *countAdapter) SendPhoto(ctx context.Context, to kit.Chat, f kit.FileRef, c string) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (a *countAdapter) SendVideo(ctx context.Context, to kit.Chat, f kit.FileRef, c string) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (a *countAdapter) SendDocument(ctx context.Context, to kit.Chat, d kit.Document, c string) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (a *countAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (a *countAdapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error { return nil }
func (a *countAdapter) AnswerCallback(ctx context.Context, id, text string, alert bool) error {
	return nil
}
func (a *countAdapter) ChatTitle(ctx context.Context, chat kit.Chat) (string, error) {
	return "", nil
}

func (a *countAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNotifyDelivers(t *testing.T) {
	ad := &countAdapter{}
	s := New(Config{RatePerSec: 1000}, ad, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), Notification{To: "1", Text: "hi"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return ad.sentCount() == 1 })

	hist := s.Snapshot()
	if len(hist) != 1 || hist[0].Text != "hi" {
		t.Fatalf("history = %v", hist)
	}
}

func TestNotifyRetries(t *testing.T) {
	ad := &countAdapter{failLeft: 2}
	s := New(Config{
		RatePerSec:    1000,
		RetryMax:      3,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}, ad, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), Notification{To: "1", Text: "retry me"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return ad.sentCount() == 1 })
}

func TestNotifyBeforeStart(t *testing.T) {
	s := New(Config{}, &countAdapter{}, logx.Nop())
	if err := s.Notify(context.Background(), Notification{To: "1", Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before Start = %v, want ErrStopped", err)
	}
}

func TestNotifyAfterStop(t *testing.T) {
	ad := &countAdapter{}
	s := New(Config{RatePerSec: 1000}, ad, logx.Nop())
	s.Start(context.Background())
	s.Stop(context.Background())

	if err := s.Notify(context.Background(), Notification{To: "1", Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v, want ErrStopped", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	ad := &countAdapter{}
	s := New(Config{RatePerSec: 1000}, ad, logx.Nop())
	s.Start(context.Background())

	for i := 0; i < 10; i++ {
		if err := s.Notify(context.Background(), Notification{To: "1", Text: "queued"}); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := ad.sentCount(); got != 10 {
		t.Fatalf("delivered %d of 10 before stop returned", got)
	}
}

func TestQueueFull(t *testing.T) {
	ad := &countAdapter{}
	s := New(Config{QueueSize: 1, RatePerSec: 1}, ad, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	// Saturate: the worker takes at most a couple off the queue before
	// the limiter throttles it.
	var sawFull bool
	for i := 0; i < 50; i++ {
		if err := s.Notify(context.Background(), Notification{To: "1", Text: "x"}); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Fatal("queue never reported full")
	}
}
