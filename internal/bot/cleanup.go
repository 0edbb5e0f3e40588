package bot

import (
	"context"
	"sync"
	"time"

	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// cleaner owns delayed message deletions. Instead of fire-and-forget
// goroutines, every scheduled deletion is tracked until it runs; Drain
// executes whatever is still pending so a shutdown never strands
// prompt messages in contributor chats.
type cleaner struct {
	r   *Router
	log logx.Logger

	mu      sync.Mutex
	next    int
	pending map[int]kit.MessageRef
	timers  map[int]*time.Timer
}

func newCleaner(r *Router, log logx.Logger) *cleaner {
	return &cleaner{
		r:       r,
		log:     log,
		pending: map[int]kit.MessageRef{},
		timers:  map[int]*time.Timer{},
	}
}

// Schedule deletes ref after delay. The actual delete runs on the
// dispatch loop, serialized with the handlers.
func (c *cleaner) Schedule(ref kit.MessageRef, delay time.Duration) {
	if ref.MessageID == 0 {
		return
	}
	c.mu.Lock()
	c.next++
	token := c.next
	c.pending[token] = ref
	c.timers[token] = time.AfterFunc(delay, func() {
		c.r.enqueueJob(func() { c.fire(token) })
	})
	c.mu.Unlock()
}

func (c *cleaner) take(token int) (kit.MessageRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.pending[token]
	if !ok {
		return kit.MessageRef{}, false
	}
	delete(c.pending, token)
	if t := c.timers[token]; t != nil {
		t.Stop()
		delete(c.timers, token)
	}
	return ref, true
}

func (c *cleaner) fire(token int) {
	ref, ok := c.take(token)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.r.deps.Adapter.DeleteMessage(ctx, ref); err != nil {
		c.log.Debug("delayed delete failed", logx.String("op", "cleanup.delete"),
			logx.String("chat", string(ref.Chat)), logx.Int("msg", ref.MessageID), logx.Err(err))
	}
}

// Drain runs every still-pending deletion immediately. Called once on
// dispatcher shutdown.
func (c *cleaner) Drain(ctx context.Context) {
	c.mu.Lock()
	refs := make([]kit.MessageRef, 0, len(c.pending))
	for token, ref := range c.pending {
		refs = append(refs, ref)
		if t := c.timers[token]; t != nil {
			t.Stop()
		}
	}
	c.pending = map[int]kit.MessageRef{}
	c.timers = map[int]*time.Timer{}
	c.mu.Unlock()

	for _, ref := range refs {
		if ctx.Err() != nil {
			c.log.Warn("cleanup drain cut short", logx.Int("left", len(refs)))
			return
		}
		if err := c.r.deps.Adapter.DeleteMessage(ctx, ref); err != nil {
			c.log.Debug("drain delete failed", logx.String("op", "cleanup.drain"),
				logx.String("chat", string(ref.Chat)), logx.Int("msg", ref.MessageID), logx.Err(err))
		}
	}
	if len(refs) > 0 {
		c.log.Info("cleanup drained", logx.Int("deleted", len(refs)))
	}
}
