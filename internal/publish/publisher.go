package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"postbot/internal/channel"
	"postbot/internal/notify"
	"postbot/internal/post"
	rtsup "postbot/internal/runtime/supervisor"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// Config controls the publish loop and daily housekeeping.
type Config struct {
	// TickInterval between scans for due approved posts.
	TickInterval time.Duration
	// DailyHour is the local hour of the daily publish slot.
	DailyHour int
	// RetentionDays for the daily purge; 0 disables the purge job.
	RetentionDays int
	Timezone      string
	// RatePerSec caps outbound channel sends.
	RatePerSec int
}

// Deps are the collaborators the publisher drives.
type Deps struct {
	Store    *post.Store
	Channels *channel.Registry
	Adapter  kit.Adapter
	// Notify delivers failure reports to the moderator; optional.
	Notify    *notify.Service
	Moderator kit.Chat
}

// Publisher owns the scheduled-publication loop and the daily cron jobs.
type Publisher struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	limiter *rate.Limiter
	now     func() time.Time

	mu  sync.Mutex
	sup *rtsup.Supervisor
	c   *cron.Cron

	// suspended holds per-post backoff deadlines after an endpoint
	// retry-after signal. Only the offending post waits.
	suspended map[int64]time.Time
}

func New(cfg Config, deps Deps, log logx.Logger) *Publisher {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.DailyHour < 0 || cfg.DailyHour > 23 {
		cfg.DailyHour = 6
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{
		cfg:       cfg,
		deps:      deps,
		log:       log,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:       time.Now,
		suspended: map[int64]time.Time{},
	}
}

// SetClock overrides the time source. Tests only.
func (p *Publisher) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Start is idempotent. The tick loop runs under the publisher's own
// supervisor; cron jobs fire in cron's goroutine and funnel through the
// same mutex-free store API, which serializes internally.
func (p *Publisher) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sup != nil {
		return
	}

	p.sup = rtsup.New(ctx,
		rtsup.WithLogger(p.log.With(logx.String("comp", "publish"))),
		rtsup.WithCancelOnError(false),
	)

	p.sup.Go0("tick", func(c context.Context) {
		t := time.NewTicker(p.cfg.TickInterval)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				p.Tick(c)
			}
		}
	})

	loc := p.loadLocation()
	p.c = cron.New(cron.WithLocation(loc))
	spec := fmt.Sprintf("0 %d * * *", p.cfg.DailyHour)
	if _, err := p.c.AddFunc(spec, func() { p.dailySlot(p.sup.Context()) }); err != nil {
		p.log.Error("daily slot job not registered", logx.Err(err), logx.String("spec", spec))
	}
	if p.cfg.RetentionDays > 0 {
		if _, err := p.c.AddFunc(spec, func() { p.retentionPurge(p.sup.Context()) }); err != nil {
			p.log.Error("retention job not registered", logx.Err(err))
		}
	}
	if _, err := p.c.AddFunc("@hourly", func() { p.backup() }); err != nil {
		p.log.Error("backup job not registered", logx.Err(err))
	}
	p.c.Start()
	p.log.Info("publisher started",
		logx.Duration("tick", p.cfg.TickInterval),
		logx.Int("daily_hour", p.cfg.DailyHour),
		logx.String("tz", loc.String()))
}

func (p *Publisher) Stop(ctx context.Context) {
	p.mu.Lock()
	sup := p.sup
	c := p.c
	p.sup = nil
	p.c = nil
	p.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
	p.log.Info("publisher stopped")
}

func (p *Publisher) loadLocation() *time.Location {
	tz := strings.TrimSpace(p.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		p.log.Warn("bad timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Tick publishes every approved post whose scheduled time has passed.
// A failure moves on to the next due post; the failed one stays
// approved and is retried next tick.
func (p *Publisher) Tick(ctx context.Context) {
	now := p.now()
	due := p.deps.Store.Due(now)
	if len(due) == 0 {
		return
	}
	for i := range due {
		if ctx.Err() != nil {
			return
		}
		pst := &due[i]
		if until, ok := p.suspendedUntil(pst.ID); ok && now.Before(until) {
			continue
		}
		p.publishOne(ctx, pst)
	}
}

func (p *Publisher) suspendedUntil(id int64) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.suspended[id]
	return t, ok
}

func (p *Publisher) suspend(id int64, d time.Duration) {
	p.mu.Lock()
	p.suspended[id] = p.now().Add(d)
	p.mu.Unlock()
}

func (p *Publisher) clearSuspension(id int64) {
	p.mu.Lock()
	delete(p.suspended, id)
	p.mu.Unlock()
}

func (p *Publisher) publishOne(ctx context.Context, pst *post.Post) {
	err := p.deliver(ctx, pst)
	if err != nil {
		var ra *kit.RetryAfterError
		if errors.As(err, &ra) {
			p.suspend(pst.ID, ra.After)
			p.log.Warn("delivery rate limited",
				logx.Int64("post", pst.ID), logx.Duration("retry_after", ra.After))
			return
		}
		p.log.Error("delivery failed", logx.Int64("post", pst.ID),
			logx.String("dest", pst.Destination), logx.Err(err))
		p.report(ctx, fmt.Sprintf("⚠️ Publishing post #%d to %s failed: %v. It stays approved and will be retried.",
			pst.ID, pst.Destination, err))
		return
	}
	p.clearSuspension(pst.ID)
	if err := p.deps.Store.MarkPublished(pst.ID); err != nil {
		// Another path may have published it between scan and delivery.
		p.log.Warn("mark published failed", logx.Int64("post", pst.ID), logx.Err(err))
		return
	}
	p.log.Info("post published", logx.Int64("post", pst.ID), logx.String("dest", pst.Destination))
}

// deliver sends the package to its captured destination: media items
// first, then attachments, then the authorship note. Partial sends are
// not rolled back; a retry may duplicate earlier items.
func (p *Publisher) deliver(ctx context.Context, pst *post.Post) error {
	dest := kit.Chat(pst.Destination)
	if dest == "" {
		return errors.New("post has no destination")
	}

	for _, fid := range pst.Content.Photos {
		if err := p.sendLimited(ctx, func(c context.Context) error {
			_, err := p.deps.Adapter.SendPhoto(c, dest, kit.FileRef{FileID: fid}, "")
			return err
		}); err != nil {
			return fmt.Errorf("photo: %w", err)
		}
	}
	for _, fid := range pst.Content.Videos {
		if err := p.sendLimited(ctx, func(c context.Context) error {
			_, err := p.deps.Adapter.SendVideo(c, dest, kit.FileRef{FileID: fid}, "")
			return err
		}); err != nil {
			return fmt.Errorf("video: %w", err)
		}
	}
	for _, a := range pst.Content.Attachments {
		att := a
		if err := p.sendLimited(ctx, func(c context.Context) error {
			doc := kit.Document{FileID: att.FileID, FileName: att.FileName}
			_, err := p.deps.Adapter.SendDocument(c, dest, doc, att.Slot)
			return err
		}); err != nil {
			return fmt.Errorf("attachment %s: %w", att.Slot, err)
		}
	}

	note := authorNote(pst)
	if err := p.sendLimited(ctx, func(c context.Context) error {
		_, err := p.deps.Adapter.SendText(c, dest, note, nil)
		return err
	}); err != nil {
		return fmt.Errorf("author note: %w", err)
	}
	return nil
}

func (p *Publisher) sendLimited(ctx context.Context, send func(context.Context) error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return send(cctx)
}

func authorNote(pst *post.Post) string {
	name := strings.TrimSpace(pst.ContributorName)
	if name == "" {
		name = fmt.Sprintf("id%d", pst.ContributorID)
	}
	return "Submitted by " + name
}

// dailySlot publishes the oldest approved post that was approved
// without an explicit time, for the current channel. Best-effort; a
// failure leaves the post approved for the next day's slot.
func (p *Publisher) dailySlot(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	cur, ok := p.deps.Channels.Current()
	if !ok {
		p.log.Debug("daily slot skipped, no current channel")
		return
	}
	// An explicitly scheduled post owns the day; the slot waits.
	if p.deps.Store.HasScheduled() {
		p.log.Debug("daily slot skipped, scheduled post pending")
		return
	}
	cand, ok := p.deps.Store.DailySlotCandidate(cur.ID)
	if !ok {
		return
	}
	p.log.Info("daily slot candidate", logx.Int64("post", cand.ID))
	p.publishOne(ctx, &cand)
}

// retentionPurge drops published posts older than the retention window
// and reports the count to the moderator.
func (p *Publisher) retentionPurge(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	age := time.Duration(p.cfg.RetentionDays) * 24 * time.Hour
	n := p.deps.Store.PurgeOlderThan(age)
	p.log.Info("retention purge", logx.Int("removed", n), logx.Int("days", p.cfg.RetentionDays))
	if n > 0 {
		p.report(ctx, fmt.Sprintf("🧹 Retention purge removed %d post(s) older than %d days.", n, p.cfg.RetentionDays))
	}
}

func (p *Publisher) backup() {
	if err := p.deps.Store.Backup(); err != nil {
		p.log.Error("store backup failed", logx.Err(err))
	}
}

func (p *Publisher) report(ctx context.Context, text string) {
	if p.deps.Notify == nil || p.deps.Moderator == "" {
		return
	}
	err := p.deps.Notify.Notify(ctx, notify.Notification{To: p.deps.Moderator, Text: text})
	if err != nil {
		p.log.Warn("moderator report dropped", logx.Err(err))
	}
}
