package bot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"postbot/internal/channel"
	"postbot/internal/notify"
	"postbot/internal/post"
	"postbot/internal/session"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
	"postbot/pkg/tgui"
)

// Config is the router's moderation-policy snapshot.
type Config struct {
	// ModeratorID is the single privileged identity.
	ModeratorID int64
	// DailyHour is the local hour used for the "tomorrow" approve slot.
	DailyHour int
	// PageSize for the moderation queue view.
	PageSize int
	Timezone string
}

// Deps are the collaborators the handlers drive.
type Deps struct {
	Adapter  kit.Adapter
	Store    *post.Store
	Channels *channel.Registry
	Sessions *session.Manager
	Notify   *notify.Service
	// Audit may be nil (auditing disabled).
	Audit storage.Store
}

// Request carries one update through the middleware chain.
type Request struct {
	Update  kit.Update
	Chat    kit.Chat
	From    kit.User
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
}

// Router consumes the update channel and runs every handler on a single
// goroutine. That loop is the serialization point for session and store
// mutations: a mutation is fully applied before the next update is
// looked at. Handlers must therefore never block on slow I/O without a
// deadline.
type Router struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	loc  *time.Location
	now  func() time.Time

	// jobs feeds deferred work (album flushes, delayed deletions) back
	// into the dispatch loop so it runs serialized with the handlers.
	jobs chan func()

	albums  map[int64]*albumBatch
	cleanup *cleaner
}

func NewRouter(cfg Config, deps Deps, log logx.Logger) *Router {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.DailyHour < 0 || cfg.DailyHour > 23 {
		cfg.DailyHour = 6
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("bad timezone, using local", logx.String("tz", tz), logx.Err(err))
		}
	}
	r := &Router{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		loc:    loc,
		now:    time.Now,
		jobs:   make(chan func(), 256),
		albums: map[int64]*albumBatch{},
	}
	r.cleanup = newCleaner(r, log)
	return r
}

// SetClock overrides the time source. Tests only.
func (r *Router) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// DispatchLoop runs until ctx is cancelled or the updates channel
// closes. On exit it drains the pending delayed deletions so shutdown
// leaves no orphaned UI messages behind.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	r.log.Info("dispatcher started", logx.Int("job_queue_cap", cap(r.jobs)))
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.cleanup.Drain(dctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-r.jobs:
			if job != nil {
				job()
			}
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.routeUpdate(ctx, up)
		}
	}
}

// enqueueJob feeds work back into the dispatch loop. Best-effort: a
// full queue drops the job with a log line rather than blocking a
// timer goroutine.
func (r *Router) enqueueJob(fn func()) {
	if fn == nil {
		return
	}
	select {
	case r.jobs <- fn:
	default:
		r.log.Warn("internal job dropped (queue full)")
	}
}

func (r *Router) routeUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) isModerator(id int64) bool {
	return id != 0 && id == r.cfg.ModeratorID
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		parts := strings.Fields(text)
		word := strings.TrimPrefix(parts[0], "/")
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		r.runCommand(ctx, up, strings.ToLower(word), parts[1:])
		return
	}

	// Everything else belongs to the contributor submission flow.
	req := r.newRequest(up, "flow")
	r.run(ctx, req, r.onFlowMessage)
}

func (r *Router) runCommand(ctx context.Context, up kit.Update, word string, args []string) {
	var (
		h       HandlerFunc
		modOnly bool
	)
	switch word {
	case "start":
		h = r.cmdStart
	case "cancel":
		h = r.cmdCancel
	case "queue":
		h, modOnly = r.cmdQueue, true
	case "channels":
		h, modOnly = r.cmdChannels, true
	case "addchannel":
		h, modOnly = r.cmdAddChannel, true
	case "clean":
		h, modOnly = r.cmdClean, true
	case "stats":
		h, modOnly = r.cmdStats, true
	case "help":
		h = r.cmdHelp
	default:
		// Unknown commands are ignored for contributors mid-flow; a bare
		// unknown command outside a flow gets a pointer to /help.
		if _, active := r.deps.Sessions.Get(up.Message.From.ID); !active {
			_, _ = r.deps.Adapter.SendText(ctx, kit.ChatID(up.Message.ChatID),
				"Unknown command. Try /help.", nil)
		}
		return
	}

	if modOnly && !r.isModerator(up.Message.From.ID) {
		_, _ = r.deps.Adapter.SendText(ctx, kit.ChatID(up.Message.ChatID), "Access denied.", nil)
		return
	}

	req := r.newRequest(up, word)
	req.Args = args
	r.run(ctx, req, h)
}

func (r *Router) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	scope, action, args := tgui.Split(strings.TrimSpace(cb.Data))
	if scope == "" || action == "" {
		return
	}

	var h HandlerFunc
	switch scope {
	case "sub":
		h = r.contributorCallback(action)
	case "mod", "chan", "clean":
		// All moderation scopes are gated on the single moderator id;
		// anyone else gets an access-denied answer and no side effects.
		if !r.isModerator(cb.From.ID) {
			_ = r.deps.Adapter.AnswerCallback(ctx, cb.ID, "Access denied.", true)
			return
		}
		switch scope {
		case "mod":
			h = r.moderatorCallback(action)
		case "chan":
			h = r.channelCallback(action)
		case "clean":
			h = r.cleanCallback(action)
		}
	}
	if h == nil {
		_ = r.deps.Adapter.AnswerCallback(ctx, cb.ID, "", false)
		return
	}

	req := r.newRequest(up, "cb:"+scope+":"+action)
	req.Args = args
	r.run(ctx, req, h)
	// Best-effort to stop the "loading" spinner.
	_ = r.deps.Adapter.AnswerCallback(ctx, cb.ID, "", false)
}

func (r *Router) newRequest(up kit.Update, command string) *Request {
	var chat kit.Chat
	var from kit.User
	switch {
	case up.Message != nil:
		chat = kit.ChatID(up.Message.ChatID)
		from = up.Message.From
	case up.Callback != nil:
		chat = kit.ChatID(up.Callback.ChatID)
		from = up.Callback.From
	}
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		From:    from,
		Command: command,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("from_id", from.ID),
			logx.String("cmd", command),
		),
	}
}

func (r *Router) run(ctx context.Context, req *Request, h HandlerFunc) {
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(30*time.Second),
	)
	_ = final(ctx, req)
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "????????"
	}
	return hex.EncodeToString(b[:])
}

// audit appends a moderator-action record; best-effort.
func (r *Router) audit(ctx context.Context, e storage.Entry) {
	if r.deps.Audit == nil {
		return
	}
	if e.At.IsZero() {
		e.At = r.now()
	}
	if err := r.deps.Audit.Append(ctx, e); err != nil {
		r.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

// notifyChat queues a best-effort notification; losses are logged only.
func (r *Router) notifyChat(ctx context.Context, to kit.Chat, text string) {
	if r.deps.Notify == nil {
		return
	}
	if err := r.deps.Notify.Notify(ctx, notify.Notification{To: to, Text: text}); err != nil {
		r.log.Debug("notification dropped", logx.String("to", string(to)), logx.Err(err))
	}
}
