package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"postbot/internal/post"
	"postbot/internal/storage"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
	"postbot/pkg/tgui"
)

func (r *Router) sendModeratorMenu(ctx context.Context, chat kit.Chat) error {
	_, err := r.menuMessage().Send(ctx, r.deps.Adapter, chat)
	return err
}

func (r *Router) moderatorCallback(action string) HandlerFunc {
	switch action {
	case "menu":
		return func(ctx context.Context, req *Request) error {
			return r.editModerator(ctx, req, r.menuMessage())
		}
	case "queue":
		return r.cbQueue
	case "view":
		return r.cbView
	case "nav":
		return r.cbNav
	case "send":
		return r.cbSendPackage
	case "approve":
		return r.cbApprove
	case "when":
		return r.cbWhen
	case "reject":
		return r.cbReject
	case "del":
		return r.cbDelete
	case "stats":
		return func(ctx context.Context, req *Request) error {
			return r.editModerator(ctx, req, r.statsMessage())
		}
	default:
		return nil
	}
}

func (r *Router) menuMessage() tgui.Message {
	st := r.deps.Store.Stats()
	kb := tgui.NewInline().
		Row(tgui.Btn(fmt.Sprintf("📬 Queue (%d)", st.Pending), tgui.Data("mod", "queue", "0"))).
		Row(tgui.Btn("📡 Channels", tgui.Data("chan", "menu")), tgui.Btn("📊 Stats", tgui.Data("mod", "stats"))).
		Row(tgui.Btn("🧹 Cleanup", tgui.Data("clean", "menu")))
	return tgui.New().
		Title("🛠", "Moderation").
		Blank().
		KV("Pending", strconv.Itoa(st.Pending)).
		KV("Approved", strconv.Itoa(st.Approved)).
		Inline(kb).
		Build()
}

func (r *Router) cmdQueue(ctx context.Context, req *Request) error {
	_, err := r.queueMessage(0).Send(ctx, r.deps.Adapter, req.Chat)
	return err
}

func (r *Router) cbQueue(ctx context.Context, req *Request) error {
	page := 0
	if len(req.Args) > 0 {
		page, _ = strconv.Atoi(req.Args[0])
	}
	return r.editModerator(ctx, req, r.queueMessage(page))
}

// queueMessage renders one page of the pending queue, most recent
// submissions first.
func (r *Router) queueMessage(page int) tgui.Message {
	pending := r.deps.Store.ListPending()
	post.SortPendingNewestFirst(pending)

	pg := tgui.Paginate(pending, page, r.cfg.PageSize)

	b := tgui.New().Title("📬", "Pending queue").Blank()
	if len(pending) == 0 {
		b.Line("Nothing waiting for review.")
	} else {
		b.Line(pg.Label()).Blank()
	}

	now := r.now()
	btns := make([]tele.Btn, 0, len(pg.Items))
	for _, p := range pg.Items {
		b.RawLine(fmt.Sprintf("%s %s — %s — %s",
			tgui.Code("#"+strconv.FormatInt(p.ID, 10)).String(),
			tgui.Esc(string(p.Content.Kind)).String(),
			tgui.Esc(p.ContributorName).String(),
			tgui.Esc(humanAge(now.Sub(p.CreatedAt))).String()))
		btns = append(btns, tgui.Btn("#"+strconv.FormatInt(p.ID, 10),
			tgui.Data("mod", "view", strconv.FormatInt(p.ID, 10))))
	}

	kb := tgui.NewInline()
	for i := 0; i < len(btns); i += 2 {
		if i+1 < len(btns) {
			kb.Row(btns[i], btns[i+1])
		} else {
			kb.Row(btns[i])
		}
	}
	var nav []tele.Btn
	if pg.HasPrev {
		nav = append(nav, tgui.Btn("◀️", tgui.Data("mod", "queue", strconv.Itoa(pg.Index-1))))
	}
	if pg.HasNext {
		nav = append(nav, tgui.Btn("▶️", tgui.Data("mod", "queue", strconv.Itoa(pg.Index+1))))
	}
	if len(nav) > 0 {
		kb.Row(nav...)
	}
	kb.Row(tgui.Btn("⬅️ Menu", tgui.Data("mod", "menu")))
	return b.Inline(kb).Build()
}

func (r *Router) cbView(ctx context.Context, req *Request) error {
	id, ok := argID(req.Args)
	if !ok {
		return nil
	}
	return r.editModerator(ctx, req, r.postCard(id))
}

// cbNav moves to the previous/next pending post relative to the one on
// the card, in queue order.
func (r *Router) cbNav(ctx context.Context, req *Request) error {
	if len(req.Args) != 2 {
		return nil
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return nil
	}
	pending := r.deps.Store.ListPending()
	post.SortPendingNewestFirst(pending)
	idx := -1
	for i, p := range pending {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return r.editModerator(ctx, req, r.queueMessage(0))
	}
	switch req.Args[1] {
	case "prev":
		idx--
	case "next":
		idx++
	}
	if idx < 0 || idx >= len(pending) {
		return r.editModerator(ctx, req, r.queueMessage(0))
	}
	return r.editModerator(ctx, req, r.postCard(pending[idx].ID))
}

func (r *Router) postCard(id int64) tgui.Message {
	p, ok := r.deps.Store.Get(id)
	if !ok {
		return tgui.New().Line(fmt.Sprintf("Post #%d no longer exists.", id)).
			Inline(tgui.NewInline().Row(tgui.Btn("⬅️ Queue", tgui.Data("mod", "queue", "0")))).Build()
	}

	b := tgui.New().Title("📦", fmt.Sprintf("Post #%d", p.ID)).Blank().
		KV("Type", string(p.Content.Kind)).
		RawLine("• " + tgui.B("From").String() + ": " +
			tgui.Mention(p.ContributorName, p.ContributorID).String()).
		KV("Photos", strconv.Itoa(len(p.Content.Photos)))
	if len(p.Content.Videos) > 0 {
		b.KV("Videos", strconv.Itoa(len(p.Content.Videos)))
	}
	for _, a := range p.Content.Attachments {
		b.KV(a.Slot, a.FileName)
	}
	b.KV("Submitted", humanAge(r.now().Sub(p.CreatedAt))+" ago")
	if p.Destination != "" {
		b.KV("Channel", p.Destination)
	} else {
		b.Blank().Line("No destination was set at submission time.")
	}
	b.KV("Status", string(p.Status))
	if p.ScheduledAt != nil {
		b.KV("Scheduled", p.ScheduledAt.In(r.loc).Format("2006-01-02 15:04:05"))
	}

	sid := strconv.FormatInt(p.ID, 10)
	kb := tgui.NewInline().
		Row(tgui.Btn("📥 Preview", tgui.Data("mod", "send", sid)))
	if p.Status == post.StatusPending {
		kb.Row(
			tgui.Btn("✅ Approve", tgui.Data("mod", "approve", sid)),
			tgui.Btn("❌ Reject", tgui.Data("mod", "reject", sid)),
		).Row(tgui.Btn("🗑 Delete", tgui.Data("mod", "del", sid)))
	} else {
		kb.Row(tgui.Btn("🗑 Delete", tgui.Data("mod", "del", sid)))
	}
	kb.Row(
		tgui.Btn("◀️", tgui.Data("mod", "nav", sid, "prev")),
		tgui.Btn("⬅️ Queue", tgui.Data("mod", "queue", "0")),
		tgui.Btn("▶️", tgui.Data("mod", "nav", sid, "next")),
	)
	return b.Inline(kb).Build()
}

// cbSendPackage delivers the full package to the moderator chat for
// preview, in publish order.
func (r *Router) cbSendPackage(ctx context.Context, req *Request) error {
	id, ok := argID(req.Args)
	if !ok {
		return nil
	}
	p, found := r.deps.Store.Get(id)
	if !found {
		return nil
	}
	for _, fid := range p.Content.Photos {
		if _, err := r.deps.Adapter.SendPhoto(ctx, req.Chat, kit.FileRef{FileID: fid}, ""); err != nil {
			req.Logger.Warn("preview photo failed", logx.String("op", "preview.photo"), logx.Err(err))
		}
	}
	for _, fid := range p.Content.Videos {
		if _, err := r.deps.Adapter.SendVideo(ctx, req.Chat, kit.FileRef{FileID: fid}, ""); err != nil {
			req.Logger.Warn("preview video failed", logx.String("op", "preview.video"), logx.Err(err))
		}
	}
	for _, a := range p.Content.Attachments {
		doc := kit.Document{FileID: a.FileID, FileName: a.FileName}
		if _, err := r.deps.Adapter.SendDocument(ctx, req.Chat, doc, a.Slot); err != nil {
			req.Logger.Warn("preview document failed", logx.String("op", "preview.doc"), logx.Err(err))
		}
	}
	return nil
}

func (r *Router) cbApprove(ctx context.Context, req *Request) error {
	id, ok := argID(req.Args)
	if !ok {
		return nil
	}
	sid := strconv.FormatInt(id, 10)
	kb := tgui.NewInline().
		Row(tgui.Btn("⏱ +10 sec", tgui.Data("mod", "when", sid, "10s")),
			tgui.Btn("⏱ +10 min", tgui.Data("mod", "when", sid, "10m"))).
		Row(tgui.Btn(fmt.Sprintf("🌅 Tomorrow %02d:00", r.cfg.DailyHour), tgui.Data("mod", "when", sid, "day"))).
		Row(tgui.Btn("📅 Daily slot", tgui.Data("mod", "when", sid, "slot"))).
		Row(tgui.Btn("⬅️ Back", tgui.Data("mod", "view", sid)))
	return r.editModerator(ctx, req, tgui.New().
		Title("⏰", fmt.Sprintf("Publish post #%d when?", id)).
		Inline(kb).Build())
}

func (r *Router) cbWhen(ctx context.Context, req *Request) error {
	if len(req.Args) != 2 {
		return nil
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil {
		return nil
	}

	var (
		when  time.Time
		label string
	)
	now := r.now()
	switch req.Args[1] {
	case "10s":
		when = now.Add(10 * time.Second)
		label = "in 10 seconds"
	case "10m":
		when = now.Add(10 * time.Minute)
		label = "in 10 minutes"
	case "day":
		local := now.In(r.loc)
		when = time.Date(local.Year(), local.Month(), local.Day()+1,
			r.cfg.DailyHour, 0, 0, 0, r.loc)
		label = when.Format("2006-01-02 15:04")
	case "slot":
		// Zero time: approved without an explicit schedule, published by
		// the next free daily slot.
		label = "via the daily slot"
	default:
		return nil
	}

	if err := r.deps.Store.Approve(id, when); err != nil {
		r.audit(ctx, storage.Entry{ActorID: req.From.ID, Action: "approve", PostID: id, Error: err.Error()})
		return r.editModerator(ctx, req, tgui.New().
			Line(fmt.Sprintf("Post #%d could not be approved: %v", id, err)).
			Inline(backToQueue()).Build())
	}
	r.audit(ctx, storage.Entry{ActorID: req.From.ID, Action: "approve", PostID: id, Detail: req.Args[1]})

	if p, ok := r.deps.Store.Get(id); ok {
		r.notifyChat(ctx, kit.ChatID(p.ContributorID),
			fmt.Sprintf("🎉 Your submission #%d was approved and will be published %s.", id, label))
	}
	return r.editModerator(ctx, req, tgui.New().
		Title("✅", fmt.Sprintf("Post #%d approved", id)).
		Line("Publishing "+label+".").
		Inline(backToQueue()).Build())
}

func (r *Router) cbReject(ctx context.Context, req *Request) error {
	id, ok := argID(req.Args)
	if !ok {
		return nil
	}
	p, found := r.deps.Store.Get(id)
	if !r.deps.Store.Delete(id) {
		return r.editModerator(ctx, req, tgui.New().
			Line(fmt.Sprintf("Post #%d no longer exists.", id)).
			Inline(backToQueue()).Build())
	}
	r.audit(ctx, storage.Entry{ActorID: req.From.ID, Action: "reject", PostID: id})
	if found {
		r.notifyChat(ctx, kit.ChatID(p.ContributorID),
			fmt.Sprintf("Your submission #%d was not accepted this time.", id))
	}
	return r.editModerator(ctx, req, tgui.New().
		Title("❌", fmt.Sprintf("Post #%d rejected", id)).
		Inline(backToQueue()).Build())
}

// cbDelete removes a post in any status without notifying anyone.
func (r *Router) cbDelete(ctx context.Context, req *Request) error {
	id, ok := argID(req.Args)
	if !ok {
		return nil
	}
	if !r.deps.Store.Delete(id) {
		return r.editModerator(ctx, req, tgui.New().
			Line(fmt.Sprintf("Post #%d no longer exists.", id)).
			Inline(backToQueue()).Build())
	}
	r.audit(ctx, storage.Entry{ActorID: req.From.ID, Action: "delete", PostID: id})
	return r.editModerator(ctx, req, tgui.New().
		Title("🗑", fmt.Sprintf("Post #%d deleted", id)).
		Inline(backToQueue()).Build())
}

func (r *Router) cmdStats(ctx context.Context, req *Request) error {
	_, err := r.statsMessage().Send(ctx, r.deps.Adapter, req.Chat)
	return err
}

func (r *Router) statsMessage() tgui.Message {
	st := r.deps.Store.Stats()
	b := tgui.New().Title("📊", "Store statistics").Blank().
		KV("Total", strconv.Itoa(st.Total)).
		KV("Pending", strconv.Itoa(st.Pending)).
		KV("Approved", strconv.Itoa(st.Approved)).
		KV("Published", strconv.Itoa(st.Published)).
		KV("Channels", strconv.Itoa(r.deps.Channels.Len())).
		KV("Live sessions", strconv.Itoa(r.deps.Sessions.Len()))
	if !st.Oldest.IsZero() {
		b.KV("Oldest", st.Oldest.In(r.loc).Format("2006-01-02"))
	}
	return b.Inline(tgui.NewInline().Row(tgui.Btn("⬅️ Menu", tgui.Data("mod", "menu")))).Build()
}

// editModerator edits the moderator UI message under the pressed
// button, falling back to a fresh message.
func (r *Router) editModerator(ctx context.Context, req *Request, m tgui.Message) error {
	if cb := req.Update.Callback; cb != nil {
		ref := kit.MessageRef{Chat: req.Chat, MessageID: cb.MessageID}
		if err := m.Edit(ctx, r.deps.Adapter, ref); err == nil {
			return nil
		}
	}
	_, err := m.Send(ctx, r.deps.Adapter, req.Chat)
	return err
}

func backToQueue() *tgui.Inline {
	return tgui.NewInline().Row(tgui.Btn("⬅️ Queue", tgui.Data("mod", "queue", "0")))
}

func argID(args []string) (int64, bool) {
	if len(args) < 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func humanAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "moments"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
