package bot

import (
	"context"
	"fmt"
	"time"

	"postbot/internal/storage"
	"postbot/pkg/tgui"
)

// purgeAge is the cutoff for the manual "purge old" action.
const purgeAge = 30 * 24 * time.Hour

func (r *Router) cmdClean(ctx context.Context, req *Request) error {
	_, err := r.cleanMessage().Send(ctx, r.deps.Adapter, req.Chat)
	return err
}

func (r *Router) cleanCallback(action string) HandlerFunc {
	switch action {
	case "menu":
		return func(ctx context.Context, req *Request) error {
			return r.editModerator(ctx, req, r.cleanMessage())
		}
	case "published":
		return r.cbPurgePublished
	case "old":
		return r.cbPurgeOld
	default:
		return nil
	}
}

func (r *Router) cleanMessage() tgui.Message {
	st := r.deps.Store.Stats()
	kb := tgui.NewInline().
		Row(tgui.Btn(fmt.Sprintf("🧹 Purge published (%d)", st.Published), tgui.Data("clean", "published"))).
		Row(tgui.Btn("🗑 Purge older than 30 days", tgui.Data("clean", "old"))).
		Row(tgui.Btn("⬅️ Menu", tgui.Data("mod", "menu")))
	return tgui.New().
		Title("🧹", "Cleanup").
		Blank().
		KV("Total", fmt.Sprintf("%d", st.Total)).
		KV("Published", fmt.Sprintf("%d", st.Published)).
		Inline(kb).
		Build()
}

func (r *Router) cbPurgePublished(ctx context.Context, req *Request) error {
	n := r.deps.Store.PurgePublished()
	r.audit(ctx, storage.Entry{ActorID: req.From.ID, Action: "purge.published", Detail: fmt.Sprintf("removed=%d", n)})
	return r.editModerator(ctx, req, tgui.New().
		Title("🧹", "Cleanup").
		Line(fmt.Sprintf("Removed %d published post(s).", n)).
		Inline(tgui.NewInline().Row(tgui.Btn("⬅️ Menu", tgui.Data("mod", "menu")))).
		Build())
}

func (r *Router) cbPurgeOld(ctx context.Context, req *Request) error {
	n := r.deps.Store.PurgeOlderThan(purgeAge)
	r.audit(ctx, storage.Entry{ActorID: req.From.ID, Action: "purge.old", Detail: fmt.Sprintf("removed=%d", n)})
	return r.editModerator(ctx, req, tgui.New().
		Title("🧹", "Cleanup").
		Line(fmt.Sprintf("Removed %d post(s) older than 30 days.", n)).
		Inline(tgui.NewInline().Row(tgui.Btn("⬅️ Menu", tgui.Data("mod", "menu")))).
		Build())
}
