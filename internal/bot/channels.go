package bot

import (
	"context"
	"fmt"
	"strings"

	"postbot/internal/storage"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
	"postbot/pkg/tgui"
)

func (r *Router) cmdChannels(ctx context.Context, req *Request) error {
	_, err := r.channelsMessage().Send(ctx, r.deps.Adapter, req.Chat)
	return err
}

func (r *Router) channelCallback(action string) HandlerFunc {
	switch action {
	case "menu":
		return func(ctx context.Context, req *Request) error {
			return r.editModerator(ctx, req, r.channelsMessage())
		}
	case "set":
		return r.cbChanSet
	case "rm":
		return r.cbChanRemove
	default:
		return nil
	}
}

func (r *Router) channelsMessage() tgui.Message {
	chans := r.deps.Channels.List()
	cur, hasCur := r.deps.Channels.Current()

	b := tgui.New().Title("📡", "Destination channels").Blank()
	if len(chans) == 0 {
		b.Line("No channels registered yet.")
	}
	kb := tgui.NewInline()
	for _, c := range chans {
		title := tgui.TruncRunes(c.DisplayTitle(), 24)
		if hasCur && c.ID == cur.ID {
			b.Line("▸ " + c.DisplayTitle() + " (current)")
			kb.Row(tgui.Btn("🗑 "+title, tgui.Data("chan", "rm", c.ID)))
			continue
		}
		b.Line("  " + c.DisplayTitle())
		kb.Row(
			tgui.Btn("✔ "+title, tgui.Data("chan", "set", c.ID)),
			tgui.Btn("🗑", tgui.Data("chan", "rm", c.ID)),
		)
	}
	b.Blank().Line("Register a new channel with /addchannel <id or @name>.")
	kb.Row(tgui.Btn("⬅️ Menu", tgui.Data("mod", "menu")))
	return b.Inline(kb).Build()
}

func (r *Router) cbChanSet(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return nil
	}
	id := req.Args[0]
	if r.deps.Channels.SetCurrent(id) {
		r.audit(ctx, storage.Entry{ActorID: req.From.ID, Action: "channel.current", Channel: id})
	}
	return r.editModerator(ctx, req, r.channelsMessage())
}

func (r *Router) cbChanRemove(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		return nil
	}
	id := req.Args[0]
	r.deps.Channels.Remove(id)
	r.audit(ctx, storage.Entry{ActorID: req.From.ID, Action: "channel.remove", Channel: id})
	return r.editModerator(ctx, req, r.channelsMessage())
}

// cmdAddChannel verifies the bot can actually post to the candidate
// before recording it: a probe message is sent (and best-effort
// deleted), and the title is fetched from the endpoint. The registry
// only ever holds channels that passed the probe.
func (r *Router) cmdAddChannel(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		_, err := r.deps.Adapter.SendText(ctx, req.Chat, "Usage: /addchannel <id or @name>", nil)
		return err
	}
	id := strings.TrimSpace(req.Args[0])
	target := kit.Chat(id)

	if _, ok := r.deps.Channels.Get(id); ok {
		_, err := r.deps.Adapter.SendText(ctx, req.Chat, "That channel is already registered.", nil)
		return err
	}

	probe, err := r.deps.Adapter.SendText(ctx, target, "Connectivity check — this message will self-destruct.", nil)
	if err != nil {
		r.audit(ctx, storage.Entry{ActorID: req.From.ID, Action: "channel.add", Channel: id, Error: err.Error()})
		_, serr := r.deps.Adapter.SendText(ctx, req.Chat,
			fmt.Sprintf("Cannot post to %s: %v. Make sure the bot is an admin there.", id, err), nil)
		return serr
	}
	if derr := r.deps.Adapter.DeleteMessage(ctx, probe); derr != nil {
		req.Logger.Debug("probe delete failed", logx.String("op", "channel.probe"), logx.Err(derr))
	}

	title, terr := r.deps.Adapter.ChatTitle(ctx, target)
	if terr != nil {
		req.Logger.Debug("chat title fetch failed", logx.String("op", "channel.title"), logx.Err(terr))
		title = ""
	}

	r.deps.Channels.Add(id, title)
	r.audit(ctx, storage.Entry{ActorID: req.From.ID, Action: "channel.add", Channel: id, Detail: title})

	note := fmt.Sprintf("✅ Channel %s registered.", id)
	if cur, ok := r.deps.Channels.Current(); ok && cur.ID == id {
		note += " It is now the current destination."
	}
	_, err = r.deps.Adapter.SendText(ctx, req.Chat, note, nil)
	return err
}
