package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"postbot/internal/post"
	"postbot/internal/session"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
	"postbot/pkg/tgui"
)

// albumFlushDelay is how long to wait for the remaining items of a
// media group before admitting the batch. Telegram delivers album
// items as separate messages in quick succession.
const albumFlushDelay = 800 * time.Millisecond

type albumBatch struct {
	id    string
	chat  kit.Chat
	items []session.Item
	timer *time.Timer
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	if r.isModerator(req.From.ID) {
		return r.sendModeratorMenu(ctx, req.Chat)
	}

	if r.deps.Store.HasUnresolvedFrom(req.From.ID) {
		_, err := r.deps.Adapter.SendText(ctx, req.Chat,
			"Your previous submission is still in review. You can send a new one once it has been handled.", nil)
		return err
	}
	if _, active := r.deps.Sessions.Get(req.From.ID); active {
		_, err := r.deps.Adapter.SendText(ctx, req.Chat,
			"You already have a submission in progress. Use /cancel to discard it.", nil)
		return err
	}

	kb := tgui.NewInline().
		Row(tgui.Btn("📷 Regular", tgui.Data("sub", "shape", string(post.ShapeRegular)))).
		Row(tgui.Btn("🎨 Livery", tgui.Data("sub", "shape", string(post.ShapeLivery)))).
		Row(tgui.Btn("🏷 Sticker", tgui.Data("sub", "shape", string(post.ShapeSticker)))).
		Row(tgui.Btn("✖️ Cancel", tgui.Data("sub", "cancel")))
	msg := tgui.New().
		Title("👋", "New submission").
		Blank().
		Line("Pick the kind of package you want to submit:").
		Inline(kb).
		Build()
	_, err := msg.Send(ctx, r.deps.Adapter, req.Chat)
	return err
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	b := tgui.New().Title("ℹ️", "Help").Blank()
	if r.isModerator(req.From.ID) {
		b.Bullets(
			"/start — moderator menu",
			"/queue — pending submissions",
			"/channels — destination channels",
			"/addchannel <id|@name> — register a channel",
			"/clean — cleanup menu",
			"/stats — store statistics",
		)
	} else {
		b.Bullets(
			"/start — begin a new submission",
			"/cancel — discard the submission in progress",
		)
	}
	_, err := b.Build().Send(ctx, r.deps.Adapter, req.Chat)
	return err
}

func (r *Router) cmdCancel(ctx context.Context, req *Request) error {
	s, ok := r.deps.Sessions.End(req.From.ID)
	if !ok {
		_, err := r.deps.Adapter.SendText(ctx, req.Chat, "Nothing to cancel.", nil)
		return err
	}
	r.discardPrompts(s)
	_, err := r.deps.Adapter.SendText(ctx, req.Chat, "Submission discarded.", nil)
	return err
}

func (r *Router) contributorCallback(action string) HandlerFunc {
	switch action {
	case "shape":
		return r.cbShape
	case "done":
		return r.cbDone
	case "confirm":
		return r.cbConfirm
	case "redo":
		return r.cbRedo
	case "cancel":
		return r.cbCancelFlow
	default:
		return nil
	}
}

func (r *Router) cbShape(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return nil
	}
	shape := post.Shape(req.Args[0])
	switch shape {
	case post.ShapeRegular, post.ShapeLivery, post.ShapeSticker:
	default:
		return nil
	}

	if r.deps.Store.HasUnresolvedFrom(req.From.ID) {
		return r.editFlowPrompt(ctx, req, tgui.New().
			Line("Your previous submission is still in review.").Build())
	}

	s, err := r.deps.Sessions.Start(req.From.ID, contributorName(req.From), shape)
	if err != nil {
		if errors.Is(err, session.ErrActiveSession) {
			return r.editFlowPrompt(ctx, req, tgui.New().
				Line("You already have a submission in progress. Use /cancel to discard it.").Build())
		}
		return err
	}

	// Reuse the shape-picker message as the collection prompt and track
	// it for cleanup on terminal states.
	s.TrackPrompt(kit.MessageRef{Chat: req.Chat, MessageID: req.Update.Callback.MessageID})
	return r.editFlowPrompt(ctx, req, r.collectPrompt(s))
}

// onFlowMessage handles non-command messages from contributors: media
// while collecting, documents while awaiting attachments.
func (r *Router) onFlowMessage(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	s, ok := r.deps.Sessions.Get(req.From.ID)
	if !ok {
		// No session: only nudge on plain text, stay quiet on stray media.
		if strings.TrimSpace(msg.Text) != "" && !r.isModerator(req.From.ID) {
			_, _ = r.deps.Adapter.SendText(ctx, req.Chat, "Use /start to begin a submission.", nil)
		}
		return nil
	}

	switch s.Phase() {
	case session.PhaseCollecting:
		return r.onCollecting(ctx, req, s)
	case session.PhaseAwaitingAttachment:
		return r.onAwaitingAttachment(ctx, req, s)
	case session.PhaseConfirming:
		_, err := r.deps.Adapter.SendText(ctx, req.Chat,
			"Use the buttons above to submit, redo, or cancel.", nil)
		return err
	}
	return nil
}

func (r *Router) onCollecting(ctx context.Context, req *Request, s *session.Session) error {
	msg := req.Update.Message

	var item session.Item
	switch {
	case msg.Photo != nil:
		item = session.Item{Kind: session.MediaPhoto, FileID: msg.Photo.FileID}
	case msg.Video != nil:
		item = session.Item{Kind: session.MediaVideo, FileID: msg.Video.FileID}
	case msg.Document != nil:
		_, err := r.deps.Adapter.SendText(ctx, req.Chat,
			"Attachments come after the media: press Done first.", nil)
		return err
	default:
		_, err := r.deps.Adapter.SendText(ctx, req.Chat,
			"Send photos"+orVideos(s.Shape)+", or press Done when finished.", nil)
		return err
	}

	// Album items arrive as separate messages sharing a media group id;
	// buffer them so admission is all-or-nothing for the whole album.
	if msg.MediaGroupID != "" {
		r.bufferAlbumItem(req.From.ID, msg.MediaGroupID, req.Chat, item)
		return nil
	}
	return r.admitBatch(ctx, req.Chat, req.From.ID, []session.Item{item})
}

func (r *Router) bufferAlbumItem(contributorID int64, albumID string, chat kit.Chat, item session.Item) {
	b := r.albums[contributorID]
	if b != nil && b.id != albumID {
		// Different album started before the old one flushed; admit the
		// old batch now.
		b.timer.Stop()
		r.flushAlbumNow(contributorID)
		b = nil
	}
	if b == nil {
		b = &albumBatch{id: albumID, chat: chat}
		r.albums[contributorID] = b
	}
	b.items = append(b.items, item)
	if b.timer != nil {
		b.timer.Stop()
	}
	id := contributorID
	b.timer = time.AfterFunc(albumFlushDelay, func() {
		r.enqueueJob(func() { r.flushAlbumNow(id) })
	})
}

func (r *Router) flushAlbumNow(contributorID int64) {
	b := r.albums[contributorID]
	if b == nil {
		return
	}
	delete(r.albums, contributorID)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.admitBatch(ctx, b.chat, contributorID, b.items); err != nil {
		r.log.Warn("album admission notice failed", logx.Err(err))
	}
}

func (r *Router) admitBatch(ctx context.Context, chat kit.Chat, contributorID int64, batch []session.Item) error {
	s, ok := r.deps.Sessions.Get(contributorID)
	if !ok {
		return nil
	}
	count, err := s.AddMedia(batch)
	if err != nil {
		var notice string
		switch {
		case errors.Is(err, session.ErrLimitExceeded):
			notice = fmt.Sprintf("Too many: that would exceed the limit of %d. Nothing from this batch was added (%d/%d so far).",
				s.MediaLimit(), count, s.MediaLimit())
		case errors.Is(err, session.ErrWrongKind):
			notice = "This package type accepts photos only."
		case errors.Is(err, session.ErrWrongPhase):
			notice = "Media collection is already finished for this submission."
		default:
			notice = "That batch could not be added."
		}
		_, serr := r.deps.Adapter.SendText(ctx, chat, notice, nil)
		return serr
	}

	kb := tgui.NewInline().
		Row(tgui.Btn("✅ Done", tgui.Data("sub", "done")), tgui.Btn("✖️ Cancel", tgui.Data("sub", "cancel")))
	text := fmt.Sprintf("Collected %d/%d. Send more or press Done.", count, s.MediaLimit())
	ref, err := tgui.New().Line(text).Inline(kb).Build().Send(ctx, r.deps.Adapter, chat)
	if err != nil {
		return err
	}
	s.TrackPrompt(ref)
	return nil
}

func (r *Router) cbDone(ctx context.Context, req *Request) error {
	s, ok := r.deps.Sessions.Get(req.From.ID)
	if !ok {
		return r.editFlowPrompt(ctx, req, expiredPrompt())
	}
	phase, err := s.Done()
	if err != nil {
		if errors.Is(err, session.ErrNoMedia) {
			_, serr := r.deps.Adapter.SendText(ctx, req.Chat, "Add at least one item first.", nil)
			return serr
		}
		return nil
	}
	switch phase {
	case session.PhaseAwaitingAttachment:
		return r.promptAttachment(ctx, req.Chat, s)
	case session.PhaseConfirming:
		return r.sendSummary(ctx, req.Chat, s)
	}
	return nil
}

func (r *Router) onAwaitingAttachment(ctx context.Context, req *Request, s *session.Session) error {
	msg := req.Update.Message
	slot, _ := s.CurrentSlot()
	if msg.Document == nil {
		_, err := r.deps.Adapter.SendText(ctx, req.Chat,
			fmt.Sprintf("Send the %s file for %q now.", post.AttachmentExt, slot), nil)
		return err
	}

	phase, err := s.AddAttachment(msg.Document.FileID, msg.Document.FileName)
	if err != nil {
		// Wrong extension: no state change, prompt again.
		_, serr := r.deps.Adapter.SendText(ctx, req.Chat,
			fmt.Sprintf("%q is not a %s file. Send the %s file for %q.",
				msg.Document.FileName, post.AttachmentExt, post.AttachmentExt, slot), nil)
		return serr
	}
	if phase == session.PhaseConfirming {
		return r.sendSummary(ctx, req.Chat, s)
	}
	return r.promptAttachment(ctx, req.Chat, s)
}

func (r *Router) promptAttachment(ctx context.Context, chat kit.Chat, s *session.Session) error {
	slot, ok := s.CurrentSlot()
	if !ok {
		return nil
	}
	ref, err := tgui.New().
		Line(fmt.Sprintf("Now send the %q attachment (a %s file).", slot, post.AttachmentExt)).
		Build().Send(ctx, r.deps.Adapter, chat)
	if err != nil {
		return err
	}
	s.TrackPrompt(ref)
	return nil
}

func (r *Router) sendSummary(ctx context.Context, chat kit.Chat, s *session.Session) error {
	b := tgui.New().Title("📦", "Ready to submit").Blank().
		KV("Type", string(s.Shape)).
		KV("Photos", fmt.Sprintf("%d", s.PhotoCount()))
	if post.AcceptsVideo(s.Shape) {
		b.KV("Videos", fmt.Sprintf("%d", s.VideoCount()))
	}
	for _, a := range s.Attachments() {
		b.KV(a.Slot, a.FileName)
	}
	if cur, ok := r.deps.Channels.Current(); ok {
		b.KV("Channel", cur.DisplayTitle())
	} else {
		b.Blank().Line("Note: no destination channel is set yet.")
	}
	kb := tgui.NewInline().
		Row(tgui.Btn("🚀 Submit", tgui.Data("sub", "confirm"))).
		Row(tgui.Btn("🔄 Redo", tgui.Data("sub", "redo")), tgui.Btn("✖️ Cancel", tgui.Data("sub", "cancel")))
	ref, err := b.Inline(kb).Build().Send(ctx, r.deps.Adapter, chat)
	if err != nil {
		return err
	}
	s.TrackPrompt(ref)
	return nil
}

func (r *Router) cbConfirm(ctx context.Context, req *Request) error {
	s, ok := r.deps.Sessions.Get(req.From.ID)
	if !ok {
		return r.editFlowPrompt(ctx, req, expiredPrompt())
	}
	content, err := s.Content()
	if err != nil {
		return err
	}

	var destination string
	if cur, ok := r.deps.Channels.Current(); ok {
		destination = cur.ID
	}

	id, err := r.deps.Store.Add(req.From.ID, s.ContributorName, content, destination)

	// The session ends on confirm no matter what: a retry on a live
	// session would file the same submission twice.
	if ended, ok := r.deps.Sessions.End(req.From.ID); ok {
		r.discardPrompts(ended)
	}

	if err != nil {
		req.Logger.Error("submission rejected by store", logx.Err(err))
		_, serr := r.deps.Adapter.SendText(ctx, req.Chat,
			"Something went wrong saving your submission. Please start over with /start.", nil)
		return serr
	}

	_, err = tgui.New().
		Title("✅", fmt.Sprintf("Submission #%d received", id)).
		Line("It is now waiting for moderator review.").
		Build().Send(ctx, r.deps.Adapter, req.Chat)

	r.notifyChat(ctx, kit.ChatID(r.cfg.ModeratorID),
		fmt.Sprintf("🆕 New %s submission #%d from %s — /queue", content.Kind, id, s.ContributorName))
	return err
}

func (r *Router) cbRedo(ctx context.Context, req *Request) error {
	s, ok := r.deps.Sessions.Get(req.From.ID)
	if !ok {
		return r.editFlowPrompt(ctx, req, expiredPrompt())
	}
	if err := s.Redo(); err != nil {
		return nil
	}
	return r.editFlowPrompt(ctx, req, r.collectPrompt(s))
}

func (r *Router) cbCancelFlow(ctx context.Context, req *Request) error {
	if s, ok := r.deps.Sessions.End(req.From.ID); ok {
		r.discardPrompts(s)
	}
	return r.editFlowPrompt(ctx, req, tgui.New().Line("Submission discarded.").Build())
}

// editFlowPrompt rewrites the message the pressed button lives on;
// falls back to a fresh message when there is no callback context.
func (r *Router) editFlowPrompt(ctx context.Context, req *Request, m tgui.Message) error {
	if cb := req.Update.Callback; cb != nil {
		ref := kit.MessageRef{Chat: req.Chat, MessageID: cb.MessageID}
		if err := m.Edit(ctx, r.deps.Adapter, ref); err == nil {
			return nil
		}
	}
	_, err := m.Send(ctx, r.deps.Adapter, req.Chat)
	return err
}

// discardPrompts schedules the session's tracked UI messages for
// deletion. Slightly delayed so the final confirmation lands first.
func (r *Router) discardPrompts(s *session.Session) {
	for _, ref := range s.Prompts() {
		r.cleanup.Schedule(ref, 2*time.Second)
	}
}

func (r *Router) collectPrompt(s *session.Session) tgui.Message {
	b := tgui.New().Title("📷", "Collecting media").Blank()
	switch s.Shape {
	case post.ShapeRegular:
		b.Line(fmt.Sprintf("Send up to %d photos or videos, then press Done.", s.MediaLimit()))
	case post.ShapeLivery:
		b.Line(fmt.Sprintf("Send 1–%d photos, then press Done.", s.MediaLimit()))
		b.Line("After that I will ask for the body and glass " + post.AttachmentExt + " files.")
	case post.ShapeSticker:
		b.Line("Send exactly 1 photo, then press Done.")
		b.Line("After that I will ask for the sticker " + post.AttachmentExt + " file.")
	}
	kb := tgui.NewInline().
		Row(tgui.Btn("✅ Done", tgui.Data("sub", "done")), tgui.Btn("✖️ Cancel", tgui.Data("sub", "cancel")))
	return b.Inline(kb).Build()
}

func expiredPrompt() tgui.Message {
	return tgui.New().Line("This submission has expired. Use /start to begin a new one.").Build()
}

func orVideos(shape post.Shape) string {
	if post.AcceptsVideo(shape) {
		return " or videos"
	}
	return ""
}

func contributorName(u kit.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf("id%d", u.ID)
}
