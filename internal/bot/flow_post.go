package bot

import (
	"context"
	"strconv"

	"postbot/internal/publish"
	"postbot/internal/session"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

func (b *Bot) cmdNewPost(ctx context.Context, m *kit.Message) {
	if _, err := b.store.EnsureUser(ctx, m.FromID, m.FromUsername); err != nil {
		b.reply(ctx, m, userMessage(err))
		return
	}
	b.sessions.Begin(m.FromID, session.FlowNewPost, session.StateAwaitingContent)
	b.reply(ctx, m, msgAskContent)
}

func (b *Bot) onContentReceived(ctx context.Context, s *session.Session, m *kit.Message) {
	content := contentFromMessage(m)
	if content.Empty() {
		// Empty submission: re-prompt, stay in the same state.
		b.reply(ctx, m, msgEmptyContent)
		return
	}
	s.Content = content

	user, err := b.store.EnsureUser(ctx, m.FromID, m.FromUsername)
	if err != nil {
		b.sessions.End(s.UserID)
		b.reply(ctx, m, userMessage(err))
		return
	}
	dests, err := b.store.ListDestinations(ctx, user.ID)
	if err != nil {
		b.log.Error("list destinations failed", logx.Int64("user_id", user.ID), logx.Err(err))
		b.sessions.End(s.UserID)
		b.reply(ctx, m, userMessage(err))
		return
	}
	if len(dests) == 0 {
		b.sessions.End(s.UserID)
		b.reply(ctx, m, msgNoDestinations)
		return
	}

	s.OwnerID = user.ID
	s.AllDestIDs = make([]int64, len(dests))
	for i, d := range dests {
		s.AllDestIDs[i] = d.ID
	}

	opt := &kit.SendOptions{ReplyMarkupAdapter: selectionKeyboard(dests, s).Markup()}
	ref, err := b.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, msgChooseDestinations, opt)
	if err != nil {
		b.log.Warn("send failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		b.sessions.End(s.UserID)
		return
	}
	s.KeyboardMsg.ChatID = ref.ChatID
	s.KeyboardMsg.MessageID = ref.MessageID
	s.State = session.StateAwaitingSelection
}

func (b *Bot) onSelectionCallback(ctx context.Context, s *session.Session, cb *kit.Callback, action, payload string) {
	if s.State != session.StateAwaitingSelection {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	ref := kit.MessageRef{ChatID: s.KeyboardMsg.ChatID, MessageID: s.KeyboardMsg.MessageID}

	switch action {
	case "sel":
		destID, err := strconv.ParseInt(payload, 10, 64)
		if err != nil {
			_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
			return
		}
		s.Toggle(destID)
		b.refreshSelectionKeyboard(ctx, s, ref)
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")

	case "cancel":
		b.sessions.End(s.UserID)
		_ = b.adapter.EditText(ctx, ref, msgCancelled, nil)
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")

	case "confirm":
		selected := s.SelectedIDs()
		if len(selected) == 0 {
			// Keep the dialog alive; the operator can still toggle and retry.
			_ = b.adapter.AnswerCallback(ctx, cb.ID, msgNeedSelection)
			return
		}
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
		_ = b.adapter.EditText(ctx, ref, "Publishing…", nil)

		rep, err := b.orch.Publish(ctx, s.OwnerID, toPublishContent(s.Content), selected)
		b.sessions.End(s.UserID)
		if err != nil {
			b.log.Warn("publish failed", logx.Int64("user_id", s.UserID), logx.Err(err))
			_ = b.adapter.EditText(ctx, ref, userMessage(err), nil)
			return
		}
		_ = b.adapter.EditText(ctx, ref, reportText(rep), nil)

	default:
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
	}
}

func (b *Bot) refreshSelectionKeyboard(ctx context.Context, s *session.Session, ref kit.MessageRef) {
	dests, err := b.store.DestinationsByIDs(ctx, s.OwnerID, s.AllDestIDs)
	if err != nil {
		b.log.Warn("keyboard refresh failed", logx.Int64("user_id", s.UserID), logx.Err(err))
		return
	}
	if err := b.adapter.EditMarkup(ctx, ref, selectionKeyboard(dests, s).Markup()); err != nil {
		b.log.Warn("keyboard edit failed", logx.Int64("chat_id", ref.ChatID), logx.Err(err))
	}
}

func toPublishContent(c session.Content) publish.Content {
	return publish.Content{
		Text:            c.Text,
		PhotoFileID:     c.PhotoFileID,
		SourceChatID:    c.SourceChatID,
		SourceMessageID: c.SourceMessageID,
	}
}
