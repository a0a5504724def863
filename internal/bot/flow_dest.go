package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"postbot/internal/session"
	"postbot/internal/store"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

func (b *Bot) cmdAddDestination(ctx context.Context, m *kit.Message) {
	if _, err := b.store.EnsureUser(ctx, m.FromID, m.FromUsername); err != nil {
		b.reply(ctx, m, userMessage(err))
		return
	}
	b.sessions.Begin(m.FromID, session.FlowAddDestination, session.StateAwaitingPlatformChoice)
	opt := &kit.SendOptions{ReplyMarkupAdapter: platformKeyboard().Markup()}
	if _, err := b.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, msgChoosePlatform, opt); err != nil {
		b.log.Warn("send failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

func (b *Bot) onPlatformChosen(ctx context.Context, s *session.Session, cb *kit.Callback, payload string) {
	if s.State != session.StateAwaitingPlatformChoice {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch payload {
	case "tg":
		s.Platform = store.PlatformTelegram
		s.State = session.StateAwaitingTelegramID
		_ = b.adapter.EditText(ctx, ref, msgAskTelegramID, nil)
	case "vk":
		s.Platform = store.PlatformVK
		s.State = session.StateAwaitingCredential
		_ = b.adapter.EditText(ctx, ref, b.vkTokenPrompt(), nil)
	default:
		// Unsupported platform choice terminates the flow immediately.
		b.sessions.End(s.UserID)
		_ = b.adapter.EditText(ctx, ref, msgUnsupportedPlatform, nil)
	}
	_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
}

func (b *Bot) onTelegramIDReceived(ctx context.Context, s *session.Session, m *kit.Message) {
	ref := strings.TrimSpace(m.Text)
	if ref == "" {
		b.reply(ctx, m, msgAskTelegramID)
		return
	}

	// Canonicalize to a numeric chat id when the chat is reachable; keep the
	// raw reference otherwise (the bot may be added as admin later).
	s.RawRef = ref
	s.ExternalID = ref
	if pub, err := b.registry.For(store.PlatformTelegram); err == nil {
		if resolved, err := pub.ResolveDestination(ctx, ref, ""); err == nil {
			s.ExternalID = resolved.ExternalID
		}
	}

	s.State = session.StateAwaitingTelegramName
	b.reply(ctx, m, msgAskTelegramName)
}

func (b *Bot) onTelegramNameReceived(ctx context.Context, s *session.Session, m *kit.Message) {
	name := strings.TrimSpace(m.Text)
	if name == "" {
		b.reply(ctx, m, msgAskTelegramName)
		return
	}
	s.DisplayName = name
	b.finishAddDestination(ctx, s, m)
}

func (b *Bot) onCredentialReceived(ctx context.Context, s *session.Session, m *kit.Message) {
	token := strings.TrimSpace(m.Text)

	// Scrub the token from chat history before anything else.
	if err := b.adapter.DeleteMessage(ctx, kit.MessageRef{ChatID: m.ChatID, MessageID: m.ID}); err != nil {
		b.log.Warn("could not delete credential message", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}

	pub, err := b.registry.For(store.PlatformVK)
	if err != nil {
		b.sessions.End(s.UserID)
		b.reply(ctx, m, userMessage(err))
		return
	}
	if token == "" || !pub.ValidateCredential(ctx, token) {
		// Validation rejection: re-prompt, do not advance.
		b.reply(ctx, m, msgInvalidVKToken)
		return
	}

	s.Credential = token
	s.State = session.StateAwaitingGroupRef
	b.reply(ctx, m, msgAskVKGroup)
}

func (b *Bot) onGroupRefReceived(ctx context.Context, s *session.Session, m *kit.Message) {
	pub, err := b.registry.For(store.PlatformVK)
	if err != nil {
		b.sessions.End(s.UserID)
		b.reply(ctx, m, userMessage(err))
		return
	}
	resolved, err := pub.ResolveDestination(ctx, m.Text, s.Credential)
	if err != nil {
		b.reply(ctx, m, msgGroupNotFound)
		return
	}

	s.ExternalID = resolved.ExternalID
	s.DisplayName = resolved.DisplayName
	b.finishAddDestination(ctx, s, m)
}

func (b *Bot) finishAddDestination(ctx context.Context, s *session.Session, m *kit.Message) {
	user, err := b.store.EnsureUser(ctx, m.FromID, m.FromUsername)
	if err != nil {
		b.sessions.End(s.UserID)
		b.reply(ctx, m, userMessage(err))
		return
	}

	// A channel first registered by @handle (while the bot could not see the
	// chat) must collapse onto the canonical id once resolution succeeds, or
	// the uniqueness key would admit two rows for one channel.
	if s.RawRef != "" && s.RawRef != s.ExternalID {
		if err := b.store.CanonicalizeDestination(ctx, user.ID, s.Platform, s.RawRef, s.ExternalID); err != nil {
			b.log.Warn("destination canonicalization failed",
				logx.String("from", s.RawRef), logx.String("to", s.ExternalID), logx.Err(err))
		}
	}

	dest, err := b.store.CreateDestination(ctx, store.Destination{
		OwnerUserID: user.ID,
		Platform:    s.Platform,
		ExternalID:  s.ExternalID,
		DisplayName: s.DisplayName,
		Credential:  s.Credential,
	})
	b.sessions.End(s.UserID)

	switch {
	case errors.Is(err, store.ErrDuplicate):
		b.reply(ctx, m, fmt.Sprintf("ℹ️ %s is already registered.", dest.DisplayName))
	case err != nil:
		b.log.Error("create destination failed",
			logx.Int64("user_id", user.ID), logx.String("platform", string(s.Platform)), logx.Err(err))
		b.reply(ctx, m, userMessage(err))
	case s.Platform == store.PlatformVK:
		b.reply(ctx, m, fmt.Sprintf("✅ VK community added: %s (id=%s)", dest.DisplayName, dest.ExternalID))
	default:
		b.reply(ctx, m, fmt.Sprintf("✅ Telegram channel added: %s", dest.DisplayName))
	}
}
