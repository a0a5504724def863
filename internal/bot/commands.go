package bot

import (
	"context"
	"fmt"
	"strings"

	"postbot/internal/session"
	"postbot/internal/store"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

func (b *Bot) cmdStart(ctx context.Context, m *kit.Message) {
	if _, err := b.store.EnsureUser(ctx, m.FromID, m.FromUsername); err != nil {
		b.log.Error("ensure user failed", logx.Int64("from_id", m.FromID), logx.Err(err))
		b.reply(ctx, m, userMessage(err))
		return
	}
	b.reply(ctx, m, msgGreeting)
}

func (b *Bot) cmdHelp(ctx context.Context, m *kit.Message) {
	b.reply(ctx, m, msgHelp)
}

func (b *Bot) cmdCancel(ctx context.Context, m *kit.Message) {
	if _, ok := b.sessions.Get(m.FromID); !ok {
		b.reply(ctx, m, msgNothingToCancel)
		return
	}
	b.sessions.End(m.FromID)
	b.reply(ctx, m, msgCancelled)
}

func (b *Bot) cmdDestinations(ctx context.Context, m *kit.Message) {
	user, err := b.store.EnsureUser(ctx, m.FromID, m.FromUsername)
	if err != nil {
		b.reply(ctx, m, userMessage(err))
		return
	}
	dests, err := b.store.ListDestinations(ctx, user.ID)
	if err != nil {
		b.log.Error("list destinations failed", logx.Int64("user_id", user.ID), logx.Err(err))
		b.reply(ctx, m, userMessage(err))
		return
	}
	if len(dests) == 0 {
		b.reply(ctx, m, msgNoDestinations)
		return
	}

	var sb strings.Builder
	sb.WriteString("Your destinations:\n")
	for _, d := range dests {
		sb.WriteString(fmt.Sprintf("\n%s — %s (%s)", platformBadge(d.Platform), d.DisplayName, d.ExternalID))
		if d.Platform == store.PlatformVK {
			if d.Credential != "" {
				sb.WriteString(" ✅token")
			} else {
				sb.WriteString(" ❌token")
			}
		}
	}
	b.reply(ctx, m, sb.String())
}

func (b *Bot) cmdAdmin(ctx context.Context, m *kit.Message) {
	if !b.cfg.IsAdmin(m.FromID) {
		b.reply(ctx, m, msgNotAdmin)
		return
	}
	b.reply(ctx, m, msgAdminPanel)
}

func (b *Bot) cmdStats(ctx context.Context, m *kit.Message) {
	if !b.cfg.IsAdmin(m.FromID) {
		return
	}
	st, err := b.store.Stats(ctx)
	if err != nil {
		b.log.Error("stats query failed", logx.Err(err))
		b.reply(ctx, m, userMessage(err))
		return
	}
	b.reply(ctx, m, fmt.Sprintf(
		"Statistics:\n\n👥 Users: %d\n🏘 Destinations: %d\n📝 Posts: %d",
		st.Users, st.Destinations, st.Posts))
}

// cmdForwardToVK publishes the replied-to message to all of the caller's VK
// destinations through the regular orchestrator.
func (b *Bot) cmdForwardToVK(ctx context.Context, m *kit.Message) {
	if m.ReplyTo == nil {
		b.reply(ctx, m, msgReplyRequired)
		return
	}
	user, err := b.store.EnsureUser(ctx, m.FromID, m.FromUsername)
	if err != nil {
		b.reply(ctx, m, userMessage(err))
		return
	}
	dests, err := b.store.ListDestinations(ctx, user.ID)
	if err != nil {
		b.reply(ctx, m, userMessage(err))
		return
	}
	var vkIDs []int64
	for _, d := range dests {
		if d.Platform == store.PlatformVK {
			vkIDs = append(vkIDs, d.ID)
		}
	}
	if len(vkIDs) == 0 {
		b.reply(ctx, m, msgNoVKDestinations)
		return
	}

	content := contentFromMessage(m.ReplyTo)
	if content.Empty() {
		b.reply(ctx, m, msgEmptyContent)
		return
	}

	rep, err := b.orch.Publish(ctx, user.ID, toPublishContent(content), vkIDs)
	if err != nil {
		b.log.Warn("forward to vk failed", logx.Int64("user_id", user.ID), logx.Err(err))
		b.reply(ctx, m, userMessage(err))
		return
	}
	b.reply(ctx, m, reportText(rep))
}

// contentFromMessage captures text, a photo, or an image sent as a document.
// Non-image documents are ignored for content purposes.
func contentFromMessage(m *kit.Message) session.Content {
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	photo := m.PhotoFileID
	if photo == "" && m.DocumentFileID != "" &&
		strings.HasPrefix(strings.ToLower(m.DocumentMime), "image/") {
		photo = m.DocumentFileID
	}
	return session.Content{
		Text:            text,
		PhotoFileID:     photo,
		SourceChatID:    m.ChatID,
		SourceMessageID: m.ID,
	}
}
