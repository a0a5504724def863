// Package bot routes incoming chat updates to command handlers and drives
// the multi-step authoring flows.
package bot

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"

	"postbot/internal/config"
	"postbot/internal/platform"
	"postbot/internal/publish"
	"postbot/internal/session"
	"postbot/internal/store"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
	"postbot/pkg/tgui"
)

type Bot struct {
	cfg      config.Config
	log      logx.Logger
	store    store.Store
	sessions *session.Manager
	orch     *publish.Orchestrator
	registry *platform.Registry
	adapter  kit.Adapter

	// userLocks serializes handling per user so one session never sees two
	// in-flight transitions. Striping keeps the table bounded no matter how
	// many distinct users the process ever sees.
	userLocks [64]sync.Mutex
}

func New(cfg config.Config, st store.Store, sessions *session.Manager, orch *publish.Orchestrator, registry *platform.Registry, adapter kit.Adapter, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{
		cfg:      cfg,
		log:      log,
		store:    st,
		sessions: sessions,
		orch:     orch,
		registry: registry,
		adapter:  adapter,
	}
}

// Run consumes updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			go b.dispatch(ctx, up)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, up kit.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	var userID int64
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return
		}
		userID = up.Message.FromID
	case kit.UpdateCallback:
		if up.Callback == nil {
			return
		}
		userID = up.Callback.FromID
	default:
		return
	}

	lock := b.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	switch up.Kind {
	case kit.UpdateMessage:
		b.handleMessage(ctx, up.Message)
	case kit.UpdateCallback:
		b.handleCallback(ctx, up.Callback)
	}
}

func (b *Bot) lockFor(userID int64) *sync.Mutex {
	return &b.userLocks[uint64(userID)%uint64(len(b.userLocks))]
}

func (b *Bot) handleMessage(ctx context.Context, m *kit.Message) {
	if cmd, ok := parseCommand(m.Text); ok {
		b.handleCommand(ctx, cmd, m)
		return
	}

	// Non-command input only matters inside a flow.
	s, ok := b.sessions.Get(m.FromID)
	if !ok {
		return
	}
	s.Do(func(s *session.Session) {
		switch s.State {
		case session.StateAwaitingTelegramID:
			b.onTelegramIDReceived(ctx, s, m)
		case session.StateAwaitingTelegramName:
			b.onTelegramNameReceived(ctx, s, m)
		case session.StateAwaitingCredential:
			b.onCredentialReceived(ctx, s, m)
		case session.StateAwaitingGroupRef:
			b.onGroupRefReceived(ctx, s, m)
		case session.StateAwaitingContent:
			b.onContentReceived(ctx, s, m)
		}
	})
}

func (b *Bot) handleCallback(ctx context.Context, cb *kit.Callback) {
	flow, action, payload := tgui.Split(cb.Data)

	s, ok := b.sessions.Get(cb.FromID)
	if !ok {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, msgSessionExpired)
		return
	}
	s.Do(func(s *session.Session) {
		switch {
		case flow == "dest" && action == "platform":
			b.onPlatformChosen(ctx, s, cb, payload)
		case flow == "post":
			b.onSelectionCallback(ctx, s, cb, action, payload)
		default:
			_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
		}
	})
}

func (b *Bot) handleCommand(ctx context.Context, cmd string, m *kit.Message) {
	switch cmd {
	case "start":
		b.cmdStart(ctx, m)
	case "help":
		b.cmdHelp(ctx, m)
	case "add_destination", "add_community":
		b.cmdAddDestination(ctx, m)
	case "destinations", "my_communities":
		b.cmdDestinations(ctx, m)
	case "new_post":
		b.cmdNewPost(ctx, m)
	case "forward_to_vk":
		b.cmdForwardToVK(ctx, m)
	case "cancel":
		b.cmdCancel(ctx, m)
	case "admin":
		b.cmdAdmin(ctx, m)
	case "stats":
		b.cmdStats(ctx, m)
	}
}

// parseCommand extracts "cmd" from "/cmd" or "/cmd@botname args".
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	first := strings.Fields(text)[0]
	first = strings.TrimPrefix(first, "/")
	if at := strings.IndexByte(first, '@'); at >= 0 {
		first = first[:at]
	}
	if first == "" {
		return "", false
	}
	return first, true
}

func (b *Bot) reply(ctx context.Context, m *kit.Message, text string) {
	if _, err := b.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, nil); err != nil {
		b.log.Warn("send failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}
