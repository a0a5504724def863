package bot

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"postbot/internal/config"
	"postbot/internal/platform"
	tgpub "postbot/internal/platform/telegram"
	"postbot/internal/publish"
	"postbot/internal/session"
	"postbot/internal/store"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// fakeAdapter records outbound calls so tests can assert on side effects.
type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	edits    []string
	deleted  []kit.MessageRef
	answered []string
	nextID   int

	// chatInfo overrides chat resolution; nil means "chat not visible".
	chatInfo func(ref string) (kit.ChatInfo, error)
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) EditMarkup(ctx context.Context, ref kit.MessageRef, markup any) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, text)
	return nil
}

func (f *fakeAdapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeAdapter) CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) ChatInfo(ctx context.Context, ref string) (kit.ChatInfo, error) {
	if f.chatInfo != nil {
		return f.chatInfo(ref)
	}
	return kit.ChatInfo{}, errors.New("chat not visible")
}

func (f *fakeAdapter) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return nil, errors.New("no such file")
}

func (f *fakeAdapter) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeAdapter) lastEdit() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

// fakeVKPublisher stands in for the VK platform publisher.
type fakeVKPublisher struct {
	valid      bool
	resolved   platform.Resolved
	resolveErr error
}

func (f *fakeVKPublisher) ValidateCredential(ctx context.Context, credential string) bool {
	return f.valid
}

func (f *fakeVKPublisher) ResolveDestination(ctx context.Context, ref, credential string) (platform.Resolved, error) {
	return f.resolved, f.resolveErr
}

func (f *fakeVKPublisher) Publish(ctx context.Context, dest store.Destination, content platform.Content) (string, error) {
	return "1", nil
}

func newTestBot(t *testing.T, adapter kit.Adapter, vkPub platform.Publisher) *Bot {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	registry := platform.NewRegistry()
	registry.Register(store.PlatformTelegram, tgpub.New(adapter))
	if vkPub != nil {
		registry.Register(store.PlatformVK, vkPub)
	}
	orch := publish.New(publish.Config{}, st, registry, adapter, logx.Nop())
	return New(config.Config{}, st, session.NewManager(), orch, registry, adapter, logx.Nop())
}

func TestNewPostEmptyContentDoesNotAdvance(t *testing.T) {
	fa := &fakeAdapter{}
	b := newTestBot(t, fa, nil)
	ctx := context.Background()

	b.handleMessage(ctx, &kit.Message{ID: 1, ChatID: 10, FromID: 7, Text: "/new_post"})
	// A non-image document carries no publishable content.
	b.handleMessage(ctx, &kit.Message{ID: 2, ChatID: 10, FromID: 7, DocumentFileID: "d1", DocumentMime: "application/pdf"})

	s, ok := b.sessions.Get(7)
	if !ok {
		t.Fatalf("session discarded on empty content")
	}
	if s.State != session.StateAwaitingContent {
		t.Fatalf("expected state %q after rejection, got %q", session.StateAwaitingContent, s.State)
	}
	if got := fa.lastSent(); got != msgEmptyContent {
		t.Fatalf("expected empty-content re-prompt, got %q", got)
	}
}

func TestUnknownPlatformChoiceEndsSession(t *testing.T) {
	fa := &fakeAdapter{}
	b := newTestBot(t, fa, nil)
	ctx := context.Background()

	b.handleMessage(ctx, &kit.Message{ID: 1, ChatID: 10, FromID: 7, Text: "/add_destination"})
	b.handleCallback(ctx, &kit.Callback{ID: "cb1", FromID: 7, ChatID: 10, MessageID: 5, Data: "dest:platform:myspace"})

	if _, ok := b.sessions.Get(7); ok {
		t.Fatalf("expected session terminated on unsupported platform")
	}
	if got := fa.lastEdit(); got != msgUnsupportedPlatform {
		t.Fatalf("expected %q, got %q", msgUnsupportedPlatform, got)
	}
}

func TestInvalidVKTokenRepromptsAndScrubsMessage(t *testing.T) {
	fa := &fakeAdapter{}
	b := newTestBot(t, fa, &fakeVKPublisher{valid: false})
	ctx := context.Background()

	b.handleMessage(ctx, &kit.Message{ID: 1, ChatID: 10, FromID: 7, Text: "/add_destination"})
	b.handleCallback(ctx, &kit.Callback{ID: "cb1", FromID: 7, ChatID: 10, MessageID: 5, Data: "dest:platform:vk"})
	b.handleMessage(ctx, &kit.Message{ID: 9, ChatID: 10, FromID: 7, Text: "not-a-token"})

	s, ok := b.sessions.Get(7)
	if !ok {
		t.Fatalf("session discarded on invalid token")
	}
	if s.State != session.StateAwaitingCredential {
		t.Fatalf("expected state %q after rejection, got %q", session.StateAwaitingCredential, s.State)
	}
	if got := fa.lastSent(); got != msgInvalidVKToken {
		t.Fatalf("expected invalid-token re-prompt, got %q", got)
	}
	if len(fa.deleted) != 1 || fa.deleted[0].MessageID != 9 || fa.deleted[0].ChatID != 10 {
		t.Fatalf("token message not scrubbed from chat: %+v", fa.deleted)
	}
}

func TestAddVKDestinationHappyPath(t *testing.T) {
	fa := &fakeAdapter{}
	b := newTestBot(t, fa, &fakeVKPublisher{
		valid:    true,
		resolved: platform.Resolved{ExternalID: "123456", DisplayName: "My Group"},
	})
	ctx := context.Background()

	b.handleMessage(ctx, &kit.Message{ID: 1, ChatID: 10, FromID: 7, Text: "/add_destination"})
	b.handleCallback(ctx, &kit.Callback{ID: "cb1", FromID: 7, ChatID: 10, MessageID: 5, Data: "dest:platform:vk"})
	b.handleMessage(ctx, &kit.Message{ID: 2, ChatID: 10, FromID: 7, Text: "tok-abc"})

	s, ok := b.sessions.Get(7)
	if !ok || s.State != session.StateAwaitingGroupRef {
		t.Fatalf("expected group-ref prompt after valid token")
	}

	b.handleMessage(ctx, &kit.Message{ID: 3, ChatID: 10, FromID: 7, Text: "mygroup"})
	if _, ok := b.sessions.Get(7); ok {
		t.Fatalf("expected session ended after registration")
	}

	user, err := b.store.EnsureUser(ctx, 7, "")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	dests, err := b.store.ListDestinations(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListDestinations: %v", err)
	}
	if len(dests) != 1 {
		t.Fatalf("expected one destination, got %d", len(dests))
	}
	d := dests[0]
	if d.Platform != store.PlatformVK || d.ExternalID != "123456" || d.Credential != "tok-abc" {
		t.Fatalf("unexpected destination: %+v", d)
	}
}

func TestVKGroupNotFoundReprompts(t *testing.T) {
	fa := &fakeAdapter{}
	b := newTestBot(t, fa, &fakeVKPublisher{
		valid:      true,
		resolveErr: platform.ErrDestinationNotFound,
	})
	ctx := context.Background()

	b.handleMessage(ctx, &kit.Message{ID: 1, ChatID: 10, FromID: 7, Text: "/add_destination"})
	b.handleCallback(ctx, &kit.Callback{ID: "cb1", FromID: 7, ChatID: 10, MessageID: 5, Data: "dest:platform:vk"})
	b.handleMessage(ctx, &kit.Message{ID: 2, ChatID: 10, FromID: 7, Text: "tok-abc"})
	b.handleMessage(ctx, &kit.Message{ID: 3, ChatID: 10, FromID: 7, Text: "no-such-group"})

	s, ok := b.sessions.Get(7)
	if !ok || s.State != session.StateAwaitingGroupRef {
		t.Fatalf("expected to stay in group-ref state after failed resolve")
	}
	if got := fa.lastSent(); got != msgGroupNotFound {
		t.Fatalf("expected %q, got %q", msgGroupNotFound, got)
	}
}

func TestTelegramHandleCollapsesOntoCanonicalID(t *testing.T) {
	fa := &fakeAdapter{}
	b := newTestBot(t, fa, nil)
	ctx := context.Background()

	addChannel := func() {
		b.handleMessage(ctx, &kit.Message{ID: 1, ChatID: 10, FromID: 7, Text: "/add_destination"})
		b.handleCallback(ctx, &kit.Callback{ID: "cb1", FromID: 7, ChatID: 10, MessageID: 5, Data: "dest:platform:tg"})
		b.handleMessage(ctx, &kit.Message{ID: 2, ChatID: 10, FromID: 7, Text: "@chan"})
		b.handleMessage(ctx, &kit.Message{ID: 3, ChatID: 10, FromID: 7, Text: "My Channel"})
	}

	// First registration while the bot cannot see the chat keeps the raw handle.
	addChannel()

	// Re-registering once resolution works must not leave two rows for the
	// same channel.
	fa.chatInfo = func(ref string) (kit.ChatInfo, error) {
		return kit.ChatInfo{ID: -100123, Title: "My Channel"}, nil
	}
	addChannel()

	user, err := b.store.EnsureUser(ctx, 7, "")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	dests, err := b.store.ListDestinations(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListDestinations: %v", err)
	}
	if len(dests) != 1 {
		t.Fatalf("expected one destination after canonicalization, got %d: %+v", len(dests), dests)
	}
	if dests[0].ExternalID != "-100123" {
		t.Fatalf("expected canonical external id, got %q", dests[0].ExternalID)
	}
}

func TestCancelDiscardsFlow(t *testing.T) {
	fa := &fakeAdapter{}
	b := newTestBot(t, fa, nil)
	ctx := context.Background()

	b.handleMessage(ctx, &kit.Message{ID: 1, ChatID: 10, FromID: 7, Text: "/new_post"})
	b.handleMessage(ctx, &kit.Message{ID: 2, ChatID: 10, FromID: 7, Text: "/cancel"})

	if _, ok := b.sessions.Get(7); ok {
		t.Fatalf("expected session discarded by /cancel")
	}
	if got := fa.lastSent(); got != msgCancelled {
		t.Fatalf("expected %q, got %q", msgCancelled, got)
	}
}
