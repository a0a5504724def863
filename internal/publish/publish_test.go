package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"postbot/internal/platform"
	"postbot/internal/store"
	kit "postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// fakePublisher implements platform.Publisher with a pluggable publish func.
type fakePublisher struct {
	publish func(ctx context.Context, dest store.Destination, content platform.Content) (string, error)
}

func (f *fakePublisher) ValidateCredential(ctx context.Context, credential string) bool { return true }
func (f *fakePublisher) ResolveDestination(ctx context.Context, ref, credential string) (platform.Resolved, error) {
	return platform.Resolved{ExternalID: ref}, nil
}
func (f *fakePublisher) Publish(ctx context.Context, dest store.Destination, content platform.Content) (string, error) {
	if f.publish == nil {
		return "ok", nil
	}
	return f.publish(ctx, dest, content)
}

// fakeTransport only serves photo downloads; nothing else is used here.
type fakeTransport struct {
	kit.Adapter
	photo string
}

func (f *fakeTransport) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if f.photo == "" {
		return nil, errors.New("no such file")
	}
	return io.NopCloser(strings.NewReader(f.photo)), nil
}

type fixture struct {
	store store.Store
	orch  *Orchestrator
	tg    *fakePublisher
	vk    *fakePublisher
	owner store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: t.TempDir() + "/pub.db"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	owner, err := st.EnsureUser(context.Background(), 100, "owner")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	tg := &fakePublisher{}
	vk := &fakePublisher{}
	reg := platform.NewRegistry()
	reg.Register(store.PlatformTelegram, tg)
	reg.Register(store.PlatformVK, vk)

	orch := New(Config{Workers: 2}, st, reg, &fakeTransport{photo: "jpeg-bytes"}, logx.Nop())
	return &fixture{store: st, orch: orch, tg: tg, vk: vk, owner: owner}
}

func (f *fixture) addDest(t *testing.T, p store.Platform, externalID string) store.Destination {
	t.Helper()
	d, err := f.store.CreateDestination(context.Background(), store.Destination{
		OwnerUserID: f.owner.ID, Platform: p, ExternalID: externalID, DisplayName: externalID,
	})
	if err != nil {
		t.Fatalf("CreateDestination: %v", err)
	}
	return d
}

func TestPublishEmptySelectionRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Publish(context.Background(), f.owner.ID, Content{Text: "hello"}, nil)
	if !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}

	// No orphan Post row.
	stats, _ := f.store.Stats(context.Background())
	if stats.Posts != 0 {
		t.Fatalf("expected no posts, got %d", stats.Posts)
	}
}

func TestPublishAllForeignIDsRejected(t *testing.T) {
	f := newFixture(t)

	other, _ := f.store.EnsureUser(context.Background(), 200, "other")
	d, err := f.store.CreateDestination(context.Background(), store.Destination{
		OwnerUserID: other.ID, Platform: store.PlatformTelegram, ExternalID: "@theirs", DisplayName: "theirs",
	})
	if err != nil {
		t.Fatalf("CreateDestination: %v", err)
	}

	_, err = f.orch.Publish(context.Background(), f.owner.ID, Content{Text: "hello"}, []int64{d.ID})
	if !errors.Is(err, ErrNoDestinations) {
		t.Fatalf("expected ErrNoDestinations, got %v", err)
	}
	stats, _ := f.store.Stats(context.Background())
	if stats.Posts != 0 {
		t.Fatalf("expected no posts, got %d", stats.Posts)
	}
}

func TestPublishPendingCommittedBeforeAdapterCall(t *testing.T) {
	f := newFixture(t)
	a := f.addDest(t, store.PlatformTelegram, "@a")
	b := f.addDest(t, store.PlatformTelegram, "@b")

	sawPending := false
	f.tg.publish = func(ctx context.Context, dest store.Destination, content platform.Content) (string, error) {
		// Both attempt rows must already exist when the first adapter call runs.
		attempts, err := f.store.AttemptsByPost(context.Background(), 1)
		if err == nil && len(attempts) == 2 {
			sawPending = true
		}
		return "msg", nil
	}

	rep, err := f.orch.Publish(context.Background(), f.owner.ID, Content{Text: "hi"}, []int64{a.ID, b.ID})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !sawPending {
		t.Fatalf("attempt rows were not committed before adapter calls")
	}
	if rep.Attempted != 2 || rep.Succeeded != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestPublishMixedOutcome(t *testing.T) {
	f := newFixture(t)
	tg := f.addDest(t, store.PlatformTelegram, "@mychannel")
	vk := f.addDest(t, store.PlatformVK, "555")

	f.vk.publish = func(ctx context.Context, dest store.Destination, content platform.Content) (string, error) {
		return "", errors.New("invalid credential")
	}

	rep, err := f.orch.Publish(context.Background(), f.owner.ID, Content{Text: "hello"}, []int64{tg.ID, vk.ID})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if rep.Attempted != 2 || rep.Succeeded != 1 {
		t.Fatalf("expected attempted=2 succeeded=1, got %+v", rep)
	}

	attempts, err := f.store.AttemptsByPost(context.Background(), rep.PostID)
	if err != nil {
		t.Fatalf("AttemptsByPost: %v", err)
	}
	byDest := map[int64]store.AttemptStatus{}
	for _, a := range attempts {
		if a.Status == store.StatusPending {
			t.Fatalf("no attempt may remain pending after publish: %+v", a)
		}
		byDest[a.DestinationID] = a.Status
	}
	if byDest[tg.ID] != store.StatusSent {
		t.Fatalf("telegram attempt should be sent, got %s", byDest[tg.ID])
	}
	if byDest[vk.ID] != store.StatusFailed {
		t.Fatalf("vk attempt should be failed, got %s", byDest[vk.ID])
	}
}

func TestPublishDropsForeignIDs(t *testing.T) {
	f := newFixture(t)
	mine := f.addDest(t, store.PlatformTelegram, "@mine")

	other, _ := f.store.EnsureUser(context.Background(), 200, "other")
	theirs, err := f.store.CreateDestination(context.Background(), store.Destination{
		OwnerUserID: other.ID, Platform: store.PlatformTelegram, ExternalID: "@theirs", DisplayName: "theirs",
	})
	if err != nil {
		t.Fatalf("CreateDestination: %v", err)
	}

	rep, err := f.orch.Publish(context.Background(), f.owner.ID, Content{Text: "hi"}, []int64{mine.ID, theirs.ID})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if rep.Attempted != 1 {
		t.Fatalf("foreign ids must be dropped, got attempted=%d", rep.Attempted)
	}
}

func TestStagedPhotoCleanedUpAfterFailures(t *testing.T) {
	f := newFixture(t)
	vk := f.addDest(t, store.PlatformVK, "555")

	var staged string
	f.vk.publish = func(ctx context.Context, dest store.Destination, content platform.Content) (string, error) {
		staged = content.PhotoPath
		if staged == "" {
			t.Errorf("expected a staged photo path")
			return "", errors.New("no photo")
		}
		if _, err := os.Stat(staged); err != nil {
			t.Errorf("staged photo must exist during delivery: %v", err)
		}
		panic("adapter blew up")
	}

	rep, err := f.orch.Publish(context.Background(), f.owner.ID,
		Content{Text: "hello", PhotoFileID: "file-1"}, []int64{vk.ID})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if rep.Attempted != 1 || rep.Succeeded != 0 {
		t.Fatalf("panicking adapter should count as failure, got %+v", rep)
	}

	if staged == "" {
		t.Fatalf("adapter never saw the staged photo")
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Fatalf("staged photo must be removed after publish, stat err=%v", err)
	}

	attempts, _ := f.store.AttemptsByPost(context.Background(), rep.PostID)
	if len(attempts) != 1 || attempts[0].Status != store.StatusFailed {
		t.Fatalf("expected one failed attempt, got %+v", attempts)
	}
}

func TestPublishFailureNeverAbortsSiblings(t *testing.T) {
	f := newFixture(t)
	a := f.addDest(t, store.PlatformVK, "1")
	b := f.addDest(t, store.PlatformVK, "2")
	c := f.addDest(t, store.PlatformVK, "3")

	f.vk.publish = func(ctx context.Context, dest store.Destination, content platform.Content) (string, error) {
		if dest.ExternalID == "2" {
			return "", errors.New("platform rejection")
		}
		return "ok", nil
	}

	rep, err := f.orch.Publish(context.Background(), f.owner.ID, Content{Text: "x"}, []int64{a.ID, b.ID, c.ID})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if rep.Attempted != 3 || rep.Succeeded != 2 {
		t.Fatalf("expected attempted=3 succeeded=2, got %+v", rep)
	}
}
