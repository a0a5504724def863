package platform

import (
	"context"
	"errors"

	"postbot/internal/store"
)

var (
	ErrUnsupported         = errors.New("unsupported platform")
	ErrDestinationNotFound = errors.New("destination not found")
)

// Content is the authored payload handed to a publisher.
//
// Source* reference the originating chat message (used by the Telegram
// relay-copy publisher). PhotoPath points at the staged photo file, if any
// (used by the VK publisher); it is owned by the publish invocation and must
// be treated as read-only.
type Content struct {
	Text            string
	SourceChatID    int64
	SourceMessageID int
	PhotoPath       string
}

// Resolved is the canonical form of a user-supplied destination reference.
type Resolved struct {
	ExternalID  string
	DisplayName string
}

// Publisher is the per-platform capability interface. Each call is stateless;
// implementations hold only their transport clients.
type Publisher interface {
	// ValidateCredential performs a minimal authenticated call. Used at
	// registration time only; publish trusts the stored credential.
	ValidateCredential(ctx context.Context, credential string) bool

	// ResolveDestination turns a user-supplied identifier (numeric id,
	// @handle, URL, short name) into a canonical external id and display name.
	ResolveDestination(ctx context.Context, ref, credential string) (Resolved, error)

	// Publish delivers content to one destination and returns an external
	// post identifier. Any error marks the delivery attempt FAILED.
	Publish(ctx context.Context, dest store.Destination, content Content) (string, error)
}

// Registry selects a Publisher by platform tag. Adding a platform means
// registering one more Publisher; callers never branch on the tag themselves.
type Registry struct {
	publishers map[store.Platform]Publisher
}

func NewRegistry() *Registry {
	return &Registry{publishers: map[store.Platform]Publisher{}}
}

func (r *Registry) Register(p store.Platform, pub Publisher) {
	r.publishers[p] = pub
}

func (r *Registry) For(p store.Platform) (Publisher, error) {
	pub, ok := r.publishers[p]
	if !ok {
		return nil, ErrUnsupported
	}
	return pub, nil
}
