// Package telegram publishes by relaying the original message into the
// destination chat, preserving formatting and media in a single copy call.
package telegram

import (
	"context"
	"strconv"
	"strings"

	"postbot/internal/platform"
	"postbot/internal/store"
	kit "postbot/internal/transport"
)

type Publisher struct {
	transport kit.Adapter
}

func New(transport kit.Adapter) *Publisher {
	return &Publisher{transport: transport}
}

// ValidateCredential always succeeds: Telegram destinations ride on the bot's
// own token, there is no per-destination credential.
func (p *Publisher) ValidateCredential(ctx context.Context, credential string) bool {
	return true
}

// ResolveDestination looks up chat metadata for "@handle" or a numeric id.
// The caller may still override the display name during registration.
func (p *Publisher) ResolveDestination(ctx context.Context, ref, credential string) (platform.Resolved, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return platform.Resolved{}, platform.ErrDestinationNotFound
	}
	info, err := p.transport.ChatInfo(ctx, ref)
	if err != nil {
		return platform.Resolved{}, platform.ErrDestinationNotFound
	}
	return platform.Resolved{
		ExternalID:  strconv.FormatInt(info.ID, 10),
		DisplayName: info.Title,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, dest store.Destination, content platform.Content) (string, error) {
	chatID, err := strconv.ParseInt(dest.ExternalID, 10, 64)
	var to kit.ChatTarget
	if err != nil {
		// Destinations registered by @handle keep the handle as external id;
		// resolve it at publish time.
		info, ierr := p.transport.ChatInfo(ctx, dest.ExternalID)
		if ierr != nil {
			return "", ierr
		}
		to = kit.ChatTarget{ChatID: info.ID}
	} else {
		to = kit.ChatTarget{ChatID: chatID}
	}

	ref, err := p.transport.CopyMessage(ctx, to, kit.MessageRef{
		ChatID:    content.SourceChatID,
		MessageID: content.SourceMessageID,
	})
	if err != nil {
		return "", err
	}
	return strconv.Itoa(ref.MessageID), nil
}
