// Package vk publishes wall posts to VK communities using per-destination
// community tokens.
package vk

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"postbot/internal/platform"
	"postbot/internal/store"
	logx "postbot/pkg/logx"
)

type Publisher struct {
	client *Client
	log    logx.Logger
}

func New(client *Client, log logx.Logger) *Publisher {
	if client == nil {
		client = NewClient()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Publisher{client: client, log: log}
}

func (p *Publisher) ValidateCredential(ctx context.Context, credential string) bool {
	return p.client.CheckToken(ctx, credential) == nil
}

// ResolveDestination accepts "123", "-123", "club123", "public123",
// "vk.com/mygroup", "mygroup" and resolves to a numeric group id plus the
// group's display name.
func (p *Publisher) ResolveDestination(ctx context.Context, ref, credential string) (platform.Resolved, error) {
	clean := normalizeGroupRef(ref)
	if clean == "" {
		return platform.Resolved{}, platform.ErrDestinationNotFound
	}

	if !isDigits(clean) {
		resolved, err := p.client.ResolveScreenName(ctx, credential, clean)
		if err != nil {
			p.log.Warn("vk screen name resolution failed", logx.String("ref", ref), logx.Err(err))
			return platform.Resolved{}, platform.ErrDestinationNotFound
		}
		if resolved.Type != "group" || resolved.ObjectID == 0 {
			return platform.Resolved{}, platform.ErrDestinationNotFound
		}
		clean = strconv.FormatInt(resolved.ObjectID, 10)
	}

	group, err := p.client.GroupByID(ctx, credential, clean)
	if err != nil {
		p.log.Warn("vk group lookup failed", logx.String("ref", ref), logx.Err(err))
		return platform.Resolved{}, platform.ErrDestinationNotFound
	}
	name := group.Name
	if name == "" {
		name = "VK " + clean
	}
	return platform.Resolved{
		ExternalID:  strconv.FormatInt(group.ID, 10),
		DisplayName: name,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, dest store.Destination, content platform.Content) (string, error) {
	groupID := strings.TrimPrefix(dest.ExternalID, "-")

	var attachments []string
	if content.PhotoPath != "" {
		ref, err := p.client.UploadWallPhoto(ctx, dest.Credential, groupID, content.PhotoPath)
		switch {
		case err == nil:
			attachments = append(attachments, ref)
		case isPhotoUploadForbidden(err):
			// Community tokens cannot upload wall photos. Degrade to a
			// text-only post instead of failing the attempt.
			p.log.Warn("vk wall photo upload unavailable for this token, posting text only",
				logx.String("group", groupID))
		default:
			p.log.Warn("vk wall photo upload failed, posting text only",
				logx.String("group", groupID), logx.Err(err))
		}
	}

	postID, err := p.client.WallPost(ctx, dest.Credential, groupID, content.Text, attachments)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(postID, 10), nil
}

func isPhotoUploadForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == errCodePhotoUploadForbidden
}

// normalizeGroupRef strips host and type prefixes from a user-supplied group
// reference. Type prefixes (club/public/event) are only stripped when the
// remainder is numeric, so screen names like "clubhouse" survive intact.
func normalizeGroupRef(ref string) string {
	clean := strings.TrimSpace(ref)
	for _, prefix := range []string{"https://vk.com/", "http://vk.com/", "vk.com/"} {
		if strings.HasPrefix(clean, prefix) {
			clean = clean[len(prefix):]
			break
		}
	}
	clean = strings.TrimPrefix(clean, "-")
	for _, prefix := range []string{"club", "public", "event"} {
		if rest := strings.TrimPrefix(clean, prefix); rest != clean && isDigits(rest) {
			return rest
		}
	}
	return clean
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
