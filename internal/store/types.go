package store

import (
	"errors"
	"time"
)

var (
	// ErrDuplicate signals that a destination with the same
	// (owner, platform, external id) already exists. Callers treat it as
	// benign: the existing record is returned alongside.
	ErrDuplicate = errors.New("destination already exists")

	ErrNotFound = errors.New("not found")
)

type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformVK       Platform = "vk"
)

type AttemptStatus string

const (
	StatusPending AttemptStatus = "pending"
	StatusSent    AttemptStatus = "sent"
	StatusFailed  AttemptStatus = "failed"
)

// User is created lazily on first interaction, keyed by the originating
// Telegram identity.
type User struct {
	ID         int64
	TelegramID int64
	Username   string
	CreatedAt  time.Time
}

// Destination is a registered external channel or community.
// Credential is empty for Telegram and holds the community token for VK.
type Destination struct {
	ID          int64
	OwnerUserID int64
	Platform    Platform
	ExternalID  string
	DisplayName string
	Credential  string
	CreatedAt   time.Time
}

// Post records one publish action. SourceChatID/SourceMessageID reference the
// originating chat message used to replicate content.
type Post struct {
	ID              int64
	OwnerUserID     int64
	SourceChatID    int64
	SourceMessageID int
	CreatedAt       time.Time
}

// DeliveryAttempt is one (post, destination) delivery record. It is created
// PENDING and transitions exactly once to SENT or FAILED.
type DeliveryAttempt struct {
	ID            int64
	PostID        int64
	DestinationID int64
	Status        AttemptStatus
	SentAt        *time.Time
}

// Stats are aggregate counts for the admin panel.
type Stats struct {
	Users        int64
	Destinations int64
	Posts        int64
}
