package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Caption      string

	// PhotoFileID is the file id of the largest photo size, if the message
	// carried a photo.
	PhotoFileID string

	// DocumentFileID / DocumentMime are set when the message carried a
	// document attachment ("send without compression" images arrive this way).
	DocumentFileID string
	DocumentMime   string

	// ReplyTo carries the message this one replied to (nil if none).
	ReplyTo *Message
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode          string
	DisablePreview     bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// ChatInfo is the descriptive metadata of a chat, used to resolve a
// user-supplied reference (@handle or numeric id) into a canonical target.
type ChatInfo struct {
	ID    int64
	Title string
}

// Adapter is the chat-transport boundary. The bot consumes updates through
// Start's channel and performs all outbound operations through it.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	EditMarkup(ctx context.Context, ref MessageRef, markup any) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// DeleteMessage removes a message from chat history. Used to scrub
	// submitted credentials.
	DeleteMessage(ctx context.Context, ref MessageRef) error

	// CopyMessage relays an existing message (preserving media and formatting)
	// into another chat and returns the new message reference.
	CopyMessage(ctx context.Context, to ChatTarget, from MessageRef) (MessageRef, error)

	// ChatInfo resolves "@handle" or a numeric chat id to canonical metadata.
	ChatInfo(ctx context.Context, ref string) (ChatInfo, error)

	// DownloadFile streams the bytes of an attached file by its file id.
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)
}
