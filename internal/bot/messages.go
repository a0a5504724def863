package bot

import (
	"errors"
	"fmt"

	"postbot/internal/platform"
	"postbot/internal/publish"
	"postbot/internal/session"
	"postbot/internal/store"
	"postbot/pkg/tgui"
)

const (
	msgGreeting = "Hi! I broadcast posts to Telegram channels and VK communities.\n\n" +
		"Commands:\n" +
		"/add_destination — register a channel or community\n" +
		"/destinations — list your destinations\n" +
		"/new_post — author a post and publish it\n" +
		"/forward_to_vk — reply to a message to send it to your VK communities\n" +
		"/cancel — abort the current dialog\n" +
		"/help — this summary"

	msgHelp = "Commands:\n" +
		"/add_destination — register a channel or community\n" +
		"/destinations — list your destinations\n" +
		"/new_post — author a post and publish it\n" +
		"/forward_to_vk — reply to a message to send it to your VK communities\n" +
		"/cancel — abort the current dialog"

	msgChoosePlatform = "Choose a platform:"

	msgAskTelegramID = "Send the channel id or @username.\n\n" +
		"Examples:\n@mychannel\n-1001234567890\n\n" +
		"The bot must be an administrator of the channel."

	msgAskTelegramName = "Now send a display name for this destination."

	msgAskVKToken = "Send the VK community access token.\n\n" +
		"Community settings → Management → API → Access tokens.\n" +
		"Required scopes: wall, photos.\n\n" +
		"The token message is deleted from this chat right away."

	msgAskVKGroup = "Token accepted.\n" +
		"Now send the group id, screen name or link.\n\n" +
		"Examples:\nmygroup\n123456789\nvk.com/mygroup"

	msgInvalidVKToken = "That token did not pass validation.\n" +
		"Check that it is complete and has wall/photos scopes, then send it again."

	msgGroupNotFound = "Could not find that group. Check the id or screen name and the token scopes, then try again."

	msgUnsupportedPlatform = "That platform is not supported yet."

	msgAskContent = "Send the message to publish (text and/or a photo)."

	msgEmptyContent = "I see neither text nor an image.\n" +
		"Send text and/or a picture (as a photo or as an image file)."

	msgChooseDestinations = "Choose destinations:"

	msgNeedSelection = "Select at least one destination."

	msgNoDestinations = "You have no destinations yet. Add one with /add_destination."

	msgCancelled = "Cancelled."

	msgNothingToCancel = "Nothing to cancel."

	msgSessionExpired = "This dialog has expired. Start over."

	msgReplyRequired = "Reply to the message you want to send to VK with this command."

	msgNoVKDestinations = "You have no VK destinations yet. Add one with /add_destination."

	msgNotAdmin = "You are not an administrator."

	msgAdminPanel = "Admin panel\n\nAvailable commands:\n/stats — bot statistics"
)

// vkTokenPrompt appends an OAuth acquisition link to the token prompt when
// the VK application is configured.
func (b *Bot) vkTokenPrompt() string {
	if b.cfg.VKAppID == "" || b.cfg.VKRedirectURI == "" {
		return msgAskVKToken
	}
	return msgAskVKToken + fmt.Sprintf(
		"\n\nYou can also obtain a user token here:\n"+
			"https://oauth.vk.com/authorize?client_id=%s&redirect_uri=%s&scope=wall,photos&response_type=token",
		b.cfg.VKAppID, b.cfg.VKRedirectURI)
}

// userMessage maps component errors to short human-readable causes. Raw
// adapter error text never reaches the chat.
func userMessage(err error) string {
	switch {
	case errors.Is(err, publish.ErrEmptySelection):
		return msgNeedSelection
	case errors.Is(err, publish.ErrNoDestinations):
		return msgNoDestinations
	case errors.Is(err, store.ErrDuplicate):
		return "This destination is already registered."
	case errors.Is(err, platform.ErrDestinationNotFound):
		return msgGroupNotFound
	case errors.Is(err, platform.ErrUnsupported):
		return msgUnsupportedPlatform
	default:
		return "Something went wrong. Try again later."
	}
}

func platformBadge(p store.Platform) string {
	switch p {
	case store.PlatformTelegram:
		return "📱 TG"
	case store.PlatformVK:
		return "🔵 VK"
	default:
		return string(p)
	}
}

func reportText(rep publish.Report) string {
	return fmt.Sprintf("Done.\nAttempted: %d\nSucceeded: %d", rep.Attempted, rep.Succeeded)
}

// platformKeyboard is the first prompt of the add-destination flow.
func platformKeyboard() *tgui.Inline {
	return tgui.NewInline().
		Row(tgui.Btn("📱 Telegram", tgui.Data("dest", "platform", "tg"))).
		Row(tgui.Btn("🔵 VK", tgui.Data("dest", "platform", "vk")))
}

// selectionKeyboard renders the destination toggle list plus confirm/cancel.
func selectionKeyboard(dests []store.Destination, s *session.Session) *tgui.Inline {
	kb := tgui.NewInline()
	for _, d := range dests {
		check := "☐"
		if s.IsSelected(d.ID) {
			check = "☑"
		}
		label := fmt.Sprintf("%s %s %s", check, platformBadge(d.Platform), d.DisplayName)
		kb.Row(tgui.Btn(label, tgui.Data("post", "sel", fmt.Sprint(d.ID))))
	}
	kb.Row(tgui.Btn("✅ Publish", tgui.Data("post", "confirm", "")))
	kb.Row(tgui.Btn("❌ Cancel", tgui.Data("post", "cancel", "")))
	return kb
}
