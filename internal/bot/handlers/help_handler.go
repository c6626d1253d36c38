package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/edgard/hyperbot/internal/config"
	"github.com/edgard/hyperbot/internal/transport"
)

const helpTemplate = `
╔═══════════════════╗
   *🤖 %s*
   Version: *%s*
   by %s
   Channel : %s
╚═══════════════════╝

*Available Commands:*

╔═══════════════════╗
🌐 *General Commands*:
║ ➤ .help or .menu
║ ➤ .owner
║ ➤ .joke
║ ➤ .quote
║ ➤ .fact
║ ➤ .8ball <question>
╚═══════════════════╝

╔═══════════════════╗
🛠️ *Admin Commands*:
║ ➤ .ban @user
║ ➤ .promote @user
║ ➤ .demote @user
║ ➤ .mute <minutes>
║ ➤ .unmute
║ ➤ .delete or .del
║ ➤ .kick @user
║ ➤ .warnings @user
║ ➤ .warn @user
║ ➤ .antilink on|off
║ ➤ .clear @user
║ ➤ .tag <message>
║ ➤ .tagall
╚═══════════════════╝

╔═══════════════════╗
🎯 *Fun Commands*:
║ ➤ .compliment @user
║ ➤ .insult @user
╚═══════════════════╝

Join our channel for updates:`

// HelpText renders the command reference card.
func HelpText(b config.BrandingConfig) string {
	return fmt.Sprintf(helpTemplate, b.BotName, b.Version, b.Owner, b.ChannelLink)
}

// NewHelpHandler returns a handler for the .help, .menu, .bot and .list commands.
func NewHelpHandler(deps HandlerDeps) HandlerFunc {
	return helpHandler{deps}.Handle
}

// helpHandler sends the command reference card.
type helpHandler struct {
	deps HandlerDeps
}

func (h helpHandler) Handle(ctx context.Context, req *Request) error {
	log := h.deps.Logger.With("handler", "help")
	branding := h.deps.Config.Branding
	text := HelpText(branding)

	forwarded := &transport.ContextInfo{
		ForwardingScore: 999,
		IsForwarded:     true,
		Newsletter: &transport.NewsletterInfo{
			JID:             branding.NewsletterJID,
			Name:            branding.NewsletterName,
			ServerMessageID: -1,
		},
	}

	msg := transport.OutgoingMessage{Text: text, Context: forwarded}
	image, err := h.loadImage()
	if err != nil {
		log.WarnContext(ctx, "Help image unavailable, sending text only", "path", branding.ImagePath, "error", err)
	} else {
		card := *forwarded
		card.ExternalAd = &transport.ExternalAd{
			Title:                 branding.BotName + " MD",
			Body:                  "Menu",
			ThumbnailURL:          branding.ThumbnailURL,
			SourceURL:             branding.ChannelLink,
			MediaType:             1,
			RenderLargerThumbnail: true,
		}
		msg = transport.OutgoingMessage{Image: image, Caption: text, Context: &card}
	}

	if _, err := req.Conn.SendMessage(ctx, req.ChatID, msg); err != nil {
		log.ErrorContext(ctx, "Failed to send help card, falling back to plain text", "error", err, "chat_id", req.ChatID)
		if _, err := req.Conn.SendMessage(ctx, req.ChatID, transport.OutgoingMessage{Text: text}); err != nil {
			log.ErrorContext(ctx, "Failed to send plain help message", "error", err, "chat_id", req.ChatID)
		}
		return nil
	}

	log.DebugContext(ctx, "Successfully sent help message", "chat_id", req.ChatID, "with_image", image != nil)
	return nil
}

func (h helpHandler) loadImage() ([]byte, error) {
	path := h.deps.Config.Branding.ImagePath
	if path == "" {
		return nil, os.ErrNotExist
	}
	return os.ReadFile(path)
}
