package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/edgard/hyperbot/internal/database"
	"github.com/edgard/hyperbot/internal/transport"
)

var linkPattern = regexp.MustCompile(`(?i)(https?://[^\s]+)|(www\.[^\s]+)`)

// ContainsForbiddenLink reports whether text carries a link and no whitelist
// entry occurs anywhere in it.
func ContainsForbiddenLink(text string, whitelist []string) bool {
	if !linkPattern.MatchString(text) {
		return false
	}
	for _, allowed := range whitelist {
		if allowed != "" && strings.Contains(text, allowed) {
			return false
		}
	}
	return true
}

// protect deletes a message with a forbidden link from a protected group and
// posts a notice mentioning its author. Failures are logged.
func (r *Router) protect(ctx context.Context, conn transport.Conn, msg transport.Message, group *database.GroupRecord) {
	if !ContainsForbiddenLink(msg.Text(), group.Whitelist) {
		return
	}

	chatID := msg.Key.RemoteJID
	sender := msg.Sender()
	log := r.log.With("bot_id", group.BotID, "group_id", chatID, "sender", sender)

	if err := conn.DeleteMessage(ctx, chatID, msg.Key); err != nil {
		log.ErrorContext(ctx, "Failed to delete message with link", "error", err)
		return
	}
	log.InfoContext(ctx, "Removed message with link")

	notice := fmt.Sprintf(r.deps.Config.Messages.LinkRemoved, transport.UserPart(sender))
	if _, err := conn.SendMessage(ctx, chatID, transport.OutgoingMessage{Text: notice, Mentions: []string{sender}}); err != nil {
		log.ErrorContext(ctx, "Failed to send link removal notice", "error", err)
	}
}
