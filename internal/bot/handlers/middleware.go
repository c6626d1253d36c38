// Package handlers contains the chat message router, the command handlers
// and the group protection applied to inbound messages.
package handlers

import (
	"context"
)

// SenderAdminOnly creates a middleware that lets a command through only when
// its sender is a group admin or the bot itself. Others get the configured
// permission message.
func SenderAdminOnly(deps HandlerDeps) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if req.SenderIsAdmin() {
				return next(ctx, req)
			}

			log := deps.Logger.With("middleware", "SenderAdminOnly")
			log.WarnContext(ctx, "Unauthorized command attempt",
				"bot_id", req.Bot.ID,
				"chat_id", req.ChatID,
				"sender", req.Sender,
				"command", req.Command)

			if err := req.Reply(ctx, deps.Config.Messages.SenderNotAdmin); err != nil {
				log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", req.ChatID)
			}
			return nil
		}
	}
}

// GroupOnly creates a middleware that rejects commands sent outside group chats.
func GroupOnly(deps HandlerDeps) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if req.IsGroup {
				return next(ctx, req)
			}
			return req.Reply(ctx, deps.Config.Messages.GroupOnly)
		}
	}
}
