package handlers

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/edgard/hyperbot/internal/database"
	"github.com/edgard/hyperbot/internal/transport"
)

// adminCommands need the bot to be a group admin.
var adminCommands = map[string]bool{
	".ban": true, ".promote": true, ".demote": true, ".mute": true, ".unmute": true,
	".delete": true, ".del": true, ".kick": true, ".warn": true, ".warnings": true,
	".antilink": true, ".clear": true, ".tag": true, ".tagall": true,
}

// senderAdminCommands additionally need the sender to be a group admin.
var senderAdminCommands = map[string]bool{
	".mute": true, ".unmute": true, ".ban": true, ".promote": true, ".demote": true,
}

var greetings = map[string]bool{"hi": true, "hello": true, "bot": true}

// IsAdminCommand reports whether a normalized command token needs admin rights.
func IsAdminCommand(command string) bool {
	return adminCommands[command]
}

// Router dispatches the inbound messages of every bot to command handlers
// and applies group protection.
type Router struct {
	deps     HandlerDeps
	commands map[string]HandlerFunc
	groups   singleflight.Group
	log      *slog.Logger
}

// NewRouter creates a Router with every registered command.
func NewRouter(deps HandlerDeps) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Intn == nil {
		deps.Intn = rand.IntN
	}

	return &Router{
		deps:     deps,
		commands: buildCommands(deps),
		log:      deps.Logger.With("component", "message_router"),
	}
}

func buildCommands(deps HandlerDeps) map[string]HandlerFunc {
	commands := make(map[string]HandlerFunc)
	for name, h := range RegisterAllCommands(deps) {
		commands[name] = h.Wrap()
	}
	return commands
}

// HandleMessages processes one inbound batch for bot. Commands are evaluated
// per message; protection then runs over the whole batch.
func (r *Router) HandleMessages(ctx context.Context, conn transport.Conn, batch transport.MessagesUpsert, bot *database.BotWithGroups) {
	if len(batch.Messages) == 0 || bot == nil {
		return
	}

	for _, msg := range batch.Messages {
		r.handleMessage(ctx, conn, bot, msg)
	}

	for _, msg := range batch.Messages {
		chatID := msg.Key.RemoteJID
		if !transport.IsGroup(chatID) || msg.Key.FromMe {
			continue
		}
		if group := bot.Group(chatID); group != nil && group.IsProtected {
			r.protect(ctx, conn, msg, group)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, conn transport.Conn, bot *database.BotWithGroups, msg transport.Message) {
	text := msg.Text()
	if strings.TrimSpace(text) == "" {
		return
	}

	chatID := msg.Key.RemoteJID
	isGroup := transport.IsGroup(chatID)
	if isGroup && bot.Group(chatID) == nil {
		r.ensureGroup(ctx, conn, bot, chatID)
	}

	normalized := Normalize(text)

	if !isGroup && greetings[normalized] {
		if _, err := conn.SendMessage(ctx, chatID, transport.OutgoingMessage{Text: r.deps.Config.Messages.Greeting}); err != nil {
			r.log.WarnContext(ctx, "Failed to send greeting", "bot_id", bot.ID, "chat_id", chatID, "error", err)
		}
		return
	}

	if !strings.HasPrefix(normalized, commandPrefix) {
		return
	}

	req := newRequest(conn, bot, msg, normalized)
	log := r.log.With("bot_id", bot.ID, "chat_id", chatID, "command", req.Command)

	if isGroup && adminCommands[req.Command] {
		meta, err := conn.GroupMetadata(ctx, chatID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to fetch group metadata", "error", err)
			r.reply(ctx, req, r.deps.Config.Messages.GeneralError)
			return
		}
		req.Group = meta

		if !meta.IsAdmin(conn.Self().ID) {
			r.reply(ctx, req, r.deps.Config.Messages.BotNotAdmin)
			return
		}
		if senderAdminCommands[req.Command] && !req.SenderIsAdmin() {
			log.InfoContext(ctx, "Admin command rejected", "sender", req.Sender)
			r.reply(ctx, req, r.deps.Config.Messages.SenderNotAdmin)
			return
		}
	}

	handler, ok := r.commands[req.Command]
	if !ok {
		log.DebugContext(ctx, "Unknown command")
		return
	}

	if err := handler(ctx, req); err != nil {
		log.ErrorContext(ctx, "Command failed", "error", err)
		r.reply(ctx, req, r.deps.Config.Messages.GeneralError)
	}
}

func (r *Router) reply(ctx context.Context, req *Request, text string) {
	if err := req.Reply(ctx, text); err != nil {
		r.log.WarnContext(ctx, "Failed to send reply", "chat_id", req.ChatID, "error", err)
	}
}

// ensureGroup records a group the bot has not seen before. Concurrent calls
// for the same group share one lookup; the insert itself ignores duplicates.
func (r *Router) ensureGroup(ctx context.Context, conn transport.Conn, bot *database.BotWithGroups, chatID string) {
	v, err, _ := r.groups.Do(bot.ID+"|"+chatID, func() (any, error) {
		existing, err := r.deps.Store.GetGroup(ctx, bot.ID, chatID)
		if err != nil || existing != nil {
			return existing, err
		}

		meta, err := conn.GroupMetadata(ctx, chatID)
		if err != nil {
			return nil, err
		}

		group := &database.GroupRecord{BotID: bot.ID, GroupID: chatID, Name: meta.Subject}
		created, err := r.deps.Store.EnsureGroup(ctx, group)
		if err != nil {
			return nil, err
		}
		if !created {
			return r.deps.Store.GetGroup(ctx, bot.ID, chatID)
		}

		r.log.InfoContext(ctx, "New group added", "bot_id", bot.ID, "group_id", chatID, "name", group.Name)
		return group, nil
	})
	if err != nil {
		r.log.ErrorContext(ctx, "Failed to record group", "bot_id", bot.ID, "group_id", chatID, "error", err)
		return
	}

	if group, ok := v.(*database.GroupRecord); ok && group != nil && bot.Group(chatID) == nil {
		bot.Groups = append(bot.Groups, *group)
	}
}
