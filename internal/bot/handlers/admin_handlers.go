package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edgard/hyperbot/internal/transport"
)

// MaxWarnings is the warning count at which a member is removed.
const MaxWarnings = 3

const maxMuteMinutes = 24 * 60

type adminHandlers struct {
	deps HandlerDeps
}

func newAdminHandlers(deps HandlerDeps) adminHandlers {
	return adminHandlers{deps: deps}
}

// target resolves the user a command acts on and answers with the
// mention-required message when there is none.
func (h adminHandlers) target(ctx context.Context, req *Request) (string, bool, error) {
	target := req.Target()
	if target == "" {
		return "", false, req.Reply(ctx, h.deps.Config.Messages.MentionRequired)
	}
	if transport.SameUser(target, req.Conn.Self().ID) {
		return "", false, req.Reply(ctx, "I can't do that to myself.")
	}
	return target, true, nil
}

func (h adminHandlers) participants(ctx context.Context, req *Request, action transport.ParticipantAction, done string) error {
	target, ok, err := h.target(ctx, req)
	if !ok {
		return err
	}

	if err := req.Conn.UpdateParticipants(ctx, req.ChatID, []string{target}, action); err != nil {
		return fmt.Errorf("failed to %s participant: %w", action, err)
	}

	h.deps.Logger.InfoContext(ctx, "Group participant updated",
		"handler", "admin",
		"bot_id", req.Bot.ID,
		"group_id", req.ChatID,
		"action", action,
		"target", target)
	return req.Reply(ctx, fmt.Sprintf(done, mention(target)), target)
}

func (h adminHandlers) remove(ctx context.Context, req *Request) error {
	return h.participants(ctx, req, transport.ParticipantRemove, "🚫 %s has been removed from the group.")
}

func (h adminHandlers) promote(ctx context.Context, req *Request) error {
	return h.participants(ctx, req, transport.ParticipantPromote, "⬆️ %s is now a group admin.")
}

func (h adminHandlers) demote(ctx context.Context, req *Request) error {
	return h.participants(ctx, req, transport.ParticipantDemote, "⬇️ %s is no longer a group admin.")
}

func (h adminHandlers) mute(ctx context.Context, req *Request) error {
	minutes := 0
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 || n > maxMuteMinutes {
			return req.Reply(ctx, fmt.Sprintf("Usage: .mute <minutes>, between 1 and %d.", maxMuteMinutes))
		}
		if h.deps.Scheduler == nil {
			return req.Reply(ctx, "Timed mutes are not available right now. Use .mute and .unmute instead.")
		}
		minutes = n
	}

	if err := req.Conn.UpdateGroupSetting(ctx, req.ChatID, transport.SettingAnnouncement); err != nil {
		return fmt.Errorf("failed to mute group: %w", err)
	}

	if minutes == 0 {
		return req.Reply(ctx, "🔇 The group has been muted. Only admins can send messages.")
	}

	conn, chatID := req.Conn, req.ChatID
	log := h.deps.Logger.With("handler", "mute", "bot_id", req.Bot.ID, "group_id", chatID)
	_, err := h.deps.Scheduler.After("unmute:"+req.Bot.ID+":"+chatID, time.Duration(minutes)*time.Minute, func(ctx context.Context) {
		if err := conn.UpdateGroupSetting(ctx, chatID, transport.SettingNotAnnouncement); err != nil {
			log.WarnContext(ctx, "Failed to lift timed mute", "error", err)
			return
		}
		if _, err := conn.SendMessage(ctx, chatID, transport.OutgoingMessage{Text: "🔊 The group has been unmuted."}); err != nil {
			log.WarnContext(ctx, "Failed to announce unmute", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule unmute: %w", err)
	}

	return req.Reply(ctx, fmt.Sprintf("🔇 The group has been muted for %d minutes.", minutes))
}

func (h adminHandlers) unmute(ctx context.Context, req *Request) error {
	if err := req.Conn.UpdateGroupSetting(ctx, req.ChatID, transport.SettingNotAnnouncement); err != nil {
		return fmt.Errorf("failed to unmute group: %w", err)
	}
	return req.Reply(ctx, "🔊 The group has been unmuted.")
}

func (h adminHandlers) deleteQuoted(ctx context.Context, req *Request) error {
	quoted := req.Message.Quoted
	if quoted == nil {
		return req.Reply(ctx, "Reply to the message you want to delete.")
	}

	key := *quoted
	if key.RemoteJID == "" {
		key.RemoteJID = req.ChatID
	}
	if err := req.Conn.DeleteMessage(ctx, req.ChatID, key); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (h adminHandlers) warn(ctx context.Context, req *Request) error {
	target, ok, err := h.target(ctx, req)
	if !ok {
		return err
	}

	count, err := h.deps.Store.AddWarning(ctx, req.Bot.ID, req.ChatID, target)
	if err != nil {
		return err
	}

	if count < MaxWarnings {
		return req.Reply(ctx, fmt.Sprintf("⚠️ %s has been warned (%d/%d).", mention(target), count, MaxWarnings), target)
	}

	if err := req.Conn.UpdateParticipants(ctx, req.ChatID, []string{target}, transport.ParticipantRemove); err != nil {
		return fmt.Errorf("failed to remove warned participant: %w", err)
	}
	if err := h.deps.Store.ResetWarnings(ctx, req.Bot.ID, req.ChatID, target); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("🚫 %s reached %d warnings and has been removed.", mention(target), MaxWarnings), target)
}

func (h adminHandlers) warnings(ctx context.Context, req *Request) error {
	target := req.Target()
	if target == "" {
		target = req.Sender
	}

	count, err := h.deps.Store.GetWarnings(ctx, req.Bot.ID, req.ChatID, target)
	if err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("📋 %s has %d/%d warnings.", mention(target), count, MaxWarnings), target)
}

func (h adminHandlers) clearWarnings(ctx context.Context, req *Request) error {
	target, ok, err := h.target(ctx, req)
	if !ok {
		return err
	}

	if err := h.deps.Store.ResetWarnings(ctx, req.Bot.ID, req.ChatID, target); err != nil {
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ Warnings of %s have been cleared.", mention(target)), target)
}

func (h adminHandlers) antilink(ctx context.Context, req *Request) error {
	group := req.Bot.Group(req.ChatID)
	if group == nil {
		return fmt.Errorf("group %s is not recorded for bot %s", req.ChatID, req.Bot.ID)
	}

	if len(req.Args) == 0 {
		state := "off"
		if group.IsProtected {
			state = "on"
		}
		return req.Reply(ctx, fmt.Sprintf("🔗 Antilink is %s. Use .antilink on or .antilink off.", state))
	}

	var protected bool
	switch req.Args[0] {
	case "on":
		protected = true
	case "off":
		protected = false
	default:
		return req.Reply(ctx, "Usage: .antilink on|off")
	}

	if err := h.deps.Store.SetGroupProtection(ctx, req.Bot.ID, req.ChatID, protected); err != nil {
		return err
	}
	group.IsProtected = protected

	if protected {
		return req.Reply(ctx, "🛡️ Antilink enabled. Messages with links will be removed.")
	}
	return req.Reply(ctx, "🔓 Antilink disabled.")
}

func (h adminHandlers) tag(ctx context.Context, req *Request) error {
	text := req.RawArgs
	if text == "" {
		text = "📢 Attention everyone!"
	}
	return req.Reply(ctx, text, req.Group.ParticipantIDs()...)
}

func (h adminHandlers) tagAll(ctx context.Context, req *Request) error {
	ids := req.Group.ParticipantIDs()

	var sb strings.Builder
	sb.WriteString("📢 *Group members:*\n")
	for _, id := range ids {
		sb.WriteString("\n• ")
		sb.WriteString(mention(id))
	}
	return req.Reply(ctx, sb.String(), ids...)
}
