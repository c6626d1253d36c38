package handlers

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/edgard/hyperbot/internal/database"
	"github.com/edgard/hyperbot/internal/transport"
)

const commandPrefix = "."

var dotSpace = regexp.MustCompile(`\.\s+`)

// Normalize canonicalizes message text for command matching: it trims,
// lower-cases and joins a dot with the word after it, so ". help" and
// ".help" are the same command.
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	return strings.TrimSpace(dotSpace.ReplaceAllString(s, "."))
}

// Request is one command invocation.
type Request struct {
	Conn    transport.Conn
	Bot     *database.BotWithGroups
	Message transport.Message
	ChatID  string
	Sender  string
	IsGroup bool

	Command string   // Normalized command token, e.g. ".help"
	Args    []string // Normalized words after the command
	RawArgs string   // Text after the command with its original case

	// Group is the live metadata of the chat. It is set for admin commands.
	Group *transport.GroupMetadata
}

func newRequest(conn transport.Conn, bot *database.BotWithGroups, msg transport.Message, normalized string) *Request {
	fields := strings.Fields(normalized)
	req := &Request{
		Conn:    conn,
		Bot:     bot,
		Message: msg,
		ChatID:  msg.Key.RemoteJID,
		Sender:  msg.Sender(),
		IsGroup: transport.IsGroup(msg.Key.RemoteJID),
	}
	if len(fields) > 0 {
		req.Command = fields[0]
		req.Args = fields[1:]
	}

	raw := strings.TrimSpace(dotSpace.ReplaceAllString(strings.TrimSpace(msg.Text()), "."))
	if i := strings.IndexFunc(raw, unicode.IsSpace); i >= 0 {
		req.RawArgs = strings.TrimSpace(raw[i:])
	}

	return req
}

// Target returns the user a command acts on: the first mention, else the
// author of the quoted message.
func (r *Request) Target() string {
	if len(r.Message.Mentions) > 0 {
		return r.Message.Mentions[0]
	}
	if r.Message.Quoted != nil && r.Message.Quoted.Participant != "" {
		return r.Message.Quoted.Participant
	}
	return ""
}

// SenderIsAdmin reports whether the sender may run privileged commands:
// a group admin, or the bot's own account.
func (r *Request) SenderIsAdmin() bool {
	if r.Message.Key.FromMe {
		return true
	}
	return r.Group != nil && r.Group.IsAdmin(r.Sender)
}

// Reply sends text to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string, mentions ...string) error {
	_, err := r.Conn.SendMessage(ctx, r.ChatID, transport.OutgoingMessage{Text: text, Mentions: mentions})
	return err
}

func mention(jid string) string {
	return "@" + transport.UserPart(jid)
}
