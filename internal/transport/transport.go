// Package transport defines the contract between the session engine and the
// chat-network connection it drives. The engine never speaks the network's wire
// protocol itself; a Dialer hands it a Conn that already does.
package transport

import (
	"context"
	"time"
)

// Dialer opens authenticated connections to the chat network.
type Dialer interface {
	Dial(ctx context.Context, opts Options) (Conn, error)
}

// Options configures a single connection. Handlers are fixed for the lifetime
// of the returned Conn; a reconnect always dials a new Conn.
type Options struct {
	BotID string
	Auth  AuthState

	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	QRTimeout      time.Duration
	KeepAlive      time.Duration
	Browser        []string

	Handlers Handlers
}

// Handlers are the callbacks a Conn invokes, in emission order, from a single
// goroutine per connection.
type Handlers struct {
	OnConnectionUpdate func(ConnectionUpdate)
	OnCredsUpdate      func(*Creds)
	OnMessages         func(MessagesUpsert)
}

// AuthState is the credential material a connection authenticates with.
type AuthState struct {
	Creds *Creds
	Keys  KeyStore
}

// KeyStore holds the rotating signal keys, grouped by category
// (pre-key, session, sender-key, ...).
type KeyStore interface {
	Get(ctx context.Context, category string, ids []string) (map[string][]byte, error)
	// Set writes the given keys; a nil value deletes the key.
	Set(ctx context.Context, data map[string]map[string][]byte) error
}

// Conn is a live, authenticated connection for one bot.
type Conn interface {
	// Self returns the account the connection is logged in as. It is empty
	// until the account has been paired.
	Self() Contact

	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)
	SendMessage(ctx context.Context, jid string, msg OutgoingMessage) (MessageKey, error)
	DeleteMessage(ctx context.Context, jid string, key MessageKey) error
	GroupMetadata(ctx context.Context, jid string) (*GroupMetadata, error)
	UpdateParticipants(ctx context.Context, jid string, participants []string, action ParticipantAction) error
	UpdateGroupSetting(ctx context.Context, jid string, setting GroupSetting) error

	// Logout unlinks the account from the chat network and closes the connection.
	Logout(ctx context.Context) error
	Close() error
}

// ConnectionState is the lifecycle stage reported by a connection update.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClose      ConnectionState = "close"
)

// ConnectionUpdate reports a lifecycle change. QR is set when a new
// scannable payload is available; Reason and Err are set on close.
type ConnectionUpdate struct {
	State      ConnectionState
	QR         string
	Reason     DisconnectReason
	Err        error
	IsNewLogin bool
}

// DisconnectReason is the status code the chat network attaches to a closed connection.
type DisconnectReason int

const (
	ReasonUnknown             DisconnectReason = 0
	ReasonLoggedOut           DisconnectReason = 401
	ReasonForbidden           DisconnectReason = 403
	ReasonConnectionLost      DisconnectReason = 408
	ReasonMultideviceMismatch DisconnectReason = 411
	ReasonConnectionClosed    DisconnectReason = 428
	ReasonConnectionReplaced  DisconnectReason = 440
	ReasonBadSession          DisconnectReason = 500
	ReasonUnavailableService  DisconnectReason = 503
	ReasonRestartRequired     DisconnectReason = 515
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonForbidden:
		return "forbidden"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonMultideviceMismatch:
		return "multidevice_mismatch"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonConnectionReplaced:
		return "connection_replaced"
	case ReasonBadSession:
		return "bad_session"
	case ReasonUnavailableService:
		return "unavailable_service"
	case ReasonRestartRequired:
		return "restart_required"
	default:
		return "unknown"
	}
}

// Contact identifies an account on the chat network.
type Contact struct {
	ID   string `json:"id" cbor:"id"`
	Name string `json:"name,omitempty" cbor:"name,omitempty"`
}

// MessageKey identifies a message within a chat.
type MessageKey struct {
	RemoteJID   string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// Message is an inbound chat message reduced to the fields the engine uses.
type Message struct {
	Key          MessageKey  `json:"key"`
	PushName     string      `json:"pushName,omitempty"`
	Conversation string      `json:"conversation,omitempty"`
	ExtendedText string      `json:"extendedText,omitempty"`
	Mentions     []string    `json:"mentionedJid,omitempty"`
	Quoted       *MessageKey `json:"quoted,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Text returns the plain or extended text body of the message.
func (m Message) Text() string {
	if m.Conversation != "" {
		return m.Conversation
	}
	return m.ExtendedText
}

// Sender returns the JID of the author: the participant in groups, the chat otherwise.
func (m Message) Sender() string {
	if m.Key.Participant != "" {
		return m.Key.Participant
	}
	return m.Key.RemoteJID
}

// MessagesUpsert is a batch of new or updated messages.
type MessagesUpsert struct {
	Type     string    `json:"type"` // "notify" for new messages, "append" for history
	Messages []Message `json:"messages"`
}

// OutgoingMessage is a message to send. Image, when set, is sent with Caption
// as its text; otherwise Text is sent.
type OutgoingMessage struct {
	Text     string       `json:"text,omitempty"`
	Image    []byte       `json:"image,omitempty"`
	Caption  string       `json:"caption,omitempty"`
	Mentions []string     `json:"mentions,omitempty"`
	Quoted   *MessageKey  `json:"quoted,omitempty"`
	Context  *ContextInfo `json:"contextInfo,omitempty"`
}

// ContextInfo carries the forwarding marker and link preview card of a message.
type ContextInfo struct {
	ForwardingScore int             `json:"forwardingScore,omitempty"`
	IsForwarded     bool            `json:"isForwarded,omitempty"`
	Newsletter      *NewsletterInfo `json:"forwardedNewsletterMessageInfo,omitempty"`
	ExternalAd      *ExternalAd     `json:"externalAdReply,omitempty"`
}

// NewsletterInfo marks a message as forwarded from a channel.
type NewsletterInfo struct {
	JID             string `json:"newsletterJid"`
	Name            string `json:"newsletterName"`
	ServerMessageID int    `json:"serverMessageId"`
}

// ExternalAd is the preview card pointing at an external link.
type ExternalAd struct {
	Title                 string `json:"title"`
	Body                  string `json:"body,omitempty"`
	ThumbnailURL          string `json:"thumbnailUrl,omitempty"`
	SourceURL             string `json:"sourceUrl,omitempty"`
	MediaType             int    `json:"mediaType,omitempty"`
	RenderLargerThumbnail bool   `json:"renderLargerThumbnail,omitempty"`
}

// GroupMetadata describes a group chat and its participants.
type GroupMetadata struct {
	ID           string        `json:"id"`
	Subject      string        `json:"subject"`
	Owner        string        `json:"owner,omitempty"`
	Announce     bool          `json:"announce"`
	Participants []Participant `json:"participants"`
}

// Participant is a group member. Admin is "admin", "superadmin" or empty.
type Participant struct {
	ID    string `json:"id"`
	Admin string `json:"admin,omitempty"`
}

// IsAdmin reports whether jid is an admin or superadmin of the group.
func (g *GroupMetadata) IsAdmin(jid string) bool {
	for _, p := range g.Participants {
		if SameUser(p.ID, jid) {
			return p.Admin == "admin" || p.Admin == "superadmin"
		}
	}
	return false
}

// ParticipantIDs returns the JIDs of every group member.
func (g *GroupMetadata) ParticipantIDs() []string {
	ids := make([]string, 0, len(g.Participants))
	for _, p := range g.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// ParticipantAction is a membership change applied to group participants.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// GroupSetting toggles who may post in a group.
type GroupSetting string

const (
	SettingAnnouncement    GroupSetting = "announcement"     // Only admins may send
	SettingNotAnnouncement GroupSetting = "not_announcement" // Everyone may send
)
