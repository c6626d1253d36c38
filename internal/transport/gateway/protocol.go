// Package gateway implements transport.Dialer against a chat-network gateway
// that exposes one websocket per bot session and exchanges JSON frames.
package gateway

import (
	"encoding/json"

	"github.com/edgard/hyperbot/internal/transport"
)

// Frame types sent by the client.
const (
	FrameHello             = "hello"
	FramePairingCode       = "pairing_code"
	FrameSend              = "send"
	FrameDelete            = "delete"
	FrameGroupMetadata     = "group_metadata"
	FrameGroupParticipants = "group_participants"
	FrameGroupSetting      = "group_setting"
	FrameLogout            = "logout"
)

// Frame types sent by the gateway. FrameResult answers a request with the same ID,
// and the client answers keys.get and keys.set with FrameResult too.
const (
	FrameResult           = "result"
	FrameConnectionUpdate = "connection.update"
	FrameCredsUpdate      = "creds.update"
	FrameMessagesUpsert   = "messages.upsert"
	FrameKeysGet          = "keys.get"
	FrameKeysSet          = "keys.set"
)

// Frame is the envelope of every websocket message.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type helloPayload struct {
	Creds            *transport.Creds `json:"creds"`
	Browser          []string         `json:"browser,omitempty"`
	ConnectTimeoutMs int64            `json:"connectTimeoutMs,omitempty"`
	QRTimeoutMs      int64            `json:"qrTimeoutMs,omitempty"`
	KeepAliveMs      int64            `json:"keepAliveMs,omitempty"`
}

type connectionPayload struct {
	State      string `json:"connection,omitempty"`
	QR         string `json:"qr,omitempty"`
	Reason     int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
	IsNewLogin bool   `json:"isNewLogin,omitempty"`
}

type keysGetPayload struct {
	Category string   `json:"type"`
	IDs      []string `json:"ids"`
}

type keysSetPayload struct {
	Data map[string]map[string][]byte `json:"data"`
}

type keysGetResult struct {
	Data map[string][]byte `json:"data"`
}

type pairingCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type pairingCodeResult struct {
	Code string `json:"code"`
}

type sendRequest struct {
	JID     string                    `json:"jid"`
	Message transport.OutgoingMessage `json:"message"`
}

type sendResult struct {
	Key transport.MessageKey `json:"key"`
}

type deleteRequest struct {
	JID string               `json:"jid"`
	Key transport.MessageKey `json:"key"`
}

type groupRequest struct {
	JID          string                      `json:"jid"`
	Participants []string                    `json:"participants,omitempty"`
	Action       transport.ParticipantAction `json:"action,omitempty"`
	Setting      transport.GroupSetting      `json:"setting,omitempty"`
}
