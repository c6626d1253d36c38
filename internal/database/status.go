package database

import "fmt"

// BotStatus is the persisted connection status of a bot.
type BotStatus string

const (
	StatusInitializing   BotStatus = "INITIALIZING"
	StatusAwaitingQRScan BotStatus = "AWAITING_QR_SCAN"
	StatusConnecting     BotStatus = "CONNECTING"
	StatusConnected      BotStatus = "CONNECTED"
	StatusReconnecting   BotStatus = "RECONNECTING"
	StatusDisconnected   BotStatus = "DISCONNECTED"
	StatusError          BotStatus = "ERROR"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []BotStatus{
	StatusInitializing, StatusAwaitingQRScan, StatusConnecting, StatusConnected,
	StatusReconnecting, StatusDisconnected, StatusError,
}

// transitions lists, for every status, the statuses it may move to.
// INITIALIZING is only ever assigned on creation.
var transitions = map[BotStatus][]BotStatus{
	StatusInitializing:   {StatusAwaitingQRScan, StatusConnecting, StatusConnected, StatusReconnecting, StatusDisconnected, StatusError},
	StatusAwaitingQRScan: {StatusAwaitingQRScan, StatusConnecting, StatusConnected, StatusReconnecting, StatusDisconnected, StatusError},
	StatusConnecting:     {StatusAwaitingQRScan, StatusConnecting, StatusConnected, StatusReconnecting, StatusDisconnected, StatusError},
	StatusConnected:      {StatusAwaitingQRScan, StatusConnecting, StatusConnected, StatusReconnecting, StatusDisconnected, StatusError},
	StatusReconnecting:   {StatusAwaitingQRScan, StatusConnecting, StatusConnected, StatusReconnecting, StatusDisconnected, StatusError},
	// Terminal until a caller asks for a new connection; automatic retries may not revive them.
	StatusDisconnected: {StatusAwaitingQRScan, StatusConnecting, StatusConnected, StatusDisconnected, StatusError},
	StatusError:        {StatusAwaitingQRScan, StatusConnecting, StatusConnected, StatusDisconnected, StatusError},
}

// ParseBotStatus converts a stored string into a BotStatus.
func ParseBotStatus(s string) (BotStatus, error) {
	status := BotStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown bot status %q", s)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses.
func (s BotStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether a bot in status s may move to next.
func (s BotStatus) CanTransitionTo(next BotStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status only changes on an explicit caller request.
func (s BotStatus) Terminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// Restorable reports whether a bot in this status is reconnected at process start.
func (s BotStatus) Restorable() bool {
	switch s {
	case StatusInitializing, StatusConnecting, StatusConnected, StatusReconnecting:
		return true
	}
	return false
}

// Event returns the lower-case name used when the status is published to clients.
func (s BotStatus) Event() string {
	switch s {
	case StatusAwaitingQRScan:
		return "awaiting_qr_scan"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	default:
		return "initializing"
	}
}

func (s BotStatus) String() string {
	return string(s)
}
