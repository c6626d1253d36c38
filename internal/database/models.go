package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// BotRecord is a tenant-owned bot and its last known connection state.
type BotRecord struct {
	ID       string  `db:"id"`
	TenantID string  `db:"tenant_id"`
	Name     string  `db:"name"`
	Config   JSONMap `db:"config"`

	Status BotStatus      `db:"status"`
	QRCode sql.NullString `db:"qr_code"` // Only set while awaiting a scan

	LastConnectionAttempt sql.NullTime `db:"last_connection_attempt"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// GroupRecord holds the moderation settings of a group chat a bot takes part in.
type GroupRecord struct {
	ID          string     `db:"id" json:"id"`
	BotID       string     `db:"bot_id" json:"bot_id"`
	GroupID     string     `db:"group_id" json:"group_id"` // External group JID
	Name        string     `db:"name" json:"name"`
	IsProtected bool       `db:"is_protected" json:"is_protected"`
	Whitelist   StringList `db:"whitelist" json:"whitelist"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// CredentialRecord holds the encrypted session credentials of a bot.
// Creds and Keys are opaque vault ciphertext, never plaintext.
type CredentialRecord struct {
	BotID     string    `db:"bot_id"`
	Creds     []byte    `db:"creds"`
	Keys      []byte    `db:"keys"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Warning counts moderation warnings issued to a user in a group.
type Warning struct {
	BotID     string    `db:"bot_id"`
	GroupID   string    `db:"group_id"`
	UserJID   string    `db:"user_jid"`
	Count     int       `db:"count"`
	UpdatedAt time.Time `db:"updated_at"`
}

// BotWithGroups is a bot together with the groups it manages.
type BotWithGroups struct {
	BotRecord
	Groups []GroupRecord
}

// Group returns the group with the given external id, or nil.
func (b *BotWithGroups) Group(groupID string) *GroupRecord {
	for i := range b.Groups {
		if b.Groups[i].GroupID == groupID {
			return &b.Groups[i]
		}
	}
	return nil
}

// JSONMap is a free-form JSON object stored in a TEXT column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("marshal json map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	data, err := textBytes(src)
	if err != nil || data == nil {
		*m = JSONMap{}
		return err
	}
	out := JSONMap{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal json map: %w", err)
	}
	*m = out
	return nil
}

// StringList is a list of strings stored as a JSON array in a TEXT column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	data, err := textBytes(src)
	if err != nil || data == nil {
		*l = StringList{}
		return err
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal string list: %w", err)
	}
	*l = out
	return nil
}

func textBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", src)
	}
}
