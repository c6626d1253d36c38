package transport

import "testing"

func TestJIDHelpers(t *testing.T) {
	t.Parallel()

	if !IsGroup("120363@g.us") || IsGroup("1234@s.whatsapp.net") {
		t.Error("IsGroup misclassified a JID")
	}

	tests := []struct {
		jid  string
		want string
	}{
		{"1234@s.whatsapp.net", "1234"},
		{"1234:7@s.whatsapp.net", "1234"},
		{"120363@g.us", "120363"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := UserPart(tt.jid); got != tt.want {
			t.Errorf("UserPart(%q) = %q, want %q", tt.jid, got, tt.want)
		}
	}

	if !SameUser("1234:7@s.whatsapp.net", "1234@s.whatsapp.net") {
		t.Error("SameUser ignored device suffix incorrectly")
	}
	if SameUser("", "") {
		t.Error("SameUser(empty, empty) = true")
	}
	if got := UserJID("+15551234"); got != "15551234@s.whatsapp.net" {
		t.Errorf("UserJID() = %q", got)
	}
}

func TestGroupMetadata_IsAdmin(t *testing.T) {
	t.Parallel()

	meta := &GroupMetadata{Participants: []Participant{
		{ID: "1@s.whatsapp.net", Admin: "superadmin"},
		{ID: "2@s.whatsapp.net", Admin: "admin"},
		{ID: "3@s.whatsapp.net"},
	}}

	for jid, want := range map[string]bool{
		"1@s.whatsapp.net":   true,
		"2:4@s.whatsapp.net": true,
		"3@s.whatsapp.net":   false,
		"9@s.whatsapp.net":   false,
	} {
		if got := meta.IsAdmin(jid); got != want {
			t.Errorf("IsAdmin(%q) = %v, want %v", jid, got, want)
		}
	}
	if n := len(meta.ParticipantIDs()); n != 3 {
		t.Errorf("ParticipantIDs() returned %d ids", n)
	}
}

func TestNewCreds(t *testing.T) {
	t.Parallel()

	a, err := NewCreds()
	if err != nil {
		t.Fatalf("NewCreds() error = %v", err)
	}
	b, _ := NewCreds()

	if a.Registered {
		t.Error("fresh creds are registered")
	}
	if len(a.NoiseKey.Public) != 32 || len(a.IdentityKey.Private) != 32 {
		t.Error("key pairs have unexpected length")
	}
	if string(a.NoiseKey.Private) == string(b.NoiseKey.Private) {
		t.Error("two fresh creds share a private key")
	}

	clone := a.Clone()
	clone.NoiseKey.Public[0] ^= 0xff
	if clone.NoiseKey.Public[0] == a.NoiseKey.Public[0] {
		t.Error("Clone() shares key bytes with the original")
	}
}
