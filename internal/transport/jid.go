package transport

import "strings"

const (
	groupServer = "g.us"
	userServer  = "s.whatsapp.net"
)

// IsGroup reports whether jid addresses a group chat.
func IsGroup(jid string) bool {
	return strings.HasSuffix(jid, "@"+groupServer)
}

// UserPart returns the account part of a JID, without server or device suffix.
// "1234:5@s.whatsapp.net" becomes "1234".
func UserPart(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}

// SameUser reports whether two JIDs belong to the same account, ignoring device suffixes.
func SameUser(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return UserPart(a) == UserPart(b)
}

// UserJID builds the JID of an account from its phone number.
func UserJID(phoneNumber string) string {
	return strings.TrimPrefix(phoneNumber, "+") + "@" + userServer
}
