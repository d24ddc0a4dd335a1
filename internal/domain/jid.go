package domain

import "strings"

const (
	GroupServer = "g.us"
	UserServer  = "s.whatsapp.net"
	// CountryPrefix replaces a leading 0 in local phone numbers.
	CountryPrefix = "62"
)

// IsGroupChat reports whether chatID lives in the group namespace.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, "@"+GroupServer)
}

// UserPart strips the server and device suffix from a JID:
// "628123:4@s.whatsapp.net" becomes "628123".
func UserPart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}

// NormalizePhone strips separators and converts local numbers to the
// international form: "0812-3456-789" becomes "628123456789".
func NormalizePhone(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '@', '+', '-', ' ', '\t', '(', ')', '.':
			return -1
		}
		return r
	}, s)
	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "0"):
		return CountryPrefix + s[1:]
	case !strings.HasPrefix(s, CountryPrefix):
		return CountryPrefix + s
	}
	return s
}

// PhoneJID turns a phone number or chat id into a full JID. Ids that already
// carry a server are returned unchanged; the legacy "@c.us" suffix is mapped
// to the user server.
func PhoneJID(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasSuffix(phone, "@c.us") {
		return strings.TrimSuffix(phone, "@c.us") + "@" + UserServer
	}
	if strings.Contains(phone, "@") {
		return phone
	}
	return NormalizePhone(phone) + "@" + UserServer
}
