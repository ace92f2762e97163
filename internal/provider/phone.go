package provider

import (
	"fmt"
	"strings"
)

// NormalizePhone reduces a provider sender id to a canonical phone number:
// any @suffix is dropped, only digits and + are kept, and a leading + is
// added once the number is long enough to plausibly carry a country code.
// Short internal ids are returned as bare digits.
func NormalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		raw = raw[:i]
	}
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if !strings.HasPrefix(cleaned, "+") && len(cleaned) >= 10 {
		return "+" + cleaned
	}
	return cleaned
}

// OutboundPhone converts a stored phone number into the digits-only form
// provider send APIs expect. The leading + is dropped and the result must
// look like a full international number.
func OutboundPhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r != '+' && r != ' ' && r != '-' && r != '(' && r != ')' {
			return "", fmt.Errorf("phone %q contains invalid character %q", raw, r)
		}
	}
	phone := b.String()
	if len(phone) < 10 {
		return "", fmt.Errorf("phone %q too short to be an international number", raw)
	}
	return phone, nil
}

// JIDSuffix returns the part of a WhatsApp JID after the @, or "" when
// there is none.
func JIDSuffix(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[i+1:]
	}
	return ""
}

// IsGroupJID reports whether the sender id belongs to a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}
