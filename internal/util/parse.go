package util

import (
	"regexp"
	"strings"

	"unsubscan/internal/model"
)

var (
	angleAddrRe    = regexp.MustCompile(`^(.*?)\s*<([^>]+)>`)
	bracketTokenRe = regexp.MustCompile(`<([^>]+)>`)
)

// ParseFrom splits a From header into display name and normalized email.
// Handles formats like:
//
//	"Display Name" <User@Example.com>
//	Display Name <user@example.com>
//	<user@example.com>
//	user@example.com
//
// When there is no bracketed address the whole trimmed, lower-cased value is
// used as both name and email. It never fails.
func ParseFrom(from string) model.ParsedSender {
	if m := angleAddrRe.FindStringSubmatch(from); m != nil {
		name := stripQuotes(m[1])
		email := strings.ToLower(strings.TrimSpace(m[2]))
		if name == "" {
			name = email
		}
		return model.ParsedSender{Name: name, Email: email}
	}
	bare := strings.ToLower(strings.TrimSpace(from))
	return model.ParsedSender{Name: bare, Email: bare}
}

// stripQuotes removes one leading and one trailing quote character, then trims.
func stripQuotes(s string) string {
	if len(s) > 0 && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if n := len(s); n > 0 && (s[n-1] == '"' || s[n-1] == '\'') {
		s = s[:n-1]
	}
	return strings.TrimSpace(s)
}

// ParseListUnsubscribe extracts the first HTTP(S) and first mailto target from
// a List-Unsubscribe header. The header typically contains comma-separated
// angle-bracketed URLs like:
// <https://example.com/unsub>, <mailto:unsub@example.com>
func ParseListUnsubscribe(header string) model.ParsedUnsubscribe {
	var out model.ParsedUnsubscribe
	for _, m := range bracketTokenRe.FindAllStringSubmatch(header, -1) {
		// Prefixes match the raw token: "<HTTPS://...>" and "< https://... >" are not candidates.
		u := m[1]
		switch {
		case strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://"):
			if out.HTTPURL == "" {
				out.HTTPURL = u
			}
		case strings.HasPrefix(u, "mailto:"):
			if out.MailtoURL == "" {
				out.MailtoURL = u
			}
		}
	}
	return out
}
