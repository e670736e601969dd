// Package mailheader extracts correlation identifiers from email header values.
package mailheader

import (
	"fmt"
	"net/mail"
	"strings"
)

// ParseMessageID returns the local part of a Message-ID style value such as
// "<abc123@mail.example.com>". Angle brackets are stripped and the value is split on the
// first "@". It reports false for empty input, input without "@", or an empty local part.
func ParseMessageID(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", false
	}
	v = strings.NewReplacer("<", "", ">", "").Replace(v)
	local, _, found := strings.Cut(v, "@")
	local = strings.TrimSpace(local)
	if !found || local == "" {
		return "", false
	}
	return local, true
}

// ParseReferences parses every "<...>" token of a References header, in header order.
// Tokens that do not parse are skipped.
func ParseReferences(raw string) []string {
	var ids []string
	rest := raw
	for {
		start := strings.IndexByte(rest, '<')
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start:], '>')
		if end < 0 {
			break
		}
		if id, ok := ParseMessageID(rest[start : start+end+1]); ok {
			ids = append(ids, id)
		}
		rest = rest[start+end+1:]
	}
	if len(ids) == 0 {
		// Some clients send bare ids separated by whitespace.
		for _, f := range strings.Fields(raw) {
			if id, ok := ParseMessageID(f); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// FormatMessageID renders id as a header value for domain.
func FormatMessageID(id, domain string) string {
	return fmt.Sprintf("<%s@%s>", id, domain)
}

// FormatReferences renders ids as a References header value.
func FormatReferences(ids []string, domain string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, FormatMessageID(id, domain))
	}
	return strings.Join(parts, " ")
}

// NormalizeAddress extracts the bare, lower-cased address from values like "Jane <Jane@X.com>".
func NormalizeAddress(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return strings.ToLower(addr.Address), nil
}
