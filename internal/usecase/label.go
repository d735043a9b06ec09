package usecase

import "strings"

const maxLabelLen = 64

// AuthorLabel turns a display name into a token accepted as a message author
// name: ASCII letters, digits, '_' and '-', at most 64 characters. Whitespace
// becomes '_'; anything else is dropped. An empty result means no label.
func AuthorLabel(displayName string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.TrimSpace(displayName) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == ' ' || r == '\t':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
		if b.Len() >= maxLabelLen {
			break
		}
	}
	return strings.Trim(b.String(), "_")
}
