package connector

import "strings"

// Text returns the trimmed plain-text body of m, preferring the direct
// conversation body over extended text. Empty when neither is present.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	if m.Conversation != "" {
		return strings.TrimSpace(m.Conversation)
	}
	return strings.TrimSpace(m.ExtendedText)
}
