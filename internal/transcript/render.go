package transcript

import (
	"strings"

	"livetalk/internal/domain"
)

const (
	userLabel   = "You"
	remoteLabel = "AI"
)

// Render formats committed turns as labelled plain text, one line per
// non-blank side, with a blank line between turns.
func Render(turns []domain.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		user := strings.TrimSpace(turn.User)
		remote := strings.TrimSpace(turn.Remote)
		if user == "" && remote == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if user != "" {
			b.WriteString(userLabel + ": " + user + "\n")
		}
		if remote != "" {
			b.WriteString(remoteLabel + ": " + remote + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
