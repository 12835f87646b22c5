package dify

import "strings"

// escalationMarkers are the literal phrases the conversational workflow
// embeds to signal "needs a human". Ordered longest first so stripping the
// long marker does not leave the short one's fragment behind.
var escalationMarkers = []string{"需要转人工", "转人工"}

// ParseEscalation scans a raw workflow answer for escalation markers. It
// returns the answer with every marker occurrence removed and whitespace
// trimmed, plus whether a hand-off was requested. Pure; safe to call without
// a live screen or network.
func ParseEscalation(raw string) (string, bool) {
	escalate := false
	clean := raw
	for _, marker := range escalationMarkers {
		if strings.Contains(clean, marker) {
			escalate = true
			clean = strings.ReplaceAll(clean, marker, "")
		}
	}
	if !escalate {
		return raw, false
	}
	return strings.TrimSpace(clean), true
}
