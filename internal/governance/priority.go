package governance

import (
	"fmt"
	"strings"

	"github.com/wardendesk/api/internal/db"
)

var readVerbs = []string{"read", "get", "list", "search", "query", "fetch"}

var mutatingVerbs = []string{"delete", "remove", "purge", "update", "modify", "create", "write", "archive"}

// ClassifyPriority computes the advisory priority class for an action.
// The class ranks attention on the dashboard; it never gates whether an
// approval is required.
func ClassifyPriority(actionType string, payload map[string]interface{}) string {
	verb := actionVerb(actionType)

	if containsString(readVerbs, verb) {
		return db.PriorityLow
	}
	if containsString(mutatingVerbs, verb) {
		return db.PriorityHigh
	}

	if verb == "send" || verb == "reply" || verb == "forward" {
		to := payloadString(payload, "to")
		from := payloadString(payload, "from")
		if to != "" && sameDomain(to, from) {
			return db.PriorityMedium
		}
		if to != "" {
			return db.PriorityHigh
		}
	}

	return db.PriorityMedium
}

// Summarize renders a short human-readable description of the action for
// the approval dashboard.
func Summarize(actionType string, payload map[string]interface{}) string {
	parts := []string{actionType}

	if to := payloadString(payload, "to"); to != "" {
		parts = append(parts, fmt.Sprintf("to %s", to))
	}
	if subject := payloadString(payload, "subject"); subject != "" {
		parts = append(parts, fmt.Sprintf("subject %q", truncate(subject, 80)))
	}
	if len(parts) == 1 {
		if body := payloadString(payload, "body"); body != "" {
			parts = append(parts, truncate(body, 80))
		}
	}

	return strings.Join(parts, " ")
}

// actionVerb extracts the trailing verb from an action type tag like
// "gmail.send" or "calendar.event.delete".
func actionVerb(actionType string) string {
	segments := strings.Split(strings.ToLower(actionType), ".")
	return segments[len(segments)-1]
}

// sameDomain reports whether two addresses share an email domain. Either
// address missing a domain means the comparison fails safe to false.
func sameDomain(a, b string) bool {
	domainA := emailDomain(a)
	domainB := emailDomain(b)
	return domainA != "" && domainA == domainB
}

func emailDomain(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
