// Package transport delivers failure notifications by email, webhook, Kafka, Telegram or
// the log. Every transport implements dispatch.Transport and sends synchronously, so a
// delivery error reaches the dispatcher while the failure record is still uncommitted.
package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/monitorhub/dispatcher/internal/dispatch"
)

const subjectPrefix = "[dispatcher]"

// Subject renders the one-line summary used as email subject and chat headline.
func Subject(n dispatch.Notification) string {
	host := n.Hostname
	if host == "" {
		host = "unknown host"
	}

	return sanitizeHeader(fmt.Sprintf("%s %s failed on %s: %s", subjectPrefix, n.CheckName, host, n.FailureKind))
}

// Body renders the plain-text notification body.
func Body(n dispatch.Notification) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Check:        %s\n", n.CheckName)
	fmt.Fprintf(&b, "Failure:      %s\n", n.FailureKind)
	fmt.Fprintf(&b, "Host:         %s\n", n.Hostname)
	fmt.Fprintf(&b, "First seen:   %s\n", n.FirstSeenAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Digest:       %s\n", n.Digest)
	fmt.Fprintf(&b, "Notification: %s\n", n.ID)
	b.WriteString("\n")
	b.WriteString(n.Detail)
	b.WriteString("\n")

	if trace := strings.TrimRight(n.Trace, "\n"); trace != "" {
		b.WriteString("\nTrace:\n")
		b.WriteString(trace)
		b.WriteString("\n")
	}

	b.WriteString("\nFurther identical failures of this check are suppressed until the retention period ends.\n")

	return b.String()
}

// sanitizeHeader strips line breaks so rendered values cannot inject headers.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}
