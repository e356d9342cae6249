// Package mail holds both sides of the email transport: the outbound RFP
// notifier (SMTP) and the inbound mailbox poller (IMAP), plus the correlation
// token that ties a vendor's reply back to its RFP.
package mail

import (
	"regexp"
	"strings"
	"time"
)

// Message is one inbound mail, as the reconciler sees it.
type Message struct {
	From    string
	To      string
	Subject string
	Date    time.Time
	Text    string
	HTML    string
	// RefHeader carries the X-RFP-Ref header when the reply kept it.
	RefHeader string
}

// Body returns the plain text, extracting it from the HTML part when the
// message carries only HTML.
func (m *Message) Body() string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	return HTMLToText(m.HTML)
}

const refHeaderName = "X-RFP-Ref"

var refPattern = regexp.MustCompile(`\[REF:\s*([0-9a-fA-F]{32})\]`)

// Token renders an RFP id as the correlation token embedded in outbound
// subjects, 32 hex characters with the UUID dashes stripped.
func Token(rfpID string) string {
	return strings.ToLower(strings.ReplaceAll(rfpID, "-", ""))
}

// ExtractToken pulls the correlation token out of an inbound message,
// preferring the subject's bracketed marker and falling back to the dedicated
// header. Empty means the message carries no recognizable reference.
func ExtractToken(msg *Message) string {
	if match := refPattern.FindStringSubmatch(msg.Subject); match != nil {
		return strings.ToLower(match[1])
	}
	if ref := strings.TrimSpace(msg.RefHeader); ref != "" {
		return Token(ref)
	}
	return ""
}
