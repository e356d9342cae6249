package mail

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/procureflow/backend/internal/metrics"
	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/logger"
)

// dialer is the slice of gomail the notifier uses; tests inject a fake.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SendResult reports one vendor's send outcome. Per-vendor failures are data,
// not errors: one vendor's transport failure never blocks the others.
type SendResult struct {
	VendorID    string    `json:"vendor_id"`
	VendorEmail string    `json:"vendor_email"`
	VendorName  string    `json:"vendor_name"`
	Success     bool      `json:"success"`
	MessageID   string    `json:"message_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at,omitempty"`
}

type Notifier struct {
	dialer   dialer
	smtp     *gomail.Dialer
	fromAddr string
	fromName string
}

func NewNotifier(host string, port int, user, password, fromName string) *Notifier {
	d := gomail.NewDialer(host, port, user, password)
	return &Notifier{
		dialer:   d,
		smtp:     d,
		fromAddr: user,
		fromName: fromName,
	}
}

// Verify opens and closes an SMTP connection to surface credential or
// connectivity problems at startup instead of on the first dispatch.
func (n *Notifier) Verify() error {
	if n.smtp == nil {
		return nil
	}
	conn, err := n.smtp.Dial()
	if err != nil {
		return fmt.Errorf("smtp verification failed: %w", err)
	}
	return conn.Close()
}

// Send renders the RFP into a vendor-facing message and dispatches it. The
// correlation token goes into both the subject and a dedicated header so
// replies stay matchable even when one of the two is mangled.
func (n *Notifier) Send(vendorID, vendorEmail, vendorName string, content models.StructuredContent, correlationID string) SendResult {
	token := Token(correlationID)

	subject := "RFP Request"
	if title := content.Title(); title != "" {
		subject = "RFP Request: " + title
	}
	subject = fmt.Sprintf("%s [REF: %s]", subject, token)

	messageID := fmt.Sprintf("<%s@procureflow>", uuid.New().String())

	m := gomail.NewMessage()
	m.SetAddressHeader("From", n.fromAddr, n.fromName)
	m.SetAddressHeader("To", vendorEmail, vendorName)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", messageID)
	m.SetHeader(refHeaderName, token)
	m.SetBody("text/plain", RenderBody(vendorName, content))

	if err := n.dialer.DialAndSend(m); err != nil {
		logger.Error("RFP email send failed",
			zap.String("vendor_email", vendorEmail),
			zap.Error(err),
		)
		metrics.EmailsSentTotal.WithLabelValues("error").Inc()
		return SendResult{
			VendorID:    vendorID,
			VendorEmail: vendorEmail,
			VendorName:  vendorName,
			Success:     false,
			Error:       err.Error(),
		}
	}

	logger.Info("RFP email sent",
		zap.String("vendor_email", vendorEmail),
		zap.String("ref", token),
	)
	metrics.EmailsSentTotal.WithLabelValues("ok").Inc()

	return SendResult{
		VendorID:    vendorID,
		VendorEmail: vendorEmail,
		VendorName:  vendorName,
		Success:     true,
		MessageID:   messageID,
		SentAt:      time.Now(),
	}
}

// SendAll dispatches to every vendor independently and returns one result per
// vendor.
func (n *Notifier) SendAll(vendors []models.Vendor, content models.StructuredContent, correlationID string) []SendResult {
	results := make([]SendResult, 0, len(vendors))
	for _, v := range vendors {
		results = append(results, n.Send(v.ID, v.Email, v.Name, content, correlationID))
	}
	return results
}

// RenderBody builds the plain-text message from only the structured fields
// that carry real values. A null, empty or zero field is omitted entirely so
// vendors never see misleading "N/A" or zero-budget lines.
func RenderBody(vendorName string, content models.StructuredContent) string {
	var b strings.Builder

	if vendorName != "" {
		fmt.Fprintf(&b, "Dear %s,\n\n", vendorName)
	}
	b.WriteString("You are invited to submit a proposal for the following request.\n")

	if title := content.Title(); title != "" {
		fmt.Fprintf(&b, "\n== %s ==\n", title)
	}
	if desc := content.Description(); desc != "" {
		fmt.Fprintf(&b, "\nDescription\n%s\n", desc)
	}
	if budget := renderBudget(content["budget"]); budget != "" {
		fmt.Fprintf(&b, "\nBudget Range\n%s\n", budget)
	}
	if deadline, ok := content["deadline"].(string); ok && deadline != "" {
		fmt.Fprintf(&b, "\nDeadline\n%s\n", deadline)
	}
	if items := renderItems(content["items"]); items != "" {
		fmt.Fprintf(&b, "\nRequired Items/Services\n%s", items)
	}
	if criteria := renderCriteria(content["evaluation_criteria"]); criteria != "" {
		fmt.Fprintf(&b, "\nEvaluation Criteria\n%s", criteria)
	}
	if terms, ok := content["terms"].(string); ok && terms != "" {
		fmt.Fprintf(&b, "\nTerms & Conditions\n%s\n", terms)
	}

	b.WriteString("\nPlease reply to this email with your proposal, keeping the subject line intact.\n")
	return b.String()
}

func renderBudget(raw any) string {
	budget, ok := raw.(map[string]any)
	if !ok {
		return ""
	}

	min, hasMin := numeric(budget["min"])
	max, hasMax := numeric(budget["max"])
	currency, _ := budget["currency"].(string)
	if currency == "" {
		currency = "USD"
	}

	switch {
	case hasMin && hasMax:
		return fmt.Sprintf("%s %.0f - %.0f", currency, min, max)
	case hasMin:
		return fmt.Sprintf("%s %.0f (minimum)", currency, min)
	case hasMax:
		return fmt.Sprintf("%s %.0f (maximum)", currency, max)
	default:
		return ""
	}
}

func renderItems(raw any) string {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return ""
	}

	var b strings.Builder
	for _, rawItem := range items {
		item, ok := rawItem.(map[string]any)
		if !ok {
			continue
		}
		name, _ := item["name"].(string)
		if name == "" {
			continue
		}

		fmt.Fprintf(&b, "  - %s", name)
		if qty, ok := numeric(item["quantity"]); ok {
			fmt.Fprintf(&b, " x %.0f", qty)
			if unit, ok := item["unit"].(string); ok && unit != "" {
				fmt.Fprintf(&b, " %s", unit)
			}
		}
		if specs, ok := item["specifications"].(string); ok && specs != "" {
			fmt.Fprintf(&b, " (%s)", specs)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderCriteria(raw any) string {
	criteria, ok := raw.([]any)
	if !ok || len(criteria) == 0 {
		return ""
	}

	var b strings.Builder
	for _, rawCriterion := range criteria {
		c, ok := rawCriterion.(map[string]any)
		if !ok {
			continue
		}
		name, _ := c["criterion"].(string)
		if name == "" {
			continue
		}

		if weight, ok := numeric(c["weight"]); ok {
			fmt.Fprintf(&b, "  - %s: %.0f%%\n", name, weight)
		} else {
			fmt.Fprintf(&b, "  - %s\n", name)
		}
	}
	return b.String()
}

// numeric reports a JSON number's value; zero counts as absent, matching the
// "omit rather than show a blank zero line" rendering rule.
func numeric(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, v != 0
	case int:
		return float64(v), v != 0
	default:
		return 0, false
	}
}
