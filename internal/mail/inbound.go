package mail

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/procureflow/backend/internal/metrics"
	"github.com/procureflow/backend/pkg/apperr"
	"github.com/procureflow/backend/pkg/logger"
)

// IMAPMailbox fetches a bounded most-recent window from the inbox. Fetches
// use BODY.PEEK so polling never marks messages read; the mailbox is
// idempotent from this system's point of view.
type IMAPMailbox struct {
	addr     string
	user     string
	password string
	mailbox  string
}

func NewIMAPMailbox(host string, port int, user, password, mailbox string) *IMAPMailbox {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPMailbox{
		addr:     fmt.Sprintf("%s:%d", host, port),
		user:     user,
		password: password,
		mailbox:  mailbox,
	}
}

// OwnAddress is the inbox address replies must be addressed to.
func (m *IMAPMailbox) OwnAddress() string {
	return m.user
}

// FetchRecent connects, fetches up to limit of the newest messages, and
// returns them most-recent-first. Connection or auth failure surfaces as
// InboxUnavailable; a single unparseable message is skipped, not fatal.
func (m *IMAPMailbox) FetchRecent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	c, err := client.DialTLS(m.addr, nil)
	if err != nil {
		return nil, apperr.InboxUnavailable("failed to connect to inbox", err)
	}
	defer c.Logout()

	if err := c.Login(m.user, m.password); err != nil {
		return nil, apperr.InboxUnavailable("failed to authenticate to inbox", err)
	}

	// Read-only select: fetching must not change mailbox state.
	mbox, err := c.Select(m.mailbox, true)
	if err != nil {
		return nil, apperr.InboxUnavailable("failed to open mailbox", err)
	}

	if mbox.Messages == 0 {
		return nil, nil
	}

	from := uint32(1)
	if mbox.Messages > uint32(limit) {
		from = mbox.Messages - uint32(limit) + 1
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	raw := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, raw)
	}()

	var messages []Message
	for msg := range raw {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		parsed, err := parseMessage(msg, section)
		if err != nil {
			logger.Warn("Skipping unparseable inbox message", zap.Error(err))
			continue
		}
		messages = append(messages, *parsed)
	}

	if err := <-done; err != nil {
		return nil, apperr.InboxUnavailable("failed to fetch inbox messages", err)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Date.After(messages[j].Date)
	})

	metrics.InboxMessagesFetched.Add(float64(len(messages)))
	logger.Debug("Inbox window fetched",
		zap.Int("count", len(messages)),
		zap.Uint32("mailbox_total", mbox.Messages),
	)

	return messages, nil
}

func parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message has no body section")
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	parsed := &Message{
		From:      mr.Header.Get("From"),
		To:        mr.Header.Get("To"),
		RefHeader: mr.Header.Get(refHeaderName),
	}
	if subject, err := mr.Header.Subject(); err == nil {
		parsed.Subject = subject
	}
	if date, err := mr.Header.Date(); err == nil {
		parsed.Date = date
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read message part: %w", err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/html"):
			parsed.HTML = string(data)
		case strings.HasPrefix(contentType, "text/"):
			parsed.Text = string(data)
		}
	}

	return parsed, nil
}
