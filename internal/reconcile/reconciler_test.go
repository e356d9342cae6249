package reconcile

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procureflow/backend/internal/lifecycle"
	"github.com/procureflow/backend/internal/mail"
	"github.com/procureflow/backend/internal/storage/models"
)

const (
	testRFPID = "a1b2c3d4-e5f6-7890-abcd-ef1234567890"
	testToken = "a1b2c3d4e5f67890abcdef1234567890"
	ownAddr   = "procurement@example.com"
)

type mockStore struct {
	rfp      *models.RFP
	vendors  map[string]*models.Vendor
	appended []models.VendorResponse
	statuses []lifecycle.Status
}

func (m *mockStore) LockRFP(id string) func() { return func() {} }

func (m *mockStore) GetRFP(id string) (*models.RFP, error) {
	return m.rfp, nil
}

func (m *mockStore) AppendResponse(rfpID string, resp *models.VendorResponse) error {
	m.appended = append(m.appended, *resp)
	return nil
}

func (m *mockStore) SetStatus(id string, status lifecycle.Status) error {
	m.statuses = append(m.statuses, status)
	m.rfp.Status = status
	return nil
}

func (m *mockStore) FindVendorByAddress(address string) (*models.Vendor, error) {
	for key, v := range m.vendors {
		if strings.Contains(address, key) || strings.Contains(key, address) {
			return v, nil
		}
	}
	return nil, nil
}

type mockMailbox struct {
	messages []mail.Message
}

func (m *mockMailbox) FetchRecent(ctx context.Context, limit int) ([]mail.Message, error) {
	return m.messages, nil
}

func (m *mockMailbox) OwnAddress() string { return ownAddr }

func newRFP(status lifecycle.Status, responses ...models.VendorResponse) *models.RFP {
	return &models.RFP{
		ID:        testRFPID,
		Status:    status,
		Responses: responses,
	}
}

func vendorMsg(from, body string, at time.Time) mail.Message {
	return mail.Message{
		From:    from,
		To:      ownAddr,
		Subject: "Re: RFP Request [REF: " + testToken + "]",
		Date:    at,
		Text:    body,
	}
}

func TestPollPersistsMatchingResponses(t *testing.T) {
	now := time.Now()
	store := &mockStore{
		rfp: newRFP(lifecycle.StatusVendorsChosen),
		vendors: map[string]*models.Vendor{
			"sales@acme.com": {ID: "v1", Name: "Acme", Email: "sales@acme.com"},
		},
	}
	mailbox := &mockMailbox{messages: []mail.Message{
		vendorMsg("Acme Sales <sales@acme.com>", "Our quote: $1500, 2 year warranty", now),
	}}

	r := NewReconciler(store, mailbox, 100)
	persisted, err := r.Poll(context.Background(), testRFPID)

	require.NoError(t, err)
	require.Len(t, persisted, 1)
	require.NotNil(t, persisted[0].VendorID)
	assert.Equal(t, "v1", *persisted[0].VendorID)
	assert.Equal(t, "Acme", persisted[0].VendorName)
	assert.Equal(t, []lifecycle.Status{lifecycle.StatusVendorsResponded}, store.statuses)
}

func TestPollIsIdempotent(t *testing.T) {
	now := time.Now()
	store := &mockStore{rfp: newRFP(lifecycle.StatusVendorsChosen)}
	mailbox := &mockMailbox{messages: []mail.Message{
		vendorMsg("sales@acme.com", "Our quote: $1500", now),
	}}

	r := NewReconciler(store, mailbox, 100)

	first, err := r.Poll(context.Background(), testRFPID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The same window fetched again: nothing new is persisted.
	store.rfp.Responses = append(store.rfp.Responses, store.appended...)
	second, err := r.Poll(context.Background(), testRFPID)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, store.appended, 1)
}

func TestPollDiscardsMessagesWithoutToken(t *testing.T) {
	now := time.Now()
	store := &mockStore{rfp: newRFP(lifecycle.StatusVendorsChosen)}
	mailbox := &mockMailbox{messages: []mail.Message{
		{From: "spam@example.com", To: ownAddr, Subject: "special offer", Date: now, Text: "buy now"},
		{From: "other@vendor.com", To: ownAddr, Subject: "Re: [REF: 99999999999999999999999999999999]", Date: now, Text: "wrong rfp"},
	}}

	r := NewReconciler(store, mailbox, 100)
	persisted, err := r.Poll(context.Background(), testRFPID)

	require.NoError(t, err)
	assert.Empty(t, persisted)
	assert.Empty(t, store.appended)
	assert.Empty(t, store.statuses)
}

func TestPollDiscardsWrongRecipient(t *testing.T) {
	now := time.Now()
	store := &mockStore{rfp: newRFP(lifecycle.StatusVendorsChosen)}
	msg := vendorMsg("sales@acme.com", "quote", now)
	msg.To = "someoneelse@example.com"
	mailbox := &mockMailbox{messages: []mail.Message{msg}}

	r := NewReconciler(store, mailbox, 100)
	persisted, err := r.Poll(context.Background(), testRFPID)

	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestPollBatchDedup(t *testing.T) {
	now := time.Now()
	store := &mockStore{rfp: newRFP(lifecycle.StatusVendorsChosen)}
	// Same sender, same timestamp, served twice by the mailbox.
	mailbox := &mockMailbox{messages: []mail.Message{
		vendorMsg("sales@acme.com", "quote body", now),
		vendorMsg("Acme Sales <sales@acme.com>", "quote body", now),
	}}

	r := NewReconciler(store, mailbox, 100)
	persisted, err := r.Poll(context.Background(), testRFPID)

	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestPollPersistedDedupBySenderAndContent(t *testing.T) {
	now := time.Now()
	existing := models.VendorResponse{
		FromAddress: "sales@acme.com",
		Body:        "Our quote is $1500 with a 2 year warranty included.",
		ReceivedAt:  now.Add(-time.Hour),
	}
	store := &mockStore{rfp: newRFP(lifecycle.StatusVendorsResponded, existing)}
	// Display-name form of the same sender, same content, later timestamp.
	mailbox := &mockMailbox{messages: []mail.Message{
		vendorMsg("Acme Sales <sales@acme.com>", "Our quote is  $1500 with a 2 year\nwarranty included.", now),
	}}

	r := NewReconciler(store, mailbox, 100)
	persisted, err := r.Poll(context.Background(), testRFPID)

	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestPollSameSenderNewContentIsKept(t *testing.T) {
	now := time.Now()
	existing := models.VendorResponse{
		FromAddress: "sales@acme.com",
		Body:        "Our quote is $1500.",
		ReceivedAt:  now.Add(-time.Hour),
	}
	store := &mockStore{rfp: newRFP(lifecycle.StatusVendorsResponded, existing)}
	mailbox := &mockMailbox{messages: []mail.Message{
		vendorMsg("sales@acme.com", "Revised quote: $1400 and free shipping.", now),
	}}

	r := NewReconciler(store, mailbox, 100)
	persisted, err := r.Poll(context.Background(), testRFPID)

	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestPollPreservesArrivalOrder(t *testing.T) {
	now := time.Now()
	store := &mockStore{rfp: newRFP(lifecycle.StatusVendorsChosen)}
	// Fetched most-recent-first; persisted oldest-first.
	mailbox := &mockMailbox{messages: []mail.Message{
		vendorMsg("late@vendor.com", "late quote", now),
		vendorMsg("early@vendor.com", "early quote", now.Add(-2*time.Hour)),
	}}

	r := NewReconciler(store, mailbox, 100)
	persisted, err := r.Poll(context.Background(), testRFPID)

	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assert.Equal(t, "early@vendor.com", persisted[0].FromAddress)
	assert.Equal(t, "late@vendor.com", persisted[1].FromAddress)
}

func TestPollUnknownSenderKeptWithoutVendor(t *testing.T) {
	now := time.Now()
	store := &mockStore{rfp: newRFP(lifecycle.StatusVendorsChosen)}
	mailbox := &mockMailbox{messages: []mail.Message{
		vendorMsg("stranger@nowhere.com", "unsolicited but valid quote", now),
	}}

	r := NewReconciler(store, mailbox, 100)
	persisted, err := r.Poll(context.Background(), testRFPID)

	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Nil(t, persisted[0].VendorID)
	assert.Empty(t, persisted[0].VendorName)
}

func TestPollDoesNotRegressLaterStatus(t *testing.T) {
	now := time.Now()
	store := &mockStore{rfp: newRFP(lifecycle.StatusCompared)}
	mailbox := &mockMailbox{messages: []mail.Message{
		vendorMsg("sales@acme.com", "straggler quote", now),
	}}

	r := NewReconciler(store, mailbox, 100)
	persisted, err := r.Poll(context.Background(), testRFPID)

	require.NoError(t, err)
	assert.Len(t, persisted, 1)
	assert.Empty(t, store.statuses)
}

func TestNormalizeSender(t *testing.T) {
	assert.Equal(t, "sales@acme.com", NormalizeSender("Acme Sales <Sales@Acme.com>"))
	assert.Equal(t, "sales@acme.com", NormalizeSender("  SALES@ACME.COM  "))
	assert.Equal(t, "sales@acme.com", NormalizeSender("sales@acme.com"))
}

func TestSendersOverlap(t *testing.T) {
	assert.True(t, SendersOverlap("sales@acme.com", "sales@acme.com"))
	assert.True(t, SendersOverlap("sales@acme.com", "acme.com"))
	assert.False(t, SendersOverlap("sales@acme.com", "rfp@globex.com"))
	assert.False(t, SendersOverlap("", "sales@acme.com"))
}

func TestContentFingerprint(t *testing.T) {
	a := ContentFingerprint("Our quote is   $1500.\n\nRegards")
	b := ContentFingerprint("Our quote is $1500.\nRegards")
	assert.Equal(t, a, b)

	long := strings.Repeat("x", 500)
	assert.Len(t, ContentFingerprint(long), ContentPrefixLen)

	// Differences beyond the prefix do not distinguish content.
	assert.Equal(t, ContentFingerprint(long+"AAA"), ContentFingerprint(long+"BBB"))
}
