// Package reconcile matches inbound vendor mail to RFPs. It fetches a
// bounded window of recent messages, keeps only those carrying the RFP's
// correlation token, deduplicates twice (within the fetched batch, then
// against everything already persisted), resolves senders against the vendor
// directory, and appends what survives in arrival order.
package reconcile

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/procureflow/backend/internal/lifecycle"
	"github.com/procureflow/backend/internal/mail"
	"github.com/procureflow/backend/internal/metrics"
	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/logger"
)

// ContentPrefixLen is how many whitespace-stripped characters of the body two
// responses must share to count as the same content. Loose by intent; a
// heuristic tunable, not a cryptographic identity.
const ContentPrefixLen = 200

const defaultFetchLimit = 100

// Mailbox yields a bounded recent window of inbox messages without side
// effects on the mailbox.
type Mailbox interface {
	FetchRecent(ctx context.Context, limit int) ([]mail.Message, error)
	OwnAddress() string
}

// Store is the slice of the record store the reconciler needs.
type Store interface {
	LockRFP(id string) func()
	GetRFP(id string) (*models.RFP, error)
	AppendResponse(rfpID string, resp *models.VendorResponse) error
	SetStatus(id string, status lifecycle.Status) error
	FindVendorByAddress(address string) (*models.Vendor, error)
}

type Reconciler struct {
	store      Store
	mailbox    Mailbox
	fetchLimit int
}

func NewReconciler(store Store, mailbox Mailbox, fetchLimit int) *Reconciler {
	if fetchLimit <= 0 {
		fetchLimit = defaultFetchLimit
	}
	return &Reconciler{
		store:      store,
		mailbox:    mailbox,
		fetchLimit: fetchLimit,
	}
}

// Poll reconciles the inbox against one RFP and returns only the responses
// persisted by this call. A second poll with no new mail returns an empty
// slice. Runs under the RFP's lock so a concurrent poll or comparison cannot
// interleave with the read-check-append window.
func (r *Reconciler) Poll(ctx context.Context, rfpID string) ([]models.VendorResponse, error) {
	unlock := r.store.LockRFP(rfpID)
	defer unlock()

	rfp, err := r.store.GetRFP(rfpID)
	if err != nil {
		return nil, err
	}

	fetched, err := r.mailbox.FetchRecent(ctx, r.fetchLimit)
	if err != nil {
		return nil, err
	}

	candidates := r.filterForRFP(rfpID, fetched)
	candidates = dedupBatch(candidates)

	// Oldest first: the responses log preserves arrival order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Date.Before(candidates[j].Date)
	})

	existing := rfp.Responses
	var persisted []models.VendorResponse

	for i := range candidates {
		msg := &candidates[i]
		resp := models.VendorResponse{
			ReceivedAt:  msg.Date,
			Subject:     msg.Subject,
			FromAddress: msg.From,
			Body:        msg.Body(),
		}

		if isKnownResponse(&resp, existing) {
			metrics.DuplicatesDropped.WithLabelValues("persisted").Inc()
			logger.Debug("Dropping already-recorded response",
				zap.String("rfp_id", rfpID),
				zap.String("from", msg.From),
			)
			continue
		}

		vendor, err := r.store.FindVendorByAddress(NormalizeSender(msg.From))
		if err != nil {
			return nil, err
		}
		if vendor != nil {
			id := vendor.ID
			resp.VendorID = &id
			resp.VendorName = vendor.Name
		}

		if err := r.store.AppendResponse(rfpID, &resp); err != nil {
			return nil, err
		}

		existing = append(existing, resp)
		persisted = append(persisted, resp)
		metrics.ResponsesReconciled.Inc()
	}

	if len(persisted) > 0 && rfp.Status == lifecycle.StatusVendorsChosen {
		if err := r.store.SetStatus(rfpID, lifecycle.StatusVendorsResponded); err != nil {
			return nil, err
		}
	}

	logger.Info("Inbox reconciled",
		zap.String("rfp_id", rfpID),
		zap.Int("fetched", len(fetched)),
		zap.Int("candidates", len(candidates)),
		zap.Int("new_responses", len(persisted)),
	)

	return persisted, nil
}

// filterForRFP discards messages without this RFP's correlation token and
// messages not addressed to our own inbox, so unrelated mail never pollutes
// the response log.
func (r *Reconciler) filterForRFP(rfpID string, fetched []mail.Message) []mail.Message {
	want := mail.Token(rfpID)
	own := strings.ToLower(r.mailbox.OwnAddress())

	var kept []mail.Message
	for i := range fetched {
		msg := &fetched[i]

		if mail.ExtractToken(msg) != want {
			continue
		}
		if own != "" && !strings.Contains(strings.ToLower(msg.To), own) {
			continue
		}
		kept = append(kept, *msg)
	}
	return kept
}

// dedupBatch collapses physical duplicates within one fetched window: same
// normalized sender, same timestamp. Polling re-fetches the same messages
// across calls, and some servers hand back the same message twice.
func dedupBatch(candidates []mail.Message) []mail.Message {
	seen := make(map[string]bool, len(candidates))
	var out []mail.Message

	for i := range candidates {
		msg := &candidates[i]
		key := NormalizeSender(msg.From) + "|" + msg.Date.UTC().Format("2006-01-02T15:04:05")
		if seen[key] {
			metrics.DuplicatesDropped.WithLabelValues("batch").Inc()
			continue
		}
		seen[key] = true
		out = append(out, *msg)
	}
	return out
}

// isKnownResponse checks a candidate against every already-persisted response
// on the RFP. Duplicate means the normalized senders overlap and the content
// prefixes match; the check runs at insert time so the no-duplicates
// invariant is continuously true.
func isKnownResponse(candidate *models.VendorResponse, existing []models.VendorResponse) bool {
	candSender := NormalizeSender(candidate.FromAddress)
	candContent := ContentFingerprint(candidate.Body)

	for i := range existing {
		if !SendersOverlap(candSender, NormalizeSender(existing[i].FromAddress)) {
			continue
		}
		if candContent == ContentFingerprint(existing[i].Body) {
			return true
		}
	}
	return false
}

// NormalizeSender reduces a raw From header to a comparable address: the
// display name is stripped, the rest lowercased and trimmed.
func NormalizeSender(raw string) string {
	addr := raw
	if start := strings.Index(raw, "<"); start >= 0 {
		if end := strings.Index(raw[start:], ">"); end > 0 {
			addr = raw[start+1 : start+end]
		}
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// SendersOverlap tolerates minor formatting differences by accepting
// substring containment in either direction.
func SendersOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// ContentFingerprint is the dedup content key: the first ContentPrefixLen
// characters after removing all whitespace.
func ContentFingerprint(body string) string {
	var b strings.Builder
	b.Grow(ContentPrefixLen)

	for _, r := range body {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
		if b.Len() >= ContentPrefixLen {
			break
		}
	}
	return b.String()
}
