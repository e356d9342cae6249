// Package compare ranks an RFP's vendor responses through the upstream
// comparison service and pins the free-form result back onto real vendor
// references.
package compare

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/procureflow/backend/internal/lifecycle"
	"github.com/procureflow/backend/internal/llm"
	"github.com/procureflow/backend/internal/metrics"
	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/apperr"
	"github.com/procureflow/backend/pkg/logger"
)

const unknownVendorName = "Unknown Vendor"

// Ranker is the upstream comparison capability.
type Ranker interface {
	CompareQuotes(ctx context.Context, quotes []llm.VendorQuote, requirements models.StructuredContent) (*llm.QuoteComparison, error)
}

// Store is the slice of the record store the engine needs.
type Store interface {
	LockRFP(id string) func()
	GetRFP(id string) (*models.RFP, error)
	SetComparison(id string, result *models.ComparisonResult, status lifecycle.Status) error
}

type Engine struct {
	store  Store
	ranker Ranker
}

func NewEngine(store Store, ranker Ranker) *Engine {
	return &Engine{store: store, ranker: ranker}
}

// Compare ranks the RFP's responses and persists the resolved result,
// advancing the status to Compared. A comparison of fewer than two quotes is
// meaningless and fails with InsufficientData.
func (e *Engine) Compare(ctx context.Context, rfpID string) (*models.ComparisonResult, error) {
	unlock := e.store.LockRFP(rfpID)
	defer unlock()

	rfp, err := e.store.GetRFP(rfpID)
	if err != nil {
		return nil, err
	}

	if len(rfp.Responses) < 2 {
		return nil, apperr.InsufficientData("at least 2 vendor responses are required for comparison")
	}

	quotes := buildQuotes(rfp.Responses)

	raw, err := e.ranker.CompareQuotes(ctx, quotes, rfp.Structured)
	if err != nil {
		return nil, err
	}

	result := resolveComparison(raw, quotes)

	status := rfp.Status
	if lifecycle.CanAdvance(rfp.Status, lifecycle.StatusCompared) || rfp.Status == lifecycle.StatusCompared {
		status = lifecycle.StatusCompared
	}

	if err := e.store.SetComparison(rfpID, result, status); err != nil {
		return nil, err
	}

	metrics.ComparisonsTotal.WithLabelValues(result.Resolution).Inc()
	logger.Info("Quotes compared",
		zap.String("rfp_id", rfpID),
		zap.Int("responses", len(rfp.Responses)),
		zap.String("best_vendor_id", result.BestVendorID),
		zap.String("resolution", result.Resolution),
	)

	return result, nil
}

func buildQuotes(responses []models.VendorResponse) []llm.VendorQuote {
	quotes := make([]llm.VendorQuote, 0, len(responses))
	for i := range responses {
		r := &responses[i]

		quote := llm.VendorQuote{
			VendorName:  r.VendorName,
			VendorEmail: r.FromAddress,
			Quote:       r.Body,
			ReceivedAt:  r.ReceivedAt.Format(time.RFC3339),
		}
		if r.VendorID != nil {
			quote.VendorID = *r.VendorID
		}
		if quote.VendorName == "" {
			quote.VendorName = unknownVendorName
		}
		quotes = append(quotes, quote)
	}
	return quotes
}

// resolveComparison maps the service's free-form picks onto real vendor
// references. The best-overall pick drives the persisted winner; when it
// cannot be resolved the first response's vendor is used as a
// default-of-last-resort so the pipeline never stalls. That fallback is a
// leniency policy: the recorded Resolution field makes it observable.
func resolveComparison(raw *llm.QuoteComparison, quotes []llm.VendorQuote) *models.ComparisonResult {
	bestID, bestName, method := resolveVendor(raw.BestOverall, quotes)

	result := &models.ComparisonResult{
		BestVendorID: bestID,
		BestOverall: models.Pick{
			VendorID:   bestID,
			VendorName: bestName,
			Rationale:  raw.BestOverall.Reasoning,
		},
		Table:      raw.Table,
		Summary:    raw.Summary,
		Resolution: method,
	}

	priceID, priceName, _ := resolveVendor(raw.BestPrice, quotes)
	result.BestPrice = models.Pick{
		VendorID:   priceID,
		VendorName: priceName,
		Rationale:  raw.BestPrice.Reasoning,
	}

	warrantyID, warrantyName, _ := resolveVendor(raw.BestWarranty, quotes)
	result.BestWarranty = models.Pick{
		VendorID:   warrantyID,
		VendorName: warrantyName,
		Rationale:  raw.BestWarranty.Reasoning,
	}

	return result
}

// resolveVendor runs the three-step resolution strategy: accept a returned
// identifier that already is a known vendor reference, else fuzzy-match the
// returned name against the quote list, else fall back to the first quote.
func resolveVendor(pick llm.RawPick, quotes []llm.VendorQuote) (id, name, method string) {
	for i := range quotes {
		if quotes[i].VendorID != "" && quotes[i].VendorID == pick.VendorID {
			return quotes[i].VendorID, quotes[i].VendorName, models.ResolutionID
		}
	}

	pickName := strings.ToLower(strings.TrimSpace(pick.VendorName))
	if pickName != "" {
		for i := range quotes {
			quoteName := strings.ToLower(quotes[i].VendorName)
			if quoteName == "" || quoteName == strings.ToLower(unknownVendorName) {
				continue
			}
			if strings.Contains(quoteName, pickName) || strings.Contains(pickName, quoteName) {
				return quotes[i].VendorID, quotes[i].VendorName, models.ResolutionNameMatch
			}
		}
	}

	return quotes[0].VendorID, quotes[0].VendorName, models.ResolutionFallbackFirst
}
