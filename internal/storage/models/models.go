package models

import (
	"encoding/json"
	"time"

	"github.com/procureflow/backend/internal/lifecycle"
)

// StructuredContent is the open-ended structure the LLM produces from user
// text. There is no fixed schema: absent keys mean "not specified", never a
// placeholder, and unknown keys are preserved as-is.
type StructuredContent map[string]any

func (c StructuredContent) Has(key string) bool {
	_, ok := c[key]
	return ok
}

func (c StructuredContent) Title() string {
	if v, ok := c["title"].(string); ok {
		return v
	}
	return ""
}

func (c StructuredContent) Description() string {
	if v, ok := c["description"].(string); ok {
		return v
	}
	return ""
}

type RFP struct {
	ID           string            `json:"id"`
	OriginalText string            `json:"original_text"`
	Structured   StructuredContent `json:"structured"`
	// ChosenVendorIDs holds weak references into the vendor directory.
	ChosenVendorIDs []string `json:"chosen_vendor_ids"`
	// Responses is append-only; slice order is arrival order.
	Responses  []VendorResponse  `json:"responses"`
	Comparison *ComparisonResult `json:"comparison,omitempty"`
	Status     lifecycle.Status  `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// VendorResponse is embedded in an RFP, never a standalone entity.
type VendorResponse struct {
	// VendorID is nil when the sender could not be matched to the directory.
	VendorID *string `json:"vendor_id"`
	// VendorName caches the resolved vendor's display name at insert time so
	// deleting the vendor later degrades gracefully.
	VendorName  string    `json:"vendor_name"`
	ReceivedAt  time.Time `json:"received_at"`
	Subject     string    `json:"subject"`
	FromAddress string    `json:"from_address"`
	Body        string    `json:"body"`
}

type Vendor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Company   string    `json:"company"`
	Category  string    `json:"category"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Pick is one recommendation slot in a comparison result.
type Pick struct {
	VendorID   string `json:"vendor_id"`
	VendorName string `json:"vendor_name"`
	Rationale  string `json:"rationale"`
}

// Resolution methods for the best-overall vendor reference, observable so
// callers can tell a clean match from the default-of-last-resort.
const (
	ResolutionID            = "id"
	ResolutionNameMatch     = "name-match"
	ResolutionFallbackFirst = "fallback-first"
)

type ComparisonResult struct {
	BestVendorID string          `json:"best_vendor_id"`
	BestPrice    Pick            `json:"best_price"`
	BestWarranty Pick            `json:"best_warranty"`
	BestOverall  Pick            `json:"best_overall"`
	Table        json.RawMessage `json:"comparison_table,omitempty"`
	Summary      string          `json:"summary"`
	Resolution   string          `json:"resolution"`
}
