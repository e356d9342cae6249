package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/procureflow/backend/internal/lifecycle"
	"github.com/procureflow/backend/internal/llm"
	"github.com/procureflow/backend/pkg/apperr"
)

// EmailHandler classifies pasted email content against the RFPs that are
// currently waiting on vendor replies.
type EmailHandler struct {
	store      Store
	structurer Structurer
}

func NewEmailHandler(store Store, structurer Structurer) *EmailHandler {
	return &EmailHandler{store: store, structurer: structurer}
}

func (h *EmailHandler) Process(c *fiber.Ctx) error {
	var req struct {
		EmailText string `json:"email_text"`
	}

	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperr.InvalidInput("invalid request body"))
	}
	if req.EmailText == "" {
		return respondError(c, apperr.InvalidInput("email text is required"))
	}

	active, err := h.store.ListRFPsByStatus(lifecycle.StatusVendorsChosen, lifecycle.StatusVendorsResponded)
	if err != nil {
		return respondError(c, err)
	}
	if len(active) == 0 {
		return respondError(c, apperr.NotFound("no RFPs are currently awaiting vendor responses"))
	}

	candidates := make([]llm.RFPSummary, 0, len(active))
	for _, r := range active {
		candidates = append(candidates, llm.RFPSummary{
			ID:          r.ID,
			Title:       r.Structured.Title(),
			Description: r.Structured.Description(),
		})
	}

	ident, err := h.structurer.IdentifyEmail(c.Context(), req.EmailText, candidates)
	if err != nil {
		return respondError(c, err)
	}

	resp := fiber.Map{"identification": ident}
	if ident.VendorEmail != "" {
		vendor, err := h.store.FindVendorByAddress(ident.VendorEmail)
		if err == nil && vendor != nil {
			resp["vendor"] = vendor
		}
	}

	return c.JSON(resp)
}
