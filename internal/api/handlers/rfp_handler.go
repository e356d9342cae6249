package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/procureflow/backend/internal/lifecycle"
	"github.com/procureflow/backend/internal/llm"
	"github.com/procureflow/backend/internal/mail"
	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/apperr"
	"github.com/procureflow/backend/pkg/logger"
	"github.com/procureflow/backend/pkg/utils"
)

// Store is the record-store surface the RFP handlers depend on; tests
// substitute a mock.
type Store interface {
	LockRFP(id string) func()
	CreateRFP(rfp *models.RFP) error
	GetRFP(id string) (*models.RFP, error)
	ListRFPs() ([]models.RFP, error)
	ListRFPsByStatus(statuses ...lifecycle.Status) ([]models.RFP, error)
	DeleteRFP(id string) error
	UpdateRFPDescription(id, originalText string, structured models.StructuredContent, status lifecycle.Status) error
	UpdateRFPStructured(id string, structured models.StructuredContent) error
	SetChosenVendors(id string, vendorIDs []string, status lifecycle.Status) error
	SetStatus(id string, status lifecycle.Status) error
	GetVendorsByIDs(ids []string) ([]models.Vendor, error)
	FindVendorByAddress(address string) (*models.Vendor, error)
}

// Structurer is the text-to-structured-data capability.
type Structurer interface {
	Structure(ctx context.Context, userText string) (models.StructuredContent, error)
	IdentifyEmail(ctx context.Context, emailText string, candidates []llm.RFPSummary) (*llm.EmailIdentification, error)
}

// Notifier dispatches an RFP to vendors, one independent send per vendor.
type Notifier interface {
	SendAll(vendors []models.Vendor, content models.StructuredContent, correlationID string) []mail.SendResult
}

// Poller reconciles the inbox for one RFP.
type Poller interface {
	Poll(ctx context.Context, rfpID string) ([]models.VendorResponse, error)
}

// Comparer ranks an RFP's responses.
type Comparer interface {
	Compare(ctx context.Context, rfpID string) (*models.ComparisonResult, error)
}

// StructuredCache caches structuring results; implementations tolerate a nil
// receiver so the cache stays optional.
type StructuredCache interface {
	GetStructured(ctx context.Context, textHash string) (models.StructuredContent, bool, error)
	SetStructured(ctx context.Context, textHash string, content models.StructuredContent) error
}

type RFPHandler struct {
	store      Store
	structurer Structurer
	notifier   Notifier
	poller     Poller
	comparer   Comparer
	cache      StructuredCache
}

func NewRFPHandler(store Store, structurer Structurer, notifier Notifier, poller Poller, comparer Comparer, cache StructuredCache) *RFPHandler {
	return &RFPHandler{
		store:      store,
		structurer: structurer,
		notifier:   notifier,
		poller:     poller,
		comparer:   comparer,
		cache:      cache,
	}
}

func (h *RFPHandler) List(c *fiber.Ctx) error {
	rfps, err := h.store.ListRFPs()
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"count": len(rfps),
		"rfps":  rfps,
	})
}

func (h *RFPHandler) Create(c *fiber.Ctx) error {
	now := time.Now()
	rfp := &models.RFP{
		ID:              uuid.New().String(),
		Structured:      models.StructuredContent{},
		ChosenVendorIDs: []string{},
		Status:          lifecycle.StatusNew,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.store.CreateRFP(rfp); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "RFP created",
		"rfp":     rfp,
	})
}

func (h *RFPHandler) Get(c *fiber.Ctx) error {
	id, err := rfpID(c)
	if err != nil {
		return respondError(c, err)
	}

	rfp, err := h.store.GetRFP(id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"rfp": rfp})
}

func (h *RFPHandler) Delete(c *fiber.Ctx) error {
	id, err := rfpID(c)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.store.DeleteRFP(id); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":    "RFP deleted",
		"deleted_id": id,
	})
}

// GenerateFromText runs the structuring service without persisting anything:
// the caller reviews the result before saving it through Describe.
func (h *RFPHandler) GenerateFromText(c *fiber.Ctx) error {
	var req struct {
		UserText string `json:"user_text"`
	}

	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperr.InvalidInput("invalid request body"))
	}
	if req.UserText == "" {
		return respondError(c, apperr.InvalidInput("user text is required"))
	}

	textHash := utils.HashNormalized(req.UserText)
	if cached, ok, err := h.cache.GetStructured(c.Context(), textHash); err == nil && ok {
		return c.JSON(fiber.Map{
			"structured": cached,
			"cached":     true,
		})
	}

	structured, err := h.structurer.Structure(c.Context(), req.UserText)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.cache.SetStructured(c.Context(), textHash, structured); err != nil {
		logger.Warn("Failed to cache structuring result", zap.Error(err))
	}

	return c.JSON(fiber.Map{
		"structured": structured,
		"cached":     false,
	})
}

// Describe saves the user text plus its structured content and moves the RFP
// to Described. Re-describing an already-described RFP is a legal self-loop.
func (h *RFPHandler) Describe(c *fiber.Ctx) error {
	id, err := rfpID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req struct {
		UserText   string                   `json:"user_text"`
		Structured models.StructuredContent `json:"structured"`
	}

	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperr.InvalidInput("invalid request body"))
	}
	if req.UserText == "" {
		return respondError(c, apperr.InvalidInput("user text is required"))
	}
	if req.Structured == nil {
		return respondError(c, apperr.InvalidInput("structured content is required"))
	}

	unlock := h.store.LockRFP(id)
	defer unlock()

	rfp, err := h.store.GetRFP(id)
	if err != nil {
		return respondError(c, err)
	}

	if _, err := lifecycle.Advance(rfp.Status, lifecycle.StatusDescribed); err != nil {
		return respondError(c, err)
	}

	if err := h.store.UpdateRFPDescription(id, req.UserText, req.Structured, lifecycle.StatusDescribed); err != nil {
		return respondError(c, err)
	}

	rfp, err = h.store.GetRFP(id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "RFP description saved",
		"rfp":     rfp,
	})
}

// Review re-saves customized structured content, a Described self-loop.
func (h *RFPHandler) Review(c *fiber.Ctx) error {
	id, err := rfpID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req struct {
		Structured models.StructuredContent `json:"structured"`
	}

	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperr.InvalidInput("invalid request body"))
	}
	if req.Structured == nil {
		return respondError(c, apperr.InvalidInput("structured content is required"))
	}

	unlock := h.store.LockRFP(id)
	defer unlock()

	rfp, err := h.store.GetRFP(id)
	if err != nil {
		return respondError(c, err)
	}

	if rfp.Status != lifecycle.StatusDescribed {
		return respondError(c, apperr.InvalidInput("RFP customization requires status Described"))
	}

	if err := h.store.UpdateRFPStructured(id, req.Structured); err != nil {
		return respondError(c, err)
	}

	rfp, err = h.store.GetRFP(id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "RFP customization saved",
		"rfp":     rfp,
	})
}

// SendToVendors dispatches the RFP to the selected vendors and records the
// selection. Per-vendor failures are reported, never raised; the selection is
// persisted only after every send has been attempted.
func (h *RFPHandler) SendToVendors(c *fiber.Ctx) error {
	id, err := rfpID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req struct {
		VendorIDs []string `json:"vendor_ids"`
	}

	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperr.InvalidInput("invalid request body"))
	}
	if len(req.VendorIDs) == 0 {
		return respondError(c, apperr.InvalidInput("at least one vendor must be selected"))
	}

	unlock := h.store.LockRFP(id)
	defer unlock()

	rfp, err := h.store.GetRFP(id)
	if err != nil {
		return respondError(c, err)
	}

	// Sending again from VendorsChosen extends the vendor set.
	if rfp.Status != lifecycle.StatusVendorsChosen {
		if _, err := lifecycle.Advance(rfp.Status, lifecycle.StatusVendorsChosen); err != nil {
			return respondError(c, err)
		}
	}

	vendors, err := h.store.GetVendorsByIDs(req.VendorIDs)
	if err != nil {
		return respondError(c, err)
	}
	if len(vendors) == 0 {
		return respondError(c, apperr.NotFound("no vendors found with provided ids"))
	}

	results := h.notifier.SendAll(vendors, rfp.Structured, rfp.ID)

	sent := 0
	for _, r := range results {
		if r.Success {
			sent++
		}
	}

	chosen := mergeVendorIDs(rfp.ChosenVendorIDs, vendors)
	if err := h.store.SetChosenVendors(id, chosen, lifecycle.StatusVendorsChosen); err != nil {
		return respondError(c, err)
	}

	logger.Info("RFP sent to vendors",
		zap.String("rfp_id", id),
		zap.Int("sent", sent),
		zap.Int("failed", len(results)-sent),
	)

	return c.JSON(fiber.Map{
		"message":      "RFP dispatched",
		"sent":         sent,
		"failed":       len(results) - sent,
		"send_results": results,
		"status":       lifecycle.StatusVendorsChosen,
	})
}

func (h *RFPHandler) GetResponses(c *fiber.Ctx) error {
	id, err := rfpID(c)
	if err != nil {
		return respondError(c, err)
	}

	rfp, err := h.store.GetRFP(id)
	if err != nil {
		return respondError(c, err)
	}

	vendors, err := h.store.GetVendorsByIDs(rfp.ChosenVendorIDs)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"rfp_id":         rfp.ID,
		"responses":      rfp.Responses,
		"chosen_vendors": vendors,
	})
}

// PollInbox runs the reconciler and reports how many responses were new, so
// callers can tell "N added" from "already processed".
func (h *RFPHandler) PollInbox(c *fiber.Ctx) error {
	id, err := rfpID(c)
	if err != nil {
		return respondError(c, err)
	}

	newResponses, err := h.poller.Poll(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"rfp_id":        id,
		"new_count":     len(newResponses),
		"new_responses": newResponses,
	})
}

func (h *RFPHandler) CompareQuotes(c *fiber.Ctx) error {
	id, err := rfpID(c)
	if err != nil {
		return respondError(c, err)
	}

	result, err := h.comparer.Compare(c.Context(), id)
	if err != nil {
		return respondError(c, err)
	}

	rfp, err := h.store.GetRFP(id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":    "quote comparison completed",
		"comparison": result,
		"status":     rfp.Status,
	})
}

// UpdateStatus is the operator escape hatch: any valid status value is
// accepted regardless of the current one.
func (h *RFPHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := rfpID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req struct {
		Status string `json:"status"`
	}

	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperr.InvalidInput("invalid request body"))
	}

	status, err := lifecycle.Override(req.Status)
	if err != nil {
		return respondError(c, err)
	}

	unlock := h.store.LockRFP(id)
	defer unlock()

	if err := h.store.SetStatus(id, status); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "status updated",
		"status":  status,
	})
}

func (h *RFPHandler) Complete(c *fiber.Ctx) error {
	id, err := rfpID(c)
	if err != nil {
		return respondError(c, err)
	}

	unlock := h.store.LockRFP(id)
	defer unlock()

	rfp, err := h.store.GetRFP(id)
	if err != nil {
		return respondError(c, err)
	}

	status, err := lifecycle.Advance(rfp.Status, lifecycle.StatusCompleted)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.store.SetStatus(id, status); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "RFP completed",
		"status":  status,
	})
}

func rfpID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", apperr.InvalidInput("invalid RFP id")
	}
	return id, nil
}

func mergeVendorIDs(existing []string, vendors []models.Vendor) []string {
	seen := make(map[string]bool, len(existing)+len(vendors))
	merged := make([]string, 0, len(existing)+len(vendors))

	for _, id := range existing {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	for _, v := range vendors {
		if !seen[v.ID] {
			seen[v.ID] = true
			merged = append(merged, v.ID)
		}
	}
	return merged
}
