package handlers

import (
	"regexp"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/apperr"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// VendorStore is the vendor-directory surface the handlers depend on.
type VendorStore interface {
	CreateVendor(v *models.Vendor) error
	GetVendor(id string) (*models.Vendor, error)
	ListVendors() ([]models.Vendor, error)
	UpdateVendor(v *models.Vendor) error
	DeleteVendor(id string) error
}

type VendorHandler struct {
	store VendorStore
}

func NewVendorHandler(store VendorStore) *VendorHandler {
	return &VendorHandler{store: store}
}

type vendorRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Company  string `json:"company"`
	Category string `json:"category"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

func (r *vendorRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.InvalidInput("vendor name is required")
	}
	if !emailPattern.MatchString(r.Email) {
		return apperr.InvalidInput("a valid vendor email is required")
	}
	return nil
}

func (h *VendorHandler) List(c *fiber.Ctx) error {
	vendors, err := h.store.ListVendors()
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"count":   len(vendors),
		"vendors": vendors,
	})
}

func (h *VendorHandler) Get(c *fiber.Ctx) error {
	vendor, err := h.store.GetVendor(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{"vendor": vendor})
}

func (h *VendorHandler) Create(c *fiber.Ctx) error {
	var req vendorRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperr.InvalidInput("invalid request body"))
	}
	if err := req.validate(); err != nil {
		return respondError(c, err)
	}

	vendor := &models.Vendor{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Company:   req.Company,
		Category:  req.Category,
		Phone:     req.Phone,
		Address:   req.Address,
		CreatedAt: time.Now(),
	}

	if err := h.store.CreateVendor(vendor); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "vendor created",
		"vendor":  vendor,
	})
}

func (h *VendorHandler) Update(c *fiber.Ctx) error {
	vendor, err := h.store.GetVendor(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	var req vendorRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, apperr.InvalidInput("invalid request body"))
	}
	if err := req.validate(); err != nil {
		return respondError(c, err)
	}

	vendor.Name = req.Name
	vendor.Email = strings.ToLower(strings.TrimSpace(req.Email))
	vendor.Company = req.Company
	vendor.Category = req.Category
	vendor.Phone = req.Phone
	vendor.Address = req.Address

	if err := h.store.UpdateVendor(vendor); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "vendor updated",
		"vendor":  vendor,
	})
}

func (h *VendorHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.store.DeleteVendor(id); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":    "vendor deleted",
		"deleted_id": id,
	})
}
