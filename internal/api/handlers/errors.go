package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/procureflow/backend/pkg/apperr"
	"github.com/procureflow/backend/pkg/logger"
)

// respondError maps the error taxonomy onto HTTP statuses. Anything outside
// the taxonomy is internal: logged in full, surfaced as a generic failure.
func respondError(c *fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)

	var status int
	switch kind {
	case apperr.KindInvalidInput:
		status = fiber.StatusBadRequest
	case apperr.KindNotFound:
		status = fiber.StatusNotFound
	case apperr.KindInsufficientData:
		status = fiber.StatusUnprocessableEntity
	case apperr.KindUpstreamUnavailable, apperr.KindInboxUnavailable:
		status = fiber.StatusServiceUnavailable
	default:
		logger.Error("Internal error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
			"kind":  kind.String(),
		})
	}

	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}
