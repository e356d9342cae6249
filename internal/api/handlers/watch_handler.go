package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/logger"
)

const watchInterval = 2 * time.Second

// WatchHandler streams RFP status and response-count changes over a
// websocket so the UI does not have to poll the REST surface.
type WatchHandler struct {
	store Store
}

func NewWatchHandler(store Store) *WatchHandler {
	return &WatchHandler{store: store}
}

func (h *WatchHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("Watch connection established")

	defer func() {
		c.Close()
		logger.Info("Watch connection closed")
	}()

	rfpID := c.Params("id")
	if _, err := uuid.Parse(rfpID); err != nil {
		h.sendError(c, "invalid RFP id")
		return
	}

	logger.Info("Watching RFP", zap.String("rfp_id", rfpID))
	h.streamUpdates(c, rfpID)
}

func (h *WatchHandler) streamUpdates(c *websocket.Conn, rfpID string) {
	var lastStatus string
	lastResponses := -1

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		rfp, err := h.store.GetRFP(rfpID)
		if err != nil {
			h.sendError(c, "RFP not found")
			return
		}

		status := rfp.Status.String()
		if status != lastStatus || len(rfp.Responses) != lastResponses {
			if err := h.sendSnapshot(c, rfp); err != nil {
				return
			}
			lastStatus = status
			lastResponses = len(rfp.Responses)
		} else if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
			// Client went away.
			return
		}

		<-ticker.C
	}
}

func (h *WatchHandler) sendSnapshot(c *websocket.Conn, rfp *models.RFP) error {
	msg := map[string]interface{}{
		"type":           "update",
		"rfp_id":         rfp.ID,
		"status":         rfp.Status,
		"response_count": len(rfp.Responses),
		"updated_at":     rfp.UpdatedAt,
	}

	return c.WriteJSON(msg)
}

func (h *WatchHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
