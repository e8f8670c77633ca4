package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type InteractionLog interface {
	Interactions(ctx context.Context, sessionID string, limit, offset int) ([]models.Interaction, int, error)
}

type HistoryHandler struct {
	log InteractionLog
}

func NewHistoryHandler(log InteractionLog) *HistoryHandler {
	return &HistoryHandler{log: log}
}

// List serves GET /history?session_id=&limit=&skip=, newest first.
func (h *HistoryHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	skip := max(c.QueryInt("skip", 0), 0)

	items, total, err := h.log.Interactions(c.UserContext(), c.Query("session_id"), limit, skip)
	if err != nil {
		return respondError(c, "history", err)
	}
	if items == nil {
		items = []models.Interaction{}
	}
	return c.JSON(fiber.Map{
		"items": items,
		"total": total,
		"limit": limit,
		"skip":  skip,
	})
}
