package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/ingestion"
	"github.com/fjwyyds6668/ai-tourguide/internal/middleware/validation"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

type DocumentQueue interface {
	Enqueue(ctx context.Context, doc ingestion.Document) (string, error)
}

type DocumentDeleter interface {
	Delete(ctx context.Context, docID string) error
}

type UploadRequest struct {
	Title       string         `json:"title" validate:"max=256"`
	Source      string         `json:"source" validate:"max=1024"`
	Content     string         `json:"content" validate:"required"`
	ContentType string         `json:"content_type" validate:"omitempty,oneof=text html"`
	Metadata    map[string]any `json:"metadata"`
}

type KnowledgeHandler struct {
	queue   DocumentQueue
	deleter DocumentDeleter
}

func NewKnowledgeHandler(queue DocumentQueue, deleter DocumentDeleter) *KnowledgeHandler {
	return &KnowledgeHandler{queue: queue, deleter: deleter}
}

// Upload queues a document for background ingestion.
func (h *KnowledgeHandler) Upload(c *fiber.Ctx) error {
	var req UploadRequest
	if err := validation.Bind(c, &req); err != nil {
		return respondError(c, "upload", err)
	}

	docID, err := h.queue.Enqueue(c.UserContext(), ingestion.Document{
		Title:       req.Title,
		Source:      req.Source,
		Content:     req.Content,
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return respondError(c, "upload", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"doc_id": docID,
		"status": "queued",
	})
}

func (h *KnowledgeHandler) Delete(c *fiber.Ctx) error {
	docID := c.Params("docId")
	if err := h.deleter.Delete(c.UserContext(), docID); err != nil {
		return respondError(c, "delete_document", err)
	}
	logger.Info("Document deleted", zap.String("doc_id", docID))
	return c.SendStatus(fiber.StatusNoContent)
}
