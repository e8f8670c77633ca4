package handlers

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/middleware/validation"
	"github.com/fjwyyds6668/ai-tourguide/internal/rag"
	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
)

type Answerer interface {
	Generate(ctx context.Context, req rag.GenerateRequest) (*rag.GenerateResponse, error)
	Search(ctx context.Context, query string, topK int) (*rag.SearchResult, error)
}

type SessionReader interface {
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)
	Delete(ctx context.Context, sessionID string) error
}

// GenerateRequest is the body of /rag/generate and of a websocket chat frame.
type GenerateRequest struct {
	Query           string `json:"query" validate:"required"`
	SessionID       string `json:"session_id" validate:"omitempty,max=128"`
	CharacterID     *int64 `json:"character_id"`
	UseRAG          *bool  `json:"use_rag"`
	InteractionType string `json:"interaction_type" validate:"omitempty,oneof=text_query voice_query"`
}

func (r GenerateRequest) toEngine() rag.GenerateRequest {
	useRAG := true
	if r.UseRAG != nil {
		useRAG = *r.UseRAG
	}
	return rag.GenerateRequest{
		Query:           validation.Sanitize(r.Query),
		SessionID:       r.SessionID,
		CharacterID:     r.CharacterID,
		UseRAG:          useRAG,
		InteractionType: models.InteractionType(r.InteractionType),
	}
}

type SearchRequest struct {
	Query string `json:"query" validate:"required"`
	TopK  int    `json:"top_k" validate:"omitempty,min=1,max=50"`
}

type RAGHandler struct {
	engine         Answerer
	sessions       SessionReader
	maxQueryLength int
}

func NewRAGHandler(engine Answerer, sessions SessionReader, maxQueryLength int) *RAGHandler {
	return &RAGHandler{engine: engine, sessions: sessions, maxQueryLength: maxQueryLength}
}

func (h *RAGHandler) checkLength(query string) error {
	if h.maxQueryLength > 0 && utf8.RuneCountInString(query) > h.maxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", validation.ErrInvalid, h.maxQueryLength)
	}
	return nil
}

func (h *RAGHandler) Generate(c *fiber.Ctx) error {
	var req GenerateRequest
	if err := validation.Bind(c, &req); err != nil {
		return respondError(c, "generate", err)
	}
	if err := h.checkLength(req.Query); err != nil {
		return respondError(c, "generate", err)
	}

	resp, err := h.engine.Generate(c.UserContext(), req.toEngine())
	if err != nil {
		return respondError(c, "generate", err)
	}
	return c.JSON(resp)
}

func (h *RAGHandler) Search(c *fiber.Ctx) error {
	var req SearchRequest
	if err := validation.Bind(c, &req); err != nil {
		return respondError(c, "search", err)
	}
	if err := h.checkLength(req.Query); err != nil {
		return respondError(c, "search", err)
	}

	res, err := h.engine.Search(c.UserContext(), validation.Sanitize(req.Query), req.TopK)
	if err != nil {
		return respondError(c, "search", err)
	}
	return c.JSON(res)
}

func (h *RAGHandler) GetSession(c *fiber.Ctx) error {
	id := c.Params("id")
	turns, err := h.sessions.History(c.UserContext(), id)
	if err != nil {
		return respondError(c, "get_session", err)
	}
	return c.JSON(fiber.Map{
		"session_id": id,
		"history":    turns,
	})
}

func (h *RAGHandler) DeleteSession(c *fiber.Ctx) error {
	if err := h.sessions.Delete(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, "delete_session", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
