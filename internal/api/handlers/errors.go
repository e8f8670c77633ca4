package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/middleware/validation"
	"github.com/fjwyyds6668/ai-tourguide/internal/rag"
	"github.com/fjwyyds6668/ai-tourguide/internal/storage/sqlite"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, validation.ErrInvalid), errors.Is(err, rag.ErrEmptyQuery):
		return fiber.StatusBadRequest
	case errors.Is(err, sqlite.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, rag.ErrGeneration):
		return fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, op string, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status >= fiber.StatusInternalServerError {
		logger.Error("Request failed", zap.String("op", op), zap.Int("status", status), zap.Error(err))
		if status == fiber.StatusInternalServerError {
			msg = "internal error"
		}
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
