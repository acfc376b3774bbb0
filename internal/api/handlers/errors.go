package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sop-monitor/backend/internal/evaluation"
	"github.com/sop-monitor/backend/internal/storage/sqlite"
	"github.com/sop-monitor/backend/pkg/logger"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, evaluation.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, sqlite.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, evaluation.ErrSimilarityProvider):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Client errors carry their
// message; server errors are logged and replaced by msg.
func respondError(c *fiber.Ctx, err error, msg string) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error(msg, zap.Error(err), zap.String("path", c.Path()))
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
