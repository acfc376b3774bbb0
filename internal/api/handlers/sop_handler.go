package handlers

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sop-monitor/backend/internal/evaluation"
	"github.com/sop-monitor/backend/internal/ingestion"
	"github.com/sop-monitor/backend/internal/metrics"
	"github.com/sop-monitor/backend/internal/middleware/validation"
	"github.com/sop-monitor/backend/internal/storage/models"
	"github.com/sop-monitor/backend/pkg/logger"
)

type SOPStore interface {
	SaveSOP(ctx context.Context, name string, sop *models.SOP) error
	GetSOP(ctx context.Context, name string) (*models.SOPRecord, error)
	ListSOPs(ctx context.Context) ([]models.SOPListing, error)
	DeleteSOP(ctx context.Context, name string) error
	CountSOPs(ctx context.Context) (int, error)
}

type SOPHandler struct {
	store SOPStore
}

func NewSOPHandler(store SOPStore) *SOPHandler {
	return &SOPHandler{
		store: store,
	}
}

func (h *SOPHandler) CreateSOP(c *fiber.Ctx) error {
	var req struct {
		Name string      `json:"name"`
		SOP  *models.SOP `json:"sop"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if !validation.ValidName(req.Name) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A valid name is required",
		})
	}
	if req.SOP == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "SOP is required",
		})
	}

	ingestion.Normalize(req.SOP)
	if err := evaluation.ValidateSOP(req.SOP); err != nil {
		return respondError(c, err, "Invalid SOP")
	}

	if err := h.store.SaveSOP(c.UserContext(), req.Name, req.SOP); err != nil {
		return respondError(c, err, "Failed to save SOP")
	}
	h.refreshLibrarySize(c.UserContext())

	logger.Info("SOP stored", zap.String("name", req.Name), zap.Int("steps", len(req.SOP.Steps)))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "SOP stored successfully",
		"name":    req.Name,
		"steps":   len(req.SOP.Steps),
	})
}

func (h *SOPHandler) ListSOPs(c *fiber.Ctx) error {
	listings, err := h.store.ListSOPs(c.UserContext())
	if err != nil {
		return respondError(c, err, "Failed to list SOPs")
	}

	return c.JSON(fiber.Map{
		"sops": listings,
	})
}

func (h *SOPHandler) GetSOP(c *fiber.Ctx) error {
	name, err := nameParam(c)
	if err != nil {
		return respondError(c, err, "Invalid SOP name")
	}

	record, err := h.store.GetSOP(c.UserContext(), name)
	if err != nil {
		return respondError(c, err, "Failed to get SOP")
	}

	return c.JSON(fiber.Map{
		"name":       record.Name,
		"sop":        record.SOP,
		"created_at": record.CreatedAt,
		"updated_at": record.UpdatedAt,
	})
}

func (h *SOPHandler) DeleteSOP(c *fiber.Ctx) error {
	name, err := nameParam(c)
	if err != nil {
		return respondError(c, err, "Invalid SOP name")
	}

	if err := h.store.DeleteSOP(c.UserContext(), name); err != nil {
		return respondError(c, err, "Failed to delete SOP")
	}
	h.refreshLibrarySize(c.UserContext())

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SOPHandler) refreshLibrarySize(ctx context.Context) {
	n, err := h.store.CountSOPs(ctx)
	if err != nil {
		logger.Warn("Failed to count SOPs", zap.Error(err))
		return
	}
	metrics.SOPsStored.Set(float64(n))
}

func nameParam(c *fiber.Ctx) (string, error) {
	name := c.Params("name")
	if !validation.ValidName(name) {
		return "", fmt.Errorf("%w: invalid SOP name %q", evaluation.ErrInvalidInput, name)
	}
	return name, nil
}
