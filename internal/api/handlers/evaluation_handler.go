package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sop-monitor/backend/internal/ingestion"
	"github.com/sop-monitor/backend/internal/pipeline"
	"github.com/sop-monitor/backend/internal/report"
	"github.com/sop-monitor/backend/internal/storage/models"
	"github.com/sop-monitor/backend/pkg/logger"
)

type EvaluationHandler struct {
	runner *pipeline.Runner
}

func NewEvaluationHandler(runner *pipeline.Runner) *EvaluationHandler {
	return &EvaluationHandler{
		runner: runner,
	}
}

type evaluationRequest struct {
	SOPName       string               `json:"sop_name"`
	SOP           *models.SOP          `json:"sop"`
	Observations  []models.Observation `json:"observations"`
	IncludeReport bool                 `json:"include_report"`
}

func (h *EvaluationHandler) HandleEvaluate(c *fiber.Ctx) error {
	var req evaluationRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.SOP == nil && req.SOPName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Either sop or sop_name is required",
		})
	}

	if err := ingestion.ValidateObservations(req.Observations); err != nil {
		return respondError(c, err, "Invalid observations")
	}

	resp, err := h.runner.Run(c.UserContext(), pipeline.Request{
		SOPName:      req.SOPName,
		SOP:          req.SOP,
		Observations: req.Observations,
	})
	if err != nil {
		return respondError(c, err, "Failed to evaluate observations")
	}

	body := fiber.Map{
		"id":         resp.ID,
		"sop_name":   resp.SOPName,
		"task_name":  resp.TaskName,
		"results":    resp.Results,
		"summary":    resp.Summary,
		"grade":      report.GradeFor(resp.Summary.ComplianceRate),
		"latency_ms": resp.LatencyMS,
	}

	if req.IncludeReport {
		body["alerts"] = report.Alerts(resp.Results)
		body["statistics"] = report.Stats(resp.Results)
		body["report"] = report.SummaryReport(resp.TaskName, resp.Results, resp.Summary, time.Now())
	}

	return c.JSON(body)
}
