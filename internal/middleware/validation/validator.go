package validation

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidName reports whether name is usable as a SOP library key.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

type Config struct {
	MaxObservations     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects requests the handlers would refuse anyway, before the
// body is fully decoded into domain types.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxObservations <= 0 {
		cfg.MaxObservations = 5000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if !allowedContentType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if c.Method() == fiber.MethodPost && strings.HasSuffix(c.Path(), "/evaluations") {
			var req struct {
				SOPName      string            `json:"sop_name"`
				Observations []json.RawMessage `json:"observations"`
			}
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			if len(req.Observations) > cfg.MaxObservations {
				cfg.Logger.Warn("Observation limit exceeded",
					zap.String("ip", c.IP()),
					zap.Int("observations", len(req.Observations)),
					zap.Int("limit", cfg.MaxObservations),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Too many observations",
				})
			}

			if req.SOPName != "" && !ValidName(req.SOPName) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid SOP name",
				})
			}
		}

		return c.Next()
	}
}

func allowedContentType(contentType string, allowed []string) bool {
	if contentType == "" {
		return false
	}
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}
