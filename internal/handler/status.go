package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pagesmith/orchestrator/internal/service"
	"github.com/pagesmith/orchestrator/pkg/response"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

type StatusHandler struct {
	index *service.JobIndex
}

func NewStatusHandler(index *service.JobIndex) *StatusHandler {
	return &StatusHandler{index: index}
}

// Health handles GET /health.
func (h *StatusHandler) Health(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{
		"status":    "healthy",
		"timestamp": nowRFC3339(),
		"version":   Version,
		"jobs":      h.index.Stats(),
	})
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
