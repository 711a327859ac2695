package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	Version string
	Storage string
	store   Pinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, storage string, store Pinger) *HealthHandler {
	return &HealthHandler{
		Version: version,
		Storage: storage,
		store:   store,
	}
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status, code := "healthy", fiber.StatusOK
	response := fiber.Map{
		"service": "UBS Agenda",
		"version": h.Version,
		"storage": h.Storage,
	}
	if err := h.store.Ping(ctx); err != nil {
		status, code = "unhealthy", fiber.StatusServiceUnavailable
		response["error"] = err.Error()
	}
	response["status"] = status
	return c.Status(code).JSON(response)
}
