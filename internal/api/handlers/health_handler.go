package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/mailarchive/internal/database"
	"gorm.io/gorm"
)

const probeTimeout = 3 * time.Second

// StorageChecker verifies the blob store against the shard index
type StorageChecker interface {
	Healthcheck(ctx context.Context) bool
}

// HealthHandler handles health check HTTP requests
type HealthHandler struct {
	db      *gorm.DB
	storage StorageChecker
}

// NewHealthHandler creates a new HealthHandler. storage may be nil.
func NewHealthHandler(db *gorm.DB, storage StorageChecker) *HealthHandler {
	return &HealthHandler{db: db, storage: storage}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// Health handles GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	services := map[string]string{"database": "healthy"}
	status := "healthy"

	if err := database.Ping(ctx, h.db); err != nil {
		services["database"] = "unhealthy"
		status = "unhealthy"
	}

	// The storage check reads the shard index, so it is skipped without a database
	if h.storage != nil {
		switch {
		case status == "unhealthy":
			services["storage"] = "unknown"
		case h.storage.Healthcheck(ctx):
			services["storage"] = "healthy"
		default:
			services["storage"] = "unhealthy"
			status = "unhealthy"
		}
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, HealthResponse{
		Status:   status,
		Services: services,
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	if err := database.Ping(ctx, h.db); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
	})
}
