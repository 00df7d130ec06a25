package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/services"
	"github.com/ntsmith7/peekaboo/pkg/logger"
)

// Pinger is the one store capability the health check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store       Pinger
	scanService services.ScanServiceMethods
	logger      *logger.Logger
}

func NewHealthHandler(store Pinger, scanService services.ScanServiceMethods) *HealthHandler {
	return &HealthHandler{
		store:       store,
		scanService: scanService,
		logger:      logger.NewLogger(logrus.InfoLevel),
	}
}

// Health reports service liveness plus queue occupancy. A dead database
// degrades the answer to 503 but the process keeps serving.
func (h *HealthHandler) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok", Database: "up"}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WithError(err).Error("Health check: database unreachable")
		resp.Status = "degraded"
		resp.Database = "down"
	}

	if h.scanService != nil {
		resp.RunningScans, resp.QueuedScans, _ = h.scanService.QueueStatus()
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
