package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/services"
	"github.com/ntsmith7/peekaboo/pkg/logger"
)

type ConfigHandler struct {
	configService services.ConfigServiceMethods
	logger        *logger.Logger
}

func NewConfigHandler(configService services.ConfigServiceMethods) *ConfigHandler {
	return &ConfigHandler{
		configService: configService,
		logger:        logger.NewLogger(logrus.InfoLevel),
	}
}

// GetScanners lists the external scanner definitions the engine shells
// out to, as loaded from scanners.yaml.
func (h *ConfigHandler) GetScanners(c *gin.Context) {
	c.JSON(http.StatusOK, h.configService.GetScannerDefinitions())
}
