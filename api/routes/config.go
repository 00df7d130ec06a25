package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/ntsmith7/peekaboo/internal/handlers"
	"github.com/ntsmith7/peekaboo/internal/services"
)

func InitConfigRoutes(router *gin.RouterGroup, configService services.ConfigServiceMethods) {
	h := handlers.NewConfigHandler(configService)

	scannerRoutes := router.Group("/scanners")
	{
		scannerRoutes.GET("", h.GetScanners)
	}
}
