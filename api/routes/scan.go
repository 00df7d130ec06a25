package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/ntsmith7/peekaboo/internal/handlers"
	"github.com/ntsmith7/peekaboo/internal/services"
)

func InitScanRoutes(router *gin.RouterGroup, scanService services.ScanServiceMethods) {
	h := handlers.NewScanHandler(scanService)

	scanRoutes := router.Group("/scans")
	{
		scanRoutes.POST("", h.StartScan)
		scanRoutes.GET("", h.ListScans)
		scanRoutes.GET("/:id", h.GetScanByUUID)
		scanRoutes.GET("/:id/report", h.GetScanReport)
		scanRoutes.DELETE("/:id", h.CancelScan)
	}
}
