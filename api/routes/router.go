package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/ntsmith7/peekaboo/internal/handlers"
	"github.com/ntsmith7/peekaboo/internal/services"
	"github.com/ntsmith7/peekaboo/pkg/metrics"
)

// Deps carries the already-wired services the router serves. Routes
// never construct services; the server command owns that.
type Deps struct {
	ScanService   services.ScanServiceMethods
	ConfigService services.ConfigServiceMethods
	Store         handlers.Pinger
	Metrics       *metrics.Recorder
}

func InitRouter(deps Deps) *gin.Engine {
	router := gin.Default()

	health := handlers.NewHealthHandler(deps.Store, deps.ScanService)
	router.GET("/health", health.Health)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := router.Group("/api")
	{
		InitScanRoutes(api, deps.ScanService)
		InitConfigRoutes(api, deps.ConfigService)
	}

	return router
}
