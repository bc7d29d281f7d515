package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timmy/voicecat/internal/api/handler"
	"github.com/timmy/voicecat/internal/api/middleware"
	"github.com/timmy/voicecat/internal/config"
	"github.com/timmy/voicecat/internal/logger"
)

// RouterDeps are the handlers' collaborators. Voices may be nil when no
// voice index is configured; its routes are then not registered.
type RouterDeps struct {
	Runner    handler.Runner
	Runs      handler.RunStore
	Catalogue handler.CatalogueReader
	Voices    handler.VoiceSearcher
	Checks    map[string]handler.Pinger
	Logger    *logger.Logger
}

// SetupRouter configures the Gin router with all routes. The returned
// RunHandler lets the caller wait for background runs on shutdown.
func SetupRouter(cfg config.ServerConfig, deps RouterDeps) (*gin.Engine, *handler.RunHandler) {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(deps.Checks)
	runHandler := handler.NewRunHandler(deps.Runner, deps.Runs)
	catalogueHandler := handler.NewCatalogueHandler(deps.Catalogue)

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		// Runs
		v1.POST("/runs", runHandler.StartRun)
		v1.GET("/runs", runHandler.ListRuns)
		v1.GET("/runs/:id", runHandler.GetRun)

		// Catalogue
		v1.GET("/sources/:source/status", runHandler.SourceStatus)
		v1.GET("/sources/:source/speakers", catalogueHandler.ListSpeakers)
		v1.GET("/sources/:source/utterances", catalogueHandler.ListUtterances)

		if deps.Voices != nil {
			v1.POST("/voices/search", handler.NewVoiceHandler(deps.Voices).SearchSimilar)
		}
	}

	return r, runHandler
}
