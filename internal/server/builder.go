// Package server assembles the gin engine from its handler and
// middleware parts.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/handlers/admin"
	"antigravity2api-go/internal/handlers/openai"
	"antigravity2api-go/internal/middleware"
)

// Dependencies carries everything the HTTP surface needs.
type Dependencies struct {
	Config *config.Config
	Chat   *openai.Handler
	Admin  *admin.Handler
}

// Build wires the middleware chain and routes into a ready engine.
func Build(deps Dependencies) *gin.Engine {
	if deps.Config.Security.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.Metrics(),
		middleware.CORS(),
		middleware.RateLimit(deps.Config),
	)

	engine.GET("/health", deps.Admin.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	registerOpenAIRoutes(engine, deps)
	registerAdminRoutes(engine, deps)

	return engine
}

func registerOpenAIRoutes(engine *gin.Engine, deps Dependencies) {
	v1 := engine.Group("/v1",
		middleware.Auth(deps.Config),
		middleware.BodyLimit(deps.Config.Security.MaxRequestSize),
	)
	v1.GET("/models", deps.Chat.Models)
	v1.POST("/chat/completions", deps.Chat.ChatCompletions)
}

func registerAdminRoutes(engine *gin.Engine, deps Dependencies) {
	api := engine.Group("/api", middleware.Auth(deps.Config))
	api.GET("/stats", deps.Admin.Stats)
	api.GET("/stats/ws", deps.Admin.StatsWS)
	api.POST("/remark", deps.Admin.UpdateRemark)
	api.POST("/credentials/enable", deps.Admin.SetEnabled)
	api.POST("/queue/pause", deps.Admin.PauseQueue)
	api.POST("/queue/resume", deps.Admin.ResumeQueue)
}
