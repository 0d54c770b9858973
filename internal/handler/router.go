package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/deployops/approval-gate/internal/middleware"
	"github.com/deployops/approval-gate/internal/service"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	Approvals    *ApprovalHandler
	DecisionPage *DecisionPageHandler
	Telegram     *TelegramHandler
	Builds       *BuildHandler
	Health       *HealthHandler
	Metrics      *service.MetricsService

	PipelineTokenHash string
	EnableDocs        bool
}

// RegisterRoutes attaches all routes to the engine.
func RegisterRoutes(r *gin.Engine, deps RouterDeps) {
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", deps.Health.Health)
	r.GET("/ready", deps.Health.Ready)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if deps.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Web decision page, reached from notification links.
	r.GET("/approve/:id", deps.DecisionPage.Show)
	r.POST("/approve/:id", deps.DecisionPage.Submit)

	api := r.Group("/api/v1")
	{
		pipeline := api.Group("", middleware.PipelineAuth(deps.PipelineTokenHash))
		{
			pipeline.POST("/approvals/wait", deps.Approvals.Wait)
			pipeline.GET("/approvals/wait", deps.Approvals.Wait)
			pipeline.POST("/builds/result", deps.Builds.Result)
		}

		api.GET("/approvals", deps.Approvals.List)
		api.GET("/approvals/stats", deps.Approvals.Stats)
		api.GET("/approvals/history/export", deps.Approvals.Export)
		api.GET("/approvals/:id", deps.Approvals.Get)
		api.GET("/approvals/:id/history", deps.Approvals.History)
		api.POST("/approvals/:id/approve", deps.Approvals.Approve)
		api.POST("/approvals/:id/reject", deps.Approvals.Reject)

		api.GET("/builds/:job/:build/logs", deps.Builds.Logs)

		if deps.Telegram != nil {
			api.POST("/telegram/webhook", deps.Telegram.Webhook)
		}
	}
}
