// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/AleutianAI/mlflow-assistant/pkg/extensions"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/handlers"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/middleware"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/quota"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Runner      handlers.TurnRunner
	Catalog     handlers.ProviderCatalog
	Quota       quota.Store
	Connections handlers.ConnectionTracker

	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer

	Invitations handlers.InvitationDefaults
	Options     extensions.ServiceOptions
}

// SetupRoutes registers every endpoint on router.
//
// # Description
//
// Chat turns from the HTTP and websocket transports share one per-session
// serializer. The admin invitation routes are registered only when the
// auth provider is configured.
func SetupRoutes(router *gin.Engine, deps Deps) {
	opts := deps.Options.Normalize()
	runner := handlers.SerializeSessions(deps.Runner)

	router.GET("/health", handlers.HealthCheck)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	chat := router.Group("/chat")
	{
		chat.POST("/mlflow", handlers.HandleChat(runner))
		chat.GET("/mlflow/ws", handlers.HandleChatWebSocket(runner, deps.Connections))
		chat.GET("/providers", handlers.HandleListProviders(deps.Catalog))
		chat.POST("/provider-models", handlers.HandleProviderModels(deps.Catalog, deps.Quota))
	}

	llmGroup := router.Group("/llm")
	{
		llmGroup.GET("/status", handlers.HandleLLMStatus(deps.Catalog))
		llmGroup.GET("/providers", handlers.HandleListProviders(deps.Catalog))
	}

	invitation := router.Group("/invitation")
	{
		invitation.POST("/validate", handlers.HandleValidateInvitation(deps.Quota))
		invitation.POST("/use", handlers.HandleUseInvitation(deps.Quota))
	}

	if configured, ok := opts.AuthProvider.(interface{ Configured() bool }); ok && !configured.Configured() {
		slog.Info("Admin invitation routes disabled: no admin key configured")
		return
	}
	admin := invitation.Group("", middleware.AdminAuth(opts.AuthProvider))
	{
		admin.POST("/create", handlers.HandleCreateInvitation(deps.Quota, deps.Invitations, opts.AuditLogger))
		admin.GET("/:code", handlers.HandleGetInvitation(deps.Quota))
		admin.POST("/:code/deactivate", handlers.HandleDeactivateInvitation(deps.Quota, opts.AuditLogger))
	}
}
