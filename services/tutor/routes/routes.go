// Copyright (C) 2026 Elenchus AI (dev@elenchus.ai)
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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ElenchusAI/ElenchusLocal/services/resilience"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/handlers"
	"github.com/ElenchusAI/ElenchusLocal/services/tutor/middleware"
)

func SetupRoutes(router *gin.Engine, svc handlers.TutorService,
	breakers *resilience.Registry, authProvider middleware.AuthProvider) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(authProvider))
	{
		v1.GET("/breakers", handlers.ListBreakers(breakers))

		sessions := v1.Group("/tutor/sessions")
		{
			sessions.POST("", handlers.StartSession(svc))
			sessions.POST("/:sessionId/turns", handlers.HandleTurn(svc))
			sessions.POST("/:sessionId/end", handlers.EndSession(svc))
		}
	}
}
