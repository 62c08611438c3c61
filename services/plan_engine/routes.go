// Copyright (C) 2025 Forgeplan Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan_engine

import "github.com/gin-gonic/gin"

// RegisterRoutes registers the plan engine endpoints on a router group,
// typically /v1.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.GET("/health", h.HandleHealth)

	plans := rg.Group("/plans")
	{
		plans.POST("/validate", h.HandleValidate)
		plans.POST("/preview", h.HandlePreview)
		plans.POST("/apply", h.HandleApply)
	}

	actions := rg.Group("/actions")
	{
		actions.GET("", h.HandleListActions)
		actions.GET("/export", h.HandleExportActions)
		actions.POST("/:seq/replay", h.HandleReplay)
	}
}
