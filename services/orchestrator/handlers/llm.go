// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/mlflow-assistant/services/llm"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/quota"
	"github.com/gin-gonic/gin"
)

// ModelListingSession is the session id under which model-listing requests
// validate their invitation code. Validation never admits it.
const ModelListingSession = "model-listing"

// ProviderCatalog answers provider and model questions. *llm.Registry
// implements it.
type ProviderCatalog interface {
	Available() []llm.Descriptor
	Models(ctx context.Context, id string) ([]llm.Model, error)
	Status(ctx context.Context) map[string]llm.ProviderStatus
}

// HandleListProviders serves GET /chat/providers and GET /llm/providers.
func HandleListProviders(catalog ProviderCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.ProvidersResponse{Providers: catalog.Available()})
	}
}

// HandleProviderModels serves POST /chat/provider-models.
//
// # Description
//
// The invitation code must be usable but nothing is charged. Answers 403
// with the quota message when it is not, 404 for an unknown provider.
func HandleProviderModels(catalog ProviderCatalog, store quota.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req datatypes.ProviderModelsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		v, err := store.Validate(ctx, req.InvitationCode, ModelListingSession)
		if err != nil {
			slog.Error("quota validation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to verify the invitation code"})
			return
		}
		if !v.Valid {
			c.JSON(http.StatusForbidden, gin.H{"error": v.Message})
			return
		}

		models, err := catalog.Models(ctx, req.ProviderID)
		switch {
		case errors.Is(err, llm.ErrUnknownProvider):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		case err != nil:
			slog.Warn("listing provider models failed", "provider", req.ProviderID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, datatypes.ModelsResponse{Models: models})
	}
}

// HandleLLMStatus serves GET /llm/status.
func HandleLLMStatus(catalog ProviderCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleLLMStatus")
		defer span.End()
		c.JSON(http.StatusOK, datatypes.StatusResponse{Providers: catalog.Status(ctx)})
	}
}
