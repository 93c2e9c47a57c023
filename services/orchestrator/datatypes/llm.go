// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "github.com/AleutianAI/mlflow-assistant/services/llm"

// ProviderModelsRequest is the body of POST /chat/provider-models.
type ProviderModelsRequest struct {
	ProviderID     string `json:"provider_id" validate:"required,max=32"`
	InvitationCode string `json:"invitation_code" validate:"max=64"`
}

func (r *ProviderModelsRequest) Validate() error {
	return validate.Struct(r)
}

// ProvidersResponse lists the classifier backends.
type ProvidersResponse struct {
	Providers []llm.Descriptor `json:"providers"`
}

// ModelsResponse lists one provider's models.
type ModelsResponse struct {
	Models []llm.Model `json:"models"`
}

// StatusResponse reports every provider's health by id.
type StatusResponse struct {
	Providers map[string]llm.ProviderStatus `json:"providers"`
}
