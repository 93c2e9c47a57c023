// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracking

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const modelsPageSize = 100

// ErrNoModelVersions is returned by GetModelDetails when a model has no
// versions to pick the latest from.
var ErrNoModelVersions = errors.New("no model versions")

// ListRegisteredModels returns every registered model, following pagination.
func (c *Client) ListRegisteredModels(ctx context.Context) ([]RegisteredModel, error) {
	var (
		all   []RegisteredModel
		token string
	)
	for {
		q := url.Values{"max_results": {strconv.Itoa(modelsPageSize)}}
		if token != "" {
			q.Set("page_token", token)
		}
		var page registeredModelsPage
		if err := c.get(ctx, "registered-models/search", q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.RegisteredModels...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}

// SearchModelVersions returns all versions of the named model.
func (c *Client) SearchModelVersions(ctx context.Context, modelName string) ([]ModelVersion, error) {
	var (
		all   []ModelVersion
		token string
	)
	filter := fmt.Sprintf("name='%s'", strings.ReplaceAll(modelName, "'", "\\'"))
	for {
		q := url.Values{"filter": {filter}}
		if token != "" {
			q.Set("page_token", token)
		}
		var page modelVersionsPage
		if err := c.get(ctx, "model-versions/search", q, &page); err != nil {
			return nil, err
		}
		all = append(all, page.ModelVersions...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}

// GetModelVersion fetches one model version.
func (c *Client) GetModelVersion(ctx context.Context, modelName, version string) (ModelVersion, error) {
	var env modelVersionEnvelope
	q := url.Values{"name": {modelName}, "version": {version}}
	if err := c.get(ctx, "model-versions/get", q, &env); err != nil {
		return ModelVersion{}, err
	}
	return env.ModelVersion, nil
}

// GetModelDetails fetches version of modelName, or its highest-numbered
// version when version is empty. Returns ErrNoModelVersions when the model
// has none.
func (c *Client) GetModelDetails(ctx context.Context, modelName, version string) (ModelVersion, error) {
	if version == "" {
		versions, err := c.SearchModelVersions(ctx, modelName)
		if err != nil {
			return ModelVersion{}, err
		}
		latest, ok := LatestVersion(versions)
		if !ok {
			return ModelVersion{}, ErrNoModelVersions
		}
		version = latest.Version
	}
	return c.GetModelVersion(ctx, modelName, version)
}

// LatestVersion returns the highest-numbered version.
func LatestVersion(versions []ModelVersion) (ModelVersion, bool) {
	if len(versions) == 0 {
		return ModelVersion{}, false
	}
	sorted := SortVersionsDesc(versions)
	return sorted[0], true
}

// SortVersionsDesc returns a copy of versions ordered by version number,
// highest first.
func SortVersionsDesc(versions []ModelVersion) []ModelVersion {
	out := make([]ModelVersion, len(versions))
	copy(out, versions)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].VersionNumber() > out[j].VersionNumber()
	})
	return out
}

// RecentlyUpdatedModels returns up to limit registered models ordered by
// last update, newest first.
func (c *Client) RecentlyUpdatedModels(ctx context.Context, limit int) ([]RegisteredModel, error) {
	models, err := c.ListRegisteredModels(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].LastUpdatedTimestamp > models[j].LastUpdatedTimestamp
	})
	if limit > 0 && len(models) > limit {
		models = models[:limit]
	}
	return models, nil
}
