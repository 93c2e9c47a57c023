// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/mlflow-assistant/cmd/assistant/config"
	"github.com/AleutianAI/mlflow-assistant/pkg/telemetry"
	"github.com/AleutianAI/mlflow-assistant/services/llm"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/usage"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := orchestrator.New(serviceConfig(a.cfg, a.logger.Slog()), nil)
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}

// serviceConfig maps the file/env configuration onto the service.
func serviceConfig(cfg config.Config, logger *slog.Logger) orchestrator.Config {
	return orchestrator.Config{
		Port:              cfg.Server.Port,
		GinMode:           cfg.Server.GinMode,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		TrackingURI:       cfg.Tracking.URI,
		TrackingTimeout:   cfg.Tracking.Timeout,
		TrackingRateLimit: cfg.Tracking.RateLimit,
		ClassifierTimeout: cfg.Tracking.Timeout,
		DefaultProvider:   cfg.LLM.DefaultProvider,
		DefaultModel:      cfg.LLM.DefaultModel,
		Providers: llm.RegistryConfig{
			OpenAIAPIKey:    cfg.LLM.OpenAIAPIKey,
			AnthropicAPIKey: cfg.LLM.AnthropicAPIKey,
			LlamaEndpoint:   cfg.LLM.LlamaEndpoint,
			LlamaAPIKey:     cfg.LLM.LlamaAPIKey,
		},
		InvitationDBPath:    cfg.Invitations.DBPath,
		MaxRequests:         cfg.Invitations.MaxRequests,
		InvitationTTL:       cfg.Invitations.TTL(),
		BootstrapInvitation: cfg.Invitations.Bootstrap,
		AdminAPIKey:         cfg.Invitations.AdminAPIKey,
		SessionIdleTimeout:  cfg.Sessions.IdleTimeout,
		SweepInterval:       cfg.Sessions.SweepInterval,
		Influx: usage.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		},
		Telemetry: telemetry.Config{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Environment:    cfg.Telemetry.Environment,
			TraceExporter:  cfg.Telemetry.TraceExporter,
			MetricExporter: cfg.Telemetry.MetricExporter,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		},
		Logger: logger,
	}
}
