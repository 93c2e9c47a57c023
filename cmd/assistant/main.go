// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command assistant runs the MLflow assistant service and manages its
// invitation codes.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/mlflow-assistant/cmd/assistant/config"
	"github.com/AleutianAI/mlflow-assistant/pkg/logging"
	"github.com/spf13/cobra"
)

const serviceName = "mlflow-assistant"

// skipConfig marks commands that run without loading the config file.
const skipConfig = "skip-config"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "assistant",
		Short: "MLflow chat assistant with invitation-gated access",
		Long: `assistant answers natural-language questions about an MLflow tracking
server. Access is metered by invitation codes.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
		PersistentPostRun: func(*cobra.Command, []string) { a.close() },
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.mlflow-assistant/config.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(a),
		newInviteCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the config and installs the process logger.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	a.cfg = cfg
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: serviceName,
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.logger.Slog())
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}
