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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/AleutianAI/mlflow-assistant/pkg/ux"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/mlflow-assistant/services/orchestrator/quota"
	"github.com/spf13/cobra"
)

var errNoStore = errors.New("invitations.db_path is empty; nothing to manage")

func newInviteCmd(a *app) *cobra.Command {
	invite := &cobra.Command{
		Use:   "invite",
		Short: "Manage invitation codes in the local token store",
		Long: `Operates on the badger token store directly. Stop the service first:
badger holds an exclusive lock on its directory.`,
	}

	var (
		maxRequests int
		ttl         time.Duration
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a new invitation code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxRequests == 0 {
				maxRequests = a.cfg.Invitations.MaxRequests
			}
			if ttl == 0 {
				ttl = a.cfg.Invitations.TTL()
			}
			if maxRequests < 1 {
				return fmt.Errorf("--max must be at least 1, got %d", maxRequests)
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive, got %s", ttl)
			}
			return a.withStore(func(store quota.Store) error {
				tok, err := store.Issue(cmd.Context(), maxRequests, ttl)
				if err != nil {
					return err
				}
				return printToken(ux.NewPrinter(cmd.OutOrStdout()), "Invitation issued", tok)
			})
		},
	}
	create.Flags().IntVar(&maxRequests, "max", 0, "request quota (default from config)")
	create.Flags().DurationVar(&ttl, "ttl", 0, "lifetime, e.g. 24h (default from config)")

	show := &cobra.Command{
		Use:   "show CODE",
		Short: "Show an invitation code's counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store quota.Store) error {
				tok, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printToken(ux.NewPrinter(cmd.OutOrStdout()), "Invitation", tok)
			})
		},
	}

	deactivate := &cobra.Command{
		Use:   "deactivate CODE",
		Short: "Disable an invitation code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store quota.Store) error {
				if err := store.Deactivate(cmd.Context(), args[0]); err != nil {
					return err
				}
				p := ux.NewPrinter(cmd.OutOrStdout())
				if !p.Styled() {
					return p.JSON(map[string]any{"code": args[0], "is_active": false})
				}
				p.Success("Invitation " + quota.Redact(args[0]) + " deactivated")
				return nil
			})
		},
	}

	invite.AddCommand(create, show, deactivate)
	return invite
}

// withStore opens the badger store for the duration of fn.
func (a *app) withStore(fn func(quota.Store) error) error {
	path := a.cfg.Invitations.DBPath
	if path == "" {
		return errNoStore
	}
	dbCfg := quota.DefaultDBConfig(path)
	dbCfg.GCInterval = 0

	store, err := quota.OpenBadgerStore(dbCfg, quota.WithLogger(a.logger.Slog()))
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// printToken renders tok as a box on a terminal and as JSON otherwise.
func printToken(p *ux.Printer, title string, tok quota.Token) error {
	view := datatypes.NewInvitationView(tok)
	if !p.Styled() {
		return p.JSON(view)
	}

	status := "active"
	if !view.Active {
		status = "deactivated"
	}
	p.Fields(title, []ux.Field{
		{Label: "code", Value: view.Code},
		{Label: "status", Value: status},
		{Label: "remaining", Value: strconv.Itoa(view.RemainingRequests) + " / " + strconv.Itoa(view.MaxRequests)},
		{Label: "sessions", Value: strconv.Itoa(view.Sessions)},
		{Label: "expires", Value: view.ExpiresAt.Local().Format(time.RFC1123)},
	})
	return nil
}
