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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rajarshiroydev/AgriFlow-AI/pkg/extensions"
	"github.com/rajarshiroydev/AgriFlow-AI/services/document_agent"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/datatypes"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/handlers"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator/hybrid"
	"github.com/rajarshiroydev/AgriFlow-AI/services/policy_engine"
)

// =============================================================================
// serve
// =============================================================================

func newServeCmd(flags *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := orchestrator.New(ctx, cfg, nil)
			if err != nil {
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}
			defer closeService(svc)

			return svc.Run(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Override the HTTP port")
	return cmd
}

// =============================================================================
// ask
// =============================================================================

// askOutput is what `agriflow ask` prints.
type askOutput struct {
	datatypes.ChatQueryResponse
	Audit []extensions.AuditRecord `json:"audit,omitempty"`
}

func newAskCmd(flags *globalFlags) *cobra.Command {
	var (
		userID    string
		showAudit bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one orchestration locally and print the JSON result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			req := datatypes.ChatQueryRequest{Query: query, UserID: userID}
			if err := req.Validate(); err != nil {
				return fmt.Errorf("invalid question: %w", err)
			}

			trail := &extensions.MemoryAuditSink{}
			svc, err := orchestrator.New(cmd.Context(), cfg, &extensions.ServiceOptions{AuditSink: trail})
			if err != nil {
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}
			defer closeService(svc)

			start := time.Now()
			res := svc.Engine().Run(cmd.Context(), hybrid.Request{Query: query, UserID: userID})

			out := askOutput{ChatQueryResponse: handlers.ToChatResponse(res, time.Since(start))}
			if showAudit {
				out.Audit = trail.Records()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to run the question as (default: guest profile)")
	cmd.Flags().BoolVar(&showAudit, "audit", false, "Include the access audit trail in the output")
	return cmd
}

// =============================================================================
// profiles
// =============================================================================

func newProfilesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the loaded access profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			store, err := loadProfiles(cfg.ProfilesPath)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER ID\tNAME\tROLE\tREGION\tPERMISSIONS")
			for _, p := range store.Profiles() {
				marker := ""
				if p.UserID == store.DefaultUserID() {
					marker = " (default)"
				}
				fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\t%s\n",
					p.UserID, marker, p.Name, p.Role, p.Region, strings.Join(p.Permissions, ","))
			}
			return w.Flush()
		},
	}
}

func loadProfiles(path string) (*policy_engine.ProfileStore, error) {
	if path != "" {
		return policy_engine.LoadProfileStore(path)
	}
	return policy_engine.NewProfileStore()
}

// =============================================================================
// ingest
// =============================================================================

func newIngestCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [dir]",
		Short: "Chunk .txt and .md policy files and import them into Weaviate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			cfg = orchestrator.WithDefaults(cfg)
			if cfg.Weaviate.URL == "" {
				return fmt.Errorf("weaviate URL not configured (set WEAVIATE_SERVICE_URL)")
			}

			client, err := document_agent.NewWeaviateClient(cfg.Weaviate.URL)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			class := document_agent.DocumentClass(cfg.Weaviate.Class, cfg.Weaviate.Vectorizer)
			if err := document_agent.EnsureSchema(ctx, client, class); err != nil {
				return fmt.Errorf("failed to prepare schema: %w", err)
			}

			ingester := document_agent.NewIngester(document_agent.NewWeaviateWriter(client), cfg.Weaviate.Class, slog.Default())
			stored, err := ingester.IngestDir(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks into %s\n", stored, cfg.Weaviate.Class)
			return nil
		},
	}
}

func closeService(svc *orchestrator.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		slog.Warn("Shutdown cleanup reported errors", "error", err)
	}
}
