// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command agriflow runs the AgriFlow hybrid query router.
//
// # Usage
//
//	# Start the HTTP service
//	agriflow serve --config agriflow.yaml
//
//	# Run one question locally and print the JSON result
//	agriflow ask --user analyst_us "What is the total sales in the US?"
//
//	# List access profiles
//	agriflow profiles
//
//	# Import policy documents into Weaviate
//	agriflow ingest ./policies
//
// Configuration comes from --config (or AGRIFLOW_CONFIG) and the
// environment variables documented in cmd/orchestrator/config.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rajarshiroydev/AgriFlow-AI/cmd/orchestrator/config"
	"github.com/rajarshiroydev/AgriFlow-AI/pkg/logging"
	"github.com/rajarshiroydev/AgriFlow-AI/services/orchestrator"
)

// --- Global Flags ---
type globalFlags struct {
	configPath string
	logLevel   string
	jsonLogs   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "agriflow",
		Short:         "Hybrid query router over policy documents and supply chain data",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(flags.logLevel)
			if err != nil {
				return err
			}
			format := logging.FormatAuto
			if flags.jsonLogs {
				format = logging.FormatJSON
			}
			logger := logging.New(logging.Config{
				Level:   level,
				Service: orchestrator.ServiceName,
				Format:  format,
				Writer:  cmd.ErrOrStderr(),
			})
			slog.SetDefault(logger.Slog())
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to a .yaml or .toml config file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonLogs, "json-logs", false, "Force JSON log output")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newAskCmd(flags),
		newProfilesCmd(flags),
		newIngestCmd(flags),
	)
	return rootCmd
}

// loadConfig reads the file named by --config and applies environment
// overrides.
func loadConfig(flags *globalFlags) (orchestrator.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
