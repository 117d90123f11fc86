// Copyright (C) 2025 DOOH Labs (ops@doohlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/doohlabs/signaged/pkg/logging"
	"github.com/doohlabs/signaged/services/agent/config"
)

// Shared state populated by the root PersistentPreRunE before any
// subcommand runs.
var (
	cfgPath string
	cfg     *config.Config
	logger  *logging.Logger
)

// buildVersion is stamped at build time via -ldflags.
var buildVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "signagectl",
	Short: "Digital signage device agent",
	Long: `signagectl keeps a signage device's media content and its own code
in sync with their remote sources.

The maintenance timer runs "signagectl cycle" periodically; the other
commands exist for provisioning and for poking a device by hand.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Commands that run before a device is configured.
		switch cmd.Name() {
		case "version", "help", "completion":
			return nil
		case "install":
			logger = logging.Default()
			return nil
		}
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.Log.Level),
			LogDir:  cfg.Log.Dir,
			Service: "signaged",
			JSON:    cfg.Log.JSON,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c",
		envOr("SIGNAGED_CONFIG", config.DefaultPath),
		"path to the device config file")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
