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
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSentinel/pkg/logging"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel"
)

var serveFlags struct {
	logLevel          string
	port              string
	entitiesPath      string
	historyPath       string
	pollInterval      time.Duration
	suppressionWindow time.Duration
	enableProvider    bool
	inMemoryHistory   bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sentinel service",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logging.ParseLevel(serveFlags.logLevel)
		if err != nil {
			log.Fatalf("Invalid --log-level: %v", err)
		}
		logger := logging.New(logging.Config{
			Level:   level,
			Service: "sentinel",
			JSON:    true,
			LogDir:  os.Getenv("SENTINEL_LOG_DIR"),
		})
		defer logger.Close()
		slog.SetDefault(logger.Slog())
		if ferr := logger.FileError(); ferr != nil {
			slog.Warn("file logging disabled", "error", ferr)
		}

		// Environment first, flags override.
		cfg := sentinel.ConfigFromEnv()
		if serveFlags.port != "" {
			cfg.Port = serveFlags.port
		}
		if serveFlags.entitiesPath != "" {
			cfg.EntitiesPath = serveFlags.entitiesPath
			cfg.WatchEntities = true
		}
		if serveFlags.historyPath != "" {
			cfg.HistoryPath = serveFlags.historyPath
		}
		if serveFlags.pollInterval > 0 {
			cfg.Detector.Interval = serveFlags.pollInterval
		}
		if serveFlags.suppressionWindow > 0 {
			cfg.Detector.SuppressionWindow = serveFlags.suppressionWindow
		}
		if serveFlags.enableProvider {
			cfg.EnableProvider = true
		}
		if serveFlags.inMemoryHistory {
			cfg.HistoryInMemory = true
			cfg.HistoryPath = ""
		}

		svc, err := sentinel.New(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize the sentinel: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.Run(ctx); err != nil {
			log.Fatalf("Sentinel exited with error: %v", err)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&serveFlags.port, "port", "", "API port (default 12300)")
	serveCmd.Flags().StringVar(&serveFlags.entitiesPath, "entities", "", "entity definitions YAML file")
	serveCmd.Flags().StringVar(&serveFlags.historyPath, "history-dir", "", "BadgerDB directory for healing history")
	serveCmd.Flags().DurationVar(&serveFlags.pollInterval, "poll-interval", 0, "detection poll interval (default 30s)")
	serveCmd.Flags().DurationVar(&serveFlags.suppressionWindow, "suppression-window", 0, "cool-down after a resolved fault (default 60s)")
	serveCmd.Flags().BoolVar(&serveFlags.enableProvider, "enable-provider", false, "consult the LLM analysis provider for low-confidence faults")
	serveCmd.Flags().BoolVar(&serveFlags.inMemoryHistory, "in-memory-history", false, "keep healing history in memory only")
	rootCmd.AddCommand(serveCmd)
}
