// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/dirigent-project/dirigent/lib/config"
)

// newLogger builds the daemon logger from the logging configuration.
// Format "auto" picks text when stderr is a terminal and JSON when it
// is piped or redirected, so interactive runs stay readable while
// service managers capture machine-parseable records.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if resolveFormat(cfg.Format, term.IsTerminal(int(os.Stderr.Fd()))) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, options)
	} else {
		handler = slog.NewTextHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// resolveFormat maps "auto" (or empty) to a concrete handler format
// based on whether stderr is interactive.
func resolveFormat(format string, interactive bool) string {
	if format != "" && format != "auto" {
		return format
	}
	if interactive {
		return "text"
	}
	return "json"
}

// parseLevel maps a configured level name to a slog level. Validate
// rejects unknown names before this runs; empty means info.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
