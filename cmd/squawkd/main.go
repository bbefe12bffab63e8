// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command squawkd is the FleetTools coordination server.
//
// Usage:
//
//	squawkd serve --config config.yaml
//	squawkd serve --port 3001 --data-root .squawk
//	squawkd version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/fleettools/squawk/pkg/config"
	"github.com/fleettools/squawk/pkg/logger"
)

// CLI defines the squawkd command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" default:"1" help:"Start the coordination server."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)."`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("squawkd version %s\n", version)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("squawkd"),
		kong.Description("FleetTools coordination server"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	if err != nil {
		slog.Error("squawkd exited with error", "error", err)
		os.Exit(1)
	}
}

// loadLogger initializes process-wide slog output from CLI flags, falling
// back to config-file/env-derived values when a flag is left empty.
func loadLogger(cli *CLI, cfg *config.Config) {
	level := cli.LogLevel
	if level == "" {
		level = cfg.Logger.Level
	}
	format := cli.LogFormat
	if format == "" {
		format = cfg.Logger.Format
	}
	file := cli.LogFile
	if file == "" {
		file = cfg.Logger.File
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		parsed = slog.LevelInfo
	}

	out := os.Stderr
	if file != "" {
		f, cleanup, err := logger.OpenLogFile(file)
		if err != nil {
			slog.Warn("failed to open log file, falling back to stderr", "path", file, "error", err)
		} else {
			out = f
			_ = cleanup
		}
	}
	logger.Init(parsed, out, format)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()
	return ctx, cancel
}
