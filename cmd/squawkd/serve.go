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

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fleettools/squawk/pkg/blocker"
	"github.com/fleettools/squawk/pkg/checkpoint"
	"github.com/fleettools/squawk/pkg/config"
	"github.com/fleettools/squawk/pkg/eventstore"
	"github.com/fleettools/squawk/pkg/fsutil"
	"github.com/fleettools/squawk/pkg/httpapi"
	"github.com/fleettools/squawk/pkg/lock"
	"github.com/fleettools/squawk/pkg/mailbox"
	"github.com/fleettools/squawk/pkg/metrics"
	"github.com/fleettools/squawk/pkg/mission"
	"github.com/fleettools/squawk/pkg/orchestrator"
	"github.com/fleettools/squawk/pkg/recovery"
	"github.com/fleettools/squawk/pkg/specialist"
	"github.com/fleettools/squawk/pkg/specialisttools"
)

// ServeCmd starts the coordination server.
type ServeCmd struct {
	Port     int    `help:"HTTP port to listen on."`
	DataRoot string `name:"data-root" help:"Base directory for the database file and checkpoint backups." type:"path"`

	DBDriver string `name:"db-driver" help:"Database driver: sqlite, postgres, or mysql."`
	DBHost   string `name:"db-host" help:"Database host (postgres/mysql only)."`
	DBPort   int    `name:"db-port" help:"Database port (postgres/mysql only)."`
	DBName   string `name:"db-name" help:"Database name or, for sqlite, file path."`
	DBUser   string `name:"db-user" help:"Database username (postgres/mysql only)."`
	DBPass   string `name:"db-pass" help:"Database password (postgres/mysql only)."`

	Metrics bool `help:"Enable Prometheus metrics and the /metrics endpoint." default:"true" negatable:""`
}

// Run loads configuration, wires every service, and serves until a
// shutdown signal arrives or startup fails unrecoverably.
func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.applyOverrides(cfg)
	loadLogger(cli, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	dataDir, usedFallback, err := fsutil.WritableDataDir(cfg.Server.DataRoot)
	if err != nil {
		return fmt.Errorf("fatal: no writable data directory: %w", err)
	}
	if usedFallback {
		slog.Warn("preferred data root unwritable, using fallback", "preferred", cfg.Server.DataRoot, "chosen", dataDir)
	}
	cfg.Server.DataRoot = dataDir
	resolveSQLiteDatabasePath(cfg)

	dbPool := config.NewDBPool()
	defer dbPool.Close()

	db, chosenDSN, err := openDatabaseWithFallback(dbPool, cfg)
	if err != nil {
		return fmt.Errorf("fatal: no database backend succeeded: %w", err)
	}
	slog.Info("database ready", "driver", cfg.Database.DriverName(), "dsn", chosenDSN)

	deps, cleanup, err := buildDeps(cfg, db)
	if err != nil {
		return fmt.Errorf("failed to wire services: %w", err)
	}
	defer cleanup()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("fatal: port %d unavailable: %w", cfg.Server.Port, err)
	}

	router := httpapi.NewRouter(deps.httpDeps)
	srv := &http.Server{Handler: router}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	printStartupBanner(cfg, deps)

	select {
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("fatal: server stopped unexpectedly: %w", err)
		}
	case <-ctx.Done():
		slog.Info("draining in-flight requests", "grace_period", cfg.Server.ShutdownGrace)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server did not drain cleanly", "error", err)
		}
		deps.orchestrators.StopAll(shutdownCtx)
		deps.locks.Stop()
		<-serveErrCh
	}

	slog.Info("squawkd stopped")
	return nil
}

// applyOverrides layers explicit CLI flags on top of file/env/default
// configuration; a zero-value flag never clobbers a configured setting.
func (c *ServeCmd) applyOverrides(cfg *config.Config) {
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.DataRoot != "" {
		cfg.Server.DataRoot = c.DataRoot
	}
	if c.DBDriver != "" {
		cfg.Database.Driver = c.DBDriver
	}
	if c.DBHost != "" {
		cfg.Database.Host = c.DBHost
	}
	if c.DBPort != 0 {
		cfg.Database.Port = c.DBPort
	}
	if c.DBName != "" {
		cfg.Database.Database = c.DBName
	}
	if c.DBUser != "" {
		cfg.Database.Username = c.DBUser
	}
	if c.DBPass != "" {
		cfg.Database.Password = c.DBPass
	}
	cfg.Metrics.Enabled = c.Metrics

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	cfg.Database.SetDefaults()
}

// resolveSQLiteDatabasePath fills in the sqlite file path from the
// (possibly fallback-resolved) data root, unless the operator named an
// explicit database file.
func resolveSQLiteDatabasePath(cfg *config.Config) {
	if cfg.Database.Database != "" {
		return
	}
	if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "sqlite3" {
		return
	}
	cfg.Database.Database = filepath.Join(cfg.Server.DataRoot, "squawk.db")
}

// openDatabaseWithFallback tries the configured database, then a sqlite
// file under the standard fallback data directories, then an in-memory
// sqlite database, logging which path was chosen (the persisted-state-
// layout fallback chain).
func openDatabaseWithFallback(pool *config.DBPool, cfg *config.Config) (*sql.DB, string, error) {
	if db, err := pool.Get(&cfg.Database); err == nil {
		return db, cfg.Database.DSN(), nil
	} else {
		slog.Warn("preferred database unavailable, falling back", "driver", cfg.Database.Driver, "error", err)
	}

	for _, dir := range fsutil.FallbackDataDirs() {
		if _, err := fsutil.EnsureDataDir(dir); err != nil {
			continue
		}
		fallback := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(dir, "squawk.db")}
		fallback.SetDefaults()
		if db, err := pool.Get(&fallback); err == nil {
			slog.Warn("using fallback database path", "path", fallback.Database)
			cfg.Database = fallback
			return db, fallback.DSN(), nil
		}
	}

	memory := config.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	memory.SetDefaults()
	db, err := pool.Get(&memory)
	if err != nil {
		return nil, "", err
	}
	slog.Warn("using in-memory database; state will not survive a restart")
	cfg.Database = memory
	return db, memory.DSN(), nil
}

// deps bundles every wired service plus the subset of them httpapi needs.
type deps struct {
	httpDeps      httpapi.Deps
	locks         *lock.Coordinator
	orchestrators *orchestrator.Manager
	checkpoints   *checkpoint.Service
	recovery      *recovery.Service
	recoveryCfg   config.RecoveryConfig
	checkpointCfg config.CheckpointConfig
	missions      *mission.Service
}

func buildDeps(cfg *config.Config, db *sql.DB) (*deps, func(), error) {
	events, err := eventstore.New(db, cfg.Database.Dialect())
	if err != nil {
		return nil, nil, fmt.Errorf("event store: %w", err)
	}

	missionStore, err := mission.New(db, cfg.Database.Dialect())
	if err != nil {
		return nil, nil, fmt.Errorf("mission store: %w", err)
	}
	missionSvc := mission.NewService(missionStore, events, db)

	lockStore, err := lock.NewSQLStore(db, cfg.Database.Dialect())
	if err != nil {
		return nil, nil, fmt.Errorf("lock store: %w", err)
	}
	lockCoord := lock.New(lockStore, lock.Config{
		DefaultTimeout:    cfg.Lock.DefaultTimeout,
		SweepInterval:     cfg.Lock.SweepInterval,
		QueueInterval:     cfg.Lock.QueueInterval,
		ConflictRetention: cfg.Lock.ConflictRetention,
	}, nil)

	mailStore, err := mailbox.New(db, cfg.Database.Dialect(), events)
	if err != nil {
		return nil, nil, fmt.Errorf("mailbox store: %w", err)
	}

	cpStorage, err := checkpoint.NewStorage(db, cfg.Database.Dialect(), events, cfg.Server.DataRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint storage: %w", err)
	}
	cpSvc := checkpoint.NewService(cpStorage)

	recoverySvc := recovery.NewService(missionSvc, events, cpSvc, lockCoord, mailStore, db)

	registry := specialist.NewRegistry()
	blockerHandler := blocker.New(blocker.DefaultBackoffPolicy(), func(sortieID string) (bool, bool) {
		sortie, err := missionSvc.Store().GetSortie(context.Background(), sortieID)
		if err != nil {
			return false, false
		}
		return sortie.Status == mission.SortieStatusCompleted, true
	})
	tools := specialisttools.NewService(missionSvc, lockCoord, mailStore, cpSvc, registry, blockerHandler)

	orchestratorMgr := orchestrator.NewManager(orchestrator.Config{
		HeartbeatTimeout:   cfg.Orchestrator.HeartbeatTimeout,
		CheckpointInterval: cfg.Orchestrator.CheckpointInterval,
		MonitorInterval:    cfg.Orchestrator.MonitorInterval,
	}, missionSvc, lockCoord, registry, blockerHandler, cpSvc, mailStore, nil)

	m := metrics.New(cfg.Metrics)

	lockCoord.Start(context.Background())

	bgCtx, bgCancel := context.WithCancel(context.Background())
	startBackgroundLoop(bgCtx, "checkpoint prune", cfg.Checkpoint.PruneInterval, true, func(ctx context.Context) {
		runCheckpointPrune(ctx, missionSvc, cpSvc, cfg.Checkpoint)
	})
	startBackgroundLoop(bgCtx, "stale mission scan", cfg.Recovery.ScanInterval, false, func(ctx context.Context) {
		if candidates, err := recoverySvc.StaleScan(ctx, cfg.Recovery.ActivityThreshold); err != nil {
			slog.Warn("stale mission scan failed", "error", err)
		} else if len(candidates) > 0 {
			slog.Info("stale mission candidates detected", "count", len(candidates))
		}
	})

	cleanup := func() {
		bgCancel()
		lockCoord.Stop()
	}

	return &deps{
		httpDeps: httpapi.Deps{
			DB: db, Missions: missionSvc, Locks: lockCoord, Mail: mailStore,
			Checkpoints: cpSvc, Recovery: recoverySvc, Tools: tools,
			Orchestrators: orchestratorMgr, Metrics: m, RequestTimeout: cfg.Server.RequestTimeout,
		},
		locks: lockCoord, orchestrators: orchestratorMgr, checkpoints: cpSvc,
		recovery: recoverySvc, recoveryCfg: cfg.Recovery, checkpointCfg: cfg.Checkpoint, missions: missionSvc,
	}, cleanup, nil
}

// startBackgroundLoop runs fn on every tick of interval until ctx is
// cancelled. If runImmediately is set, fn also runs once before the first
// tick (checkpoint pruning runs at startup and daily per the retention
// contract).
func startBackgroundLoop(ctx context.Context, name string, interval time.Duration, runImmediately bool, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	if runImmediately {
		fn(ctx)
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

func runCheckpointPrune(ctx context.Context, missions *mission.Service, checkpoints *checkpoint.Service, cfg config.CheckpointConfig) {
	terminal, err := terminalMissionSet(ctx, missions)
	if err != nil {
		slog.Warn("checkpoint prune: failed to list terminal missions", "error", err)
		return
	}
	deleted, err := checkpoints.Prune(ctx, cfg.RetentionMaxAge, cfg.RetentionKeepPerMission, terminal)
	if err != nil {
		slog.Warn("checkpoint prune failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("checkpoint retention sweep completed", "deleted", deleted)
	}
}

func terminalMissionSet(ctx context.Context, missions *mission.Service) (map[string]bool, error) {
	terminal := make(map[string]bool)
	for _, status := range []mission.Status{mission.StatusCompleted, mission.StatusCancelled} {
		const pageSize = 200
		for offset := 0; ; offset += pageSize {
			page, total, err := missions.Store().ListMissions(ctx, status, "", pageSize, offset)
			if err != nil {
				return nil, err
			}
			for _, m := range page {
				terminal[m.ID] = true
			}
			if offset+len(page) >= total || len(page) == 0 {
				break
			}
		}
	}
	return terminal, nil
}

func printStartupBanner(cfg *config.Config, d *deps) {
	fmt.Printf("\nsquawkd coordination server ready\n")
	fmt.Printf("   Listening:   :%d\n", cfg.Server.Port)
	fmt.Printf("   Health:      http://localhost:%d/health\n", cfg.Server.Port)
	if cfg.Metrics.Enabled {
		fmt.Printf("   Metrics:     http://localhost:%d/metrics\n", cfg.Server.Port)
	}
	fmt.Printf("   Data root:   %s\n", cfg.Server.DataRoot)
	fmt.Printf("   Database:    %s\n", cfg.Database.Driver)
	fmt.Println("\nPress Ctrl+C to stop")
}
