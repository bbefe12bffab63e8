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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleettools/squawk/pkg/config"
)

func TestApplyOverridesLeavesUnsetFlagsAlone(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	originalPort := cfg.Server.Port

	c := &ServeCmd{Metrics: true}
	c.applyOverrides(cfg)

	require.Equal(t, originalPort, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestApplyOverridesAppliesExplicitFlags(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()

	c := &ServeCmd{
		Port:     9090,
		DataRoot: "/srv/squawk",
		DBDriver: "postgres",
		DBHost:   "db.internal",
		DBPort:   5432,
		DBName:   "squawk",
		DBUser:   "squawk",
		DBPass:   "secret",
		Metrics:  false,
	}
	c.applyOverrides(cfg)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "/srv/squawk", cfg.Server.DataRoot)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "squawk", cfg.Database.Database)
	require.Equal(t, "squawk", cfg.Database.Username)
	require.Equal(t, "secret", cfg.Database.Password)
	require.False(t, cfg.Metrics.Enabled)
}

func TestResolveSQLiteDatabasePathFillsInUnderDataRoot(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Server.DataRoot = "/tmp/fleet"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Database = ""

	resolveSQLiteDatabasePath(cfg)

	require.Equal(t, filepath.Join("/tmp/fleet", "squawk.db"), cfg.Database.Database)
}

func TestResolveSQLiteDatabasePathRespectsExplicitPath(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Server.DataRoot = "/tmp/fleet"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Database = "/var/lib/squawk/custom.db"

	resolveSQLiteDatabasePath(cfg)

	require.Equal(t, "/var/lib/squawk/custom.db", cfg.Database.Database)
}

func TestResolveSQLiteDatabasePathSkipsNonSQLiteDrivers(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Server.DataRoot = "/tmp/fleet"
	cfg.Database.Driver = "postgres"
	cfg.Database.Database = ""

	resolveSQLiteDatabasePath(cfg)

	require.Empty(t, cfg.Database.Database)
}
