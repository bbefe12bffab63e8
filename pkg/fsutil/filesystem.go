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

// Package fsutil provides filesystem helpers shared by the database,
// checkpoint, and CLI layers.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDataDir ensures the server's data root directory exists.
// If basePath is empty or ".", it creates ./.squawk in the current directory.
// Otherwise, it creates {basePath} directly.
//
// Used by:
//   - Primary database: <data_root>/squawk.db
//   - Checkpoints: <data_root>/checkpoints/<mission_id>/
//
// Returns the full path to the directory and any error.
func EnsureDataDir(basePath string) (string, error) {
	dataDir := basePath
	if dataDir == "" || dataDir == "." {
		dataDir = ".squawk"
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory at '%s': %w", dataDir, err)
	}

	return dataDir, nil
}

// EnsureCheckpointDir ensures the checkpoints directory for one mission
// exists under dataRoot and returns its path.
func EnsureCheckpointDir(dataRoot, missionID string) (string, error) {
	dir := filepath.Join(dataRoot, "checkpoints", missionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory at '%s': %w", dir, err)
	}
	return dir, nil
}

// FallbackDataDirs are tried in order when the preferred data root is
// unwritable, per the server's startup fallback policy.
func FallbackDataDirs() []string {
	return []string{
		filepath.Join(os.TempDir(), "fleet"),
	}
}

// WritableDataDir returns the first directory among preferred followed by
// the standard fallbacks that can be created and is writable, along with
// whether a fallback had to be used.
func WritableDataDir(preferred string) (dir string, usedFallback bool, err error) {
	candidates := append([]string{preferred}, FallbackDataDirs()...)

	var lastErr error
	for i, candidate := range candidates {
		created, createErr := EnsureDataDir(candidate)
		if createErr != nil {
			lastErr = createErr
			continue
		}
		probe := filepath.Join(created, ".write-test")
		if werr := os.WriteFile(probe, []byte("ok"), 0644); werr != nil {
			lastErr = werr
			continue
		}
		os.Remove(probe)
		return created, i > 0, nil
	}

	return "", false, fmt.Errorf("no writable data directory found: %w", lastErr)
}
