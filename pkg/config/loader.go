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

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file (if path is non-empty and exists),
// expands ${VAR} / ${VAR:-default} references against the environment,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		slog.Warn("failed to load .env files", "error", err)
	}

	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else {
			var data map[string]interface{}
			if err := yaml.Unmarshal(raw, &data); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			expanded := ExpandEnvVarsInData(data)
			reencoded, err := yaml.Marshal(expanded)
			if err != nil {
				return nil, fmt.Errorf("failed to re-encode expanded config: %w", err)
			}
			if err := yaml.Unmarshal(reencoded, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Logger.File = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// OnChangeFunc is invoked with a freshly loaded and validated Config
// whenever the watched file changes.
type OnChangeFunc func(*Config)

// Loader watches a config file for changes and re-loads it, notifying a
// registered callback. Only a handful of tunables are actually safe to
// change at runtime (see applyReloadable); the listen address and
// database DSN are logged and ignored until restart.
type Loader struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange OnChangeFunc

	mu      sync.Mutex
	current *Config
	done    chan struct{}
}

// NewLoader loads the config at path once, then starts watching it.
func NewLoader(path string, onChange OnChangeFunc) (*Loader, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		path:     path,
		onChange: onChange,
		current:  cfg,
		done:     make(chan struct{}),
	}

	if path == "" {
		return l, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	l.watcher = watcher
	go l.watch()

	return l, nil
}

// Current returns the most recently loaded Config.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Loader) watch() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.reload()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		case <-l.done:
			return
		}
	}
}

func (l *Loader) reload() {
	next, err := Load(l.path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous configuration", "error", err)
		return
	}

	l.mu.Lock()
	prev := l.current
	l.applyReloadable(prev, next)
	l.current = next
	l.mu.Unlock()

	slog.Info("configuration reloaded", "path", l.path)
	if l.onChange != nil {
		l.onChange(next)
	}
}

// applyReloadable logs, but ignores, changes to fields that cannot be
// safely applied without a restart (listen port, data root, database DSN).
func (l *Loader) applyReloadable(prev, next *Config) {
	if prev.Server.Port != next.Server.Port {
		slog.Warn("server.port changed in config file but requires restart to take effect",
			"current", prev.Server.Port, "requested", next.Server.Port)
		next.Server.Port = prev.Server.Port
	}
	if prev.Database != next.Database {
		slog.Warn("database configuration changed in config file but requires restart to take effect")
		next.Database = prev.Database
	}
	if prev.Server.DataRoot != next.Server.DataRoot {
		slog.Warn("server.data_root changed in config file but requires restart to take effect",
			"current", prev.Server.DataRoot, "requested", next.Server.DataRoot)
		next.Server.DataRoot = prev.Server.DataRoot
	}
}

// Close stops the watcher.
func (l *Loader) Close() error {
	close(l.done)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
