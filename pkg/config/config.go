/*
Copyright 2026 AI Red Teaming Labs.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the dispatcher's YAML configuration and watches it
// for changes to the subset of fields that are safe to hot-reload.
package config

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	rderrors "github.com/ai-redteam-labs/review-dispatcher/pkg/shared/errors"
)

// Immutable holds fields read once at startup. Changing these requires a
// process restart.
type Immutable struct {
	KVStoreURL      string        `yaml:"kv_store_url"`
	ScoringKey      string        `yaml:"scoring_key"`
	BroadcastRoom   string        `yaml:"broadcast_room"`
	HeartbeatTTL    time.Duration `yaml:"heartbeat_ttl"`
	AssignTTL       time.Duration `yaml:"assign_ttl"`
	ActivityBonus   time.Duration `yaml:"activity_bonus"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	HTTPAddr        string        `yaml:"http_addr"`
	AuditDatabaseDSN string       `yaml:"audit_database_dsn"`
}

// Mutable holds fields that may change while the process runs and are
// picked up by the fsnotify watch without a restart.
type Mutable struct {
	LogLevel         string `yaml:"log_level"`
	OpsSlackWebhook  string `yaml:"ops_slack_webhook"`
	OpsSlackChannel  string `yaml:"ops_slack_channel"`
}

// file is the on-disk shape; it embeds both halves so one YAML document
// configures the whole process.
type file struct {
	Immutable `yaml:",inline"`
	Mutable   `yaml:",inline"`
}

// Defaults mirror the constants spec.md §3/§4 name explicitly.
func defaults() file {
	return file{
		Immutable: Immutable{
			BroadcastRoom: "scorer",
			HeartbeatTTL:  7 * time.Second,
			AssignTTL:     60 * time.Second,
			ActivityBonus: 6 * time.Second,
			TickInterval:  5 * time.Second,
			LockTTL:       10 * time.Second,
			HTTPAddr:      ":8080",
		},
		Mutable: Mutable{
			LogLevel: "info",
		},
	}
}

// Config is the live, goroutine-safe configuration handle. Immutable is
// read directly; Mutable is read through Current().
type Config struct {
	Immutable

	mu      sync.RWMutex
	mutable Mutable
}

// Load reads path, applies environment overrides, and returns a Config
// with no watch started. Call Watch separately if hot reload is wanted.
func Load(path string) (*Config, error) {
	f := defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, rderrors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, rderrors.Wrap(err, "parse config file")
		}
	}

	applyEnvOverrides(&f)

	if f.KVStoreURL == "" {
		return nil, rderrors.New("kv_store_url is required (config file or REVIEW_KV_URL)")
	}
	if f.ScoringKey == "" {
		return nil, rderrors.New("scoring_key is required (config file or REVIEW_SCORING_KEY)")
	}

	c := &Config{Immutable: f.Immutable, mutable: f.Mutable}
	return c, nil
}

func applyEnvOverrides(f *file) {
	if v := os.Getenv("REVIEW_KV_URL"); v != "" {
		f.KVStoreURL = v
	}
	if v := os.Getenv("REVIEW_SCORING_KEY"); v != "" {
		f.ScoringKey = v
	}
	if v := os.Getenv("REVIEW_BROADCAST_ROOM"); v != "" {
		f.BroadcastRoom = v
	}
	if v := os.Getenv("REVIEW_HTTP_ADDR"); v != "" {
		f.HTTPAddr = v
	}
	if v := os.Getenv("REVIEW_AUDIT_DSN"); v != "" {
		f.AuditDatabaseDSN = v
	}
	if v := os.Getenv("REVIEW_LOG_LEVEL"); v != "" {
		f.LogLevel = v
	}
	if v := os.Getenv("REVIEW_OPS_SLACK_WEBHOOK"); v != "" {
		f.OpsSlackWebhook = v
	}
	if v := os.Getenv("REVIEW_OPS_SLACK_CHANNEL"); v != "" {
		f.OpsSlackChannel = v
	}
}

// Current returns a copy of the mutable subset of config.
func (c *Config) Current() Mutable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mutable
}

// Watch starts an fsnotify watch on path and updates the mutable subset of
// c whenever the file is rewritten. It runs until ctxDone is closed.
func (c *Config) Watch(path string, log logr.Logger, ctxDone <-chan struct{}) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return rderrors.Wrap(err, "create config watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return rderrors.Wrap(err, "watch config file")
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctxDone:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				c.reload(path, log)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error(err, "config watcher error")
			}
		}
	}()
	return nil
}

func (c *Config) reload(path string, log logr.Logger) {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Error(err, "reload config: read failed")
		return
	}
	f := defaults()
	f.Immutable = c.Immutable
	if err := yaml.Unmarshal(b, &f); err != nil {
		log.Error(err, "reload config: parse failed")
		return
	}
	applyEnvOverrides(&f)

	c.mu.Lock()
	c.mutable = f.Mutable
	c.mu.Unlock()
	log.Info("config reloaded", "log_level", f.Mutable.LogLevel)
}
