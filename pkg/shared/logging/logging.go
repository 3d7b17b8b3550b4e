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

// Package logging builds the process-wide logr.Logger used by every other
// package in this module.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment selects the zap preset used to build the logger.
type Environment string

const (
	Production  Environment = "production"
	Development Environment = "development"
)

// New builds a logr.Logger backed by zap. Production uses JSON encoding at
// the given level; Development uses a human-readable console encoder and
// forces debug level.
func New(env Environment, level string) (logr.Logger, error) {
	var cfg zap.Config
	if env == Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			lvl = zapcore.InfoLevel
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(zl), nil
}

// WithIDs returns a logger pre-populated with the identifiers spec.md §7
// requires on every unexpected branch: the conversation guid and/or the
// reviewer socket id, whichever is known at the call site.
func WithIDs(log logr.Logger, guid, sid string) logr.Logger {
	if guid != "" {
		log = log.WithValues("guid", guid)
	}
	if sid != "" {
		log = log.WithValues("sid", sid)
	}
	return log
}
