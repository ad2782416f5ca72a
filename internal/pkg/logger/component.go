// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// ComponentLevels manages per-component log level overrides. Components
// that do not have an explicit override use the global logger level.
//
// Configuration example (daemon.json):
//
//	"log-level": "info",
//	"log-levels": {
//	  "api": "debug",
//	  "orchestrator": "info",
//	  "storage": "warn",
//	  "dispatcher": "warn"
//	}
type ComponentLevels struct {
	mu     sync.RWMutex
	levels map[string]zapcore.Level
	global zapcore.Level
}

// NewComponentLevels creates a component level manager with the given global
// default level and per-component overrides.
func NewComponentLevels(global string, overrides map[string]string) *ComponentLevels {
	cl := &ComponentLevels{
		levels: make(map[string]zapcore.Level),
		global: parseLevel(global),
	}
	for component, level := range overrides {
		cl.levels[strings.ToLower(component)] = parseLevel(level)
	}
	return cl
}

// LevelFor returns the log level configured for the named component.
// If no override exists, the global level is returned.
func (cl *ComponentLevels) LevelFor(component string) zapcore.Level {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	if lvl, ok := cl.levels[strings.ToLower(component)]; ok {
		return lvl
	}
	return cl.global
}

// SetLevel sets the log level for a specific component at runtime.
func (cl *ComponentLevels) SetLevel(component, level string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.levels[strings.ToLower(component)] = parseLevel(level)
}

// SetGlobal updates the global default log level at runtime.
func (cl *ComponentLevels) SetGlobal(level string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.global = parseLevel(level)
}

func parseLevel(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
