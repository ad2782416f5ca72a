// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package storage

import (
	"sync"

	apperrors "github.com/stevedore-io/stevedore/internal/pkg/errors"
	"github.com/stevedore-io/stevedore/internal/pkg/logger"
)

// InitFunc constructs a driver rooted at home with the given prefixed
// driver options.
type InitFunc func(home string, options []string, log *logger.Logger) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]InitFunc)
)

// priority is the auto-selection order when no driver is configured.
var priority = []string{"overlay2", "zfs", "btrfs", "devicemapper", "vfs"}

// Register makes a driver available by name. Called from driver init().
func Register(name string, initFunc InitFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[name]; dup {
		panic("storage: Register called twice for driver " + name)
	}
	drivers[name] = initFunc
}

// New selects and initializes a driver. An explicitly named driver that is
// not registered or fails to initialize is a fatal configuration error. With
// no name given, drivers are probed in priority order and the first that
// initializes wins.
func New(name, home string, options []string, log *logger.Logger) (Driver, error) {
	if log == nil {
		log = logger.Nop()
	}

	if name != "" {
		driversMu.RLock()
		initFunc, ok := drivers[name]
		driversMu.RUnlock()
		if !ok {
			return nil, apperrors.Newf(apperrors.CodeInvalidConfig,
				"unsupported storage driver %q", name)
		}
		driver, err := initFunc(home, options, log)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeInvalidConfig,
				"storage driver %s failed to initialize", name)
		}
		log.Info("using configured storage driver", "driver", name)
		return driver, nil
	}

	for _, candidate := range priority {
		driversMu.RLock()
		initFunc, ok := drivers[candidate]
		driversMu.RUnlock()
		if !ok {
			continue
		}
		driver, err := initFunc(home, options, log)
		if err != nil {
			log.Debug("storage driver probe failed", "driver", candidate, "error", err)
			continue
		}
		log.Info("selected storage driver", "driver", candidate)
		return driver, nil
	}

	return nil, apperrors.New(apperrors.CodeInvalidConfig, "no usable storage driver found")
}
