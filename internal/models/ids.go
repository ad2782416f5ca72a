// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

// Package models defines the daemon's object model: containers, images,
// networks, volumes, swarm services, tasks and nodes.
package models

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// FullIDLen is the length of a full hex object ID.
const FullIDLen = 64

// ShortIDLen is the length IDs are truncated to for display.
const ShortIDLen = 12

// GenerateID returns a new random 64-character hex ID, the identity form
// used for containers, images and layers.
func GenerateID() string {
	b := make([]byte, FullIDLen/2)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic("models: cannot read random bytes: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// TruncateID shortens an ID to its display form.
func TruncateID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > ShortIDLen {
		return id[:ShortIDLen]
	}
	return id
}
