// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 stevedore contributors
// https://github.com/stevedore-io/stevedore

package container

import (
	"fmt"
	"math/rand"
)

var nameAdjectives = []string{
	"bold", "brisk", "calm", "clever", "eager", "fond", "keen", "lucid",
	"merry", "nimble", "quiet", "sharp", "steady", "swift", "vivid", "wry",
}

var nameNouns = []string{
	"anchor", "beacon", "bollard", "capstan", "derrick", "fathom", "gantry",
	"hull", "jetty", "keel", "mast", "pallet", "quay", "rudder", "winch",
}

// randomName generates a name for containers created without one.
func randomName() string {
	return fmt.Sprintf("%s_%s%d",
		nameAdjectives[rand.Intn(len(nameAdjectives))],
		nameNouns[rand.Intn(len(nameNouns))],
		rand.Intn(100))
}
