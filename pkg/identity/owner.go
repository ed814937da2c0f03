// Package identity resolves the owner key that partitions all registry
// state, and issues and verifies the bearer tokens bound to it.
package identity

import (
	"fmt"
	"strings"

	"github.com/denisbrodbeck/machineid"
)

const appID = "copier-core"

// machineID is swapped in tests.
var machineID = func() (string, error) {
	return machineid.ProtectedID(appID)
}

// OwnerKey returns explicit when set, otherwise a stable key derived from
// the machine id. The raw machine id never leaves the host.
func OwnerKey(explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	id, err := machineID()
	if err != nil {
		return "", fmt.Errorf("machine id: %w", err)
	}
	return id, nil
}
