// Package node resolves the identity stamped on audit events.
package node

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

const appID = "execution-core"

// ID returns override when set, else an app-specific hash of the machine id,
// else the hostname.
func ID(override string) string {
	if override != "" {
		return override
	}
	if id, err := machineid.ProtectedID(appID); err == nil && id != "" {
		return id[:16]
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
