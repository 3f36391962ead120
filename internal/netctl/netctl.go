// Package netctl executes connect/verify/scan/disconnect operations against
// the host network stack. All operations shell out to external tools and are
// safe to call concurrently; failures are returned as *NetworkError values
// and never panic.
package netctl

import (
	"context"
	"fmt"
)

// Credentials identifies the network to join. Secret may be empty for open
// networks. Credentials live in memory only for the duration of one attempt.
type Credentials struct {
	SSID   string
	Secret string
}

// Network is a single scan result entry.
type Network struct {
	SSID     string `json:"ssid"`
	Quality  int    `json:"quality"`
	Security string `json:"security"`
}

// NetworkError reports a failed network operation.
type NetworkError struct {
	Op      string // operation that failed, e.g. "connect"
	Message string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("netctl: %s: %s", e.Op, e.Message)
}

// Controller abstracts the host network stack for testing.
type Controller interface {
	// Connect attempts to join the named network. It deletes any stale
	// saved profile for the same SSID first, tries the primary connect
	// mechanism, and falls back to a secondary mechanism when the primary
	// mechanism itself fails.
	Connect(ctx context.Context, creds Credentials) error
	// Verify reports whether the currently associated SSID equals ssid.
	Verify(ctx context.Context, ssid string) (bool, error)
	// CurrentIP returns the interface's IPv4 address, or "" when none.
	CurrentIP(ctx context.Context) (string, error)
	// CurrentSSID returns the currently associated SSID, or "" when none.
	CurrentSSID(ctx context.Context) (string, error)
	// DeviceID returns a stable identifier for this device.
	DeviceID(ctx context.Context) (string, error)
	// Scan triggers a fresh scan and returns results deduplicated by SSID,
	// first-seen order. An empty result is not an error.
	Scan(ctx context.Context) ([]Network, error)
	// Disconnect tears down the active association.
	Disconnect(ctx context.Context) error
}

// DedupeNetworks removes duplicate SSIDs, keeping the first occurrence.
// Entries with an empty SSID (hidden networks) are dropped.
func DedupeNetworks(networks []Network) []Network {
	seen := make(map[string]bool, len(networks))
	out := networks[:0:0]
	for _, n := range networks {
		if n.SSID == "" || seen[n.SSID] {
			continue
		}
		seen[n.SSID] = true
		out = append(out, n)
	}
	return out
}
