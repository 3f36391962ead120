package netctl

import (
	"context"
	"log/slog"
	"os"
)

// Noop is the controller for platforms without a managed wireless stack
// (development machines, CI). Connects fail, scans are empty.
type Noop struct {
	log *slog.Logger
}

func NewNoop(log *slog.Logger) *Noop {
	return &Noop{log: log}
}

func (n *Noop) Connect(ctx context.Context, creds Credentials) error {
	n.log.Info("netctl disabled, ignoring connect", "ssid", creds.SSID)
	return &NetworkError{Op: "connect", Message: "network control disabled"}
}

func (n *Noop) Verify(ctx context.Context, ssid string) (bool, error) { return false, nil }

func (n *Noop) CurrentIP(ctx context.Context) (string, error) { return "", nil }

func (n *Noop) CurrentSSID(ctx context.Context) (string, error) { return "", nil }

func (n *Noop) DeviceID(ctx context.Context) (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", nil
	}
	return hostname, nil
}

func (n *Noop) Scan(ctx context.Context) ([]Network, error) {
	n.log.Info("netctl disabled, scan returns no networks")
	return nil, nil
}

func (n *Noop) Disconnect(ctx context.Context) error { return nil }
