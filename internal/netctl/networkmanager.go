package netctl

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

const machineIDPath = "/etc/machine-id"

// NetworkManager drives the host network stack through nmcli. The primary
// connect mechanism is `nmcli dev wifi connect`; when that mechanism itself
// fails (not the credentials), it falls back to creating an explicit
// connection profile and activating it.
type NetworkManager struct {
	runner Runner
	ifname string
	log    *slog.Logger

	// machineID overrides the machine-id file path in tests.
	machineID string
}

// NewNetworkManager creates a Controller backed by nmcli on the given
// wireless interface.
func NewNetworkManager(runner Runner, ifname string, log *slog.Logger) *NetworkManager {
	return &NetworkManager{
		runner:    runner,
		ifname:    ifname,
		log:       log,
		machineID: machineIDPath,
	}
}

func (m *NetworkManager) Connect(ctx context.Context, creds Credentials) error {
	// A stale profile with the same name would shadow the new credentials.
	m.deleteProfile(ctx, creds.SSID)

	args := []string{"dev", "wifi", "connect", creds.SSID, "ifname", m.ifname}
	if creds.Secret != "" {
		args = append(args, "password", creds.Secret)
	}
	_, stderr, err := m.runner.Run(ctx, "nmcli", args...)
	if err == nil {
		return nil
	}

	if isCredentialFailure(stderr) {
		m.deleteProfile(ctx, creds.SSID)
		return &NetworkError{Op: "connect", Message: firstLine(stderr)}
	}

	m.log.Warn("primary connect mechanism failed, trying profile activation",
		"ssid", creds.SSID, "err", err, "stderr", firstLine(stderr))

	if err := m.connectViaProfile(ctx, creds); err != nil {
		return err
	}
	return nil
}

// connectViaProfile is the fallback mechanism: create an explicit profile and
// bring it up. Used when `dev wifi connect` fails for non-credential reasons
// (e.g. the on-the-fly AP lookup not finding a hidden network).
func (m *NetworkManager) connectViaProfile(ctx context.Context, creds Credentials) error {
	addArgs := []string{
		"connection", "add", "type", "wifi",
		"ifname", m.ifname, "con-name", creds.SSID, "ssid", creds.SSID,
	}
	if creds.Secret != "" {
		addArgs = append(addArgs,
			"wifi-sec.key-mgmt", "wpa-psk", "wifi-sec.psk", creds.Secret)
	}
	if _, stderr, err := m.runner.Run(ctx, "nmcli", addArgs...); err != nil {
		return &NetworkError{Op: "connect", Message: firstLine(stderr)}
	}

	if _, stderr, err := m.runner.Run(ctx, "nmcli", "connection", "up", creds.SSID); err != nil {
		m.deleteProfile(ctx, creds.SSID)
		return &NetworkError{Op: "connect", Message: firstLine(stderr)}
	}
	return nil
}

func (m *NetworkManager) Verify(ctx context.Context, ssid string) (bool, error) {
	current, err := m.CurrentSSID(ctx)
	if err != nil {
		return false, err
	}
	return current == ssid, nil
}

func (m *NetworkManager) CurrentSSID(ctx context.Context) (string, error) {
	stdout, stderr, err := m.runner.Run(ctx, "nmcli", "-t", "-f", "active,ssid", "dev", "wifi")
	if err != nil {
		return "", &NetworkError{Op: "current-ssid", Message: firstLine(stderr)}
	}
	return parseActiveSSID(stdout), nil
}

func (m *NetworkManager) CurrentIP(ctx context.Context) (string, error) {
	stdout, stderr, err := m.runner.Run(ctx, "ip", "-4", "-o", "addr", "show", "dev", m.ifname)
	if err != nil {
		return "", &NetworkError{Op: "current-ip", Message: firstLine(stderr)}
	}
	return parseIPv4Addr(stdout), nil
}

func (m *NetworkManager) DeviceID(ctx context.Context) (string, error) {
	data, err := os.ReadFile(m.machineID)
	if err != nil {
		return "", &NetworkError{Op: "device-id", Message: err.Error()}
	}
	return strings.TrimSpace(string(data)), nil
}

func (m *NetworkManager) Scan(ctx context.Context) ([]Network, error) {
	stdout, stderr, err := m.runner.Run(ctx, "nmcli",
		"-t", "-f", "ssid,signal,security",
		"dev", "wifi", "list", "ifname", m.ifname, "--rescan", "yes")
	if err != nil {
		return nil, &NetworkError{Op: "scan", Message: firstLine(stderr)}
	}

	networks := DedupeNetworks(parseScanOutput(stdout))
	if len(networks) == 0 {
		// The two usual culprits on fresh images, worth a hint but not an error.
		m.log.Warn("scan returned no networks; check the wireless regulatory domain"+
			" (iw reg get) and that the radio is not soft-blocked (rfkill list)",
			"ifname", m.ifname)
	}
	return networks, nil
}

func (m *NetworkManager) Disconnect(ctx context.Context) error {
	if _, stderr, err := m.runner.Run(ctx, "nmcli", "dev", "disconnect", m.ifname); err != nil {
		return &NetworkError{Op: "disconnect", Message: firstLine(stderr)}
	}
	return nil
}

// deleteProfile removes a saved connection profile by name. A missing
// profile is not an error.
func (m *NetworkManager) deleteProfile(ctx context.Context, name string) {
	if _, _, err := m.runner.Run(ctx, "nmcli", "connection", "delete", "id", name); err != nil {
		m.log.Debug("no stale profile to delete", "name", name)
	}
}

// isCredentialFailure reports whether nmcli stderr indicates bad credentials
// rather than a failure of the connect mechanism itself.
func isCredentialFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "secrets were required") ||
		strings.Contains(s, "invalid password") ||
		strings.Contains(s, "802.1x supplicant")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "command failed"
	}
	return s
}
