package netctl

import (
	"strconv"
	"strings"
)

// splitTerse splits one line of `nmcli -t` output into fields. nmcli escapes
// literal colons inside field values as `\:`.
func splitTerse(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

// parseScanOutput parses `nmcli -t -f ssid,signal,security dev wifi list`
// output into Networks. Malformed lines are skipped.
func parseScanOutput(out string) []Network {
	var networks []Network
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := splitTerse(line)
		if len(fields) < 3 {
			continue
		}
		quality, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		security := fields[2]
		if security == "" {
			security = "open"
		}
		networks = append(networks, Network{
			SSID:     fields[0],
			Quality:  quality,
			Security: security,
		})
	}
	return networks
}

// parseActiveSSID parses `nmcli -t -f active,ssid dev wifi` output and
// returns the SSID of the active association, or "".
func parseActiveSSID(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := splitTerse(strings.TrimSpace(line))
		if len(fields) >= 2 && fields[0] == "yes" {
			return fields[1]
		}
	}
	return ""
}

// parseIPv4Addr parses `ip -4 -o addr show dev <if>` output and returns the
// first IPv4 address without its prefix length, or "".
func parseIPv4Addr(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		for i, f := range fields {
			if f == "inet" && i+1 < len(fields) {
				addr := fields[i+1]
				if slash := strings.IndexByte(addr, '/'); slash >= 0 {
					addr = addr[:slash]
				}
				return addr
			}
		}
	}
	return ""
}
