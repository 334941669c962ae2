package platform

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
)

// WirelessPath is the kernel's wireless statistics table.
const WirelessPath = "/proc/net/wireless"

// SignalQuality returns the signal level in dBm for iface as reported
// by /proc/net/wireless, or 0 when the interface is not wireless or
// the table is unavailable. Wired links have no RSSI; 0 is what the
// status message reports for them.
func SignalQuality(iface string) int {
	f, err := os.Open(WirelessPath)
	if err != nil {
		return 0
	}
	defer f.Close()
	return parseWireless(f, iface)
}

// parseWireless extracts the level column for iface. Lines look like:
//
//	wlan0: 0000   58.  -52.  -256        0      0      0      0     12        0
//
// An empty iface matches the first interface listed.
func parseWireless(r io.Reader, iface string) int {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if strings.Contains(name, "|") || (iface != "" && name != iface) {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 3 {
			continue
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			continue
		}
		return int(level)
	}
	return 0
}
