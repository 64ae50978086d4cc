package pipeline

import (
	"net/netip"

	"github.com/gaissmai/bart"
)

// reservedRanges answers "does the upstream have any chance of knowing
// this address" before a run spends a challenge solve on it. Values are
// the range names used in the fault message.
var reservedRanges = func() *bart.Table[string] {
	table := &bart.Table[string]{}

	for pfx, name := range map[string]string{
		"10.0.0.0/8":          "RFC 1918",
		"172.16.0.0/12":       "RFC 1918",
		"192.168.0.0/16":      "RFC 1918",
		"127.0.0.0/8":         "loopback",
		"169.254.0.0/16":      "link-local",
		"100.64.0.0/10":       "CGNAT",
		"192.0.0.0/24":        "protocol assignments",
		"192.0.2.0/24":        "TEST-NET-1",
		"198.18.0.0/15":       "benchmarking",
		"198.51.100.0/24":     "TEST-NET-2",
		"203.0.113.0/24":      "TEST-NET-3",
		"240.0.0.0/4":         "reserved",
		"255.255.255.255/32":  "broadcast",
		"fc00::/7":            "unique local",
		"fe80::/10":           "link-local",
		"::1/128":             "loopback",
		"::/128":              "unspecified",
		"100::/64":            "discard-only",
		"2001:db8::/32":       "documentation",
	} {
		table.Insert(netip.MustParsePrefix(pfx), name)
	}

	return table
}()

// reservedRange returns the name of the non-routable range target falls
// into, or "" when the target is a public address or not an address at
// all. Hostnames pass through untouched; the upstream resolves those
// itself.
func reservedRange(target string) string {
	addr, err := netip.ParseAddr(target)
	if err != nil {
		return ""
	}

	name, ok := reservedRanges.Lookup(addr.Unmap())
	if !ok {
		return ""
	}
	return name
}
