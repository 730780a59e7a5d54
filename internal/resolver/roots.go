package resolver

import (
	"net/netip"
	"time"
)

// roots lists the thirteen root name servers, alphabetical a-m, IPv4
// before IPv6 within each root, per spec.md §6. Hard-coded as ordered
// constants: the ordering itself is the tie-break spec.md §4.3 names
// for which server answers first.
var roots = []netip.Addr{
	netip.MustParseAddr("198.41.0.4"),                      // a.root-servers.net
	netip.MustParseAddr("2001:503:ba3e::2:30"),              // a.root-servers.net
	netip.MustParseAddr("199.9.14.201"),                     // b.root-servers.net
	netip.MustParseAddr("2001:500:200::b"),                  // b.root-servers.net
	netip.MustParseAddr("192.33.4.12"),                      // c.root-servers.net
	netip.MustParseAddr("2001:500:2::c"),                    // c.root-servers.net
	netip.MustParseAddr("199.7.91.13"),                      // d.root-servers.net
	netip.MustParseAddr("2001:500:2d::d"),                   // d.root-servers.net
	netip.MustParseAddr("192.203.230.10"),                   // e.root-servers.net
	netip.MustParseAddr("2001:500:a8::e"),                   // e.root-servers.net
	netip.MustParseAddr("192.5.5.241"),                      // f.root-servers.net
	netip.MustParseAddr("2001:500:2f::f"),                   // f.root-servers.net
	netip.MustParseAddr("192.112.36.4"),                     // g.root-servers.net
	netip.MustParseAddr("2001:500:12::d0d"),                 // g.root-servers.net
	netip.MustParseAddr("198.97.190.53"),                    // h.root-servers.net
	netip.MustParseAddr("2001:500:1::53"),                   // h.root-servers.net
	netip.MustParseAddr("192.36.148.17"),                    // i.root-servers.net
	netip.MustParseAddr("2001:7fe::53"),                     // i.root-servers.net
	netip.MustParseAddr("192.58.128.30"),                    // j.root-servers.net
	netip.MustParseAddr("2001:503:c27::2:30"),                // j.root-servers.net
	netip.MustParseAddr("193.0.14.129"),                     // k.root-servers.net
	netip.MustParseAddr("2001:7fd::1"),                      // k.root-servers.net
	netip.MustParseAddr("199.7.83.42"),                      // l.root-servers.net
	netip.MustParseAddr("2001:500:9f::42"),                  // l.root-servers.net
	netip.MustParseAddr("202.12.27.33"),                     // m.root-servers.net
	netip.MustParseAddr("2001:dc3::35"),                     // m.root-servers.net
}

// rootAddrs returns the starting server set for a fresh iterative
// resolution.
func rootAddrs() []netip.Addr {
	out := make([]netip.Addr, len(roots))
	copy(out, roots)
	return out
}

// expiresAt converts a TTL, in seconds, into an absolute expiry instant.
func expiresAt(ttlSeconds uint32) time.Time {
	return time.Now().Add(time.Duration(ttlSeconds) * time.Second)
}
