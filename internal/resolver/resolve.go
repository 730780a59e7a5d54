// Package resolver implements the iterative resolution state machine:
// walking the delegation chain from the root servers down to an
// authoritative answer, chasing CNAMEs, and resolving glue-less
// referrals, per spec.md §4.3.
package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/miekg/dns"

	"github.com/foxglovedns/resolverd/internal/cache"
	"github.com/foxglovedns/resolverd/internal/random"
	"github.com/foxglovedns/resolverd/internal/transport"
)

// maxDepth bounds CNAME chases and glue-less NS resolutions combined,
// per spec.md §4.3's recursion-depth invariant.
const maxDepth = 10

// dnsPort is the well-known nameserver port resolvers query upstream
// servers on, distinct from the resolver's own 5353 client-facing port.
const dnsPort = 53

// Querier performs one request/response exchange against a server
// address. internal/transport.Query satisfies this; tests substitute a
// fake.
type Querier func(ctx context.Context, payload []byte, addr *net.UDPAddr) ([]byte, error)

// Resolver walks the delegation chain starting from the root servers.
type Resolver struct {
	cache *cache.Cache
	query Querier
}

// New builds a Resolver backed by c, performing real network exchanges
// via internal/transport.
func New(c *cache.Cache) *Resolver {
	return &Resolver{cache: c, query: transport.Query}
}

// WithQuerier overrides the network exchange function. Exposed for
// tests that need to substitute a fake upstream.
func (r *Resolver) WithQuerier(q Querier) *Resolver {
	r.query = q
	return r
}

// Resolve performs iterative resolution of (name, qtype), returning the
// answer and authority sections to place in the final response. depth
// is the caller's recursion depth; external callers pass 0.
func (r *Resolver) Resolve(ctx context.Context, name string, qtype uint16, depth int) ([]dns.RR, []dns.RR, error) {
	if depth > maxDepth {
		return nil, nil, nil
	}

	servers := rootAddrs()
	for {
		resp, err := r.queryServers(ctx, servers, name, qtype)
		if err != nil {
			return nil, nil, err
		}
		if resp == nil {
			return nil, nil, nil
		}

		if len(resp.Answer) > 0 {
			key := cache.NewKey(name, qtype)
			r.cache.Insert(key, cache.Entry{
				Records:   resp.Answer,
				ExpiresAt: expiresAt(cache.MinTTL(resp.Answer)),
			})

			if cname := findCNAME(resp.Answer, name); cname != "" && qtype != dns.TypeCNAME {
				answers, authorities, err := r.Resolve(ctx, cname, qtype, depth+1)
				if err != nil {
					return nil, nil, err
				}
				return append(append([]dns.RR{}, resp.Answer...), answers...), authorities, nil
			}
			return resp.Answer, resp.Ns, nil
		}

		if len(resp.Ns) == 0 {
			return nil, nil, nil
		}

		next, err := r.resolveDelegation(ctx, resp, depth)
		if err != nil {
			return nil, nil, err
		}
		if len(next) == 0 {
			return nil, resp.Ns, nil
		}
		servers = next
	}
}

// resolveDelegation extracts the next hop's server addresses from a
// referral response: glue records when present in the additional
// section, otherwise a fresh A/AAAA resolution of each delegated
// nameserver's name. Grounded on the Rust original's glue-collection
// and glue-less fallback in recursive_lookup_with_cache.
func (r *Resolver) resolveDelegation(ctx context.Context, resp *dns.Msg, depth int) ([]netip.Addr, error) {
	nsNames := make([]string, 0, len(resp.Ns))
	for _, rr := range resp.Ns {
		if ns, ok := rr.(*dns.NS); ok {
			nsNames = append(nsNames, ns.Ns)
		}
	}
	if len(nsNames) == 0 {
		return nil, nil
	}

	glue := findGlue(resp.Extra, nsNames)
	if len(glue) > 0 {
		return glue, nil
	}

	var resolved []netip.Addr
	for _, nsName := range nsNames {
		for _, qtype := range [...]uint16{dns.TypeA, dns.TypeAAAA} {
			answers, _, err := r.Resolve(ctx, nsName, qtype, depth+1)
			if err != nil {
				continue
			}
			resolved = append(resolved, addrsFromRRs(answers)...)
		}
	}
	return resolved, nil
}

// queryServers fans a query out to every address in servers
// simultaneously and returns the first response that decodes, in
// servers' own order, matching the Rust original's
// send_udp_query-per-server-then-await-in-order semantics. If no server
// yields a decodable response, it returns an error.
func (r *Resolver) queryServers(ctx context.Context, servers []netip.Addr, name string, qtype uint16) (*dns.Msg, error) {
	if len(servers) == 0 {
		return nil, nil
	}

	msg, err := buildQuery(name, qtype)
	if err != nil {
		return nil, err
	}
	payload, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("resolver: pack query: %w", err)
	}

	type outcome struct {
		resp *dns.Msg
		err  error
	}
	results := make([]chan outcome, len(servers))
	for i, addr := range servers {
		results[i] = make(chan outcome, 1)
		go func(ch chan outcome, addr netip.Addr) {
			raw, err := r.query(ctx, payload, &net.UDPAddr{IP: addr.AsSlice(), Port: dnsPort})
			if err != nil {
				ch <- outcome{nil, err}
				return
			}
			reply := new(dns.Msg)
			if err := reply.Unpack(raw); err != nil {
				ch <- outcome{nil, err}
				return
			}
			ch <- outcome{reply, nil}
		}(results[i], addr)
	}

	var lastErr error
	for _, ch := range results {
		o := <-ch
		if o.err == nil {
			return o.resp, nil
		}
		lastErr = o.err
	}
	return nil, fmt.Errorf("resolver: no server answered %s: %w", name, lastErr)
}

// buildQuery constructs an iterative (RD=0) query with a
// cryptographically random transaction ID, per spec.md §4.3's
// spoof-resistance requirement.
func buildQuery(name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.Id = random.TransactionID()
	msg.RecursionDesired = false
	msg.SetQuestion(dns.Fqdn(name), qtype)
	return msg, nil
}

func findCNAME(answers []dns.RR, queried string) string {
	queried = dns.Fqdn(queried)
	for _, rr := range answers {
		if cname, ok := rr.(*dns.CNAME); ok && dns.Fqdn(cname.Hdr.Name) == queried {
			return cname.Target
		}
	}
	return ""
}

func findGlue(extra []dns.RR, nsNames []string) []netip.Addr {
	names := make(map[string]struct{}, len(nsNames))
	for _, n := range nsNames {
		names[dns.Fqdn(n)] = struct{}{}
	}
	return addrsFromRRs(filterByName(extra, names))
}

func filterByName(rrs []dns.RR, names map[string]struct{}) []dns.RR {
	var out []dns.RR
	for _, rr := range rrs {
		if _, ok := names[dns.Fqdn(rr.Header().Name)]; ok {
			out = append(out, rr)
		}
	}
	return out
}

func addrsFromRRs(rrs []dns.RR) []netip.Addr {
	var out []netip.Addr
	for _, rr := range rrs {
		switch v := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(v.A.To4()); ok {
				out = append(out, addr)
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(v.AAAA.To16()); ok {
				out = append(out, addr)
			}
		}
	}
	return out
}
