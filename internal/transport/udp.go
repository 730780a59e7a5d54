// Package transport owns the UDP sockets: the wildcard listener queries
// arrive on, and the scoped per-query sockets the Iterative Resolver
// opens against upstream name servers.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// queryTimeout bounds both the send and the receive half of one
// upstream exchange, per spec.md §6 (DNS_REQUEST_TIMEOUT).
const queryTimeout = 2 * time.Second

// maxUDPPayload is the wire size ceiling spec.md's EDNS(0) Non-goal
// keeps this resolver under.
const maxUDPPayload = 512

// Listener wraps the dual-stack wildcard socket the Query Handler reads
// incoming client datagrams from.
type Listener struct {
	conn *net.UDPConn
}

// Listen binds a dual-stack UDP socket on addr (e.g. ":5353"). Grounded
// on the Rust original's run_server binding `[::]:5353`.
func Listen(addr string) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	return &Listener{conn: conn}, nil
}

// ReadFrom blocks for the next client datagram. Cancelling ctx unblocks
// a pending read by setting the socket's read deadline to now, and
// ReadFrom then returns ctx.Err(). The deadline stays set afterwards, so
// later reads on the same Listener fail at once.
func (l *Listener) ReadFrom(ctx context.Context, buf []byte) (int, net.Addr, error) {
	type result struct {
		n    int
		addr net.Addr
		err  error
	}
	done := make(chan result, 1)
	go func() {
		n, addr, err := l.conn.ReadFrom(buf)
		done <- result{n, addr, err}
	}()
	select {
	case <-ctx.Done():
		l.conn.SetReadDeadline(time.Now())
		<-done
		return 0, nil, ctx.Err()
	case r := <-done:
		return r.n, r.addr, r.err
	}
}

// WriteTo sends a response datagram to addr.
func (l *Listener) WriteTo(buf []byte, addr net.Addr) error {
	_, err := l.conn.WriteTo(buf, addr)
	return err
}

// Close releases the listening socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// Query performs one scoped request/response exchange against addr: a
// fresh ephemeral socket is opened, used for exactly one datagram pair,
// and closed on every exit path. Grounded on the Rust original's
// send_udp_query, which opens a new socket per upstream attempt rather
// than pooling connections to nameservers.
func Query(ctx context.Context, payload []byte, addr *net.UDPAddr) ([]byte, error) {
	network := "udp4"
	if addr.IP.To4() == nil {
		network = "udp6"
	}

	conn, err := net.DialUDP(network, nil, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(queryTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("transport: set deadline: %w", err)
	}

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("transport: write to %s: %w", addr, err)
	}

	buf := make([]byte, maxUDPPayload)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("transport: read from %s: %w", addr, err)
	}
	return buf[:n], nil
}
