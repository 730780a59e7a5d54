package handler

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/foxglovedns/resolverd/internal/cache"
)

type fakeResolver struct {
	calls   atomic.Int32
	answers []dns.RR
	err     error
	delay   time.Duration
}

func (f *fakeResolver) Resolve(ctx context.Context, name string, qtype uint16, depth int) ([]dns.RR, []dns.RR, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.answers, nil, f.err
}

func aRecord(name string) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   net.ParseIP("198.51.100.1"),
	}
}

func packQuery(t *testing.T, name string, qtype uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	raw, err := m.Pack()
	require.NoError(t, err)
	return raw
}

func TestHandleCacheMissResolves(t *testing.T) {
	c := cache.New(cache.Config{})
	fr := &fakeResolver{answers: []dns.RR{aRecord("example.com.")}}
	h := New(c, fr, nil)

	raw := packQuery(t, "example.com.", dns.TypeA)
	resp := h.Handle(context.Background(), raw)
	require.NotNil(t, resp)

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(resp))
	require.Len(t, m.Answer, 1)
	require.EqualValues(t, 1, fr.calls.Load())
}

func TestHandleCacheHitSkipsResolver(t *testing.T) {
	c := cache.New(cache.Config{})
	key := cache.NewKey("example.com.", dns.TypeA)
	c.Insert(key, cache.Entry{Records: []dns.RR{aRecord("example.com.")}, ExpiresAt: time.Now().Add(time.Minute)})

	fr := &fakeResolver{}
	h := New(c, fr, nil)

	raw := packQuery(t, "example.com.", dns.TypeA)
	resp := h.Handle(context.Background(), raw)
	require.NotNil(t, resp)
	require.Zero(t, fr.calls.Load())
}

func TestHandleExpiredEntryTriggersResolve(t *testing.T) {
	c := cache.New(cache.Config{})
	key := cache.NewKey("example.com.", dns.TypeA)
	c.Insert(key, cache.Entry{Records: []dns.RR{aRecord("example.com.")}, ExpiresAt: time.Now().Add(-time.Second)})

	fr := &fakeResolver{answers: []dns.RR{aRecord("example.com.")}}
	h := New(c, fr, nil)

	raw := packQuery(t, "example.com.", dns.TypeA)
	h.Handle(context.Background(), raw)

	require.EqualValues(t, 1, fr.calls.Load())
}

func TestHandleMalformedDatagram(t *testing.T) {
	c := cache.New(cache.Config{})
	h := New(c, &fakeResolver{}, nil)

	resp := h.Handle(context.Background(), []byte{0x01, 0x02})
	require.Nil(t, resp)
}

func TestHandleResolverErrorProducesServFail(t *testing.T) {
	c := cache.New(cache.Config{})
	fr := &fakeResolver{err: context.DeadlineExceeded}
	h := New(c, fr, nil)

	raw := packQuery(t, "example.com.", dns.TypeA)
	resp := h.Handle(context.Background(), raw)
	require.NotNil(t, resp)

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(resp))
	require.Equal(t, dns.RcodeServerFailure, m.Rcode)
}

func TestHandleCollapsesConcurrentMisses(t *testing.T) {
	c := cache.New(cache.Config{})
	fr := &fakeResolver{answers: []dns.RR{aRecord("example.com.")}, delay: 50 * time.Millisecond}
	h := New(c, fr, nil)

	raw := packQuery(t, "example.com.", dns.TypeA)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			h.Handle(context.Background(), raw)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	require.EqualValues(t, 1, fr.calls.Load())
}
