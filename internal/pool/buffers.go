// Package pool reduces GC pressure on the hot query path: dns.Msg
// values and datagram buffers are reused across requests instead of
// allocated fresh, and spec.md's 512-byte wire ceiling (EDNS(0) is a Non-goal)
// makes a single fixed buffer size sufficient.
package pool

import (
	"sync"

	"github.com/miekg/dns"
)

// SmallBufferSize matches the UDP payload ceiling spec.md's EDNS(0)
// Non-goal keeps this resolver under.
const SmallBufferSize = 512

// MessagePool is a sync.Pool for dns.Msg reuse.
var MessagePool = sync.Pool{
	New: func() interface{} {
		return new(dns.Msg)
	},
}

// GetMessage gets a message from the pool.
func GetMessage() *dns.Msg {
	return MessagePool.Get().(*dns.Msg)
}

// PutMessage returns a message to the pool. The message is reset first
// so a later reuse can't leak another query's data.
func PutMessage(msg *dns.Msg) {
	if msg == nil {
		return
	}

	msg.Id = 0
	msg.Response = false
	msg.Opcode = 0
	msg.Authoritative = false
	msg.Truncated = false
	msg.RecursionDesired = false
	msg.RecursionAvailable = false
	msg.Zero = false
	msg.AuthenticatedData = false
	msg.CheckingDisabled = false
	msg.Rcode = 0

	msg.Question = msg.Question[:0]
	msg.Answer = msg.Answer[:0]
	msg.Ns = msg.Ns[:0]
	msg.Extra = msg.Extra[:0]

	MessagePool.Put(msg)
}

// SmallBufferPool holds the fixed-size buffers the server copies each
// received client datagram into.
var SmallBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, SmallBufferSize)
		return &buf
	},
}

// GetBuffer gets a SmallBufferSize-byte buffer.
func GetBuffer() []byte {
	bufPtr := SmallBufferPool.Get().(*[]byte)
	return (*bufPtr)[:SmallBufferSize]
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(buf []byte) {
	if cap(buf) < SmallBufferSize {
		return
	}
	buf = buf[:cap(buf)]
	SmallBufferPool.Put(&buf)
}
