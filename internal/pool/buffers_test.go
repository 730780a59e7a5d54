package pool

import (
	"testing"

	"github.com/miekg/dns"
)

func TestMessagePool(t *testing.T) {
	msg := GetMessage()
	if msg == nil {
		t.Fatal("GetMessage() returned nil")
	}

	msg.Id = 0x1234
	msg.SetQuestion("example.com.", dns.TypeA)

	PutMessage(msg)

	msg2 := GetMessage()
	if msg2.Id != 0 {
		t.Errorf("message not reset: Id = %d, want 0", msg2.Id)
	}
	if len(msg2.Question) != 0 {
		t.Errorf("message not reset: Question len = %d, want 0", len(msg2.Question))
	}
}

func TestBufferPool(t *testing.T) {
	buf := GetBuffer()
	if len(buf) != SmallBufferSize {
		t.Errorf("buffer size = %d, want %d", len(buf), SmallBufferSize)
	}

	copy(buf, []byte("test data"))
	PutBuffer(buf)

	buf2 := GetBuffer()
	if len(buf2) != SmallBufferSize {
		t.Errorf("buffer size = %d, want %d", len(buf2), SmallBufferSize)
	}
}

func TestPutBufferUndersized(t *testing.T) {
	small := make([]byte, 100)
	PutBuffer(small)
}

func TestPutMessageNil(t *testing.T) {
	PutMessage(nil)
}

func TestMessageReset(t *testing.T) {
	msg := GetMessage()

	msg.Id = 0x1234
	msg.Response = true
	msg.Opcode = dns.OpcodeQuery
	msg.Authoritative = true
	msg.Truncated = true
	msg.RecursionDesired = true
	msg.RecursionAvailable = true
	msg.AuthenticatedData = true
	msg.CheckingDisabled = true
	msg.Rcode = dns.RcodeServerFailure

	msg.Question = append(msg.Question, dns.Question{
		Name:   "example.com.",
		Qtype:  dns.TypeA,
		Qclass: dns.ClassINET,
	})

	PutMessage(msg)
	msg2 := GetMessage()

	if msg2.Id != 0 {
		t.Errorf("Id not reset: got %d", msg2.Id)
	}
	if msg2.Response {
		t.Error("Response not reset")
	}
	if msg2.Rcode != 0 {
		t.Errorf("Rcode not reset: got %d", msg2.Rcode)
	}
	if len(msg2.Question) != 0 {
		t.Errorf("Question not reset: len = %d", len(msg2.Question))
	}

	PutMessage(msg2)
}

func BenchmarkMessagePool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		msg := GetMessage()
		msg.SetQuestion("example.com.", dns.TypeA)
		PutMessage(msg)
	}
}

func BenchmarkBufferPool(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := GetBuffer()
		PutBuffer(buf)
	}
}
