// Package random provides cryptographically secure randomization for
// the values an off-path attacker would otherwise try to guess.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// TransactionID generates a cryptographically random 16-bit transaction
// ID. Never use math/rand here — it's predictable, and the transaction
// ID is the resolver's main defense against spoofed responses.
func TransactionID() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}
