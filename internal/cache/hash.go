package cache

import (
	"crypto/rand"
	"encoding/binary"
)

// randomHashKeys draws a fresh 128-bit SipHash key at process start.
func randomHashKeys() (uint64, uint64) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the process has no usable entropy
		// source; there is nothing safe to fall back to for a
		// cache-poisoning-resistant hash.
		panic("cache: crypto/rand unavailable: " + err.Error())
	}
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16])
}

func keyToBytes(k0, k1 uint64) []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], k0)
	binary.LittleEndian.PutUint64(buf[8:16], k1)
	return buf[:]
}

// nextPowerOfTwo rounds n up to the next power of two (n itself if
// already one).
func nextPowerOfTwo(n int) int {
	if n&(n-1) == 0 {
		return n
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
