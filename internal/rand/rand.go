// Package rand generates short random identifiers for push-channel
// connections. Not security-critical.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	mu  sync.Mutex
	rng = newRNG()
)

func newRNG() *rand.Rand {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		panic("unreachable")
	}
	//nolint:gosec // non-cryptographic use
	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))
}

// String returns a random base62 string of the given length.
func String(length int) string {
	buf := make([]byte, length)

	mu.Lock()
	for i := range buf {
		buf[i] = charset[rng.IntN(len(charset))]
	}
	mu.Unlock()

	return string(buf)
}
