package common

import "crypto/rand"

// GenerateRandByteArray returns size cryptographically random bytes, or nil
// if the random source fails.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil
	}
	return b
}

// WipeByteArray zeroes b. Used for passphrases and derived keys once they
// are no longer needed. Nil is a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
