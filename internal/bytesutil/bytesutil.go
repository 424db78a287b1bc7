// Package bytesutil holds the byte-level helpers shared by the key custody
// packages: random generation, zeroization, and the base64/hex conversions
// used at serialization edges. Cryptographic routines take and return raw
// []byte only; encoding happens here or in the JSON-facing structs.
package bytesutil

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Random returns n cryptographically random bytes.
func Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// MustRandom returns n random bytes and panics on failure. For tests and
// startup-time initialization only.
func MustRandom(n int) []byte {
	b, err := Random(n)
	if err != nil {
		panic(err)
	}
	return b
}

// Zero overwrites b with zeroes. Used to scrub key material once a caller
// is done with it.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeEqual compares two byte slices without leaking the position
// of the first mismatch.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}
	return result == 0
}

// EncodeB64 encodes bytes as standard base64.
func EncodeB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeB64 decodes standard base64.
func DecodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// EncodeHex encodes bytes as lowercase hex.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex decodes a hex string.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
