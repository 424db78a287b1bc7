package vault

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// KDF parameters. Iteration count is deliberately high so a stolen record
// resists offline guessing; tune via Params, never below MinIterations.
const (
	DefaultIterations = 310_000
	MinIterations     = 250_000
	saltSize          = 16
	derivedKeySize    = 32
)

// MinPasscodeLen is the minimum accepted passcode length.
const MinPasscodeLen = 6

// Params tunes vault key derivation.
type Params struct {
	Iterations int
}

// DefaultParams returns the default KDF parameters.
func DefaultParams() Params {
	return Params{Iterations: DefaultIterations}
}

func (p Params) iterations() int {
	if p.Iterations < MinIterations {
		return DefaultIterations
	}
	return p.Iterations
}

// deriveKey stretches a passcode into a 32-byte AEAD key.
func deriveKey(passcode string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(passcode), salt, iterations, derivedKeySize, sha256.New)
}
