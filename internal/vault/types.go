// Package vault owns the user's long-lived identity keypair. The keypair is
// persisted only as an EncryptedVaultRecord: the private half never touches
// the store in plaintext, and the passcode that protects it is never stored,
// only the KDF parameters needed to re-derive the encryption key.
package vault

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Failure kinds surfaced by vault operations. These are terminal for the
// calling operation and must not be retried silently.
var (
	// ErrPasscodeTooShort is returned when a passcode fails the minimum
	// length policy.
	ErrPasscodeTooShort = errors.New("passcode too short")

	// ErrInvalidPasscode is returned when authenticated decryption of the
	// vault record fails. A wrong passcode and a tampered record are
	// indistinguishable by design.
	ErrInvalidPasscode = errors.New("invalid passcode")

	// ErrNoKeyBundle is returned when no vault record exists.
	ErrNoKeyBundle = errors.New("no key bundle")

	// ErrLocked is returned when an operation needing the private key is
	// attempted while the vault is locked.
	ErrLocked = errors.New("vault is locked")

	// ErrCorruptBundle is returned when a decrypted bundle does not carry
	// both key halves.
	ErrCorruptBundle = errors.New("bundle missing key material")
)

// KeyBundle is the user's durable asymmetric identity: an X25519 keypair.
// The same primitive is used for identity generation and for content-key
// wrapping, so a bundle is valid against every code path that consumes it.
type KeyBundle struct {
	PublicKey  []byte `json:"publicKey"`
	PrivateKey []byte `json:"privateKey"`
}

// Validate checks that both key halves are present and the right size.
func (b KeyBundle) Validate() error {
	if len(b.PublicKey) == 0 || len(b.PrivateKey) == 0 {
		return ErrCorruptBundle
	}
	return nil
}

// GenerateKeyBundle creates a fresh X25519 identity keypair.
func GenerateKeyBundle() (KeyBundle, error) {
	privateKey := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(privateKey); err != nil {
		return KeyBundle{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	publicKey, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("failed to derive public key: %w", err)
	}
	return KeyBundle{PublicKey: publicKey, PrivateKey: privateKey}, nil
}

// KDFParams carries what is needed to re-derive the record encryption key.
// The passcode itself is never stored.
type KDFParams struct {
	SaltB64    string `json:"saltB64"`
	Iterations int    `json:"iterations"`
}

// CipherParams carries the AEAD nonce and ciphertext for the record.
type CipherParams struct {
	IVB64         string `json:"ivB64"`
	CiphertextB64 string `json:"ciphertextB64"`
}

// EncryptedVaultRecord is the persisted form of a KeyBundle. The public key
// is stored in the clear so address-book lookups work without unlocking;
// CiphertextB64 decrypts to the full KeyBundle JSON under the
// passcode-derived key.
type EncryptedVaultRecord struct {
	Version      int          `json:"version"`
	CreatedAt    int64        `json:"createdAt"`
	PublicKeyB64 string       `json:"publicKey"`
	KDF          KDFParams    `json:"kdf"`
	Cipher       CipherParams `json:"cipher"`
}

// State of the vault lifecycle. UNLOCKED is volatile: a process restart
// always comes back LOCKED.
type State int

const (
	StateNoVault State = iota
	StateLocked
	StateUnlocked
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNoVault:
		return "NO_VAULT"
	case StateLocked:
		return "LOCKED"
	case StateUnlocked:
		return "UNLOCKED"
	}
	return "UNKNOWN"
}
