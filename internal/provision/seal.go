package provision

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/vault"
)

const (
	secretSize = 32
	sasDigits  = 6
)

// generateShare creates an ephemeral X25519 keypair for one side of the
// link exchange.
func generateShare() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate share: %w", err)
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive share public key: %w", err)
	}
	return priv, pub, nil
}

// deriveSharedKey computes the one-time seal key: X25519 between the local
// private share and the peer's public share, bound to the link secret via
// HKDF with a fixed domain-separation context. The relay sees both public
// shares and (a hash of) the secret but can never compute this key.
func deriveSharedKey(secret, localPriv, peerPub []byte) ([]byte, error) {
	dh, err := curve25519.X25519(localPriv, peerPub)
	if err != nil {
		return nil, fmt.Errorf("link ECDH: %w", err)
	}
	defer bytesutil.Zero(dh)

	r := hkdf.New(sha256.New, dh, secret, []byte(domainSeal))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("HKDF derive: %w", err)
	}
	return key, nil
}

// DeriveSAS turns the link secret into a short authentication string:
// six decimal digits the operator compares on both screens.
func DeriveSAS(secret []byte) (string, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(domainSAS))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("HKDF derive: %w", err)
	}
	n := binary.BigEndian.Uint32(buf) % 1_000_000
	return fmt.Sprintf("%0*d", sasDigits, n), nil
}

// sealBundle encrypts the identity bundle under the shared key with a
// fresh nonce. sharePub is the local (primary) public share the peer needs
// to derive the same key.
func sealBundle(sharedKey, sharePub []byte, bundle vault.KeyBundle) (*SealedBundle, error) {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}
	defer bytesutil.Zero(plaintext)

	aead, err := chacha20poly1305.NewX(sharedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	nonce, err := bytesutil.Random(aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &SealedBundle{
		CiphertextB64: bytesutil.EncodeB64(ciphertext),
		NonceB64:      bytesutil.EncodeB64(nonce),
		SharePubB64:   bytesutil.EncodeB64(sharePub),
	}, nil
}

// openBundle decrypts a sealed bundle and validates both key halves are
// present.
func openBundle(sharedKey []byte, sealed *SealedBundle) (vault.KeyBundle, error) {
	nonce, err := bytesutil.DecodeB64(sealed.NonceB64)
	if err != nil {
		return vault.KeyBundle{}, fmt.Errorf("malformed seal nonce: %w", err)
	}
	ciphertext, err := bytesutil.DecodeB64(sealed.CiphertextB64)
	if err != nil {
		return vault.KeyBundle{}, fmt.Errorf("malformed seal ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.NewX(sharedKey)
	if err != nil {
		return vault.KeyBundle{}, fmt.Errorf("failed to create AEAD: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return vault.KeyBundle{}, fmt.Errorf("seal failed to authenticate: %w", err)
	}
	defer bytesutil.Zero(plaintext)

	var bundle vault.KeyBundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return vault.KeyBundle{}, vault.ErrCorruptBundle
	}
	if err := bundle.Validate(); err != nil {
		return vault.KeyBundle{}, err
	}
	return bundle, nil
}

// hashSecret is what the relay stores instead of the secret itself.
func hashSecret(secret []byte) []byte {
	sum := sha256.Sum256(secret)
	return sum[:]
}
