// Package wrap distributes ephemeral symmetric content keys to recipients by
// sealing them under each recipient's identity public key. The scheme is an
// X25519 sealed box: ephemeral ECDH, HKDF with a fixed domain-separation
// context, XChaCha20-Poly1305. Wire layout:
//
//	ephemeral_pubkey (32) || nonce (24) || ciphertext+tag
package wrap

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/emberchat/keyvault/internal/bytesutil"
)

// Domain separation constant for content-key wrapping. Distinct from the
// device-linking domain to prevent cross-use of derived keys.
const domainWrap = "emberchat-wrap-v1"

// ContentKeySize is the size of an ephemeral symmetric content key.
const ContentKeySize = 32

// NewContentKey generates a fresh random content key. Content keys are
// never persisted standalone: wrap them, then discard.
func NewContentKey() ([]byte, error) {
	return bytesutil.Random(ContentKeySize)
}

// sealToPublicKey seals plaintext to a recipient X25519 public key.
func sealToPublicKey(recipientPub, plaintext []byte) ([]byte, error) {
	if len(recipientPub) != curve25519.PointSize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", curve25519.PointSize, len(recipientPub))
	}

	ephPriv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	defer bytesutil.Zero(ephPriv)

	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive ephemeral public key: %w", err)
	}

	sharedSecret, err := curve25519.X25519(ephPriv, recipientPub)
	if err != nil {
		return nil, fmt.Errorf("ECDH key exchange: %w", err)
	}
	defer bytesutil.Zero(sharedSecret)

	encKey, err := deriveWrapKey(sharedSecret)
	if err != nil {
		return nil, err
	}
	defer bytesutil.Zero(encKey)

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce, err := bytesutil.Random(aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(ephPub)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// openWithPrivateKey opens a sealed box with the recipient's private key.
func openWithPrivateKey(privateKey, data []byte) ([]byte, error) {
	minSize := curve25519.PointSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(data) < minSize {
		return nil, fmt.Errorf("sealed data too short: need at least %d bytes, got %d", minSize, len(data))
	}

	ephPub := data[:curve25519.PointSize]
	nonce := data[curve25519.PointSize : curve25519.PointSize+chacha20poly1305.NonceSizeX]
	ciphertext := data[curve25519.PointSize+chacha20poly1305.NonceSizeX:]

	sharedSecret, err := curve25519.X25519(privateKey, ephPub)
	if err != nil {
		return nil, fmt.Errorf("ECDH key exchange: %w", err)
	}
	defer bytesutil.Zero(sharedSecret)

	encKey, err := deriveWrapKey(sharedSecret)
	if err != nil {
		return nil, err
	}
	defer bytesutil.Zero(encKey)

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("sealed box open: %w", err)
	}
	return plaintext, nil
}

func deriveWrapKey(sharedSecret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, sharedSecret, []byte(domainWrap), nil)
	encKey := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, encKey); err != nil {
		return nil, fmt.Errorf("HKDF derive: %w", err)
	}
	return encKey, nil
}
