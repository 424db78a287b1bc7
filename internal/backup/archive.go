// Package backup exports and imports the identity keypair (and, with the
// same envelope, bulk chat content) as password-protected portable
// archives. The archive password is deliberately independent of the vault
// passcode: an archive may sit on removable media with a different threat
// model than the device vault.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/vault"
)

// Archive type tags. A future format change adds a new version value; the
// existing fields never mutate.
const (
	TypeKeyBackup     = "emberchat-keybackup"
	TypeContentBackup = "emberchat-contentbackup"
	FormatVersion     = 1
)

// MinPasswordLen is the minimum accepted backup password length.
const MinPasswordLen = 6

var (
	// ErrPasswordTooShort is returned when a backup password fails the
	// minimum length policy.
	ErrPasswordTooShort = errors.New("backup password too short")

	// ErrUnsupportedFormat is returned when an archive's type/version tag
	// is not recognized. The tag is checked before any key derivation or
	// decryption is attempted.
	ErrUnsupportedFormat = errors.New("unsupported backup format")

	// ErrWrongBackupPassword is returned when archive decryption fails to
	// authenticate.
	ErrWrongBackupPassword = errors.New("wrong backup password")
)

// KDFParams carries the salt and iteration count for the archive key.
type KDFParams struct {
	SaltB64    string `json:"saltB64"`
	Iterations int    `json:"iterations"`
}

// CipherParams carries the AEAD nonce for the archive ciphertext.
type CipherParams struct {
	IVB64 string `json:"ivB64"`
}

// Archive is the self-describing, password-protected envelope. It is the
// portable cross-device interchange format and must remain stable.
type Archive struct {
	Type          string       `json:"type"`
	Version       int          `json:"version"`
	CreatedAt     int64        `json:"createdAt"`
	KDF           KDFParams    `json:"kdf"`
	Cipher        CipherParams `json:"cipher"`
	CiphertextB64 string       `json:"ciphertextB64"`
}

// Create seals a serialized KeyBundle into a key-backup archive under
// backupPassword.
func Create(bundle vault.KeyBundle, backupPassword string) (*Archive, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}
	defer bytesutil.Zero(plaintext)

	archive, err := seal(TypeKeyBackup, plaintext, backupPassword)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("Key backup archive created")
	return archive, nil
}

// Restore checks the archive tag, re-derives the key, and decrypts. Pure:
// repeated restores of the same archive and password yield the same bundle,
// and nothing is unlocked or persisted — the caller re-provisions the vault
// with the result.
func Restore(archive *Archive, backupPassword string) (vault.KeyBundle, error) {
	plaintext, err := open(archive, TypeKeyBackup, backupPassword)
	if err != nil {
		return vault.KeyBundle{}, err
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

// seal builds an archive of the given type around plaintext.
func seal(archiveType string, plaintext []byte, password string) (*Archive, error) {
	if len(password) < MinPasswordLen {
		return nil, ErrPasswordTooShort
	}

	salt, err := bytesutil.Random(saltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := deriveArchiveKey(password, salt, DefaultIterations)
	defer bytesutil.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	nonce, err := bytesutil.Random(aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(archiveType))

	return &Archive{
		Type:      archiveType,
		Version:   FormatVersion,
		CreatedAt: time.Now().Unix(),
		KDF: KDFParams{
			SaltB64:    bytesutil.EncodeB64(salt),
			Iterations: DefaultIterations,
		},
		Cipher: CipherParams{
			IVB64: bytesutil.EncodeB64(nonce),
		},
		CiphertextB64: bytesutil.EncodeB64(ciphertext),
	}, nil
}

// open validates the tag first (cheap, non-cryptographic rejection), then
// decrypts.
func open(archive *Archive, wantType string, password string) ([]byte, error) {
	if archive.Type != wantType || archive.Version != FormatVersion {
		return nil, ErrUnsupportedFormat
	}

	salt, err := bytesutil.DecodeB64(archive.KDF.SaltB64)
	if err != nil {
		return nil, fmt.Errorf("malformed archive salt: %w", err)
	}
	nonce, err := bytesutil.DecodeB64(archive.Cipher.IVB64)
	if err != nil {
		return nil, fmt.Errorf("malformed archive nonce: %w", err)
	}
	ciphertext, err := bytesutil.DecodeB64(archive.CiphertextB64)
	if err != nil {
		return nil, fmt.Errorf("malformed archive ciphertext: %w", err)
	}

	key := deriveArchiveKey(password, salt, archive.KDF.Iterations)
	defer bytesutil.Zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(archive.Type))
	if err != nil {
		return nil, ErrWrongBackupPassword
	}
	return plaintext, nil
}

// Marshal serializes the archive as the single JSON document that is the
// portable file format.
func (a *Archive) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// Unmarshal parses an archive file.
func Unmarshal(data []byte) (*Archive, error) {
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("malformed archive: %w", err)
	}
	return &a, nil
}
