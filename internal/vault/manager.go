package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/storage"
)

const recordVersion = 1

// Manager serializes all access to the vault record and the cached derived
// key. Unlock state lives only in process memory: Lock (or process exit)
// discards it, and two racing unlocks cannot interleave because every
// operation holds the mutex for its full duration.
type Manager struct {
	store  storage.Store
	params Params

	mu         sync.Mutex
	derivedKey []byte
	bundle     *KeyBundle
}

// NewManager creates a vault manager on top of the given store.
func NewManager(store storage.Store, params Params) *Manager {
	return &Manager{store: store, params: params}
}

// Create derives a key from passcode and a fresh salt, encrypts the bundle
// under it, and persists the record. Any previous record is replaced
// wholesale. The vault is left unlocked with the derived key cached.
func (m *Manager) Create(passcode string, bundle KeyBundle) (*EncryptedVaultRecord, error) {
	if len(passcode) < MinPasscodeLen {
		return nil, ErrPasscodeTooShort
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	salt, err := bytesutil.Random(saltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	iterations := m.params.iterations()
	key := deriveKey(passcode, salt, iterations)

	plaintext, err := json.Marshal(bundle)
	if err != nil {
		bytesutil.Zero(key)
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		bytesutil.Zero(key)
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	nonce, err := bytesutil.Random(aead.NonceSize())
	if err != nil {
		bytesutil.Zero(key)
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	bytesutil.Zero(plaintext)

	record := &EncryptedVaultRecord{
		Version:      recordVersion,
		CreatedAt:    time.Now().Unix(),
		PublicKeyB64: bytesutil.EncodeB64(bundle.PublicKey),
		KDF: KDFParams{
			SaltB64:    bytesutil.EncodeB64(salt),
			Iterations: iterations,
		},
		Cipher: CipherParams{
			IVB64:         bytesutil.EncodeB64(nonce),
			CiphertextB64: bytesutil.EncodeB64(ciphertext),
		},
	}

	recordData, err := json.Marshal(record)
	if err != nil {
		bytesutil.Zero(key)
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := m.store.Put(storage.KeyVaultRecord, recordData); err != nil {
		bytesutil.Zero(key)
		return nil, fmt.Errorf("failed to persist record: %w", err)
	}

	// Cache unlocked state.
	m.setUnlocked(key, bundle)

	log.Info().Int("iterations", iterations).Msg("Vault record created")
	return record, nil
}

// Unlock re-derives the key from the stored salt and iteration count and
// attempts authenticated decryption. Wrong passcode and tampered ciphertext
// are indistinguishable: both surface as ErrInvalidPasscode.
func (m *Manager) Unlock(passcode string) (KeyBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.loadRecord()
	if err != nil {
		return KeyBundle{}, err
	}

	salt, err := bytesutil.DecodeB64(record.KDF.SaltB64)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("malformed record salt: %w", err)
	}
	nonce, err := bytesutil.DecodeB64(record.Cipher.IVB64)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("malformed record nonce: %w", err)
	}
	ciphertext, err := bytesutil.DecodeB64(record.Cipher.CiphertextB64)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("malformed record ciphertext: %w", err)
	}

	key := deriveKey(passcode, salt, record.KDF.Iterations)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		bytesutil.Zero(key)
		return KeyBundle{}, fmt.Errorf("failed to create AEAD: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		bytesutil.Zero(key)
		log.Warn().Msg("Vault unlock failed authentication")
		return KeyBundle{}, ErrInvalidPasscode
	}

	var bundle KeyBundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		bytesutil.Zero(key)
		bytesutil.Zero(plaintext)
		return KeyBundle{}, ErrCorruptBundle
	}
	bytesutil.Zero(plaintext)
	if err := bundle.Validate(); err != nil {
		bytesutil.Zero(key)
		return KeyBundle{}, err
	}

	m.setUnlocked(key, bundle)
	log.Debug().Msg("Vault unlocked")
	return bundle, nil
}

// Lock discards the cached derived key and bundle copy, zeroizing both.
// Subsequent private-key operations must unlock again.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearUnlocked()
	log.Debug().Msg("Vault locked")
}

// PublicKey reads the plaintext public key from the record without touching
// the cipher. Returns ErrNoKeyBundle when no record exists.
func (m *Manager) PublicKey() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.loadRecord()
	if err != nil {
		return nil, err
	}
	publicKey, err := bytesutil.DecodeB64(record.PublicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("malformed record public key: %w", err)
	}
	return publicKey, nil
}

// Bundle returns a copy of the identity bundle while the vault is unlocked.
// Callers borrow the copy; they must not persist it.
func (m *Manager) Bundle() (KeyBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bundle == nil {
		return KeyBundle{}, ErrLocked
	}
	return copyBundle(*m.bundle), nil
}

// State reports the vault lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bundle != nil {
		return StateUnlocked
	}
	if _, err := m.store.Get(storage.KeyVaultRecord); err == nil {
		return StateLocked
	}
	return StateNoVault
}

// MigrateLegacy wraps a legacy plaintext bundle, if one exists, into an
// encrypted record under passcode and deletes the legacy copy. Idempotent:
// safe to call on every startup; reports whether a migration happened.
func (m *Manager) MigrateLegacy(passcode string) (bool, error) {
	m.mu.Lock()
	legacyData, err := m.store.Get(storage.KeyVaultLegacy)
	m.mu.Unlock()
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read legacy record: %w", err)
	}

	var bundle KeyBundle
	if err := json.Unmarshal(legacyData, &bundle); err != nil {
		return false, fmt.Errorf("malformed legacy record: %w", err)
	}
	if err := bundle.Validate(); err != nil {
		return false, err
	}

	if _, err := m.Create(passcode, bundle); err != nil {
		return false, err
	}
	if err := m.store.Delete(storage.KeyVaultLegacy); err != nil {
		return false, fmt.Errorf("failed to delete legacy record: %w", err)
	}

	log.Info().Msg("Legacy key bundle migrated to encrypted vault")
	return true, nil
}

// Rotate generates a fresh identity keypair and replaces the record
// wholesale under the same passcode. The old keypair is gone once this
// returns; content wrapped for the old public key becomes unreadable.
func (m *Manager) Rotate(passcode string) (KeyBundle, error) {
	// Verify the passcode against the current record first.
	if _, err := m.Unlock(passcode); err != nil {
		return KeyBundle{}, err
	}

	bundle, err := GenerateKeyBundle()
	if err != nil {
		return KeyBundle{}, err
	}
	if _, err := m.Create(passcode, bundle); err != nil {
		return KeyBundle{}, err
	}

	log.Info().Msg("Identity keypair rotated")
	return bundle, nil
}

func (m *Manager) loadRecord() (*EncryptedVaultRecord, error) {
	data, err := m.store.Get(storage.KeyVaultRecord)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, ErrNoKeyBundle
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	var record EncryptedVaultRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("malformed vault record: %w", err)
	}
	return &record, nil
}

// setUnlocked replaces cached unlock state. Caller must hold the mutex.
func (m *Manager) setUnlocked(key []byte, bundle KeyBundle) {
	m.clearUnlocked()
	m.derivedKey = key
	copied := copyBundle(bundle)
	m.bundle = &copied
}

// clearUnlocked zeroizes and drops cached state. Caller must hold the mutex.
func (m *Manager) clearUnlocked() {
	if m.derivedKey != nil {
		bytesutil.Zero(m.derivedKey)
		m.derivedKey = nil
	}
	if m.bundle != nil {
		bytesutil.Zero(m.bundle.PrivateKey)
		bytesutil.Zero(m.bundle.PublicKey)
		m.bundle = nil
	}
}

func copyBundle(b KeyBundle) KeyBundle {
	out := KeyBundle{
		PublicKey:  make([]byte, len(b.PublicKey)),
		PrivateKey: make([]byte, len(b.PrivateKey)),
	}
	copy(out.PublicKey, b.PublicKey)
	copy(out.PrivateKey, b.PrivateKey)
	return out
}
