package vault

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/emberchat/keyvault/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewManager(store, DefaultParams()), store
}

func TestCreateUnlockRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	bundle, err := GenerateKeyBundle()
	if err != nil {
		t.Fatalf("GenerateKeyBundle failed: %v", err)
	}

	record, err := m.Create("correct-horse", bundle)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if record.Version != 1 {
		t.Errorf("expected record version 1, got %d", record.Version)
	}
	if record.KDF.Iterations < MinIterations {
		t.Errorf("iterations %d below minimum", record.KDF.Iterations)
	}

	m.Lock()
	if m.State() != StateLocked {
		t.Fatalf("expected locked state after Lock, got %s", m.State())
	}

	got, err := m.Unlock("correct-horse")
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if !bytes.Equal(got.PrivateKey, bundle.PrivateKey) {
		t.Error("unlocked private key does not match original")
	}
	if !bytes.Equal(got.PublicKey, bundle.PublicKey) {
		t.Error("unlocked public key does not match original")
	}
}

func TestUnlockWrongPasscode(t *testing.T) {
	m, _ := newTestManager(t)

	bundle, _ := GenerateKeyBundle()
	if _, err := m.Create("correct-horse", bundle); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m.Lock()

	if _, err := m.Unlock("wrong-horse"); !errors.Is(err, ErrInvalidPasscode) {
		t.Fatalf("expected ErrInvalidPasscode, got %v", err)
	}
	if m.State() != StateLocked {
		t.Errorf("vault should remain locked after failed unlock, got %s", m.State())
	}
}

func TestUnlockNoVault(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Unlock("whatever-passcode"); !errors.Is(err, ErrNoKeyBundle) {
		t.Fatalf("expected ErrNoKeyBundle, got %v", err)
	}
	if m.State() != StateNoVault {
		t.Errorf("expected no-vault state, got %s", m.State())
	}
}

func TestCreateShortPasscode(t *testing.T) {
	m, _ := newTestManager(t)

	bundle, _ := GenerateKeyBundle()
	if _, err := m.Create("short", bundle); !errors.Is(err, ErrPasscodeTooShort) {
		t.Fatalf("expected ErrPasscodeTooShort, got %v", err)
	}
}

func TestTamperedCiphertext(t *testing.T) {
	m, store := newTestManager(t)

	bundle, _ := GenerateKeyBundle()
	if _, err := m.Create("correct-horse", bundle); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m.Lock()

	data, err := store.Get(storage.KeyVaultRecord)
	if err != nil {
		t.Fatalf("Get record failed: %v", err)
	}
	var record EncryptedVaultRecord
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("unmarshal record failed: %v", err)
	}
	record.Cipher.CiphertextB64 = record.Cipher.CiphertextB64[1:] + "A"
	tampered, _ := json.Marshal(record)
	if err := store.Put(storage.KeyVaultRecord, tampered); err != nil {
		t.Fatalf("Put tampered record failed: %v", err)
	}

	if _, err := m.Unlock("correct-horse"); err == nil {
		t.Fatal("expected error unlocking tampered record")
	}
}

func TestPublicKeyWithoutUnlock(t *testing.T) {
	m, _ := newTestManager(t)

	bundle, _ := GenerateKeyBundle()
	if _, err := m.Create("correct-horse", bundle); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m.Lock()

	pub, err := m.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey failed: %v", err)
	}
	if !bytes.Equal(pub, bundle.PublicKey) {
		t.Error("public key does not match")
	}
	if _, err := m.Bundle(); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked from Bundle while locked, got %v", err)
	}
}

func TestMigrateLegacy(t *testing.T) {
	m, store := newTestManager(t)

	bundle, _ := GenerateKeyBundle()
	legacyData, _ := json.Marshal(bundle)
	if err := store.Put(storage.KeyVaultLegacy, legacyData); err != nil {
		t.Fatalf("Put legacy failed: %v", err)
	}

	migrated, err := m.MigrateLegacy("correct-horse")
	if err != nil {
		t.Fatalf("MigrateLegacy failed: %v", err)
	}
	if !migrated {
		t.Fatal("expected migration to happen")
	}
	if _, err := store.Get(storage.KeyVaultLegacy); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Error("legacy record should be deleted after migration")
	}

	// Second call is a no-op.
	migrated, err = m.MigrateLegacy("correct-horse")
	if err != nil {
		t.Fatalf("second MigrateLegacy failed: %v", err)
	}
	if migrated {
		t.Error("second migration should report nothing to do")
	}

	m.Lock()
	got, err := m.Unlock("correct-horse")
	if err != nil {
		t.Fatalf("Unlock after migration failed: %v", err)
	}
	if !bytes.Equal(got.PrivateKey, bundle.PrivateKey) {
		t.Error("migrated private key does not match legacy bundle")
	}
}

func TestRotateReplacesKeypair(t *testing.T) {
	m, _ := newTestManager(t)

	original, _ := GenerateKeyBundle()
	if _, err := m.Create("correct-horse", original); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rotated, err := m.Rotate("correct-horse")
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if bytes.Equal(rotated.PublicKey, original.PublicKey) {
		t.Error("rotation should produce a new public key")
	}

	m.Lock()
	got, err := m.Unlock("correct-horse")
	if err != nil {
		t.Fatalf("Unlock after rotation failed: %v", err)
	}
	if !bytes.Equal(got.PrivateKey, rotated.PrivateKey) {
		t.Error("record should hold the rotated private key")
	}

	if _, err := m.Rotate("wrong-horse"); !errors.Is(err, ErrInvalidPasscode) {
		t.Fatalf("expected ErrInvalidPasscode rotating with wrong passcode, got %v", err)
	}
}
