package backup

import (
	"bytes"
	"errors"
	"testing"

	"github.com/emberchat/keyvault/internal/vault"
)

func TestArchiveRoundTrip(t *testing.T) {
	bundle, err := vault.GenerateKeyBundle()
	if err != nil {
		t.Fatalf("GenerateKeyBundle failed: %v", err)
	}

	archive, err := Create(bundle, "archive-password")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if archive.Type != TypeKeyBackup {
		t.Errorf("expected type %q, got %q", TypeKeyBackup, archive.Type)
	}
	if archive.Version != FormatVersion {
		t.Errorf("expected version %d, got %d", FormatVersion, archive.Version)
	}

	// Through the wire format and back.
	data, err := archive.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	parsed, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	got, err := Restore(parsed, "archive-password")
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !bytes.Equal(got.PrivateKey, bundle.PrivateKey) {
		t.Error("restored private key does not match")
	}
	if !bytes.Equal(got.PublicKey, bundle.PublicKey) {
		t.Error("restored public key does not match")
	}
}

func TestRestoreIsRepeatable(t *testing.T) {
	bundle, _ := vault.GenerateKeyBundle()
	archive, err := Create(bundle, "archive-password")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, err := Restore(archive, "archive-password")
	if err != nil {
		t.Fatalf("first Restore failed: %v", err)
	}
	second, err := Restore(archive, "archive-password")
	if err != nil {
		t.Fatalf("second Restore failed: %v", err)
	}
	if !bytes.Equal(first.PrivateKey, second.PrivateKey) {
		t.Error("repeated restores should yield identical bundles")
	}
}

func TestRestoreWrongPassword(t *testing.T) {
	bundle, _ := vault.GenerateKeyBundle()
	archive, err := Create(bundle, "archive-password")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := Restore(archive, "not-the-password"); !errors.Is(err, ErrWrongBackupPassword) {
		t.Fatalf("expected ErrWrongBackupPassword, got %v", err)
	}
}

func TestRestoreChecksFormatBeforeDecrypting(t *testing.T) {
	bundle, _ := vault.GenerateKeyBundle()
	archive, err := Create(bundle, "archive-password")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	unknown := *archive
	unknown.Type = "some-other-format"
	// Wrong password too: the format error must win, proving the tag is
	// checked before any decryption attempt.
	if _, err := Restore(&unknown, "not-the-password"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}

	future := *archive
	future.Version = 99
	if _, err := Restore(&future, "archive-password"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat for unknown version, got %v", err)
	}
}

func TestCreateShortPassword(t *testing.T) {
	bundle, _ := vault.GenerateKeyBundle()
	if _, err := Create(bundle, "short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
}

func TestContentArchiveRoundTrip(t *testing.T) {
	items := []ContentItem{
		{ItemID: "m1", RoomID: "room-a", SenderID: "alice", SentAt: 1700000000, Body: []byte("hello")},
		{ItemID: "m2", RoomID: "room-a", SenderID: "bob", SentAt: 1700000060, MediaType: "image/png", Body: []byte{0x89, 0x50, 0x4e, 0x47}},
	}

	archive, err := CreateContent(items, "archive-password")
	if err != nil {
		t.Fatalf("CreateContent failed: %v", err)
	}
	if archive.Type != TypeContentBackup {
		t.Errorf("expected type %q, got %q", TypeContentBackup, archive.Type)
	}

	got, err := RestoreContent(archive, "archive-password")
	if err != nil {
		t.Fatalf("RestoreContent failed: %v", err)
	}
	if len(got) != len(items) {
		t.Fatalf("expected %d items, got %d", len(items), len(got))
	}
	for i := range items {
		if got[i].ItemID != items[i].ItemID || !bytes.Equal(got[i].Body, items[i].Body) {
			t.Errorf("item %d does not round-trip: %+v", i, got[i])
		}
	}

	// The two archive types do not open each other.
	if _, err := Restore(archive, "archive-password"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("key restore of a content archive should fail with ErrUnsupportedFormat, got %v", err)
	}
}
