package provision

import (
	"bytes"
	"testing"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/vault"
)

func TestDeriveSAS(t *testing.T) {
	secret := bytesutil.MustRandom(32)

	sas, err := DeriveSAS(secret)
	if err != nil {
		t.Fatalf("DeriveSAS failed: %v", err)
	}
	if len(sas) != 6 {
		t.Fatalf("expected 6 digits, got %q", sas)
	}
	for _, c := range sas {
		if c < '0' || c > '9' {
			t.Fatalf("non-digit in SAS %q", sas)
		}
	}

	again, _ := DeriveSAS(secret)
	if sas != again {
		t.Error("SAS must be deterministic for a given secret")
	}

	other, _ := DeriveSAS(bytesutil.MustRandom(32))
	if sas == other {
		t.Error("different secrets should yield different SAS (overwhelmingly)")
	}
}

func TestSharedKeyAgreement(t *testing.T) {
	secret := bytesutil.MustRandom(32)

	alicePriv, alicePub, err := generateShare()
	if err != nil {
		t.Fatalf("generateShare failed: %v", err)
	}
	bobPriv, bobPub, err := generateShare()
	if err != nil {
		t.Fatalf("generateShare failed: %v", err)
	}

	aliceKey, err := deriveSharedKey(secret, alicePriv, bobPub)
	if err != nil {
		t.Fatalf("deriveSharedKey failed: %v", err)
	}
	bobKey, err := deriveSharedKey(secret, bobPriv, alicePub)
	if err != nil {
		t.Fatalf("deriveSharedKey failed: %v", err)
	}
	if !bytes.Equal(aliceKey, bobKey) {
		t.Fatal("both sides must derive the same key")
	}

	// A different link secret changes the key even with the same shares.
	otherKey, err := deriveSharedKey(bytesutil.MustRandom(32), alicePriv, bobPub)
	if err != nil {
		t.Fatalf("deriveSharedKey failed: %v", err)
	}
	if bytes.Equal(aliceKey, otherKey) {
		t.Error("secret must bind the derived key")
	}
}

func TestSealOpenBundle(t *testing.T) {
	bundle, err := vault.GenerateKeyBundle()
	if err != nil {
		t.Fatalf("GenerateKeyBundle failed: %v", err)
	}
	sharedKey := bytesutil.MustRandom(32)
	_, sharePub, _ := generateShare()

	sealed, err := sealBundle(sharedKey, sharePub, bundle)
	if err != nil {
		t.Fatalf("sealBundle failed: %v", err)
	}
	got, err := openBundle(sharedKey, sealed)
	if err != nil {
		t.Fatalf("openBundle failed: %v", err)
	}
	if !bytes.Equal(got.PrivateKey, bundle.PrivateKey) {
		t.Error("opened bundle does not match")
	}

	if _, err := openBundle(bytesutil.MustRandom(32), sealed); err == nil {
		t.Error("wrong key should fail to open")
	}
}
