package wrap

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/curve25519"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/vault"
)

var (
	// ErrLocked is returned when an unwrap is attempted while the vault is
	// not unlocked.
	ErrLocked = errors.New("vault is locked")

	// ErrUnwrapFailed is returned when a wrapped content key does not
	// authenticate under the caller's private key: wrong key, corruption,
	// or a key addressed to someone else.
	ErrUnwrapFailed = errors.New("wrapped key failed to decrypt")
)

// Recipient identifies one recipient of a content item.
type Recipient struct {
	UserID    string `json:"userId"`
	PublicKey []byte `json:"publicKey"`
}

// WrappedKeyEntry is one recipient's copy of a content key.
type WrappedKeyEntry struct {
	UserID        string `json:"userId"`
	KeyID         string `json:"keyId"`
	WrappedKeyB64 string `json:"wrappedKey"`
}

// Skip records a recipient left out of a fan-out and why, so callers can
// audit partial delivery instead of it vanishing into a log line.
type Skip struct {
	UserID string
	Reason string
}

// WrapForMany wraps contentKey under each recipient with a structurally
// valid public key. Best-effort fan-out: a bad key skips that recipient and
// never blocks delivery to the rest. Returns the successful entries and the
// skips.
func WrapForMany(contentKey []byte, recipients []Recipient) ([]WrappedKeyEntry, []Skip) {
	keyID := uuid.New().String()
	entries := make([]WrappedKeyEntry, 0, len(recipients))
	var skips []Skip

	for _, r := range recipients {
		if len(r.PublicKey) != curve25519.PointSize {
			reason := fmt.Sprintf("public key must be %d bytes, got %d", curve25519.PointSize, len(r.PublicKey))
			log.Warn().Str("user_id", r.UserID).Str("reason", reason).Msg("Skipping recipient in key fan-out")
			skips = append(skips, Skip{UserID: r.UserID, Reason: reason})
			continue
		}

		wrapped, err := sealToPublicKey(r.PublicKey, contentKey)
		if err != nil {
			log.Warn().Err(err).Str("user_id", r.UserID).Msg("Skipping recipient in key fan-out")
			skips = append(skips, Skip{UserID: r.UserID, Reason: err.Error()})
			continue
		}

		entries = append(entries, WrappedKeyEntry{
			UserID:        r.UserID,
			KeyID:         keyID,
			WrappedKeyB64: bytesutil.EncodeB64(wrapped),
		})
	}

	return entries, skips
}

// Unwrapper recovers content keys wrapped for the local user. It borrows
// the identity bundle from the vault per call and never retains a copy.
type Unwrapper struct {
	vault  *vault.Manager
	userID string
}

// NewUnwrapper binds an unwrapper to the local vault and user ID.
func NewUnwrapper(v *vault.Manager, userID string) *Unwrapper {
	return &Unwrapper{vault: v, userID: userID}
}

// UserID returns the local user ID the unwrapper matches entries against.
func (u *Unwrapper) UserID() string {
	return u.userID
}

// UnwrapForMe opens a wrapped content key with the vault's private key.
// Requires the vault to be unlocked.
func (u *Unwrapper) UnwrapForMe(wrappedKey []byte) ([]byte, error) {
	bundle, err := u.vault.Bundle()
	if errors.Is(err, vault.ErrLocked) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	defer bytesutil.Zero(bundle.PrivateKey)

	contentKey, err := openWithPrivateKey(bundle.PrivateKey, wrappedKey)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	return contentKey, nil
}
