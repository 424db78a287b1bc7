package wrap

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/emberchat/keyvault/internal/bytesutil"
)

// Placeholder is the marker substituted for an item that could not be
// decrypted. Partial failure never blocks the rest of a conversation from
// rendering.
const Placeholder = "[unable to decrypt]"

// FetchedItem is one encrypted content item as it arrives from the
// application layer: payload ciphertext plus the per-recipient wrapped keys
// and the sender's public key.
type FetchedItem struct {
	ItemID             string            `json:"itemId"`
	SenderID           string            `json:"senderId"`
	SenderPublicKeyB64 string            `json:"senderPublicKey"`
	WrappedKeys        []WrappedKeyEntry `json:"wrappedKeys"`
	PayloadB64         string            `json:"payload"`
}

// DecryptedItem is the batch output for one item. A failed item carries the
// Placeholder marker as plaintext and the reason for auditing.
type DecryptedItem struct {
	ItemID    string
	SenderID  string
	Plaintext []byte
	Failed    bool
	Reason    string
}

// EncryptPayload encrypts a content payload under a content key. Wire
// layout: nonce (24) || ciphertext+tag.
func EncryptPayload(contentKey, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce, err := bytesutil.Random(aead.NonceSize())
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// DecryptPayload opens a payload produced by EncryptPayload.
func DecryptPayload(contentKey, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(contentKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("payload too short")
	}
	nonce := data[:aead.NonceSize()]
	ciphertext := data[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// DecryptFetchedMessages decrypts a batch of heterogeneous items. Every
// input yields exactly one output; any single-item failure (missing key
// material, unwrap failure, cipher failure) degrades that item to the
// Placeholder marker rather than aborting the batch.
func (u *Unwrapper) DecryptFetchedMessages(items []FetchedItem) []DecryptedItem {
	results := make([]DecryptedItem, 0, len(items))
	for _, item := range items {
		results = append(results, u.decryptItem(item))
	}
	return results
}

func (u *Unwrapper) decryptItem(item FetchedItem) DecryptedItem {
	fail := func(reason string) DecryptedItem {
		log.Debug().Str("item_id", item.ItemID).Str("reason", reason).Msg("Item degraded to placeholder")
		return DecryptedItem{
			ItemID:    item.ItemID,
			SenderID:  item.SenderID,
			Plaintext: []byte(Placeholder),
			Failed:    true,
			Reason:    reason,
		}
	}

	if item.SenderPublicKeyB64 == "" {
		return fail("missing sender public key")
	}
	if _, err := bytesutil.DecodeB64(item.SenderPublicKeyB64); err != nil {
		return fail("malformed sender public key")
	}

	var mine *WrappedKeyEntry
	for i := range item.WrappedKeys {
		if item.WrappedKeys[i].UserID == u.userID {
			mine = &item.WrappedKeys[i]
			break
		}
	}
	if mine == nil {
		return fail("no wrapped key for this user")
	}

	wrapped, err := bytesutil.DecodeB64(mine.WrappedKeyB64)
	if err != nil {
		return fail("malformed wrapped key")
	}

	contentKey, err := u.UnwrapForMe(wrapped)
	if err != nil {
		return fail(err.Error())
	}
	defer bytesutil.Zero(contentKey)

	payload, err := bytesutil.DecodeB64(item.PayloadB64)
	if err != nil {
		return fail("malformed payload")
	}

	plaintext, err := DecryptPayload(contentKey, payload)
	if err != nil {
		return fail("payload failed to decrypt")
	}

	return DecryptedItem{
		ItemID:    item.ItemID,
		SenderID:  item.SenderID,
		Plaintext: plaintext,
	}
}
