package backup

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"github.com/emberchat/keyvault/internal/bytesutil"
)

// ContentItem is one decrypted chat item included in a bulk content
// export. The payload inside the archive is CBOR rather than JSON: content
// bodies are binary-safe and a large export should stay compact.
type ContentItem struct {
	ItemID    string `cbor:"1,keyasint"`
	RoomID    string `cbor:"2,keyasint"`
	SenderID  string `cbor:"3,keyasint"`
	SentAt    int64  `cbor:"4,keyasint"`
	MediaType string `cbor:"5,keyasint,omitempty"`
	Body      []byte `cbor:"6,keyasint"`
}

type contentPayload struct {
	ExportedAt int64         `cbor:"1,keyasint"`
	Items      []ContentItem `cbor:"2,keyasint"`
}

// CreateContent seals a bulk chat-content export into an archive under
// backupPassword, using the same envelope as the key backup with its own
// type tag.
func CreateContent(items []ContentItem, backupPassword string) (*Archive, error) {
	payload := contentPayload{
		ExportedAt: time.Now().Unix(),
		Items:      items,
	}
	plaintext, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content payload: %w", err)
	}
	defer bytesutil.Zero(plaintext)

	archive, err := seal(TypeContentBackup, plaintext, backupPassword)
	if err != nil {
		return nil, err
	}

	log.Info().Int("items", len(items)).Msg("Content backup archive created")
	return archive, nil
}

// RestoreContent opens a content archive and returns the exported items.
func RestoreContent(archive *Archive, backupPassword string) ([]ContentItem, error) {
	plaintext, err := open(archive, TypeContentBackup, backupPassword)
	if err != nil {
		return nil, err
	}
	defer bytesutil.Zero(plaintext)

	var payload contentPayload
	if err := cbor.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("malformed content payload: %w", err)
	}
	return payload.Items, nil
}
