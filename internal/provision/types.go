// Package provision implements QR-initiated device linking: a primary
// device seals its identity keypair to a brand-new device through a relay
// that only ever carries opaque blobs. The shared key is derived from an
// X25519 exchange between the two devices' ephemeral shares, bound to the
// link secret, so the relay can never compute it. A short authentication
// string compared by the operator on both screens gates the seal step.
package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Domain separation contexts. Distinct from the content-key wrapping
// domain to prevent cross-use of derived keys.
const (
	domainSeal = "emberchat-link-seal-v1"
	domainSAS  = "emberchat-link-sas-v1"
)

var (
	// ErrAborted is returned for any transport or derivation failure
	// during linking. Terminal for the current link: the operator must
	// restart from scratch.
	ErrAborted = errors.New("provisioning aborted")

	// ErrLinkTimeout is returned when the poll budget is exhausted before
	// the other side acted.
	ErrLinkTimeout = errors.New("link timed out")
)

// Link session statuses as reported by the relay.
const (
	StatusPending  = "pending"  // link created, waiting for the new device
	StatusShared   = "shared"   // new device posted its share
	StatusSealed   = "sealed"   // primary posted the sealed bundle
	StatusConsumed = "consumed" // sealed bundle fetched once; link is dead
)

// LinkPayload is the QR-encoded JSON handed from the primary's screen to
// the new device's camera. The secret travels only on this visual channel,
// never through the relay in the clear.
type LinkPayload struct {
	LinkID    string `json:"linkId"`
	SecretB64 string `json:"secret"`
	SAS       string `json:"sas"`
}

// Encode renders the payload as the JSON string embedded in the QR code.
func (p *LinkPayload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode link payload: %w", err)
	}
	return string(data), nil
}

// ParseLinkPayload parses and validates a scanned QR payload. All three
// fields must be present before either side proceeds.
func ParseLinkPayload(data []byte) (*LinkPayload, error) {
	var p LinkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed link payload: %w", err)
	}
	if p.LinkID == "" || p.SecretB64 == "" || p.SAS == "" {
		return nil, fmt.Errorf("link payload missing required fields")
	}
	return &p, nil
}

// CreateLinkRequest registers a link with the relay. The relay receives
// only a hash of the secret, enough to verify that a device later posting
// a share actually scanned the QR.
type CreateLinkRequest struct {
	LinkID        string `json:"linkId"`
	SecretHashB64 string `json:"secretHash"`
	SAS           string `json:"sas"`
}

// ShareRequest is the new device's enrollment: its ephemeral public share
// plus the scanned secret as proof of QR possession.
type ShareRequest struct {
	SecretB64   string `json:"secret"`
	SharePubB64 string `json:"sharePub"`
}

// ShareResponse echoes the SAS stored at link creation for the new device
// to display.
type ShareResponse struct {
	SAS string `json:"sas"`
}

// StatusResponse is the primary's poll result.
type StatusResponse struct {
	Status      string `json:"status"`
	SharePubB64 string `json:"sharePub,omitempty"`
}

// SealedBundle is the encrypted identity bundle relayed from primary to
// new device, together with the primary's ephemeral public share the new
// device needs to derive the same key.
type SealedBundle struct {
	CiphertextB64 string `json:"ciphertext"`
	NonceB64      string `json:"nonce"`
	SharePubB64   string `json:"sPub"`
}

// Transport posts and fetches opaque JSON blobs through the relay. The
// relay never computes or sees the shared key; implementations carry
// exactly these request/response shapes and nothing more.
type Transport interface {
	// CreateLink registers a new link session.
	CreateLink(ctx context.Context, req CreateLinkRequest) error

	// PostShare submits the new device's share, returning the SAS to
	// display.
	PostShare(ctx context.Context, linkID string, req ShareRequest) (*ShareResponse, error)

	// GetStatus reports the link status to the primary.
	GetStatus(ctx context.Context, linkID string) (*StatusResponse, error)

	// PostSealed relays the sealed bundle from the primary.
	PostSealed(ctx context.Context, linkID string, sealed SealedBundle) error

	// FetchSealed retrieves the sealed bundle once available. Returns
	// (nil, nil) while the primary has not sealed yet. The first
	// successful fetch consumes the link server-side.
	FetchSealed(ctx context.Context, linkID string) (*SealedBundle, error)

	// DeleteLink tears down an abandoned link session.
	DeleteLink(ctx context.Context, linkID string) error
}
