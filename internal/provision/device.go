package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/vault"
)

// DeviceState tracks the new device's side of a linking session.
type DeviceState int

const (
	DeviceIdle DeviceState = iota
	DeviceInitiated
	DeviceWaitingApproval
	DeviceLinked
	DeviceError
)

// String returns the state name.
func (s DeviceState) String() string {
	switch s {
	case DeviceIdle:
		return "IDLE"
	case DeviceInitiated:
		return "INITIATED"
	case DeviceWaitingApproval:
		return "WAITING_APPROVAL"
	case DeviceLinked:
		return "LINKED"
	case DeviceError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Device runs the linking session on the brand-new device. On success the
// recovered identity bundle is installed into the local vault under a
// passcode the operator chooses on the spot.
type Device struct {
	transport Transport
	vault     *vault.Manager
	poll      PollConfig

	mu        sync.Mutex
	state     DeviceState
	linkID    string
	secret    []byte
	sharePriv []byte
	sas       string
	lastErr   error
}

// NewDevice creates an idle new-device session.
func NewDevice(transport Transport, v *vault.Manager, poll PollConfig) *Device {
	return &Device{
		transport: transport,
		vault:     v,
		poll:      poll,
		state:     DeviceIdle,
	}
}

// State reports the current session state.
func (d *Device) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the failure that moved the session to DeviceError.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// SAS returns the short authentication string to display for comparison.
func (d *Device) SAS() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sas
}

// Initiate parses the scanned QR payload, generates the device's ephemeral
// share, and posts it to the relay together with the secret as proof the
// QR was actually scanned. The relay answers with the SAS to display. On
// success the session is INITIATED.
func (d *Device) Initiate(ctx context.Context, qrPayload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != DeviceIdle {
		return d.failLocked(fmt.Errorf("initiate from state %s", d.state))
	}

	payload, err := ParseLinkPayload(qrPayload)
	if err != nil {
		return d.failLocked(err)
	}
	secret, err := bytesutil.DecodeB64(payload.SecretB64)
	if err != nil {
		return d.failLocked(fmt.Errorf("malformed link secret: %w", err))
	}

	sharePriv, sharePub, err := generateShare()
	if err != nil {
		return d.failLocked(err)
	}

	resp, err := d.transport.PostShare(ctx, payload.LinkID, ShareRequest{
		SecretB64:   payload.SecretB64,
		SharePubB64: bytesutil.EncodeB64(sharePub),
	})
	if err != nil {
		bytesutil.Zero(sharePriv)
		return d.failLocked(fmt.Errorf("post share: %w", err))
	}

	d.linkID = payload.LinkID
	d.secret = secret
	d.sharePriv = sharePriv
	d.sas = resp.SAS
	d.state = DeviceInitiated

	log.Info().Str("link_id", d.linkID).Msg("Link share posted")
	return nil
}

// WaitAndInstall polls for the sealed bundle, opens it, validates the
// recovered bundle, and installs it into the local vault under passcode.
// Terminal LINKED on success; any open/derivation failure or an exhausted
// poll budget is terminal DeviceError.
func (d *Device) WaitAndInstall(ctx context.Context, passcode string) (vault.KeyBundle, error) {
	d.mu.Lock()
	if d.state != DeviceInitiated {
		err := d.failLocked(fmt.Errorf("wait from state %s", d.state))
		d.mu.Unlock()
		return vault.KeyBundle{}, err
	}
	d.state = DeviceWaitingApproval
	linkID := d.linkID
	secret := append([]byte(nil), d.secret...)
	sharePriv := append([]byte(nil), d.sharePriv...)
	d.mu.Unlock()
	defer bytesutil.Zero(secret)
	defer bytesutil.Zero(sharePriv)

	sealed, err := d.pollSealed(ctx, linkID)
	if err != nil {
		return vault.KeyBundle{}, d.fail(err)
	}

	primaryPub, err := bytesutil.DecodeB64(sealed.SharePubB64)
	if err != nil {
		return vault.KeyBundle{}, d.fail(fmt.Errorf("malformed primary share: %w", err))
	}
	sharedKey, err := deriveSharedKey(secret, sharePriv, primaryPub)
	if err != nil {
		return vault.KeyBundle{}, d.fail(err)
	}
	defer bytesutil.Zero(sharedKey)

	bundle, err := openBundle(sharedKey, sealed)
	if err != nil {
		return vault.KeyBundle{}, d.fail(err)
	}

	if _, err := d.vault.Create(passcode, bundle); err != nil {
		return vault.KeyBundle{}, d.fail(fmt.Errorf("install bundle: %w", err))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = DeviceLinked
	d.clearSecretsLocked()

	log.Info().Str("link_id", linkID).Msg("Device linked, identity installed")
	return bundle, nil
}

// Cancel abandons the session, zeroizing retained secrets.
func (d *Device) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == DeviceLinked || d.state == DeviceError {
		return
	}
	d.clearSecretsLocked()
	d.state = DeviceError
	d.lastErr = fmt.Errorf("%w: canceled by operator", ErrAborted)
}

// pollSealed polls until the sealed bundle is available, within the poll
// budget.
func (d *Device) pollSealed(ctx context.Context, linkID string) (*SealedBundle, error) {
	interval := d.poll.Interval
	for attempt := 0; attempt < d.poll.MaxAttempts; attempt++ {
		sealed, err := d.transport.FetchSealed(ctx, linkID)
		if err != nil {
			return nil, fmt.Errorf("poll sealed: %w", err)
		}
		if sealed != nil {
			return sealed, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		interval *= 2
		if interval > d.poll.MaxInterval {
			interval = d.poll.MaxInterval
		}
	}
	return nil, ErrLinkTimeout
}

func (d *Device) fail(err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failLocked(err)
}

func (d *Device) failLocked(err error) error {
	d.state = DeviceError
	d.lastErr = fmt.Errorf("%w: %w", ErrAborted, err)
	d.clearSecretsLocked()
	log.Warn().Err(err).Str("link_id", d.linkID).Msg("Link session failed on new device")
	return d.lastErr
}

func (d *Device) clearSecretsLocked() {
	if d.secret != nil {
		bytesutil.Zero(d.secret)
		d.secret = nil
	}
	if d.sharePriv != nil {
		bytesutil.Zero(d.sharePriv)
		d.sharePriv = nil
	}
}
