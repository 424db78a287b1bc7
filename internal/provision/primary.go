package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/vault"
)

// PrimaryState tracks the primary device's side of a linking session.
type PrimaryState int

const (
	PrimaryIdle PrimaryState = iota
	PrimaryReady
	PrimaryWaitingClient
	PrimaryApproving
	PrimarySent
	PrimaryError
)

// String returns the state name.
func (s PrimaryState) String() string {
	switch s {
	case PrimaryIdle:
		return "IDLE"
	case PrimaryReady:
		return "READY"
	case PrimaryWaitingClient:
		return "WAITING_CLIENT"
	case PrimaryApproving:
		return "APPROVING"
	case PrimarySent:
		return "SENT"
	case PrimaryError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// PollConfig bounds a polling loop: a fixed budget of attempts with a
// growing interval, so an abandoned session terminates instead of polling
// forever.
type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxAttempts int
}

// DefaultPollConfig returns the default poll budget.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:    2 * time.Second,
		MaxInterval: 10 * time.Second,
		MaxAttempts: 60,
	}
}

// Primary runs the linking session on the device that already holds the
// identity. Transitions are strictly sequential; any failure lands in
// PrimaryError, terminal for this link.
type Primary struct {
	transport Transport
	vault     *vault.Manager
	poll      PollConfig

	mu       sync.Mutex
	state    PrimaryState
	linkID   string
	secret   []byte
	sas      string
	peerPub  []byte
	lastErr  error
	canceled bool
}

// NewPrimary creates an idle primary-side session.
func NewPrimary(transport Transport, v *vault.Manager, poll PollConfig) *Primary {
	return &Primary{
		transport: transport,
		vault:     v,
		poll:      poll,
		state:     PrimaryIdle,
	}
}

// State reports the current session state.
func (p *Primary) State() PrimaryState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the failure that moved the session to PrimaryError.
func (p *Primary) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// SAS returns the short authentication string for the operator to compare.
func (p *Primary) SAS() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sas
}

// Start creates the link session: a fresh link ID, a random secret, and
// the SAS derived from it. The relay learns only a hash of the secret. On
// success the session is READY and the returned payload is QR-encoded for
// the new device to scan.
func (p *Primary) Start(ctx context.Context) (*LinkPayload, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PrimaryIdle {
		return nil, p.failLocked(fmt.Errorf("start from state %s", p.state))
	}

	secret, err := bytesutil.Random(secretSize)
	if err != nil {
		return nil, p.failLocked(err)
	}
	sas, err := DeriveSAS(secret)
	if err != nil {
		return nil, p.failLocked(err)
	}
	linkID := uuid.New().String()

	req := CreateLinkRequest{
		LinkID:        linkID,
		SecretHashB64: bytesutil.EncodeB64(hashSecret(secret)),
		SAS:           sas,
	}
	if err := p.transport.CreateLink(ctx, req); err != nil {
		return nil, p.failLocked(fmt.Errorf("create link: %w", err))
	}

	p.linkID = linkID
	p.secret = secret
	p.sas = sas
	p.state = PrimaryReady

	log.Info().Str("link_id", linkID).Msg("Link session created")
	return &LinkPayload{
		LinkID:    linkID,
		SecretB64: bytesutil.EncodeB64(secret),
		SAS:       sas,
	}, nil
}

// WaitForClient polls the relay until the new device has posted its share,
// then transitions to WAITING_CLIENT. Bounded by the poll budget and
// cancelable through ctx.
func (p *Primary) WaitForClient(ctx context.Context) error {
	p.mu.Lock()
	if p.state != PrimaryReady {
		err := p.failLocked(fmt.Errorf("wait for client from state %s", p.state))
		p.mu.Unlock()
		return err
	}
	linkID := p.linkID
	p.mu.Unlock()

	status, err := p.pollFor(ctx, linkID, StatusShared)
	if err != nil {
		return p.fail(err)
	}

	peerPub, err := bytesutil.DecodeB64(status.SharePubB64)
	if err != nil {
		return p.fail(fmt.Errorf("malformed peer share: %w", err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.canceled {
		return p.failLocked(fmt.Errorf("session canceled"))
	}
	p.peerPub = peerPub
	p.state = PrimaryWaitingClient
	log.Info().Str("link_id", linkID).Msg("New device posted its share")
	return nil
}

// Approve is called once the operator has confirmed the SAS matches on
// both screens. It derives the one-time shared key, seals the current
// identity bundle from the unlocked vault, and relays it. Terminal SENT on
// success.
func (p *Primary) Approve(ctx context.Context) error {
	p.mu.Lock()
	if p.state != PrimaryWaitingClient {
		err := p.failLocked(fmt.Errorf("approve from state %s", p.state))
		p.mu.Unlock()
		return err
	}
	p.state = PrimaryApproving
	linkID := p.linkID
	secret := append([]byte(nil), p.secret...)
	peerPub := p.peerPub
	p.mu.Unlock()
	defer bytesutil.Zero(secret)

	bundle, err := p.vault.Bundle()
	if err != nil {
		return p.fail(fmt.Errorf("read identity bundle: %w", err))
	}
	defer bytesutil.Zero(bundle.PrivateKey)

	sharePriv, sharePub, err := generateShare()
	if err != nil {
		return p.fail(err)
	}
	defer bytesutil.Zero(sharePriv)

	sharedKey, err := deriveSharedKey(secret, sharePriv, peerPub)
	if err != nil {
		return p.fail(err)
	}
	defer bytesutil.Zero(sharedKey)

	sealed, err := sealBundle(sharedKey, sharePub, bundle)
	if err != nil {
		return p.fail(err)
	}
	if err := p.transport.PostSealed(ctx, linkID, *sealed); err != nil {
		return p.fail(fmt.Errorf("post sealed bundle: %w", err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = PrimarySent
	bytesutil.Zero(p.secret)
	p.secret = nil

	log.Info().Str("link_id", linkID).Msg("Sealed bundle sent")
	return nil
}

// Cancel abandons the session: the relay-side link is deleted and the
// secret is zeroized so nothing retains it in memory.
func (p *Primary) Cancel(ctx context.Context) {
	p.mu.Lock()
	linkID := p.linkID
	terminal := p.state == PrimarySent || p.state == PrimaryError
	p.canceled = true
	if p.secret != nil {
		bytesutil.Zero(p.secret)
		p.secret = nil
	}
	if !terminal {
		p.state = PrimaryError
		p.lastErr = fmt.Errorf("%w: canceled by operator", ErrAborted)
	}
	p.mu.Unlock()

	if linkID != "" && !terminal {
		if err := p.transport.DeleteLink(ctx, linkID); err != nil {
			log.Warn().Err(err).Str("link_id", linkID).Msg("Failed to delete link on cancel")
		}
	}
}

// pollFor polls the status endpoint until the link reaches wantStatus.
func (p *Primary) pollFor(ctx context.Context, linkID, wantStatus string) (*StatusResponse, error) {
	interval := p.poll.Interval
	for attempt := 0; attempt < p.poll.MaxAttempts; attempt++ {
		status, err := p.transport.GetStatus(ctx, linkID)
		if err != nil {
			return nil, fmt.Errorf("poll status: %w", err)
		}
		if status.Status == wantStatus {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		interval *= 2
		if interval > p.poll.MaxInterval {
			interval = p.poll.MaxInterval
		}
	}
	return nil, ErrLinkTimeout
}

// fail moves the session to PrimaryError and wraps the cause.
func (p *Primary) fail(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failLocked(err)
}

func (p *Primary) failLocked(err error) error {
	p.state = PrimaryError
	p.lastErr = fmt.Errorf("%w: %w", ErrAborted, err)
	if p.secret != nil {
		bytesutil.Zero(p.secret)
		p.secret = nil
	}
	log.Warn().Err(err).Str("link_id", p.linkID).Msg("Link session failed on primary")
	return p.lastErr
}
