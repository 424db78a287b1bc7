// Package relay implements the blind server side of device linking. The
// relay stores opaque blobs per link session: the secret hash, the two
// public shares, and the sealed bundle ciphertext. It can verify that a
// device scanned the QR, but it can never derive the seal key. Links are
// single-use and expire on a bounded TTL.
package relay

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/provision"
)

var (
	// ErrLinkNotFound covers unknown, expired, and wrong-secret lookups.
	// Collapsing those cases keeps the API from confirming link IDs.
	ErrLinkNotFound = errors.New("link not found")
	// ErrLinkConflict is returned when an operation does not match the
	// link's current status.
	ErrLinkConflict = errors.New("link conflict")
	// ErrBadRequest is returned for malformed or incomplete requests.
	ErrBadRequest = errors.New("invalid request")
)

// Config tunes link lifetime and cleanup.
type Config struct {
	// TTL bounds a link session's lifetime from creation.
	TTL time.Duration
	// SweepInterval is how often expired links are collected.
	SweepInterval time.Duration
}

// DefaultConfig returns the default link lifetime settings.
func DefaultConfig() Config {
	return Config{
		TTL:           10 * time.Minute,
		SweepInterval: time.Minute,
	}
}

type linkRecord struct {
	LinkID     string
	SecretHash []byte
	SAS        string
	SharePub   string
	Sealed     *provision.SealedBundle
	Status     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Server holds the in-memory link session table and its cleanup loop.
type Server struct {
	cfg Config

	mu    sync.Mutex
	links map[string]*linkRecord

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewServer creates a relay server and starts its expiry sweeper.
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:       cfg,
		links:     make(map[string]*linkRecord),
		stopSweep: make(chan struct{}),
	}
	go s.sweepExpired()
	return s
}

// Stop shuts down the background sweeper.
func (s *Server) Stop() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}

// CreateLink registers a new pending link session.
func (s *Server) CreateLink(req provision.CreateLinkRequest) error {
	if req.LinkID == "" || req.SecretHashB64 == "" || req.SAS == "" {
		return fmt.Errorf("%w: missing required fields", ErrBadRequest)
	}
	secretHash, err := bytesutil.DecodeB64(req.SecretHashB64)
	if err != nil {
		return fmt.Errorf("%w: malformed secret hash", ErrBadRequest)
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.links[req.LinkID]; exists {
		return fmt.Errorf("%w: link already exists", ErrLinkConflict)
	}
	s.links[req.LinkID] = &linkRecord{
		LinkID:     req.LinkID,
		SecretHash: secretHash,
		SAS:        req.SAS,
		Status:     provision.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.TTL),
	}

	log.Info().Str("link_id", req.LinkID).Msg("Link created")
	return nil
}

// PostShare records the new device's public share after verifying it holds
// the QR secret. The relay only ever stores the hash of that secret.
func (s *Server) PostShare(linkID string, req provision.ShareRequest) (*provision.ShareResponse, error) {
	secret, err := bytesutil.DecodeB64(req.SecretB64)
	if err != nil || req.SharePubB64 == "" {
		return nil, fmt.Errorf("%w: missing secret or share", ErrBadRequest)
	}
	defer bytesutil.Zero(secret)

	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.liveLink(linkID)
	if !ok {
		return nil, ErrLinkNotFound
	}
	if link.Status != provision.StatusPending {
		return nil, fmt.Errorf("%w: link already in use", ErrLinkConflict)
	}

	hash := sha256.Sum256(secret)
	if !bytesutil.ConstantTimeEqual(hash[:], link.SecretHash) {
		log.Warn().Str("link_id", linkID).Msg("Share posted with wrong link secret")
		return nil, ErrLinkNotFound
	}

	link.SharePub = req.SharePubB64
	link.Status = provision.StatusShared

	log.Info().Str("link_id", linkID).Msg("Device share recorded")
	return &provision.ShareResponse{SAS: link.SAS}, nil
}

// Status reports where the link session stands.
func (s *Server) Status(linkID string) (*provision.StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.liveLink(linkID)
	if !ok {
		return nil, ErrLinkNotFound
	}
	return &provision.StatusResponse{
		Status:      link.Status,
		SharePubB64: link.SharePub,
	}, nil
}

// PutSealed stores the sealed bundle from the primary device.
func (s *Server) PutSealed(linkID string, sealed provision.SealedBundle) error {
	if sealed.CiphertextB64 == "" || sealed.NonceB64 == "" || sealed.SharePubB64 == "" {
		return fmt.Errorf("%w: incomplete sealed bundle", ErrBadRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.liveLink(linkID)
	if !ok {
		return ErrLinkNotFound
	}
	if link.Status != provision.StatusShared {
		return fmt.Errorf("%w: link not ready for sealing", ErrLinkConflict)
	}

	link.Sealed = &sealed
	link.Status = provision.StatusSealed

	log.Info().Str("link_id", linkID).Msg("Sealed bundle stored")
	return nil
}

// FetchSealed hands out the sealed bundle exactly once. A nil bundle with
// nil error means the primary has not sealed yet. The first successful
// fetch consumes and deletes the link: a replayed request, or a second
// device, gets nothing.
func (s *Server) FetchSealed(linkID string) (*provision.SealedBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.liveLink(linkID)
	if !ok {
		return nil, ErrLinkNotFound
	}
	if link.Status != provision.StatusSealed {
		return nil, nil
	}
	sealed := link.Sealed
	delete(s.links, linkID)

	log.Info().Str("link_id", linkID).Msg("Sealed bundle consumed, link deleted")
	return sealed, nil
}

// DeleteLink tears down a link session. Deleting an unknown link is not an
// error.
func (s *Server) DeleteLink(linkID string) {
	s.mu.Lock()
	delete(s.links, linkID)
	s.mu.Unlock()

	log.Info().Str("link_id", linkID).Msg("Link deleted")
}

// liveLink returns the link unless it is missing or past its TTL. Expired
// links are dropped on access as well as by the sweeper. Caller holds the
// mutex.
func (s *Server) liveLink(linkID string) (*linkRecord, bool) {
	link, ok := s.links[linkID]
	if !ok {
		return nil, false
	}
	if time.Now().After(link.ExpiresAt) {
		delete(s.links, linkID)
		log.Info().Str("link_id", linkID).Msg("Link expired")
		return nil, false
	}
	return link, true
}

func (s *Server) sweepExpired() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.doSweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *Server) doSweep() {
	now := time.Now()
	var expired int

	s.mu.Lock()
	for id, link := range s.links {
		if now.After(link.ExpiresAt) {
			delete(s.links, id)
			expired++
		}
	}
	s.mu.Unlock()

	if expired > 0 {
		log.Info().Int("expired", expired).Msg("Swept expired links")
	}
}
