package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSTransport carries the same link relay contract over NATS
// request/reply, for deployments where devices already hold a broker
// connection instead of direct HTTP access to the relay.
//
// Subjects: keyvault.link.<op> with the link ID inside the request body.
type NATSTransport struct {
	conn    *nats.Conn
	timeout time.Duration
}

// NATSTransportConfig holds broker connection settings.
type NATSTransportConfig struct {
	URL             string `yaml:"url"`
	CredentialsFile string `yaml:"credentials_file"`
	RequestTimeout  int    `yaml:"request_timeout_ms"`
}

// NATSRequest is the request envelope carried on keyvault.link.* subjects.
type NATSRequest struct {
	LinkID  string          `json:"linkId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NATSReply is the reply envelope. An unset OK carries Error instead of
// Payload.
type NATSReply struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewNATSTransport connects to the broker.
func NewNATSTransport(cfg NATSTransportConfig) (*NATSTransport, error) {
	opts := []nats.Option{
		nats.Name("keyvault-link"),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	timeout := 5 * time.Second
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Millisecond
	}
	return &NATSTransport{conn: conn, timeout: timeout}, nil
}

var _ Transport = (*NATSTransport)(nil)

// CreateLink registers a new link session.
func (t *NATSTransport) CreateLink(ctx context.Context, req CreateLinkRequest) error {
	_, err := t.request(ctx, "keyvault.link.create", req.LinkID, req)
	return err
}

// PostShare submits the new device's share.
func (t *NATSTransport) PostShare(ctx context.Context, linkID string, req ShareRequest) (*ShareResponse, error) {
	payload, err := t.request(ctx, "keyvault.link.share", linkID, req)
	if err != nil {
		return nil, err
	}
	var resp ShareResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus reports the link status.
func (t *NATSTransport) GetStatus(ctx context.Context, linkID string) (*StatusResponse, error) {
	payload, err := t.request(ctx, "keyvault.link.status", linkID, nil)
	if err != nil {
		return nil, err
	}
	var resp StatusResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostSealed relays the sealed bundle.
func (t *NATSTransport) PostSealed(ctx context.Context, linkID string, sealed SealedBundle) error {
	_, err := t.request(ctx, "keyvault.link.sealed.put", linkID, sealed)
	return err
}

// FetchSealed retrieves the sealed bundle; empty payload means not ready.
func (t *NATSTransport) FetchSealed(ctx context.Context, linkID string) (*SealedBundle, error) {
	payload, err := t.request(ctx, "keyvault.link.sealed.get", linkID, nil)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, nil
	}
	var sealed SealedBundle
	if err := json.Unmarshal(payload, &sealed); err != nil {
		return nil, err
	}
	return &sealed, nil
}

// DeleteLink tears down a link session.
func (t *NATSTransport) DeleteLink(ctx context.Context, linkID string) error {
	_, err := t.request(ctx, "keyvault.link.delete", linkID, nil)
	return err
}

// Close closes the broker connection.
func (t *NATSTransport) Close() {
	t.conn.Close()
}

func (t *NATSTransport) request(ctx context.Context, subject, linkID string, body interface{}) (json.RawMessage, error) {
	req := NATSRequest{LinkID: linkID}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req.Payload = payload
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	msg, err := t.conn.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", subject, err)
	}

	var reply NATSReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("%s: malformed reply: %w", subject, err)
	}
	if !reply.OK {
		return nil, fmt.Errorf("%s: %s", subject, reply.Error)
	}
	return reply.Payload, nil
}
