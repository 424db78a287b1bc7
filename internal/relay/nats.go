package relay

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/emberchat/keyvault/internal/provision"
)

// NATSResponder serves the link API over NATS request/reply, mirroring the
// HTTP surface for clients that reach the relay through a broker.
type NATSResponder struct {
	server *Server
	conn   *nats.Conn
	subs   []*nats.Subscription
}

// NewNATSResponder connects to the broker and subscribes to the
// keyvault.link.* subjects.
func NewNATSResponder(server *Server, url, credentialsFile string) (*NATSResponder, error) {
	opts := []nats.Option{
		nats.Name("keyvault-linkrelay"),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if credentialsFile != "" {
		opts = append(opts, nats.UserCredentials(credentialsFile))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	r := &NATSResponder{server: server, conn: conn}
	handlers := map[string]func(req provision.NATSRequest) (interface{}, error){
		"keyvault.link.create":     r.create,
		"keyvault.link.share":      r.share,
		"keyvault.link.status":     r.status,
		"keyvault.link.sealed.put": r.putSealed,
		"keyvault.link.sealed.get": r.fetchSealed,
		"keyvault.link.delete":     r.deleteLink,
	}
	for subject, handler := range handlers {
		sub, err := conn.Subscribe(subject, r.wrap(handler))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}

	log.Info().Str("url", url).Msg("Link relay serving over NATS")
	return r, nil
}

// Close drains the subscriptions and closes the connection.
func (r *NATSResponder) Close() {
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.conn.Close()
}

func (r *NATSResponder) wrap(handler func(req provision.NATSRequest) (interface{}, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var req provision.NATSRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			r.reply(msg, nil, ErrBadRequest)
			return
		}
		result, err := handler(req)
		r.reply(msg, result, err)
	}
}

func (r *NATSResponder) reply(msg *nats.Msg, result interface{}, err error) {
	reply := provision.NATSReply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	} else if result != nil {
		payload, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			reply = provision.NATSReply{OK: false, Error: "internal error"}
		} else {
			reply.Payload = payload
		}
	}
	data, marshalErr := json.Marshal(reply)
	if marshalErr != nil {
		log.Error().Err(marshalErr).Msg("Failed to encode NATS reply")
		return
	}
	if respondErr := msg.Respond(data); respondErr != nil {
		log.Error().Err(respondErr).Msg("Failed to send NATS reply")
	}
}

func (r *NATSResponder) create(req provision.NATSRequest) (interface{}, error) {
	var create provision.CreateLinkRequest
	if err := json.Unmarshal(req.Payload, &create); err != nil {
		return nil, ErrBadRequest
	}
	return nil, r.server.CreateLink(create)
}

func (r *NATSResponder) share(req provision.NATSRequest) (interface{}, error) {
	var shareReq provision.ShareRequest
	if err := json.Unmarshal(req.Payload, &shareReq); err != nil {
		return nil, ErrBadRequest
	}
	return r.server.PostShare(req.LinkID, shareReq)
}

func (r *NATSResponder) status(req provision.NATSRequest) (interface{}, error) {
	return r.server.Status(req.LinkID)
}

func (r *NATSResponder) putSealed(req provision.NATSRequest) (interface{}, error) {
	var sealed provision.SealedBundle
	if err := json.Unmarshal(req.Payload, &sealed); err != nil {
		return nil, ErrBadRequest
	}
	return nil, r.server.PutSealed(req.LinkID, sealed)
}

func (r *NATSResponder) fetchSealed(req provision.NATSRequest) (interface{}, error) {
	sealed, err := r.server.FetchSealed(req.LinkID)
	if err != nil {
		return nil, err
	}
	if sealed == nil {
		// Empty payload signals not-ready to the client.
		return nil, nil
	}
	return sealed, nil
}

func (r *NATSResponder) deleteLink(req provision.NATSRequest) (interface{}, error) {
	r.server.DeleteLink(req.LinkID)
	return nil, nil
}
