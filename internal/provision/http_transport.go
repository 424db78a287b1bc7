package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPTransport talks to the link relay's REST API.
type HTTPTransport struct {
	Base string
	HTTP *http.Client
}

// NewHTTPTransport creates a transport against the relay at base, e.g.
// "https://relay.example.com".
func NewHTTPTransport(base string) *HTTPTransport {
	return &HTTPTransport{
		Base: base,
		HTTP: http.DefaultClient,
	}
}

var _ Transport = (*HTTPTransport)(nil)

// CreateLink registers a new link session.
func (t *HTTPTransport) CreateLink(ctx context.Context, req CreateLinkRequest) error {
	return t.post(ctx, t.Base+"/v1/links", req, nil)
}

// PostShare submits the new device's share.
func (t *HTTPTransport) PostShare(ctx context.Context, linkID string, req ShareRequest) (*ShareResponse, error) {
	var resp ShareResponse
	if err := t.post(ctx, t.Base+"/v1/links/"+linkID+"/share", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStatus reports the link status.
func (t *HTTPTransport) GetStatus(ctx context.Context, linkID string) (*StatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Base+"/v1/links/"+linkID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get status: %s", resp.Status)
	}
	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostSealed relays the sealed bundle.
func (t *HTTPTransport) PostSealed(ctx context.Context, linkID string, sealed SealedBundle) error {
	return t.post(ctx, t.Base+"/v1/links/"+linkID+"/sealed", sealed, nil)
}

// FetchSealed retrieves the sealed bundle. 204 means the primary has not
// sealed yet; 200 returns the bundle and consumes the link.
func (t *HTTPTransport) FetchSealed(ctx context.Context, linkID string) (*SealedBundle, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.Base+"/v1/links/"+linkID+"/sealed", nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var out SealedBundle
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return &out, nil
	default:
		return nil, fmt.Errorf("fetch sealed: %s", resp.Status)
	}
}

// DeleteLink tears down a link session.
func (t *HTTPTransport) DeleteLink(ctx context.Context, linkID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.Base+"/v1/links/"+linkID, nil)
	if err != nil {
		return err
	}
	resp, err := t.HTTP.Do(httpReq)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete link: %s", resp.Status)
	}
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTP.Do(httpReq)
	if err != nil {
		return err
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func drain(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
