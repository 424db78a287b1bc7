package relay_test

import (
	"context"
	"crypto/sha256"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emberchat/keyvault/internal/bytesutil"
	"github.com/emberchat/keyvault/internal/provision"
	"github.com/emberchat/keyvault/internal/relay"
)

func newTestRelay(t *testing.T, cfg relay.Config) (*provision.HTTPTransport, *relay.Server) {
	t.Helper()
	server := relay.NewServer(cfg)
	t.Cleanup(server.Stop)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return provision.NewHTTPTransport(ts.URL), server
}

func createLink(t *testing.T, transport *provision.HTTPTransport, linkID string) (secret []byte) {
	t.Helper()
	secret = bytesutil.MustRandom(32)
	hash := sha256.Sum256(secret)
	err := transport.CreateLink(context.Background(), provision.CreateLinkRequest{
		LinkID:        linkID,
		SecretHashB64: bytesutil.EncodeB64(hash[:]),
		SAS:           "123456",
	})
	if err != nil {
		t.Fatalf("CreateLink failed: %v", err)
	}
	return secret
}

func TestLinkLifecycleOverHTTP(t *testing.T) {
	transport, _ := newTestRelay(t, relay.DefaultConfig())
	ctx := context.Background()

	secret := createLink(t, transport, "link-1")

	status, err := transport.GetStatus(ctx, "link-1")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Status != provision.StatusPending {
		t.Fatalf("expected pending, got %s", status.Status)
	}

	// Not sealed yet: fetch reports not-ready, not an error.
	sealed, err := transport.FetchSealed(ctx, "link-1")
	if err != nil {
		t.Fatalf("FetchSealed failed: %v", err)
	}
	if sealed != nil {
		t.Fatal("expected not-ready before sealing")
	}

	share, err := transport.PostShare(ctx, "link-1", provision.ShareRequest{
		SecretB64:   bytesutil.EncodeB64(secret),
		SharePubB64: bytesutil.EncodeB64(bytesutil.MustRandom(32)),
	})
	if err != nil {
		t.Fatalf("PostShare failed: %v", err)
	}
	if share.SAS != "123456" {
		t.Errorf("expected SAS echoed back, got %q", share.SAS)
	}

	put := provision.SealedBundle{
		CiphertextB64: bytesutil.EncodeB64([]byte("ciphertext")),
		NonceB64:      bytesutil.EncodeB64(bytesutil.MustRandom(24)),
		SharePubB64:   bytesutil.EncodeB64(bytesutil.MustRandom(32)),
	}
	if err := transport.PostSealed(ctx, "link-1", put); err != nil {
		t.Fatalf("PostSealed failed: %v", err)
	}

	got, err := transport.FetchSealed(ctx, "link-1")
	if err != nil {
		t.Fatalf("FetchSealed failed: %v", err)
	}
	if got == nil || got.CiphertextB64 != put.CiphertextB64 {
		t.Fatalf("sealed bundle does not round-trip: %+v", got)
	}

	// Consumed: the link is gone.
	if _, err := transport.GetStatus(ctx, "link-1"); err == nil {
		t.Fatal("expected error fetching status of consumed link")
	}
}

func TestShareWithWrongSecret(t *testing.T) {
	transport, _ := newTestRelay(t, relay.DefaultConfig())
	ctx := context.Background()

	createLink(t, transport, "link-1")

	_, err := transport.PostShare(ctx, "link-1", provision.ShareRequest{
		SecretB64:   bytesutil.EncodeB64(bytesutil.MustRandom(32)),
		SharePubB64: bytesutil.EncodeB64(bytesutil.MustRandom(32)),
	})
	if err == nil {
		t.Fatal("expected share with wrong secret to be rejected")
	}

	// The link survives a failed attempt.
	status, err := transport.GetStatus(ctx, "link-1")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Status != provision.StatusPending {
		t.Errorf("expected link still pending, got %s", status.Status)
	}
}

func TestSecondShareRejected(t *testing.T) {
	transport, _ := newTestRelay(t, relay.DefaultConfig())
	ctx := context.Background()

	secret := createLink(t, transport, "link-1")
	req := provision.ShareRequest{
		SecretB64:   bytesutil.EncodeB64(secret),
		SharePubB64: bytesutil.EncodeB64(bytesutil.MustRandom(32)),
	}
	if _, err := transport.PostShare(ctx, "link-1", req); err != nil {
		t.Fatalf("first PostShare failed: %v", err)
	}
	if _, err := transport.PostShare(ctx, "link-1", req); err == nil {
		t.Fatal("expected second share to be rejected")
	}
}

func TestDuplicateLinkID(t *testing.T) {
	transport, _ := newTestRelay(t, relay.DefaultConfig())

	createLink(t, transport, "link-1")

	hash := sha256.Sum256([]byte("other"))
	err := transport.CreateLink(context.Background(), provision.CreateLinkRequest{
		LinkID:        "link-1",
		SecretHashB64: bytesutil.EncodeB64(hash[:]),
		SAS:           "654321",
	})
	if err == nil {
		t.Fatal("expected duplicate link ID to be rejected")
	}
}

func TestLinkExpires(t *testing.T) {
	cfg := relay.Config{
		TTL:           30 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}
	transport, _ := newTestRelay(t, cfg)
	ctx := context.Background()

	createLink(t, transport, "link-1")

	time.Sleep(60 * time.Millisecond)

	if _, err := transport.GetStatus(ctx, "link-1"); err == nil {
		t.Fatal("expected expired link to be gone")
	}
}

func TestDeleteLink(t *testing.T) {
	transport, _ := newTestRelay(t, relay.DefaultConfig())
	ctx := context.Background()

	createLink(t, transport, "link-1")
	if err := transport.DeleteLink(ctx, "link-1"); err != nil {
		t.Fatalf("DeleteLink failed: %v", err)
	}
	if _, err := transport.GetStatus(ctx, "link-1"); err == nil {
		t.Fatal("expected deleted link to be gone")
	}
	// Deleting again is fine.
	if err := transport.DeleteLink(ctx, "link-1"); err != nil {
		t.Fatalf("repeated DeleteLink failed: %v", err)
	}
}
