package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err, ok := f.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeSecretClient) Close() error { return nil }

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	return path
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/test/secrets/stripe-api-key/versions/latest"
	client.values[resource] = "remote-secret"

	fetcher, err := NewFetcher(ctx, withClient(client), WithProject("test"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://stripe-api-key")
		if err != nil || got != "remote-secret" {
			t.Fatalf("Resolve = %q, %v", got, err)
		}
	}
	if client.calls[resource] != 1 {
		t.Fatalf("expected one remote fetch, got %d", client.calls[resource])
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/hmac/versions/3"] = "v3"

	fetcher, _ := NewFetcher(ctx, withClient(client), WithProject("test"), WithFallbackFile(""))
	got, err := fetcher.ResolveSecret(ctx, "sm://hmac?version=3&project=other")
	if err != nil || got != "v3" {
		t.Fatalf("ResolveSecret = %q, %v", got, err)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errs["projects/test/secrets/stripe-api-key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	path := writeFallback(t, "STRIPE_API_KEY=local-secret\n")
	fetcher, _ := NewFetcher(ctx, withClient(client), WithProject("test"), WithFallbackFile(path))
	got, err := fetcher.Resolve(ctx, "secret://stripe-api-key")
	if err != nil || got != "local-secret" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "STRIPE_API_KEY=local-secret\n")
	fetcher, _ := NewFetcher(ctx, withClient(newFakeSecretClient()), WithProject("test"), WithFallbackFile(path))
	if _, err := fetcher.Resolve(ctx, "secret://stripe-api-key"); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "WEBHOOK_SECRET=abc\n")
	fetcher, _ := NewFetcher(ctx, WithFallbackFile(path))
	got, err := fetcher.Resolve(ctx, "secret://webhook.secret")
	if err != nil || got != "abc" {
		t.Fatalf("Resolve = %q, %v", got, err)
	}
	if _, err := fetcher.Resolve(ctx, "https://example.com"); err == nil {
		t.Fatal("expected scheme error")
	}
}
