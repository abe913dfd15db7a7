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

func TestResolveCachesRemoteSecret(t *testing.T) {
	client := newFakeSecretClient()
	client.values["projects/test/secrets/stripe_api/versions/latest"] = "sk_test_remote"

	resolver := NewResolver(context.Background(), "test", nil, withAccessor(client), WithFallbackFile(""))
	defer resolver.Close()

	for i := 0; i < 2; i++ {
		got, err := resolver.ResolveSecret(context.Background(), "secret://stripe/api")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got != "sk_test_remote" {
			t.Fatalf("expected remote secret, got %s", got)
		}
	}
	if calls := client.calls["projects/test/secrets/stripe_api/versions/latest"]; calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	client := newFakeSecretClient()
	client.values["projects/other/secrets/orders_dsn/versions/3"] = "postgres://pinned"

	resolver := NewResolver(context.Background(), "test", nil, withAccessor(client), WithFallbackFile(""))
	got, err := resolver.ResolveSecret(context.Background(), "secret://orders/dsn?version=3&project=other")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "postgres://pinned" {
		t.Fatalf("unexpected value %s", got)
	}
}

func TestResolveFallsBackToLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte("stripe_api=sk_test_local\n"), 0o600); err != nil {
		t.Fatalf("write fallback: %v", err)
	}
	client := newFakeSecretClient()
	client.err = status.Error(codes.PermissionDenied, "no access")

	resolver := NewResolver(context.Background(), "test", nil, withAccessor(client), WithFallbackFile(path))
	got, err := resolver.ResolveSecret(context.Background(), "secret://stripe/api")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "sk_test_local" {
		t.Fatalf("expected fallback value, got %s", got)
	}
}

func TestResolveSurfacesRemoteFailure(t *testing.T) {
	client := newFakeSecretClient()
	client.err = status.Error(codes.InvalidArgument, "bad name")

	resolver := NewResolver(context.Background(), "test", nil, withAccessor(client), WithFallbackFile(""))
	if _, err := resolver.ResolveSecret(context.Background(), "secret://stripe/api"); err == nil {
		t.Fatal("expected error for non-fallback failure")
	}
	if _, err := resolver.ResolveSecret(context.Background(), "https://example.com/secret"); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	calls  map[string]int
	err    error
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{values: map[string]string{}, calls: map[string]int{}}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretClient) Close() error { return nil }
