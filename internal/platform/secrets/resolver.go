// Package secrets resolves secret:// references from Google Secret Manager with a local fallback
// file for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
)

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver implements config.SecretResolver.
type Resolver struct {
	client    accessor
	projectID string
	logger    *zap.Logger
	cacheTTL  time.Duration
	now       func() time.Time

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	value   string
	expires time.Time
}

// Option customises the Resolver.
type Option func(*Resolver)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFallbackFile sets the KEY=value file consulted when Secret Manager is unavailable. Keys are
// secret names, e.g. stripe_api for secret://stripe/api.
func WithFallbackFile(path string) Option {
	return func(r *Resolver) { r.fallbackPath = path }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

func withAccessor(client accessor) Option {
	return func(r *Resolver) { r.client = client }
}

// NewResolver builds a resolver for projectID. A Secret Manager client that cannot be created
// leaves the resolver in fallback-only mode.
func NewResolver(ctx context.Context, projectID string, clientOpts []option.ClientOption, opts ...Option) *Resolver {
	r := &Resolver{
		projectID:    strings.TrimSpace(projectID),
		logger:       zap.NewNop(),
		cacheTTL:     defaultCacheTTL,
		now:          time.Now,
		fallbackPath: defaultFallbackPath,
		cache:        make(map[string]cached),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil && r.projectID != "" {
		client, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			r.logger.Warn("secrets: secret manager unavailable, using fallback file", zap.Error(err))
		} else {
			r.client = client
		}
	}
	return r
}

// Close releases the Secret Manager client.
func (r *Resolver) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// ResolveSecret returns the value for ref. The reference form is
// secret://<name>[?version=<v>&project=<p>]; path separators in name become underscores.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || u.Scheme != "secret" {
		return "", fmt.Errorf("secrets: invalid reference %q", ref)
	}
	name := strings.ReplaceAll(strings.Trim(u.Host+u.Path, "/"), "/", "_")
	if name == "" {
		return "", fmt.Errorf("secrets: missing secret name in %q", ref)
	}
	version := u.Query().Get("version")
	if version == "" {
		version = "latest"
	}
	project := u.Query().Get("project")
	if project == "" {
		project = r.projectID
	}
	canonical := "secret://" + strings.Trim(u.Host+u.Path, "/")

	key := canonical + "#" + version
	if value, ok := r.lookup(key); ok {
		return value, nil
	}

	if r.client != nil && project != "" {
		resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
		resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource},
			gax.WithRetry(func() gax.Retryer {
				return gax.OnCodes([]codes.Code{codes.Unavailable, codes.DeadlineExceeded}, gax.Backoff{
					Initial:    100 * time.Millisecond,
					Max:        2 * time.Second,
					Multiplier: 2,
				})
			}))
		switch {
		case err == nil:
			value := string(resp.GetPayload().GetData())
			r.store(key, value)
			return value, nil
		case !fallbackAllowed(err):
			return "", fmt.Errorf("secrets: access %s: %w", canonical, err)
		}
		r.logger.Debug("secrets: falling back to local file", zap.String("ref", canonical), zap.Error(err))
	}

	r.fallbackOnce.Do(r.loadFallback)
	if value, ok := r.fallback[name]; ok {
		r.store(key, value)
		return value, nil
	}
	return "", fmt.Errorf("secrets: %s not found", canonical)
}

func (r *Resolver) lookup(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok || r.now().After(entry.expires) {
		return "", false
	}
	return entry.value, true
}

func (r *Resolver) store(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cached{value: value, expires: r.now().Add(r.cacheTTL)}
}

func (r *Resolver) loadFallback() {
	if r.fallbackPath == "" {
		return
	}
	values, err := godotenv.Read(r.fallbackPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("secrets: unable to read fallback file", zap.String("path", r.fallbackPath), zap.Error(err))
		}
		return
	}
	r.fallback = values
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable:
		return true
	}
	return false
}
