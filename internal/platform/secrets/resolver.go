// Package secrets resolves secret:// configuration references through Google Secret Manager.
package secrets

import (
	"bufio"
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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	meterName       = "github.com/ilakkiyam/api/internal/platform/secrets"
	defaultCacheTTL = 10 * time.Minute
	accessTimeout   = 5 * time.Second
)

// ErrNotFound is returned when neither Secret Manager nor the local file holds the secret.
var ErrNotFound = errors.New("secrets: secret not found")

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Reference is a parsed secret://NAME[?version=V&project=P] reference.
type Reference struct {
	Name    string
	Version string
	Project string
}

// ParseReference accepts secret:// and sm:// references.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "sm://") {
		raw = "secret://" + strings.TrimPrefix(raw, "sm://")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q", raw)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		return Reference{}, fmt.Errorf("secrets: invalid secret name in %q", raw)
	}
	ref := Reference{
		Name:    name,
		Version: strings.TrimSpace(u.Query().Get("version")),
		Project: strings.TrimSpace(u.Query().Get("project")),
	}
	if ref.Version == "" {
		ref.Version = "latest"
	}
	return ref, nil
}

func (r Reference) resource(defaultProject string) string {
	project := r.Project
	if project == "" {
		project = defaultProject
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.Name, r.Version)
}

type cached struct {
	value   string
	expires time.Time
}

// Resolver fetches secret values and caches them for a bounded time.
type Resolver struct {
	client     accessor
	ownsClient bool
	project    string
	ttl        time.Duration
	localFile  string
	logger     *zap.Logger
	now        func() time.Time
	clientOpts []option.ClientOption

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cached

	localOnce sync.Once
	local     map[string]string

	hits    metric.Int64Counter
	latency metric.Float64Histogram
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCacheTTL sets how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLocalFile names a NAME=VALUE file consulted when Secret Manager is unreachable. Intended
// for local development only.
func WithLocalFile(path string) Option {
	return func(r *Resolver) { r.localFile = strings.TrimSpace(path) }
}

// WithClient injects the Secret Manager client, mainly for tests.
func WithClient(client accessor) Option {
	return func(r *Resolver) { r.client = client }
}

// WithClientOptions are forwarded when the resolver creates its own client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(r *Resolver) { r.clientOpts = append(r.clientOpts, opts...) }
}

// NewResolver creates a resolver for defaultProject. When no client is injected one is created;
// failure to create it leaves only the local file available.
func NewResolver(ctx context.Context, defaultProject string, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		project: strings.TrimSpace(defaultProject),
		ttl:     defaultCacheTTL,
		logger:  zap.NewNop(),
		now:     time.Now,
		cache:   make(map[string]cached),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	meter := otel.Meter(meterName)
	var err error
	if r.hits, err = meter.Int64Counter("secrets.cache_hits", metric.WithDescription("Secret lookups served from cache")); err != nil {
		return nil, fmt.Errorf("secrets: register counter: %w", err)
	}
	if r.latency, err = meter.Float64Histogram("secrets.fetch.latency", metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("secrets: register histogram: %w", err)
	}

	if r.client == nil {
		client, err := secretmanager.NewClient(ctx, r.clientOpts...)
		if err != nil {
			if r.localFile == "" {
				return nil, fmt.Errorf("secrets: create client: %w", err)
			}
			r.logger.Warn("secret manager unavailable, using local secrets file", zap.Error(err))
		} else {
			r.client = client
			r.ownsClient = true
		}
	}
	return r, nil
}

// Close releases the client created by NewResolver.
func (r *Resolver) Close() error {
	if r.ownsClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret returns the value for ref. Concurrent lookups of one reference share a fetch.
func (r *Resolver) ResolveSecret(ctx context.Context, raw string) (string, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	key := ref.resource(r.project)

	r.mu.Lock()
	entry, ok := r.cache[key]
	r.mu.Unlock()
	if ok && r.now().Before(entry.expires) {
		r.hits.Add(ctx, 1)
		return entry.value, nil
	}

	value, err, _ := r.group.Do(key, func() (any, error) {
		return r.fetch(ctx, ref, key)
	})
	if err != nil {
		return "", err
	}
	secret := value.(string)

	r.mu.Lock()
	r.cache[key] = cached{value: secret, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return secret, nil
}

// Forget drops the cached value so the next lookup fetches again.
func (r *Resolver) Forget(raw string) {
	ref, err := ParseReference(raw)
	if err != nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, ref.resource(r.project))
	r.mu.Unlock()
}

func (r *Resolver) fetch(ctx context.Context, ref Reference, resource string) (string, error) {
	start := r.now()
	source := "secret_manager"
	defer func() {
		r.latency.Record(ctx, float64(r.now().Sub(start))/float64(time.Millisecond),
			metric.WithAttributes(attribute.String("source", source)))
	}()

	if r.client != nil && (ref.Project != "" || r.project != "") {
		callCtx, cancel := context.WithTimeout(ctx, accessTimeout)
		defer cancel()
		resp, err := r.client.AccessSecretVersion(callCtx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		switch {
		case err == nil:
			return string(resp.GetPayload().GetData()), nil
		case status.Code(err) == codes.NotFound:
			return "", fmt.Errorf("%w: %s", ErrNotFound, ref.Name)
		case !unreachable(err) || r.localFile == "":
			return "", fmt.Errorf("secrets: access %s: %w", ref.Name, err)
		}
		r.logger.Debug("secret manager unreachable, trying local file", zap.String("secret", ref.Name), zap.Error(err))
	}

	source = "local"
	if value, ok := r.localValue(ref.Name); ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, ref.Name)
}

func (r *Resolver) localValue(name string) (string, bool) {
	r.localOnce.Do(func() {
		r.local = map[string]string{}
		if r.localFile == "" {
			return
		}
		file, err := os.Open(r.localFile)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("local secrets file unreadable", zap.String("path", r.localFile), zap.Error(err))
			}
			return
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			k, v, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			k = strings.TrimSpace(k)
			if ref, err := ParseReference(k); err == nil {
				k = ref.Name
			}
			r.local[k] = strings.TrimSpace(v)
		}
	})
	value, ok := r.local[name]
	return value, ok
}

func unreachable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}
