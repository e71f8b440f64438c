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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/hanko-field/order-engine/internal/platform/secrets"
)

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references through Secret Manager, caching
// values for the life of the process. When Secret Manager is unreachable or
// no project is configured it reads a local dotenv style fallback file
// keyed by the upper-cased secret name.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	projectID  string
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.RWMutex
	cache map[string]string

	latency metric.Float64Histogram
}

type options struct {
	projectID    string
	fallbackPath string
	logger       *zap.Logger
	client       secretManagerClient
	clientOpts   []option.ClientOption
	meter        metric.Meter
}

// Option customises NewFetcher.
type Option func(*options)

// WithProject sets the project used when a reference does not name one.
func WithProject(projectID string) Option {
	return func(o *options) { o.projectID = strings.TrimSpace(projectID) }
}

// WithFallbackFile overrides the local fallback path. Empty disables it.
func WithFallbackFile(path string) Option {
	return func(o *options) { o.fallbackPath = strings.TrimSpace(path) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithMeter overrides the OpenTelemetry meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

func withClient(client secretManagerClient) Option {
	return func(o *options) { o.client = client }
}

// NewFetcher constructs a fetcher. A Secret Manager client that cannot be
// created leaves the fetcher in fallback-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	o := options{fallbackPath: defaultFallbackPath, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.meter == nil {
		o.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:       o.client,
		projectID:    o.projectID,
		logger:       o.logger,
		fallbackPath: o.fallbackPath,
		cache:        make(map[string]string),
	}
	latency, err := o.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of secret resolution by source"),
	)
	if err != nil {
		o.logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	} else {
		f.latency = latency
	}

	if f.client == nil && f.projectID != "" {
		client, err := secretmanager.NewClient(ctx, o.clientOpts...)
		if err != nil {
			o.logger.Warn("secrets: secret manager unavailable, using fallback file", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret implements config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value of a secret://name[?version=N&project=P] reference.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	f.mu.RLock()
	value, ok := f.cache[parsed.key()]
	f.mu.RUnlock()
	if ok {
		f.record(ctx, start, "cache")
		return value, nil
	}

	project := parsed.project
	if project == "" {
		project = f.projectID
	}
	if project != "" && f.client != nil {
		name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, parsed.name, parsed.version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		switch {
		case err == nil && resp.GetPayload() != nil:
			value = string(resp.GetPayload().GetData())
			f.store(parsed.key(), value)
			f.record(ctx, start, "remote")
			return value, nil
		case err == nil:
			return "", fmt.Errorf("secrets: empty payload for %s", name)
		case !fallbackAllowed(err):
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.name, err)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("secret", parsed.name), zap.Error(err))
	}

	value, ok = f.lookupFallback(parsed.name)
	if !ok {
		return "", fmt.Errorf("secrets: no fallback value for %s", parsed.name)
	}
	f.store(parsed.key(), value)
	f.record(ctx, start, "fallback")
	return value, nil
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) record(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

func (f *Fetcher) lookupFallback(name string) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("secrets: unreadable fallback file", zap.String("path", f.fallbackPath), zap.Error(err))
			}
			return
		}
		f.fallback = values
	})
	value, ok := f.fallback[FallbackKey(name)]
	return value, ok
}

// FallbackKey maps a secret name to its key in the fallback file, e.g.
// "stripe-api-key" becomes "STRIPE_API_KEY".
func FallbackKey(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

type reference struct {
	name    string
	version string
	project string
}

func (r reference) key() string {
	return r.project + "/" + r.name + "#" + r.version
}

func parseReference(ref string) (reference, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return reference{}, errors.New("secrets: missing secret name")
	}
	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	return reference{name: name, version: version, project: strings.TrimSpace(query.Get("project"))}, nil
}
