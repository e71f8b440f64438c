package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile           = ".env"
	defaultEnvironment       = "local"
	defaultHTTPAddress       = ":8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultCommandTimeout    = 20 * time.Second
	defaultCurrency          = "JPY"
	defaultMinOrderAmount    = 500
	defaultOnlineTxTimeout   = 30 * time.Minute
	defaultSweepInterval     = time.Minute
	defaultSweepBatch        = 100
	defaultMutationRetries   = 5
	defaultStreamBuffer      = 32
	defaultStreamHeartbeat   = 25 * time.Second
	defaultIdempotencyHeader = "Idempotency-Key"
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultOIDCJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer        = "https://accounts.google.com"
	defaultHMACClockSkew     = 5 * time.Minute
	defaultHMACNonceTTL      = 5 * time.Minute
	defaultWebhookRateLimit  = 600
)

// Config is the full runtime configuration of the order engine.
type Config struct {
	Environment string
	LogLevel    string

	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Payments    PaymentsConfig
	Webhooks    WebhookConfig
	Security    SecurityConfig
	Engine      EngineConfig
	Streams     StreamConfig
	Idempotency IdempotencyConfig
	CORS        CORSConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
}

// FirebaseConfig identifies the Firebase project used to verify ID tokens.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig points at the ledger store.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig enables cross-instance patch fan-out when Topic is set.
type PubSubConfig struct {
	ProjectID    string
	PatchTopic   string
	Subscription string
}

// StorageConfig names the bucket receiving final order snapshots.
type StorageConfig struct {
	ArchiveBucket string
}

// PaymentsConfig holds online payment provider credentials.
type PaymentsConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
}

// WebhookConfig holds HMAC secrets per provider for the generic webhook.
type WebhookConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
	// RateLimit caps deliveries per remote address per minute. Zero disables it.
	RateLimit       int
}

// SecurityConfig governs server-to-server calls (Cloud Scheduler).
type SecurityConfig struct {
	OIDCJWKSURL  string
	OIDCAudience string
	OIDCIssuers  []string
}

// EngineConfig holds the ledger and reconciliation rules.
type EngineConfig struct {
	DefaultCurrency    string
	MinimumOrderAmount int64
	OnlineTxTimeout    time.Duration
	SweepInterval      time.Duration
	SweepBatchSize     int
	MutationRetries    int
}

// StreamConfig tunes the real-time patch streams.
type StreamConfig struct {
	Buffer    int
	Heartbeat time.Duration
}

// IdempotencyConfig controls command replay protection.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// CORSConfig lists dashboard origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string
}

// InMemory reports whether the engine should run without Firestore.
func (c Config) InMemory() bool {
	return c.Environment == defaultEnvironment && strings.TrimSpace(c.Firestore.ProjectID) == ""
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every missing or invalid field.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.Fields, ", "))
}

// SecretError describes a failed secret lookup.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env path. An empty path disables .env loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Lookup returns a key lookup honouring the same precedence as Load
// (explicit map, then process env, then .env). main uses it to bootstrap
// the secret fetcher before Load runs.
func Lookup(opts ...Option) (func(string) (string, bool), error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	return options.lookup()
}

func (o loaderOptions) lookup() (func(string) (string, bool), error) {
	dotEnv, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// Load assembles configuration from defaults, .env, the environment and
// Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}
	lookup, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "ORDER_ENGINE_ENV", defaultEnvironment)),
		LogLevel:    stringWithDefault(lookup, "LOG_LEVEL", "info"),
		Server: ServerConfig{
			Address:        stringWithDefault(lookup, "ORDER_ENGINE_HTTP_ADDRESS", defaultHTTPAddress),
			ReadTimeout:    durationWithDefault(lookup, "ORDER_ENGINE_HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "ORDER_ENGINE_HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "ORDER_ENGINE_HTTP_IDLE_TIMEOUT", defaultIdleTimeout),
			CommandTimeout: durationWithDefault(lookup, "ORDER_ENGINE_COMMAND_TIMEOUT", defaultCommandTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "ORDER_ENGINE_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "ORDER_ENGINE_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ORDER_ENGINE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:    stringWithDefault(lookup, "ORDER_ENGINE_PUBSUB_PROJECT_ID", ""),
			PatchTopic:   stringWithDefault(lookup, "ORDER_ENGINE_PUBSUB_PATCH_TOPIC", ""),
			Subscription: stringWithDefault(lookup, "ORDER_ENGINE_PUBSUB_PATCH_SUBSCRIPTION", ""),
		},
		Storage: StorageConfig{
			ArchiveBucket: stringWithDefault(lookup, "ORDER_ENGINE_STORAGE_ARCHIVE_BUCKET", ""),
		},
		Payments: PaymentsConfig{
			StripeAPIKey:        stringWithDefault(lookup, "ORDER_ENGINE_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "ORDER_ENGINE_STRIPE_WEBHOOK_SECRET", ""),
		},
		Webhooks: WebhookConfig{
			Secrets:         mapWithDefault(lookup, "ORDER_ENGINE_WEBHOOK_SECRETS"),
			SignatureHeader: stringWithDefault(lookup, "ORDER_ENGINE_WEBHOOK_HEADER_SIGNATURE", "X-Signature"),
			TimestampHeader: stringWithDefault(lookup, "ORDER_ENGINE_WEBHOOK_HEADER_TIMESTAMP", "X-Signature-Timestamp"),
			NonceHeader:     stringWithDefault(lookup, "ORDER_ENGINE_WEBHOOK_HEADER_NONCE", "X-Signature-Nonce"),
			ClockSkew:       durationWithDefault(lookup, "ORDER_ENGINE_WEBHOOK_CLOCK_SKEW", defaultHMACClockSkew),
			NonceTTL:        durationWithDefault(lookup, "ORDER_ENGINE_WEBHOOK_NONCE_TTL", defaultHMACNonceTTL),
			RateLimit:       intWithDefault(lookup, "ORDER_ENGINE_WEBHOOK_RATE_LIMIT", defaultWebhookRateLimit),
		},
		Security: SecurityConfig{
			OIDCJWKSURL:  stringWithDefault(lookup, "ORDER_ENGINE_OIDC_JWKS_URL", defaultOIDCJWKSURL),
			OIDCAudience: stringWithDefault(lookup, "ORDER_ENGINE_OIDC_AUDIENCE", ""),
			OIDCIssuers:  csvWithDefault(lookup, "ORDER_ENGINE_OIDC_ISSUERS"),
		},
		Engine: EngineConfig{
			DefaultCurrency:    strings.ToUpper(stringWithDefault(lookup, "ORDER_ENGINE_DEFAULT_CURRENCY", defaultCurrency)),
			MinimumOrderAmount: int64WithDefault(lookup, "ORDER_ENGINE_MIN_ORDER_AMOUNT", defaultMinOrderAmount),
			OnlineTxTimeout:    durationWithDefault(lookup, "ORDER_ENGINE_ONLINE_TX_TIMEOUT", defaultOnlineTxTimeout),
			SweepInterval:      durationWithDefault(lookup, "ORDER_ENGINE_SWEEP_INTERVAL", defaultSweepInterval),
			SweepBatchSize:     intWithDefault(lookup, "ORDER_ENGINE_SWEEP_BATCH", defaultSweepBatch),
			MutationRetries:    intWithDefault(lookup, "ORDER_ENGINE_MUTATION_RETRIES", defaultMutationRetries),
		},
		Streams: StreamConfig{
			Buffer:    intWithDefault(lookup, "ORDER_ENGINE_STREAM_BUFFER", defaultStreamBuffer),
			Heartbeat: durationWithDefault(lookup, "ORDER_ENGINE_STREAM_HEARTBEAT", defaultStreamHeartbeat),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "ORDER_ENGINE_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "ORDER_ENGINE_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		CORS: CORSConfig{
			AllowedOrigins: csvWithDefault(lookup, "ORDER_ENGINE_CORS_ALLOWED_ORIGINS"),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDCIssuers) == 0 {
		cfg.Security.OIDCIssuers = []string{defaultOIDCIssuer, "accounts.google.com"}
	}

	secretFields := []*string{
		&cfg.Payments.StripeAPIKey,
		&cfg.Payments.StripeWebhookSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}
	for name, value := range cfg.Webhooks.Secrets {
		resolved, err := resolveSecret(ctx, value, options.secret)
		if err != nil {
			return Config{}, err
		}
		cfg.Webhooks.Secrets[name] = resolved
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var fields []string
	if strings.TrimSpace(cfg.Server.Address) == "" {
		fields = append(fields, "Server.Address")
	}
	if !cfg.InMemory() && cfg.Firestore.ProjectID == "" {
		fields = append(fields, "Firestore.ProjectID")
	}
	if len(cfg.Engine.DefaultCurrency) != 3 {
		fields = append(fields, "Engine.DefaultCurrency")
	}
	if cfg.Engine.MinimumOrderAmount < 0 {
		fields = append(fields, "Engine.MinimumOrderAmount")
	}
	if cfg.Engine.OnlineTxTimeout <= 0 {
		fields = append(fields, "Engine.OnlineTxTimeout")
	}
	if cfg.Engine.SweepInterval <= 0 {
		fields = append(fields, "Engine.SweepInterval")
	}
	if cfg.Engine.SweepBatchSize <= 0 {
		fields = append(fields, "Engine.SweepBatchSize")
	}
	if cfg.Engine.MutationRetries <= 0 {
		fields = append(fields, "Engine.MutationRetries")
	}
	if cfg.Streams.Buffer <= 0 {
		fields = append(fields, "Streams.Buffer")
	}
	if cfg.Streams.Heartbeat <= 0 {
		fields = append(fields, "Streams.Heartbeat")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		fields = append(fields, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		fields = append(fields, "Idempotency.TTL")
	}
	if cfg.PubSub.Subscription != "" && cfg.PubSub.PatchTopic == "" {
		fields = append(fields, "PubSub.PatchTopic")
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !IsSecretReference(trimmed) {
		return value, nil
	}
	ref := trimmed
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// IsSecretReference reports whether value points at Secret Manager.
func IsSecretReference(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

func readDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// mapWithDefault parses "name=value,name2=value2".
func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok {
		return values
	}
	for _, entry := range strings.Split(raw, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if !found || name == "" || value == "" {
			continue
		}
		values[name] = value
	}
	return values
}
