package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

const (
	defaultSignedURLExpiry = 5 * time.Minute
	maxSignedURLExpiry     = 15 * time.Minute
)

// ErrExpiryTooLong is returned when a download link would outlive the permitted maximum.
var ErrExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")

// objectStore is the slice of Cloud Storage the archiver needs.
type objectStore interface {
	write(ctx context.Context, bucket, object string, data []byte, metadata map[string]string) error
	signedURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error)
}

type gcsStore struct {
	client *gcs.Client
}

func (s gcsStore) write(ctx context.Context, bucket, object string, data []byte, metadata map[string]string) error {
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = metadata
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s gcsStore) signedURL(bucket, object string, opts *gcs.SignedURLOptions) (string, error) {
	return s.client.Bucket(bucket).SignedURL(object, opts)
}

// Archiver writes JSON snapshots of final orders to a bucket.
type Archiver struct {
	store  objectStore
	bucket string
	now    func() time.Time
}

// NewArchiver constructs an archiver backed by client.
func NewArchiver(client *gcs.Client, bucket string) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("storage archiver: client is required")
	}
	return newArchiver(gcsStore{client: client}, bucket)
}

func newArchiver(store objectStore, bucket string) (*Archiver, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage archiver: bucket is required")
	}
	return &Archiver{store: store, bucket: bucket, now: time.Now}, nil
}

// ArchiveOrder writes the snapshot at orders/<id>/v<version>.json.
func (a *Archiver) ArchiveOrder(ctx context.Context, order domain.Order) error {
	object, err := ArchiveObjectPath(order.ID, order.Version)
	if err != nil {
		return err
	}
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("storage archiver: marshal order: %w", err)
	}
	metadata := map[string]string{
		"orderId":        order.ID,
		"status":         string(order.Status()),
		"financialState": string(order.Financials.State),
		"version":        strconv.FormatInt(order.Version, 10),
	}
	if err := a.store.write(ctx, a.bucket, object, data, metadata); err != nil {
		return fmt.Errorf("storage archiver: write %s: %w", object, err)
	}
	return nil
}

// SignedURLResult describes a time-limited download link.
type SignedURLResult struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SignedDownloadURL signs a GET URL for an archived snapshot. Signing uses
// the credentials the client was created with.
func (a *Archiver) SignedDownloadURL(orderID string, version int64, expiresIn time.Duration) (SignedURLResult, error) {
	object, err := ArchiveObjectPath(orderID, version)
	if err != nil {
		return SignedURLResult{}, err
	}
	if expiresIn <= 0 {
		expiresIn = defaultSignedURLExpiry
	}
	if expiresIn > maxSignedURLExpiry {
		return SignedURLResult{}, ErrExpiryTooLong
	}
	expires := a.now().Add(expiresIn)
	url, err := a.store.signedURL(a.bucket, object, &gcs.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: expires,
		Scheme:  gcs.SigningSchemeV4,
	})
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedURLResult{URL: url, Method: http.MethodGet, ExpiresAt: expires}, nil
}
