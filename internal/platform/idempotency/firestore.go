package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/order-engine/internal/platform/firestore"
)

const collection = "idempotency_keys"

type firestoreRecord struct {
	Fingerprint     string              `firestore:"fingerprint"`
	Done            bool                `firestore:"done"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

// FirestoreStore shares claims across instances. expiresAt is meant to back
// a Firestore TTL policy.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

// NewFirestoreStore constructs a store on the shared provider.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{provider: provider}
}

func (s *FirestoreStore) Claim(ctx context.Context, id, fp string, now time.Time, ttl time.Duration) (Outcome, Response, error) {
	coll, err := s.provider.Collection(ctx, collection)
	if err != nil {
		return 0, Response{}, err
	}
	ref := coll.Doc(id)

	var (
		outcome Outcome
		resp    Response
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		var record firestoreRecord
		if err == nil {
			if err := snap.DataTo(&record); err != nil {
				return err
			}
		}
		if err != nil || !now.Before(record.ExpiresAt) {
			outcome = OutcomeNew
			return tx.Set(ref, firestoreRecord{Fingerprint: fp, ExpiresAt: now.Add(ttl)})
		}
		if record.Fingerprint != fp {
			return ErrFingerprintMismatch
		}
		if record.Done {
			outcome = OutcomeReplay
			resp = Response{Status: record.ResponseStatus, Headers: record.ResponseHeaders, Body: record.ResponseBody}
			return nil
		}
		outcome = OutcomeInFlight
		return nil
	}, pfirestore.WithTxOperation("idempotency.claim"))
	if err != nil {
		return 0, Response{}, err
	}
	return outcome, resp, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, id, fp string, resp Response, now time.Time, ttl time.Duration) error {
	coll, err := s.provider.Collection(ctx, collection)
	if err != nil {
		return err
	}
	_, err = coll.Doc(id).Set(ctx, firestoreRecord{
		Fingerprint:     fp,
		Done:            true,
		ResponseStatus:  resp.Status,
		ResponseHeaders: resp.Headers,
		ResponseBody:    resp.Body,
		ExpiresAt:       now.Add(ttl),
	})
	return pfirestore.WrapError("idempotency.complete", err)
}

func (s *FirestoreStore) Abandon(ctx context.Context, id string) error {
	coll, err := s.provider.Collection(ctx, collection)
	if err != nil {
		return err
	}
	_, err = coll.Doc(id).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return pfirestore.WrapError("idempotency.abandon", err)
}
