package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/order-engine/internal/platform/firestore"
	"github.com/hanko-field/order-engine/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository stores one document per scope under counters/ and
// advances it inside a transaction so concurrent instances never share a value.
type CounterRepository struct {
	provider *pfirestore.Provider
}

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider}, nil
}

func (r *CounterRepository) Next(ctx context.Context, scope string, limit int64) (int64, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" || limit <= 0 {
		return 0, repositories.NewCounterError(scope, repositories.CounterErrorInvalidInput, limit)
	}
	coll, err := r.provider.Collection(ctx, countersCollection)
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	ref := coll.Doc(scope)

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var doc counterDocument
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("firestore counters decode %s: %w", scope, err)
			}
		case codes.NotFound:
		default:
			return err
		}
		if doc.CurrentValue >= limit {
			return repositories.NewCounterError(scope, repositories.CounterErrorExhausted, limit)
		}
		next = doc.CurrentValue + 1
		return tx.Set(ref, counterDocument{CurrentValue: next, UpdatedAt: time.Now().UTC()})
	}, pfirestore.WithTxOperation("counters.next"))
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, err
	}
	return next, nil
}
