package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	txBudget          = 15 * time.Second
)

// TxFunc is the body of a transaction. Firestore may call it more than once.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises a transaction.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	op       string
}

// WithTxAttempts overrides the number of Firestore level attempts. Order
// writes use a single attempt and leave retries to the mutation loop, which
// re-reads and re-applies the command.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxOperation labels errors returned by the transaction.
func WithTxOperation(op string) TxOption {
	return func(cfg *txConfig) {
		if op != "" {
			cfg.op = op
		}
	}
}

// RunTransaction executes fn on client. Contention that outlives every
// attempt surfaces as a conflict so callers treat it like a version mismatch.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	cfg := txConfig{attempts: defaultTxAttempts, op: "transaction"}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if client == nil {
		return WrapError(cfg.op, errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError(cfg.op, errors.New("firestore: transaction function is nil"))
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txBudget {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txBudget)
		defer cancel()
	}

	err := client.RunTransaction(ctx, fn, firestore.MaxAttempts(cfg.attempts))
	return WrapError(cfg.op, err)
}
