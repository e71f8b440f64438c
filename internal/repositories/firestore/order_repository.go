package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/order-engine/internal/domain"
	pfirestore "github.com/hanko-field/order-engine/internal/platform/firestore"
	"github.com/hanko-field/order-engine/internal/repositories"
)

const (
	ordersCollection = "orders"

	fieldCustomerID        = "customerId"
	fieldStatus            = "status"
	fieldCreatedAt         = "createdAt"
	fieldOnlineTxIDs       = "financials.onlineTransactionIds"
	fieldOnlineTxExpiresAt = "financials.currentOnlineTransaction.expiresAt"
)

// OrderRepository stores one document per order. Updates are
// compare-and-set on the version field inside a transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("firestore orders: order id is required")
	}
	doc, err := newOrderDocument(order)
	if err != nil {
		return err
	}
	ref, err := r.docRef(ctx, id)
	if err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("firestore orders: order id is required")
	}
	doc, err := newOrderDocument(order)
	if err != nil {
		return err
	}
	ref, err := r.docRef(ctx, id)
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFoundError("orders.update", fmt.Sprintf("order %s not found", id))
			}
			return err
		}
		stored, err := snap.DataAt("version")
		if err != nil {
			return fmt.Errorf("firestore orders decode version %s: %w", id, err)
		}
		version, _ := stored.(int64)
		if version != expectedVersion {
			return pfirestore.NewConflictError("orders.update", fmt.Sprintf("order %s is at version %d, expected %d", id, version, expectedVersion))
		}
		return tx.Set(ref, doc)
	}, pfirestore.WithTxAttempts(1), pfirestore.WithTxOperation("orders.update"))
	return pfirestore.WrapError("orders.update", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.get", "order id is required")
	}
	ref, err := r.docRef(ctx, id)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	return decodeOrder(snap)
}

func (r *OrderRepository) FindByOnlineTransaction(ctx context.Context, transactionID string) (domain.Order, error) {
	id := strings.TrimSpace(transactionID)
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByTransaction", err)
	}
	iter := coll.Where(fieldOnlineTxIDs, "array-contains", id).Limit(1).Documents(ctx)
	defer iter.Stop()
	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.findByTransaction", fmt.Sprintf("no order for transaction %s", id))
	}
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByTransaction", err)
	}
	return decodeOrder(snap)
}

func (r *OrderRepository) ListExpiredOnlineTransactions(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return nil, pfirestore.WrapError("orders.listExpired", err)
	}
	query := coll.Where(fieldOnlineTxExpiresAt, "<=", cutoff.UTC()).OrderBy(fieldOnlineTxExpiresAt, firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	return collectOrders(query.Documents(ctx), "orders.listExpired")
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return nil, pfirestore.WrapError("orders.list", err)
	}
	query := coll.Query
	if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
		query = query.Where(fieldCustomerID, "==", customerID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		query = query.Where(fieldStatus, "in", statuses)
	}
	query = query.OrderBy(fieldCreatedAt, firestore.Desc)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	return collectOrders(query.Documents(ctx), "orders.list")
}

func (r *OrderRepository) docRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	coll, err := r.provider.Collection(ctx, ordersCollection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func collectOrders(iter *firestore.DocumentIterator, op string) ([]domain.Order, error) {
	defer iter.Stop()
	var out []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError(op, err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID)
}
