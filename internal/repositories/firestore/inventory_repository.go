package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/order-engine/internal/domain"
	pfirestore "github.com/hanko-field/order-engine/internal/platform/firestore"
	"github.com/hanko-field/order-engine/internal/repositories"
)

const inventoryCollection = "inventory"

type stockDocument struct {
	ProductID string `firestore:"productId"`
	OnHand    int    `firestore:"onHand"`
	Reserved  int    `firestore:"reserved"`
	Available int    `firestore:"available"`
	Active    bool   `firestore:"active"`
	// LastMovement is the reference of the last reserve or release.
	LastMovement string    `firestore:"lastMovement,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func (s *stockDocument) recalculate() {
	s.Available = s.OnHand - s.Reserved
	if s.Available < 0 {
		s.Available = 0
	}
}

// InventoryRepository keeps one stock document per product id. Orders hold
// units through the reserved counter.
type InventoryRepository struct {
	provider *pfirestore.Provider
}

func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{provider: provider}, nil
}

// Snapshot reads every requested product in one batch. Missing or inactive
// products are reported with Exists=false.
func (r *InventoryRepository) Snapshot(ctx context.Context, productIDs []string) (domain.StockSnapshot, error) {
	out := make(domain.StockSnapshot, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("inventory.snapshot", err)
	}
	coll := client.Collection(inventoryCollection)

	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		out[id] = domain.StockLevel{}
		refs = append(refs, coll.Doc(id))
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("inventory.snapshot", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("inventory.snapshot", err)
		}
		if !doc.Active {
			continue
		}
		doc.recalculate()
		out[snap.Ref.ID] = domain.StockLevel{Exists: true, Available: doc.Available}
	}
	return out, nil
}

// SetStock replaces the stock record of a product.
func (r *InventoryRepository) SetStock(ctx context.Context, productID string, onHand, reserved int) error {
	id := strings.TrimSpace(productID)
	if id == "" {
		return errors.New("inventory: product id is required")
	}
	doc := stockDocument{ProductID: id, OnHand: onHand, Reserved: reserved, Active: true, UpdatedAt: time.Now().UTC()}
	doc.recalculate()
	coll, err := r.provider.Collection(ctx, inventoryCollection)
	if err != nil {
		return pfirestore.WrapError("inventory.set", err)
	}
	if _, err := coll.Doc(id).Set(ctx, doc); err != nil {
		return pfirestore.WrapError("inventory.set", err)
	}
	return nil
}

func (r *InventoryRepository) Reserve(ctx context.Context, req repositories.InventoryMoveRequest) error {
	return r.move(ctx, "inventory.reserve", req, func(productID string, doc *stockDocument, exists bool, quantity int) error {
		if !exists || !doc.Active {
			return repositories.NewInventoryError("inventory.reserve", repositories.InventoryErrorStockNotFound, productID, nil)
		}
		if doc.OnHand-doc.Reserved < quantity {
			return repositories.NewInventoryError("inventory.reserve", repositories.InventoryErrorInsufficientStock, productID, nil)
		}
		doc.Reserved += quantity
		return nil
	})
}

func (r *InventoryRepository) Release(ctx context.Context, req repositories.InventoryMoveRequest) error {
	return r.move(ctx, "inventory.release", req, func(_ string, doc *stockDocument, exists bool, quantity int) error {
		if !exists {
			return errSkipStock
		}
		doc.Reserved = max(doc.Reserved-quantity, 0)
		return nil
	})
}

var errSkipStock = errors.New("inventory: skip stock document")

// move reads every stock document of req, applies fn and writes the results
// in one transaction.
func (r *InventoryRepository) move(ctx context.Context, op string, req repositories.InventoryMoveRequest,
	fn func(productID string, doc *stockDocument, exists bool, quantity int) error) error {
	if len(req.Lines) == 0 {
		return nil
	}
	productIDs := make([]string, 0, len(req.Lines))
	for productID, quantity := range req.Lines {
		if strings.TrimSpace(productID) == "" || quantity <= 0 {
			return repositories.NewInventoryError(op, repositories.InventoryErrorInvalidQuantity, productID, nil)
		}
		productIDs = append(productIDs, productID)
	}
	sort.Strings(productIDs)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError(op, err)
	}
	coll := client.Collection(inventoryCollection)
	refs := make([]*firestore.DocumentRef, len(productIDs))
	for i, id := range productIDs {
		refs[i] = coll.Doc(id)
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		docs := make([]*stockDocument, len(snaps))
		for i, snap := range snaps {
			var doc stockDocument
			if snap.Exists() {
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode inventory stock %s: %w", productIDs[i], err)
				}
			}
			err := fn(productIDs[i], &doc, snap.Exists(), req.Lines[productIDs[i]])
			if errors.Is(err, errSkipStock) {
				continue
			}
			if err != nil {
				return err
			}
			doc.LastMovement = req.Reference
			doc.UpdatedAt = now
			doc.recalculate()
			docs[i] = &doc
		}
		for i, doc := range docs {
			if doc == nil {
				continue
			}
			if err := tx.Set(refs[i], *doc); err != nil {
				return err
			}
		}
		return nil
	}, pfirestore.WithTxOperation(op))
	if err != nil {
		var invErr *repositories.InventoryError
		if errors.As(err, &invErr) {
			return invErr
		}
		return err
	}
	return nil
}
