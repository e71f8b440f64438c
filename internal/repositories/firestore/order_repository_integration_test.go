//go:build integration

package firestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/repositories"
)

func integrationOrder(id string, createdAt time.Time) domain.Order {
	order := domain.Order{
		ID:         id,
		CustomerID: "cus_1",
		Currency:   "JPY",
		Customer:   domain.CustomerInfo{Name: "Hanako"},
		Delivery:   domain.DeliveryInfo{Method: domain.DeliveryMethodPickup},
		Items:      []domain.OrderItem{{ProductID: "p1", Quantity: 5, UnitPrice: 200, TotalPrice: 1000}},
		Totals:     domain.Totals{SubtotalAmount: 1000, TotalAmount: 1000},
		StatusHistory: domain.NewStatusHistory(domain.StatusEntry{
			ID: "sth_0", Status: domain.OrderStatusConfirmed, ChangedAt: createdAt, ChangedBy: "cus_1",
		}),
		Version:   1,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	order.RecomputeFinancials()
	return order
}

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")
	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	orders := registry.Orders()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := registry.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	order := integrationOrder("ord_1", now)
	if err := orders.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var repoErr repositories.RepositoryError
	if err := orders.Insert(ctx, order); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	next := order.Clone()
	next.Financials.EventHistory.Append(domain.LedgerEvent{
		EventID:   "evt_1",
		Event:     domain.LedgerEventPayment,
		Action:    domain.LedgerAction{Method: domain.PaymentMethodOnline, Amount: 1000, TransactionID: "otx_1"},
		ChangedBy: "provider:stripe",
		ChangedAt: now.Add(time.Minute),
	})
	next.Financials.OnlineTransactionIDs = []string{"otx_1"}
	next.AuditLog.Append(domain.AuditEntry{
		ID: "aud_1", Kind: domain.AuditKindDetails, ChangedBy: "staff_1", ChangedAt: now,
		Changes: []domain.FieldChange{{Field: "customer", Before: map[string]any{"name": "Hanako"}, After: map[string]any{"name": "Taro"}}},
	})
	next.RecomputeFinancials()
	next.Version = 2
	if err := orders.Update(ctx, next, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := orders.Update(ctx, next, 1); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected version conflict, got %v", err)
	}

	stored, err := orders.FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Version != 2 || stored.Financials.State != domain.FinancialStatePaid || stored.Financials.EventHistory.Len() != 1 {
		t.Fatalf("unexpected stored order %+v", stored.Financials)
	}
	if audit, ok := stored.AuditLog.Last(); !ok || audit.Changes[0].After.(map[string]any)["name"] != "Taro" {
		t.Fatalf("audit changes not round-tripped: %+v", audit)
	}

	byTx, err := orders.FindByOnlineTransaction(ctx, "otx_1")
	if err != nil || byTx.ID != "ord_1" {
		t.Fatalf("find by transaction: %v %s", err, byTx.ID)
	}
	if _, err := orders.FindByOnlineTransaction(ctx, "otx_missing"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	pending := integrationOrder("ord_2", now.Add(time.Hour))
	pending.Financials.CurrentOnlineTransaction = &domain.OnlineTransaction{ID: "otx_2", Kind: domain.LedgerEventPayment, Amount: 500, ExpiresAt: now}
	pending.Financials.OnlineTransactionIDs = []string{"otx_2"}
	if err := orders.Insert(ctx, pending); err != nil {
		t.Fatalf("insert pending: %v", err)
	}
	expired, err := orders.ListExpiredOnlineTransactions(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "ord_2" {
		t.Fatalf("expected ord_2 expired, got %d", len(expired))
	}

	listed, err := orders.List(ctx, repositories.OrderListFilter{CustomerID: "cus_1", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "ord_2" {
		t.Fatalf("expected newest first, got %d", len(listed))
	}
}

func TestCounterRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-test")
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "orders-20261019", 999999)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}
}

func TestInventoryRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "inventory-test")
	repo, err := NewInventoryRepository(provider)
	if err != nil {
		t.Fatalf("new inventory repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := repo.SetStock(ctx, "p1", 10, 4); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	snapshot, err := repo.Snapshot(ctx, []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got := snapshot["p1"]; !got.Exists || got.Available != 6 {
		t.Fatalf("unexpected p1 level %+v", got)
	}
	if got := snapshot["p2"]; got.Exists {
		t.Fatalf("missing product must not exist, got %+v", got)
	}
}

func TestInventoryReserveReleaseIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "inventory-move-test")
	repo, err := NewInventoryRepository(provider)
	if err != nil {
		t.Fatalf("new inventory repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := repo.SetStock(ctx, "p1", 5, 0); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	if err := repo.SetStock(ctx, "p2", 1, 0); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	err = repo.Reserve(ctx, repositories.InventoryMoveRequest{Reference: "ord_1@v2", Lines: map[string]int{"p1": 3, "p2": 2}})
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if err := repo.Reserve(ctx, repositories.InventoryMoveRequest{Reference: "ord_1@v2", Lines: map[string]int{"p1": 3, "p2": 1}}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := repo.Release(ctx, repositories.InventoryMoveRequest{Reference: "ord_1@v3", Lines: map[string]int{"p1": 1, "p3": 1}}); err != nil {
		t.Fatalf("release: %v", err)
	}

	snapshot, err := repo.Snapshot(ctx, []string{"p1", "p2"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot["p1"].Available != 3 || snapshot["p2"].Available != 0 {
		t.Fatalf("unexpected levels %+v", snapshot)
	}
}
