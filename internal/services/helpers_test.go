package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

var testNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testNow} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%04d", n)
	}
}

type capturePublisher struct {
	mu      sync.Mutex
	patches []domain.Patch
}

func (c *capturePublisher) Publish(_ context.Context, patch domain.Patch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patches = append(c.patches, patch)
}

func (c *capturePublisher) all() []domain.Patch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Patch(nil), c.patches...)
}

// testOrderWith builds a confirmed order with recomputed totals and ledger cache.
func testOrderWith(items ...domain.OrderItem) domain.Order {
	lines, totals, err := domain.ComputeTotals(items)
	if err != nil {
		panic(err)
	}
	order := domain.Order{
		ID:         "ord_1",
		CustomerID: "cus_1",
		Currency:   "JPY",
		Customer:   domain.CustomerInfo{Name: "Hanako"},
		Delivery:   domain.DeliveryInfo{Method: domain.DeliveryMethodPickup},
		Items:      lines,
		Totals:     totals,
		StatusHistory: domain.NewStatusHistory(domain.StatusEntry{
			ID:        "sth_0",
			Status:    domain.OrderStatusConfirmed,
			ChangedAt: testNow,
			ChangedBy: "cus_1",
		}),
		Financials: domain.Financials{DefaultPaymentMethod: domain.PaymentMethodCash},
		Version:    1,
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	order.RecomputeFinancials()
	return order
}

func thousandYenOrder() domain.Order {
	return testOrderWith(domain.OrderItem{ProductID: "p1", Name: "Tea", Quantity: 5, UnitPrice: 200})
}
