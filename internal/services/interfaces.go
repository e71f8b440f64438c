package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/repositories"
)

// OrderService is the command surface of the order engine. Every mutating
// call is one read-modify-persist-publish cycle on a single order.
type OrderService interface {
	RegisterOrder(ctx context.Context, cmd RegisterOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error)
	TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (TransitionResult, error)
	ApplyPayment(ctx context.Context, cmd ApplyPaymentCommand) (LedgerResult, error)
	ApplyRefund(ctx context.Context, cmd ApplyRefundCommand) (LedgerResult, error)
	VoidEvent(ctx context.Context, cmd VoidEventCommand) (LedgerResult, error)
	EditItems(ctx context.Context, cmd EditItemsCommand) (ItemEditResult, error)
	EditDetails(ctx context.Context, cmd EditDetailsCommand) (domain.Order, error)
}

// OnlinePaymentService drives payments and refunds confirmed by a provider webhook.
type OnlinePaymentService interface {
	StartOnlinePayment(ctx context.Context, cmd StartOnlinePaymentCommand) (OnlineTransactionResult, error)
	StartOnlineRefund(ctx context.Context, cmd StartOnlineRefundCommand) (OnlineTransactionResult, error)
	HandleWebhook(ctx context.Context, notification WebhookNotification) (WebhookResult, error)
	SweepExpired(ctx context.Context) (SweepResult, error)
}

// PatchPublisher receives committed patches. Implementations must not block.
type PatchPublisher interface {
	Publish(ctx context.Context, patch domain.Patch)
}

// OrderArchiver stores a snapshot of orders that reached a final status.
type OrderArchiver interface {
	ArchiveOrder(ctx context.Context, order domain.Order) error
}

// TextSanitizer strips markup from free-form text before it is persisted.
type TextSanitizer interface {
	Sanitize(input string) string
}

// RegisterOrderCommand ingests a confirmed checkout.
type RegisterOrderCommand struct {
	OrderID              string
	CustomerID           string
	Currency             string
	Customer             domain.CustomerInfo
	Delivery             domain.DeliveryInfo
	Items                []domain.OrderItem
	DefaultPaymentMethod domain.PaymentMethod
	ActorID              string
}

// TransitionStatusCommand moves an order to TargetStatus.
type TransitionStatusCommand struct {
	OrderID            string
	TargetStatus       domain.OrderStatus
	ActorID            string
	IsRollback         bool
	CancellationReason string
	Changes            []domain.FieldChange
}

// TransitionResult returns the updated order and the appended entry.
type TransitionResult struct {
	Order domain.Order
	Entry domain.StatusEntry
}

// ApplyPaymentCommand records an offline payment.
type ApplyPaymentCommand struct {
	OrderID           string
	Method            domain.PaymentMethod
	Amount            int64
	ExternalReference string
	ActorID           string
}

// ApplyRefundCommand records an offline refund.
type ApplyRefundCommand struct {
	OrderID           string
	Method            domain.PaymentMethod
	Amount            int64
	OriginalPaymentID string
	ExternalReference string
	ActorID           string
}

// VoidEventCommand logically reverses a ledger event.
type VoidEventCommand struct {
	OrderID string
	EventID string
	Note    string
	ActorID string
}

// LedgerResult returns the updated order and the appended or voided event.
type LedgerResult struct {
	Order domain.Order
	Event domain.LedgerEvent
}

// EditItemsCommand proposes new quantities keyed by product id.
type EditItemsCommand struct {
	OrderID    string
	Quantities map[string]int
	Reason     string
	ActorID    string
}

// ItemEditResult describes an accepted item edit.
type ItemEditResult struct {
	Order       domain.Order
	Outcome     ReconciliationOutcome
	Adjustments []ItemAdjustment
}

// EditDetailsCommand replaces customer, delivery or payment method fields.
// Nil fields are left untouched.
type EditDetailsCommand struct {
	OrderID              string
	Customer             *domain.CustomerInfo
	Delivery             *domain.DeliveryInfo
	DefaultPaymentMethod *domain.PaymentMethod
	Reason               string
	ActorID              string
}

// StartOnlinePaymentCommand asks the provider to collect Amount.
type StartOnlinePaymentCommand struct {
	OrderID  string
	Amount   int64
	Provider string
	ActorID  string
}

// StartOnlineRefundCommand asks the provider to refund part of an online payment.
type StartOnlineRefundCommand struct {
	OrderID           string
	Amount            int64
	OriginalPaymentID string
	ActorID           string
}

// OnlineTransactionResult returns the pending transaction and, for payments,
// the provider secret the customer uses to confirm it.
type OnlineTransactionResult struct {
	Order        domain.Order
	Transaction  domain.OnlineTransaction
	ClientSecret string
}

// WebhookStatus is the terminal provider status of a transaction.
type WebhookStatus string

const (
	WebhookStatusSucceeded WebhookStatus = "succeeded"
	WebhookStatusFailed    WebhookStatus = "failed"
)

// WebhookNotification is the normalised provider callback.
type WebhookNotification struct {
	Provider          string
	TransactionID     string
	Status            WebhookStatus
	Amount            int64
	Currency          string
	ProviderReference string
}

// WebhookOutcome classifies how a webhook was handled.
type WebhookOutcome string

const (
	WebhookFinalized WebhookOutcome = "finalized"
	WebhookFailed    WebhookOutcome = "failed"
	WebhookReplayed  WebhookOutcome = "replayed"
	WebhookStale     WebhookOutcome = "stale"
)

// WebhookResult reports the handled outcome. Event is set when a ledger
// entry was created or already existed.
type WebhookResult struct {
	Outcome WebhookOutcome
	Order   domain.Order
	Event   *domain.LedgerEvent
}

// SweepResult summarises one timeout sweep.
type SweepResult struct {
	Scanned int
	Cleared int
	Failed  int
	Cutoff  time.Time
}
