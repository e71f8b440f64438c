package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/payments"
	"github.com/hanko-field/order-engine/internal/platform/observability"
	"github.com/hanko-field/order-engine/internal/repositories"
)

const (
	onlineEventStarted   = "order.online_transaction.started"
	onlineEventAborted   = "order.online_transaction.aborted"
	onlineEventWebhook   = "order.online_transaction.webhook"
	onlineEventSweepDone = "order.online_transaction.sweep"
	onlineEventSweepFail = "order.online_transaction.sweep.failed"

	defaultOnlineTxTimeout = 30 * time.Minute
	defaultSweepBatchSize  = 100
	webhookActorPrefix     = "provider:"
)

// PaymentGateway abstracts payments.Manager for easier testing.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.Intent, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.Refund, error)
}

// OnlinePaymentServiceDeps bundles collaborators for the online payment flow.
type OnlinePaymentServiceDeps struct {
	Orders          repositories.OrderRepository
	Gateway         PaymentGateway
	Locks           *OrderLocks
	Publisher       PatchPublisher
	Archiver        OrderArchiver
	Metrics         *observability.EngineMetrics
	Timeout         time.Duration
	SweepBatchSize  int
	MutationRetries int
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type onlinePaymentService struct {
	orders    repositories.OrderRepository
	gateway   PaymentGateway
	mutator   *orderMutator
	metrics   *observability.EngineMetrics
	timeout   time.Duration
	batchSize int
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOnlinePaymentService wires the online payment flow.
func NewOnlinePaymentService(deps OnlinePaymentServiceDeps) (OnlinePaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("online payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("online payment service: payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utcClock := func() time.Time { return clock().UTC() }

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultOnlineTxTimeout
	}
	batch := deps.SweepBatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}

	mutator := newMutator(deps.Orders, deps.Locks, deps.MutationRetries, utcClock, deps.Publisher, deps.Archiver, deps.Metrics, logger)
	return &onlinePaymentService{
		orders:    deps.Orders,
		gateway:   deps.Gateway,
		mutator:   mutator,
		metrics:   mutator.metrics,
		timeout:   timeout,
		batchSize: batch,
		clock:     utcClock,
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *onlinePaymentService) StartOnlinePayment(ctx context.Context, cmd StartOnlinePaymentCommand) (OnlineTransactionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OnlineTransactionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Amount <= 0 {
		return OnlineTransactionResult{}, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, cmd.Amount)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return OnlineTransactionResult{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))

	order, tx, err := s.begin(ctx, orderID, "start_online_payment", func(order domain.Order) (domain.OnlineTransaction, error) {
		if order.Status() == domain.OrderStatusCancelled {
			return domain.OnlineTransaction{}, fmt.Errorf("%w: order %s is cancelled", ErrOrderFinalized, order.ID)
		}
		if outstanding := order.Totals.TotalAmount - order.Financials.NetPaid(); cmd.Amount > outstanding {
			return domain.OnlineTransaction{}, fmt.Errorf("%w: amount %d exceeds outstanding %d", ErrInvalidAmount, cmd.Amount, outstanding)
		}
		return domain.OnlineTransaction{Kind: domain.LedgerEventPayment, Amount: cmd.Amount, Provider: provider, InitiatedBy: actor}, nil
	})
	if err != nil {
		return OnlineTransactionResult{}, err
	}

	intent, err := s.gateway.CreateIntent(ctx, payments.PaymentContext{PreferredProvider: provider, Currency: tx.Currency}, payments.IntentRequest{
		TransactionID:  tx.ID,
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		IdempotencyKey: tx.ID,
	})
	if err != nil {
		s.abort(ctx, order.ID, tx.ID, err)
		return OnlineTransactionResult{}, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}

	order, tx, err = s.markProcessing(ctx, order, tx, intent.Provider, intent.Reference)
	if err != nil {
		return OnlineTransactionResult{}, err
	}
	return OnlineTransactionResult{Order: order, Transaction: tx, ClientSecret: intent.ClientSecret}, nil
}

func (s *onlinePaymentService) StartOnlineRefund(ctx context.Context, cmd StartOnlineRefundCommand) (OnlineTransactionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OnlineTransactionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	paymentID := strings.TrimSpace(cmd.OriginalPaymentID)
	if paymentID == "" {
		return OnlineTransactionResult{}, fmt.Errorf("%w: original payment id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return OnlineTransactionResult{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}

	var original domain.LedgerEvent
	order, tx, err := s.begin(ctx, orderID, "start_online_refund", func(order domain.Order) (domain.OnlineTransaction, error) {
		payment, ok := order.Financials.EventHistory.Find(paymentID)
		if !ok || payment.Event != domain.LedgerEventPayment {
			return domain.OnlineTransaction{}, fmt.Errorf("%w: payment %s", ErrEventNotFound, paymentID)
		}
		if payment.Action.Method != domain.PaymentMethodOnline || payment.Action.ExternalReference == "" {
			return domain.OnlineTransaction{}, fmt.Errorf("%w: payment %s was not collected online", ErrOrderInvalidInput, paymentID)
		}
		// Validate against the ledger rules before calling the provider.
		if _, _, err := ApplyRefundEvent(order, domain.LedgerAction{
			Method:            domain.PaymentMethodOnline,
			Amount:            cmd.Amount,
			OriginalPaymentID: paymentID,
		}, LedgerStamp{EventID: "dry-run", Actor: actor, At: s.clock()}); err != nil {
			return domain.OnlineTransaction{}, err
		}
		original = payment
		return domain.OnlineTransaction{
			Kind:              domain.LedgerEventRefund,
			Amount:            cmd.Amount,
			Provider:          payment.Action.Provider,
			OriginalPaymentID: paymentID,
			InitiatedBy:       actor,
		}, nil
	})
	if err != nil {
		return OnlineTransactionResult{}, err
	}

	refund, err := s.gateway.Refund(ctx, payments.PaymentContext{PreferredProvider: original.Action.Provider, Currency: tx.Currency}, payments.RefundRequest{
		TransactionID:    tx.ID,
		OrderID:          order.ID,
		PaymentReference: original.Action.ExternalReference,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		IdempotencyKey:   tx.ID,
	})
	if err != nil {
		s.abort(ctx, order.ID, tx.ID, err)
		return OnlineTransactionResult{}, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}

	order, tx, err = s.markProcessing(ctx, order, tx, refund.Provider, refund.Reference)
	if err != nil {
		return OnlineTransactionResult{}, err
	}
	return OnlineTransactionResult{Order: order, Transaction: tx}, nil
}

// begin persists a new transaction in the init sub-state.
func (s *onlinePaymentService) begin(ctx context.Context, orderID, command string,
	build func(domain.Order) (domain.OnlineTransaction, error)) (domain.Order, domain.OnlineTransaction, error) {
	var tx domain.OnlineTransaction
	order, _, err := s.mutator.mutate(ctx, orderID, command, func(order domain.Order, now time.Time) (domain.Order, error) {
		if current := order.Financials.CurrentOnlineTransaction; current != nil {
			return domain.Order{}, fmt.Errorf("%w: %s is %s", ErrOnlineTransactionInProgress, current.ID, current.Status)
		}
		built, err := build(order)
		if err != nil {
			return domain.Order{}, err
		}
		built.ID = onlineTransactionIDPrefix + s.newID()
		built.Status = domain.OnlineTransactionInit
		built.Currency = order.Currency
		built.InitiatedAt = now
		built.UpdatedAt = now
		built.ExpiresAt = now.Add(s.timeout)
		tx = built

		order.Financials.CurrentOnlineTransaction = &built
		order.Financials.OnlineTransactionIDs = append(order.Financials.OnlineTransactionIDs, built.ID)
		return order, nil
	})
	if err != nil {
		return domain.Order{}, domain.OnlineTransaction{}, err
	}
	s.logger(ctx, onlineEventStarted, map[string]any{
		"orderId":       order.ID,
		"transactionId": tx.ID,
		"kind":          string(tx.Kind),
		"amount":        tx.Amount,
	})
	return order, tx, nil
}

func (s *onlinePaymentService) markProcessing(ctx context.Context, order domain.Order, tx domain.OnlineTransaction, provider, reference string) (domain.Order, domain.OnlineTransaction, error) {
	updated, _, err := s.mutator.mutate(ctx, order.ID, "online_transaction_processing", func(order domain.Order, now time.Time) (domain.Order, error) {
		current := order.Financials.CurrentOnlineTransaction
		if current == nil || current.ID != tx.ID || current.Status != domain.OnlineTransactionInit {
			return domain.Order{}, errNoChange
		}
		next := *current
		next.Status = domain.OnlineTransactionProcessing
		next.Provider = provider
		next.ProviderReference = reference
		next.UpdatedAt = now
		order.Financials.CurrentOnlineTransaction = &next
		tx = next
		return order, nil
	})
	if err != nil {
		return domain.Order{}, domain.OnlineTransaction{}, err
	}
	return updated, tx, nil
}

// abort clears a transaction the provider never accepted.
func (s *onlinePaymentService) abort(ctx context.Context, orderID, transactionID string, cause error) {
	_, _, err := s.mutator.mutate(ctx, orderID, "abort_online_transaction", func(order domain.Order, _ time.Time) (domain.Order, error) {
		current := order.Financials.CurrentOnlineTransaction
		if current == nil || current.ID != transactionID {
			return domain.Order{}, errNoChange
		}
		order.Financials.CurrentOnlineTransaction = nil
		return order, nil
	})
	fields := map[string]any{
		"orderId":       orderID,
		"transactionId": transactionID,
		"cause":         cause.Error(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger(ctx, onlineEventAborted, fields)
}

func (s *onlinePaymentService) HandleWebhook(ctx context.Context, n WebhookNotification) (WebhookResult, error) {
	transactionID := strings.TrimSpace(n.TransactionID)
	if transactionID == "" {
		return WebhookResult{}, fmt.Errorf("%w: transaction id is required", ErrOrderInvalidInput)
	}
	if n.Status != WebhookStatusSucceeded && n.Status != WebhookStatusFailed {
		return WebhookResult{}, fmt.Errorf("%w: unsupported webhook status %q", ErrOrderInvalidInput, n.Status)
	}
	provider := strings.ToLower(strings.TrimSpace(n.Provider))

	located, err := s.orders.FindByOnlineTransaction(ctx, transactionID)
	if err != nil {
		return WebhookResult{}, mapRepositoryError(err)
	}

	var (
		outcome WebhookOutcome
		event   *domain.LedgerEvent
	)
	order, _, err := s.mutator.mutate(ctx, located.ID, "webhook", func(order domain.Order, now time.Time) (domain.Order, error) {
		outcome, event = "", nil
		if existing, ok := order.Financials.EventHistory.FindByTransaction(transactionID); ok {
			event = &existing
			return domain.Order{}, ErrWebhookReplay
		}
		current := order.Financials.CurrentOnlineTransaction
		if current == nil || current.ID != transactionID {
			outcome = WebhookStale
			return domain.Order{}, errNoChange
		}
		if n.Amount != current.Amount {
			return domain.Order{}, fmt.Errorf("%w: webhook amount %d does not match %d", ErrInvalidAmount, n.Amount, current.Amount)
		}
		if code := strings.TrimSpace(n.Currency); code != "" && !strings.EqualFold(code, current.Currency) {
			return domain.Order{}, fmt.Errorf("%w: webhook currency %s does not match %s", ErrInvalidAmount, code, current.Currency)
		}

		order.Financials.CurrentOnlineTransaction = nil
		if n.Status == WebhookStatusFailed {
			outcome = WebhookFailed
			return order, nil
		}

		reference := strings.TrimSpace(n.ProviderReference)
		if reference == "" {
			reference = current.ProviderReference
		}
		action := domain.LedgerAction{
			Method:            domain.PaymentMethodOnline,
			Amount:            current.Amount,
			Provider:          current.Provider,
			TransactionID:     current.ID,
			OriginalPaymentID: current.OriginalPaymentID,
			ExternalReference: reference,
		}
		stamp := LedgerStamp{
			EventID: ledgerEventIDPrefix + s.newID(),
			Actor:   webhookActorPrefix + firstNonEmpty(provider, current.Provider),
			At:      now,
		}
		apply := ApplyPaymentEvent
		if current.Kind == domain.LedgerEventRefund {
			apply = ApplyRefundEvent
		}
		next, appended, err := apply(order, action, stamp)
		if err != nil {
			return domain.Order{}, err
		}
		outcome = WebhookFinalized
		event = &appended
		return next, nil
	})

	if errors.Is(err, ErrWebhookReplay) {
		outcome, order, err = WebhookReplayed, located, nil
	}
	if err != nil {
		s.metrics.WebhookOutcomes.WithLabelValues(provider, "rejected").Inc()
		s.logger(ctx, onlineEventWebhook+".error", map[string]any{
			"orderId":       located.ID,
			"transactionId": transactionID,
			"error":         err.Error(),
		})
		return WebhookResult{}, err
	}

	s.metrics.WebhookOutcomes.WithLabelValues(provider, string(outcome)).Inc()
	fields := map[string]any{
		"orderId":       order.ID,
		"transactionId": transactionID,
		"outcome":       string(outcome),
		"status":        string(n.Status),
	}
	if event != nil {
		fields["eventId"] = event.EventID
	}
	s.logger(ctx, onlineEventWebhook, fields)
	return WebhookResult{Outcome: outcome, Order: order, Event: event}, nil
}

func (s *onlinePaymentService) SweepExpired(ctx context.Context) (SweepResult, error) {
	cutoff := s.clock()
	expired, err := s.orders.ListExpiredOnlineTransactions(ctx, cutoff, s.batchSize)
	if err != nil {
		return SweepResult{}, mapRepositoryError(err)
	}

	result := SweepResult{Scanned: len(expired), Cutoff: cutoff}
	for _, candidate := range expired {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var swept string
		_, _, err := s.mutator.mutate(ctx, candidate.ID, "sweep_online_transaction", func(order domain.Order, now time.Time) (domain.Order, error) {
			swept = ""
			current := order.Financials.CurrentOnlineTransaction
			if current == nil || current.ExpiresAt.After(now) {
				return domain.Order{}, errNoChange
			}
			swept = current.ID
			order.Financials.CurrentOnlineTransaction = nil
			return order, nil
		})
		if err != nil {
			result.Failed++
			s.logger(ctx, onlineEventSweepFail, map[string]any{
				"orderId": candidate.ID,
				"error":   err.Error(),
			})
			continue
		}
		if swept != "" {
			result.Cleared++
			s.metrics.OnlineTxSwept.Inc()
		}
	}

	s.logger(ctx, onlineEventSweepDone, map[string]any{
		"scanned": result.Scanned,
		"cleared": result.Cleared,
		"failed":  result.Failed,
	})
	return result, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
