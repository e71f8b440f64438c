package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"

	domain "github.com/hanko-field/order-engine/internal/domain"
	"github.com/hanko-field/order-engine/internal/platform/observability"
	"github.com/hanko-field/order-engine/internal/repositories"
)

const (
	orderEventRegistered      = "order.registered"
	orderEventStatusChanged   = "order.status.changed"
	orderEventLedgerAppended  = "order.ledger.appended"
	orderEventLedgerVoided    = "order.ledger.voided"
	orderEventItemsEdited     = "order.items.edited"
	orderEventItemsRejected   = "order.items.rejected"
	orderEventDetailsEdited   = "order.details.edited"
	orderNumberCounterPrefix  = "orders-"
	maxDailyOrderNumber       = 999999
	defaultOrderListLimit     = 50
	maxOrderListLimit         = 200
	orderIDPrefix             = "ord_"
	statusEntryIDPrefix       = "sth_"
	ledgerEventIDPrefix       = "evt_"
	auditEntryIDPrefix        = "aud_"
	onlineTransactionIDPrefix = "otx_"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders             repositories.OrderRepository
	Inventory          repositories.InventoryRepository
	Counters           repositories.CounterRepository
	Locks              *OrderLocks
	Publisher          PatchPublisher
	Archiver           OrderArchiver
	Sanitizer          TextSanitizer
	Metrics            *observability.EngineMetrics
	DefaultCurrency    string
	MinimumOrderAmount int64
	MutationRetries    int
	Clock              func() time.Time
	IDGenerator        func() string
	Logger             func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders          repositories.OrderRepository
	inventory       repositories.InventoryRepository
	counters        repositories.CounterRepository
	mutator         *orderMutator
	sanitizer       TextSanitizer
	metrics         *observability.EngineMetrics
	defaultCurrency string
	minimumAmount   int64
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.MinimumOrderAmount < 0 {
		return nil, errors.New("order service: minimum order amount must not be negative")
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

	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = trimSanitizer{}
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "JPY"
	}

	mutator := newMutator(deps.Orders, deps.Locks, deps.MutationRetries, utcClock, deps.Publisher, deps.Archiver, deps.Metrics, logger)
	mutator.inventory = deps.Inventory

	return &orderService{
		orders:          deps.Orders,
		inventory:       deps.Inventory,
		counters:        deps.Counters,
		mutator:         mutator,
		sanitizer:       sanitizer,
		metrics:         mutator.metrics,
		defaultCurrency: defaultCurrency,
		minimumAmount:   deps.MinimumOrderAmount,
		clock:           utcClock,
		newID:           idGen,
		logger:          logger,
	}, nil
}

func (s *orderService) RegisterOrder(ctx context.Context, cmd RegisterOrderCommand) (domain.Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return domain.Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		actor = customerID
	}
	code, err := normalizeCurrency(cmd.Currency, s.defaultCurrency)
	if err != nil {
		return domain.Order{}, err
	}
	if strings.TrimSpace(cmd.Customer.Name) == "" {
		return domain.Order{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	delivery, err := s.normalizeDelivery(cmd.Delivery)
	if err != nil {
		return domain.Order{}, err
	}
	method := cmd.DefaultPaymentMethod
	if method == "" {
		method = domain.PaymentMethodOther
	}
	if !validPaymentMethod(method) {
		return domain.Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, method)
	}
	if err := validateOrderItems(cmd.Items); err != nil {
		return domain.Order{}, err
	}
	items, totals, err := domain.ComputeTotals(cmd.Items)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if totals.TotalAmount < s.minimumAmount {
		return domain.Order{}, fmt.Errorf("%w: total %d is below %d", ErrBelowMinimumOrderAmount, totals.TotalAmount, s.minimumAmount)
	}

	now := s.clock()
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		orderID = orderIDPrefix + s.newID()
	}
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order: allocate order number: %w", err)
	}

	order := domain.Order{
		ID:          orderID,
		OrderNumber: number,
		CustomerID:  customerID,
		Currency:    code,
		Customer:    cmd.Customer,
		Delivery:    delivery,
		Items:       items,
		Totals:      totals,
		StatusHistory: domain.NewStatusHistory(domain.StatusEntry{
			ID:        statusEntryIDPrefix + s.newID(),
			Status:    domain.OrderStatusConfirmed,
			ChangedAt: now,
			ChangedBy: actor,
		}),
		Financials: domain.Financials{
			DefaultPaymentMethod: method,
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	order.RecomputeFinancials()

	if err := s.orders.Insert(ctx, order); err != nil {
		if isConflict(err) {
			return domain.Order{}, fmt.Errorf("%w: order %s already exists", ErrOrderInvalidInput, orderID)
		}
		return domain.Order{}, mapRepositoryError(err)
	}

	if s.mutator.publisher != nil {
		s.mutator.publisher.Publish(ctx, BuildPatch(domain.Order{}, order, now))
	}
	s.logger(ctx, orderEventRegistered, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"totalAmount": order.Totals.TotalAmount,
		"actorId":     actor,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultOrderListLimit
	case filter.Limit > maxOrderListLimit:
		filter.Limit = maxOrderListLimit
	}
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (TransitionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	reason := s.sanitizer.Sanitize(cmd.CancellationReason)

	var (
		entry    domain.StatusEntry
		previous domain.OrderStatus
	)
	order, _, err := s.mutator.mutate(ctx, orderID, "transition_status", func(order domain.Order, now time.Time) (domain.Order, error) {
		previous = order.Status()
		next, appended, err := TransitionStatus(order, cmd.TargetStatus, actor, TransitionOptions{
			EntryID:            statusEntryIDPrefix + s.newID(),
			At:                 now,
			IsRollback:         cmd.IsRollback,
			CancellationReason: reason,
			Changes:            cmd.Changes,
		})
		if err != nil {
			return domain.Order{}, err
		}
		entry = appended
		return next, nil
	})
	if err != nil {
		return TransitionResult{}, err
	}

	s.metrics.StatusTransitions.WithLabelValues(string(entry.Status), strconv.FormatBool(entry.IsRollback)).Inc()
	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId":        order.ID,
		"previousStatus": string(previous),
		"currentStatus":  string(entry.Status),
		"rollback":       entry.IsRollback,
		"actorId":        actor,
	})
	return TransitionResult{Order: order, Entry: entry}, nil
}

func (s *orderService) ApplyPayment(ctx context.Context, cmd ApplyPaymentCommand) (LedgerResult, error) {
	if !cmd.Method.IsOffline() {
		return LedgerResult{}, fmt.Errorf("%w: %q is not an offline payment method", ErrOrderInvalidInput, cmd.Method)
	}
	action := domain.LedgerAction{
		Method:            cmd.Method,
		Amount:            cmd.Amount,
		ExternalReference: s.sanitizer.Sanitize(cmd.ExternalReference),
	}
	return s.appendLedger(ctx, cmd.OrderID, cmd.ActorID, "apply_payment", func(order domain.Order, stamp LedgerStamp) (domain.Order, domain.LedgerEvent, error) {
		return ApplyPaymentEvent(order, action, stamp)
	})
}

func (s *orderService) ApplyRefund(ctx context.Context, cmd ApplyRefundCommand) (LedgerResult, error) {
	if !cmd.Method.IsOffline() {
		return LedgerResult{}, fmt.Errorf("%w: %q is not an offline refund method", ErrOrderInvalidInput, cmd.Method)
	}
	action := domain.LedgerAction{
		Method:            cmd.Method,
		Amount:            cmd.Amount,
		OriginalPaymentID: strings.TrimSpace(cmd.OriginalPaymentID),
		ExternalReference: s.sanitizer.Sanitize(cmd.ExternalReference),
	}
	return s.appendLedger(ctx, cmd.OrderID, cmd.ActorID, "apply_refund", func(order domain.Order, stamp LedgerStamp) (domain.Order, domain.LedgerEvent, error) {
		return ApplyRefundEvent(order, action, stamp)
	})
}

func (s *orderService) appendLedger(ctx context.Context, orderID, actorID, command string,
	apply func(domain.Order, LedgerStamp) (domain.Order, domain.LedgerEvent, error)) (LedgerResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return LedgerResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(actorID)

	var event domain.LedgerEvent
	order, _, err := s.mutator.mutate(ctx, orderID, command, func(order domain.Order, now time.Time) (domain.Order, error) {
		next, appended, err := apply(order, LedgerStamp{
			EventID: ledgerEventIDPrefix + s.newID(),
			Actor:   actor,
			At:      now,
		})
		if err != nil {
			return domain.Order{}, err
		}
		event = appended
		return next, nil
	})
	if err != nil {
		return LedgerResult{}, err
	}

	s.recordLedgerEvent(order, event)
	s.logger(ctx, orderEventLedgerAppended, map[string]any{
		"orderId": order.ID,
		"eventId": event.EventID,
		"event":   string(event.Event),
		"method":  string(event.Action.Method),
		"amount":  event.Action.Amount,
		"state":   string(order.Financials.State),
		"actorId": actor,
	})
	return LedgerResult{Order: order, Event: event}, nil
}

func (s *orderService) VoidEvent(ctx context.Context, cmd VoidEventCommand) (LedgerResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return LedgerResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	note := s.sanitizer.Sanitize(cmd.Note)

	var voided domain.LedgerEvent
	order, _, err := s.mutator.mutate(ctx, orderID, "void_event", func(order domain.Order, now time.Time) (domain.Order, error) {
		next, event, err := VoidEvent(order, cmd.EventID, VoidStamp{Actor: actor, At: now, Note: note})
		if err != nil {
			return domain.Order{}, err
		}
		voided = event
		return next, nil
	})
	if err != nil {
		return LedgerResult{}, err
	}

	s.metrics.LedgerEvents.WithLabelValues("void", string(voided.Action.Method)).Inc()
	s.logger(ctx, orderEventLedgerVoided, map[string]any{
		"orderId": order.ID,
		"eventId": voided.EventID,
		"event":   string(voided.Event),
		"amount":  voided.Action.Amount,
		"state":   string(order.Financials.State),
		"actorId": actor,
	})
	return LedgerResult{Order: order, Event: voided}, nil
}

func (s *orderService) EditItems(ctx context.Context, cmd EditItemsCommand) (ItemEditResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return ItemEditResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return ItemEditResult{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}
	reason := s.sanitizer.Sanitize(cmd.Reason)

	var result ReconciliationResult
	order, _, err := s.mutator.mutate(ctx, orderID, "edit_items", func(order domain.Order, now time.Time) (domain.Order, error) {
		stock, err := s.inventory.Snapshot(ctx, proposedProductIDs(cmd.Quantities))
		if err != nil {
			return domain.Order{}, fmt.Errorf("order: read stock: %w", mapRepositoryError(err))
		}
		result, err = ReconcileItemEdit(order, cmd.Quantities, stock, s.minimumAmount)
		if err != nil {
			return domain.Order{}, err
		}
		switch result.Outcome {
		case ReconciliationInvalid:
			return domain.Order{}, &ItemEditRejectedError{Reason: ErrOrderInvalidInput, Adjustments: result.Adjustments, Totals: order.Totals, FieldErrors: result.FieldErrors}
		case ReconciliationLimitation:
			return domain.Order{}, &ItemEditRejectedError{Reason: ErrBelowMinimumOrderAmount, Adjustments: result.Adjustments, Totals: result.Totals}
		}
		if len(result.Changes) == 0 {
			return domain.Order{}, errNoChange
		}

		order.Items = result.Items
		order.Totals = result.Totals
		order.AuditLog.Append(domain.AuditEntry{
			ID:        auditEntryIDPrefix + s.newID(),
			Kind:      domain.AuditKindItems,
			Changes:   result.Changes,
			Reason:    reason,
			ChangedBy: actor,
			ChangedAt: now,
		})
		order.RecomputeFinancials()
		return order, nil
	})

	if result.Outcome != "" {
		s.metrics.Reconciliations.WithLabelValues(string(result.Outcome)).Inc()
	}
	var rejected *ItemEditRejectedError
	if errors.As(err, &rejected) {
		s.logger(ctx, orderEventItemsRejected, map[string]any{
			"orderId":     orderID,
			"outcome":     string(result.Outcome),
			"adjustments": len(rejected.Adjustments),
			"totalAmount": rejected.Totals.TotalAmount,
		})
		return ItemEditResult{}, err
	}
	if err != nil {
		return ItemEditResult{}, err
	}

	s.logger(ctx, orderEventItemsEdited, map[string]any{
		"orderId":     order.ID,
		"outcome":     string(result.Outcome),
		"adjustments": len(result.Adjustments),
		"totalAmount": order.Totals.TotalAmount,
		"actorId":     actor,
	})
	return ItemEditResult{Order: order, Outcome: result.Outcome, Adjustments: result.Adjustments}, nil
}

func (s *orderService) EditDetails(ctx context.Context, cmd EditDetailsCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return domain.Order{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}
	if cmd.Customer == nil && cmd.Delivery == nil && cmd.DefaultPaymentMethod == nil {
		return domain.Order{}, fmt.Errorf("%w: nothing to edit", ErrOrderInvalidInput)
	}
	if cmd.Customer != nil && strings.TrimSpace(cmd.Customer.Name) == "" {
		return domain.Order{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	var delivery domain.DeliveryInfo
	if cmd.Delivery != nil {
		normalized, err := s.normalizeDelivery(*cmd.Delivery)
		if err != nil {
			return domain.Order{}, err
		}
		delivery = normalized
	}
	if cmd.DefaultPaymentMethod != nil && !validPaymentMethod(*cmd.DefaultPaymentMethod) {
		return domain.Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, *cmd.DefaultPaymentMethod)
	}
	reason := s.sanitizer.Sanitize(cmd.Reason)

	var changes []domain.FieldChange
	order, _, err := s.mutator.mutate(ctx, orderID, "edit_details", func(order domain.Order, now time.Time) (domain.Order, error) {
		if !order.IsActive() {
			return domain.Order{}, fmt.Errorf("%w: order %s is %s", ErrOrderFinalized, order.ID, order.Status())
		}
		changes = nil
		if cmd.Customer != nil && *cmd.Customer != order.Customer {
			changes = append(changes, domain.FieldChange{Field: domain.PathCustomer, Before: order.Customer, After: *cmd.Customer})
			order.Customer = *cmd.Customer
		}
		if cmd.Delivery != nil && !reflect.DeepEqual(delivery, order.Delivery) {
			changes = append(changes, domain.FieldChange{Field: domain.PathDelivery, Before: order.Delivery, After: delivery})
			order.Delivery = delivery
		}
		if cmd.DefaultPaymentMethod != nil && *cmd.DefaultPaymentMethod != order.Financials.DefaultPaymentMethod {
			changes = append(changes, domain.FieldChange{
				Field:  domain.PathFinancialDefaultMethod,
				Before: order.Financials.DefaultPaymentMethod,
				After:  *cmd.DefaultPaymentMethod,
			})
			order.Financials.DefaultPaymentMethod = *cmd.DefaultPaymentMethod
		}
		if len(changes) == 0 {
			return domain.Order{}, errNoChange
		}
		order.AuditLog.Append(domain.AuditEntry{
			ID:        auditEntryIDPrefix + s.newID(),
			Kind:      domain.AuditKindDetails,
			Changes:   changes,
			Reason:    reason,
			ChangedBy: actor,
			ChangedAt: now,
		})
		return order, nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if len(changes) > 0 {
		fields := make([]string, 0, len(changes))
		for _, change := range changes {
			fields = append(fields, change.Field)
		}
		s.logger(ctx, orderEventDetailsEdited, map[string]any{
			"orderId": order.ID,
			"fields":  fields,
			"actorId": actor,
		})
	}
	return order, nil
}

func (s *orderService) recordLedgerEvent(order domain.Order, event domain.LedgerEvent) {
	s.metrics.LedgerEvents.WithLabelValues(string(event.Event), string(event.Action.Method)).Inc()
	s.metrics.LedgerAmount.WithLabelValues(string(event.Event), order.Currency).Add(float64(event.Action.Amount))
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("20060102")
	seq, err := s.counters.Next(ctx, orderNumberCounterPrefix+day, maxDailyOrderNumber)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorExhausted {
			return "", fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
		return "", mapRepositoryError(err)
	}
	return fmt.Sprintf("ORD-%s-%06d", day, seq), nil
}

func (s *orderService) normalizeDelivery(delivery domain.DeliveryInfo) (domain.DeliveryInfo, error) {
	switch delivery.Method {
	case domain.DeliveryMethodPickup:
		delivery.Address = nil
	case domain.DeliveryMethodDelivery:
		addr := delivery.Address
		if addr == nil || strings.TrimSpace(addr.PostalCode) == "" || strings.TrimSpace(addr.Line1) == "" {
			return domain.DeliveryInfo{}, fmt.Errorf("%w: delivery address requires postal code and line1", ErrOrderInvalidInput)
		}
	default:
		return domain.DeliveryInfo{}, fmt.Errorf("%w: unknown delivery method %q", ErrOrderInvalidInput, delivery.Method)
	}
	delivery.Notes = s.sanitizer.Sanitize(delivery.Notes)
	if delivery.ScheduledFor != nil {
		at := delivery.ScheduledFor.UTC()
		delivery.ScheduledFor = &at
	}
	if delivery.Address != nil {
		addr := *delivery.Address
		delivery.Address = &addr
	}
	return delivery, nil
}

func validateOrderItems(items []domain.OrderItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		switch {
		case productID == "":
			return fmt.Errorf("%w: items[%d].productId is required", ErrOrderInvalidInput, i)
		case item.Quantity <= 0:
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrOrderInvalidInput, i)
		case item.UnitPrice < 0:
			return fmt.Errorf("%w: items[%d].unitPrice must not be negative", ErrOrderInvalidInput, i)
		case item.AppliedDiscount < 0 || item.AppliedDiscount > item.UnitPrice:
			return fmt.Errorf("%w: items[%d].appliedDiscount must be within unit price", ErrOrderInvalidInput, i)
		}
		if _, dup := seen[productID]; dup {
			return fmt.Errorf("%w: product %s listed twice", ErrOrderInvalidInput, productID)
		}
		seen[productID] = struct{}{}
	}
	return nil
}

func proposedProductIDs(quantities map[string]int) []string {
	ids := make([]string, 0, len(quantities))
	for productID := range quantities {
		ids = append(ids, productID)
	}
	return ids
}

func normalizeCurrency(code, fallback string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = fallback
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: unknown currency %q", ErrOrderInvalidInput, code)
	}
	return unit.String(), nil
}

func validPaymentMethod(method domain.PaymentMethod) bool {
	return method.IsOffline() || method == domain.PaymentMethodOnline
}

type trimSanitizer struct{}

func (trimSanitizer) Sanitize(input string) string { return strings.TrimSpace(input) }
