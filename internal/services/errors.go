package services

import (
	"errors"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderUnavailable indicates the ledger store could not be reached.
	ErrOrderUnavailable = errors.New("order: store unavailable")

	// ErrInvalidTransition indicates the target status is not reachable from the current one.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderFinalized indicates the order is completed or cancelled.
	ErrOrderFinalized = errors.New("order: finalized")
	// ErrMissingReason indicates a cancellation without a reason.
	ErrMissingReason = errors.New("order: cancellation reason required")

	// ErrEventNotFound indicates the referenced ledger event does not exist.
	ErrEventNotFound = errors.New("ledger: event not found")
	// ErrAlreadyVoided indicates the ledger event was voided before.
	ErrAlreadyVoided = errors.New("ledger: event already voided")
	// ErrEventSuperseded indicates a payment still has live refunds referencing it.
	ErrEventSuperseded = errors.New("ledger: event superseded by refunds")
	// ErrInvalidAmount covers non-positive amounts, overflow and refunds beyond the paid balance.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrOnlineTransactionInProgress indicates another online payment or refund is pending.
	ErrOnlineTransactionInProgress = errors.New("ledger: online transaction in progress")
	// ErrPaymentProvider indicates the payment provider rejected or failed a request.
	ErrPaymentProvider = errors.New("ledger: payment provider failure")
	// ErrWebhookReplay marks an already processed provider callback. It is absorbed, never surfaced.
	ErrWebhookReplay = errors.New("ledger: webhook replay")

	// ErrBelowMinimumOrderAmount indicates an item edit would drop the total below the floor.
	ErrBelowMinimumOrderAmount = errors.New("items: below minimum order amount")
	// ErrStockAdjusted marks an item edit that was applied with automatic corrections.
	ErrStockAdjusted = errors.New("items: stock adjusted")

	// ErrConcurrentModification indicates retries were exhausted on version conflicts.
	ErrConcurrentModification = errors.New("order: concurrent modification")
)

// FieldError describes a rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ItemEditRejectedError is returned when an item edit is not persisted. It
// carries what the engine computed so the caller can decide how to proceed.
type ItemEditRejectedError struct {
	Reason      error
	Adjustments []ItemAdjustment
	Totals      domain.Totals
	FieldErrors []FieldError
}

func (e *ItemEditRejectedError) Error() string {
	if e == nil || e.Reason == nil {
		return "items: edit rejected"
	}
	return e.Reason.Error()
}

func (e *ItemEditRejectedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Reason
}
