package services

import (
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/order-engine/internal/domain"
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusConfirmed:      {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:     {domain.OrderStatusReadyForPickup, domain.OrderStatusInDelivery, domain.OrderStatusCancelled},
	domain.OrderStatusReadyForPickup: {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusInDelivery:     {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
}

// TransitionOptions carries the optional parts of a status change.
type TransitionOptions struct {
	EntryID            string
	At                 time.Time
	IsRollback         bool
	CancellationReason string
	Changes            []domain.FieldChange
}

// CanTransition reports whether target is reachable from current through the table.
func CanTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

// AllowedTransitions lists forward targets of current.
func AllowedTransitions(current domain.OrderStatus) []domain.OrderStatus {
	return slices.Clone(orderStateTransitions[current])
}

// TransitionStatus validates target against the current status and appends
// exactly one history entry to a copy of order.
func TransitionStatus(order domain.Order, target domain.OrderStatus, actor string, opts TransitionOptions) (domain.Order, domain.StatusEntry, error) {
	if !target.Valid() {
		return domain.Order{}, domain.StatusEntry{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}
	if strings.TrimSpace(actor) == "" {
		return domain.Order{}, domain.StatusEntry{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}
	current, ok := order.StatusHistory.Last()
	if !ok {
		return domain.Order{}, domain.StatusEntry{}, fmt.Errorf("%w: order %s has no status history", ErrOrderInvalidInput, order.ID)
	}
	if current.Status.IsFinal() {
		return domain.Order{}, domain.StatusEntry{}, fmt.Errorf("%w: order %s is %s", ErrOrderFinalized, order.ID, current.Status)
	}

	reason := strings.TrimSpace(opts.CancellationReason)
	if opts.IsRollback {
		if err := validateRollback(order.StatusHistory, target); err != nil {
			return domain.Order{}, domain.StatusEntry{}, err
		}
	} else {
		if !CanTransition(current.Status, target) {
			return domain.Order{}, domain.StatusEntry{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
		}
		if target == domain.OrderStatusCancelled && reason == "" {
			return domain.Order{}, domain.StatusEntry{}, ErrMissingReason
		}
	}

	at := opts.At.UTC()
	if at.Before(current.ChangedAt) {
		at = current.ChangedAt
	}

	entry := domain.StatusEntry{
		ID:         opts.EntryID,
		Status:     target,
		ChangedAt:  at,
		ChangedBy:  actor,
		IsRollback: opts.IsRollback,
		Changes:    slices.Clone(opts.Changes),
	}
	if target == domain.OrderStatusCancelled {
		entry.CancellationReason = reason
	}

	next := order.Clone()
	next.StatusHistory.Append(entry)
	next.UpdatedAt = at
	return next, entry, nil
}

// validateRollback allows returning to the status recorded immediately before
// the current entry, unless the current entry is itself a rollback.
func validateRollback(history domain.StatusHistory, target domain.OrderStatus) error {
	if history.Len() < 2 {
		return fmt.Errorf("%w: nothing to roll back", ErrInvalidTransition)
	}
	current := history.At(history.Len() - 1)
	if current.IsRollback {
		return fmt.Errorf("%w: %s was already reached by a rollback", ErrInvalidTransition, current.Status)
	}
	previous := history.At(history.Len() - 2)
	if previous.Status != target {
		return fmt.Errorf("%w: rollback must return to %s, got %s", ErrInvalidTransition, previous.Status, target)
	}
	return nil
}
