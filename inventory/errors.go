/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (HTTP layer, order intake) match on these with errors.Is/As
  and translate them to machine-readable reason codes.

ERROR CATEGORIES:
  1. Not-found errors - referenced lot/reservation/order does not exist
  2. Validation errors - bad quantities, illegal lifecycle transitions
  3. Stock errors - insufficient availability at lock time
  4. Commit errors - a multi-lot commit lost a race after preview

PROPAGATION POLICY:
  Validation and not-found errors are raised immediately and never retried
  automatically. InsufficientStock is recoverable: the caller may invoke
  preemption and re-plan. AllocationCommitError means the whole plan must
  be retried; nothing from the failed commit persists.

SEE ALSO:
  - ledger.go: Raises stock and validation errors
  - controller.go: Raises AllocationCommitError
  - order.go: Raises InvalidStateTransition
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrLotNotFound is returned when a referenced lot id does not exist.
	ErrLotNotFound = errors.New("lot not found")

	// ErrReservationNotFound is returned when a referenced reservation id
	// does not exist.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrOrderNotFound is returned when a referenced order id does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrMovementNotFound is returned when a referenced stock movement id
	// does not exist.
	ErrMovementNotFound = errors.New("stock movement not found")

	// ErrMovementAlreadyReversed is returned when reversing a movement
	// that already has a reversing entry. The trail stays replayable:
	// one reversal per original.
	ErrMovementAlreadyReversed = errors.New("stock movement already reversed")

	// ErrInsufficientStock is returned when a requested quantity exceeds
	// the lot's available quantity at lock time.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidQuantity is returned for non-positive quantities supplied
	// to reserve/update/withdraw.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidTransferState is returned when transferring a released
	// reservation.
	ErrInvalidTransferState = errors.New("invalid transfer state")

	// ErrInvalidStateTransition is returned for order status transitions
	// not present in the transition table.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrAllocationCommit is returned when a multi-lot commit failed after
	// preview; the caller must retry the whole plan.
	ErrAllocationCommit = errors.New("allocation commit failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports a shortage on a specific lot, with the
// figures the caller needs for display.
type InsufficientStockError struct {
	LotID     LotID
	Requested Quantity
	Available Quantity
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock on lot %s: requested %s, available %s",
		e.LotID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidQuantityError reports a non-positive quantity.
type InvalidQuantityError struct {
	Op       string
	Quantity Quantity
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("%s: quantity must be positive, got %s", e.Op, e.Quantity)
}

func (e *InvalidQuantityError) Unwrap() error { return ErrInvalidQuantity }

// InvalidTransferStateError reports an attempt to repoint a reservation
// that is already released.
type InvalidTransferStateError struct {
	ReservationID ReservationID
	Status        ReservationStatus
}

func (e *InvalidTransferStateError) Error() string {
	return fmt.Sprintf("reservation %s cannot be transferred in status %s",
		e.ReservationID, e.Status)
}

func (e *InvalidTransferStateError) Unwrap() error { return ErrInvalidTransferState }

// InvalidStateTransitionError reports an order status transition not
// present in the transition table, carrying the attempted operation name
// for diagnostics.
type InvalidStateTransitionError struct {
	From      OrderStatus
	To        OrderStatus
	Operation string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s: transition %s -> %s not permitted", e.Operation, e.From, e.To)
}

func (e *InvalidStateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// AllocationCommitError reports that a multi-lot commit lost a race with a
// concurrent consumer between preview and commit. The store transaction was
// rolled back; nothing from the plan persists.
type AllocationCommitError struct {
	LotID LotID
	Cause error
}

func (e *AllocationCommitError) Error() string {
	return fmt.Sprintf("allocation commit aborted at lot %s: %v", e.LotID, e.Cause)
}

func (e *AllocationCommitError) Unwrap() error { return ErrAllocationCommit }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLotNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrMovementNotFound)
}

// IsClientError returns true if the error is due to invalid caller input
// or a rejected request; retrying the same call will not succeed.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidTransferState) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrInsufficientStock)
}

// IsRetryable returns true if the same call might succeed on retry.
// Only commit races qualify: availability may have been freed since.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAllocationCommit)
}
