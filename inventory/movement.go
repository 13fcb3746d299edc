/*
movement.go - Stock movement ledger (physical withdrawals and returns)

PURPOSE:
  An immutable transaction log of physical stock changes per lot,
  independent of reservations but sharing the same lot entity and the
  same per-lot lock discipline. Withdrawals are negative entries, returns
  positive, each tied to a reference transaction.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: movements are never updated or deleted.
  2. Corrections are reversing entries (opposite sign, referencing the
     original), so the trail stays complete and replayable.
  3. A withdrawal must leave on_hand - reserved - locked >= 0; the check
     runs under the lot lock, same as Reserve.
  4. on_hand reaching zero flips the lot to depleted; a reversal or
     return restores it to active.

POINT-IN-TIME STOCK:
  Because every on-hand change is a movement, historical stock is a
  replay: on_hand at time T = current on_hand minus the sum of movements
  recorded after T.

SEE ALSO:
  - ledger.go: Reserved quantity feeding the withdrawal check
  - store.go: Lock discipline shared with reservations
*/
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// STOCK LEDGER
// =============================================================================

// StockLedger records physical withdrawals and returns. Mutating calls
// must run inside Store.WithLot for the target lot.
type StockLedger struct {
	Clock        Clock
	Reservations *ReservationLedger
}

func NewStockLedger(clock Clock, reservations *ReservationLedger) *StockLedger {
	if clock == nil {
		clock = SystemClock{}
	}
	return &StockLedger{Clock: clock, Reservations: reservations}
}

// Withdraw removes physical stock from a lot. quantity is positive; the
// recorded movement carries the negative delta.
//
// Precondition, checked under the lot lock: on_hand - reserved - locked
// >= quantity. Reserved stock cannot be withdrawn out from under its
// holder. If on_hand reaches zero the lot flips to depleted.
func (sl *StockLedger) Withdraw(ctx context.Context, v StoreView, lotID LotID, quantity Quantity, referenceID, referenceType string) (*StockMovement, error) {
	if !quantity.IsPositive() {
		return nil, &InvalidQuantityError{Op: "withdraw", Quantity: quantity}
	}

	lot, err := v.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}

	reserved, err := sl.Reservations.ReservedQuantity(ctx, v, lotID)
	if err != nil {
		return nil, err
	}
	// Physical availability: expiry does not protect stock from being
	// pulled, so this is the raw figure, not the allocation one.
	available := lot.OnHand.Sub(reserved).Sub(lot.Locked)
	if available.LessThan(quantity) {
		return nil, &InsufficientStockError{LotID: lotID, Requested: quantity, Available: available}
	}

	now := sl.Clock.Now()
	m := &StockMovement{
		ID:            MovementID(uuid.NewString()),
		LotID:         lotID,
		Type:          MovementWithdrawal,
		Quantity:      quantity.Neg(),
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		CreatedAt:     now,
	}
	if err := v.InsertMovement(ctx, m); err != nil {
		return nil, err
	}

	lot.OnHand = lot.OnHand.Sub(quantity)
	if lot.OnHand.IsZero() && lot.Status == LotActive {
		lot.Status = LotDepleted
	}
	lot.UpdatedAt = now
	if err := v.SaveLot(ctx, lot); err != nil {
		return nil, err
	}
	return m, nil
}

// Return adds physical stock back to a lot as a positive movement.
// A depleted lot reactivates.
func (sl *StockLedger) Return(ctx context.Context, v StoreView, lotID LotID, quantity Quantity, referenceID, referenceType string) (*StockMovement, error) {
	if !quantity.IsPositive() {
		return nil, &InvalidQuantityError{Op: "return", Quantity: quantity}
	}

	lot, err := v.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}

	now := sl.Clock.Now()
	m := &StockMovement{
		ID:            MovementID(uuid.NewString()),
		LotID:         lotID,
		Type:          MovementReturn,
		Quantity:      quantity,
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		CreatedAt:     now,
	}
	if err := v.InsertMovement(ctx, m); err != nil {
		return nil, err
	}

	if err := sl.creditLot(ctx, v, lot, quantity, now); err != nil {
		return nil, err
	}
	return m, nil
}

// Reverse cancels a movement with a reversing entry of the opposite sign
// referencing the original. The original row is never touched. Reversing
// a withdrawal restores on_hand to its pre-withdrawal value and
// reactivates a depleted lot; reversing a return re-checks physical
// availability like a withdrawal. Each movement reverses at most once.
func (sl *StockLedger) Reverse(ctx context.Context, v StoreView, movementID MovementID) (*StockMovement, error) {
	original, err := v.GetMovement(ctx, movementID)
	if err != nil {
		return nil, err
	}
	if original.ReversalOf != nil {
		// A reversal is itself final; undoing it is a fresh movement.
		return nil, ErrMovementAlreadyReversed
	}

	existing, err := v.MovementsByLot(ctx, original.LotID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].ReversalOf != nil && *existing[i].ReversalOf == movementID {
			return nil, ErrMovementAlreadyReversed
		}
	}

	lot, err := v.GetLot(ctx, original.LotID)
	if err != nil {
		return nil, err
	}

	now := sl.Clock.Now()
	reversal := &StockMovement{
		ID:            MovementID(uuid.NewString()),
		LotID:         original.LotID,
		Quantity:      original.Quantity.Neg(),
		ReferenceID:   string(original.ID),
		ReferenceType: "reversal",
		ReversalOf:    &original.ID,
		CreatedAt:     now,
	}

	if original.Type == MovementWithdrawal {
		reversal.Type = MovementReturn
		if err := v.InsertMovement(ctx, reversal); err != nil {
			return nil, err
		}
		if err := sl.creditLot(ctx, v, lot, reversal.Quantity, now); err != nil {
			return nil, err
		}
		return reversal, nil
	}

	// Reversing a return pulls stock back out; same precondition as a
	// withdrawal.
	reversal.Type = MovementWithdrawal
	debit := original.Quantity
	reserved, err := sl.Reservations.ReservedQuantity(ctx, v, lot.ID)
	if err != nil {
		return nil, err
	}
	available := lot.OnHand.Sub(reserved).Sub(lot.Locked)
	if available.LessThan(debit) {
		return nil, &InsufficientStockError{LotID: lot.ID, Requested: debit, Available: available}
	}
	if err := v.InsertMovement(ctx, reversal); err != nil {
		return nil, err
	}
	lot.OnHand = lot.OnHand.Sub(debit)
	if lot.OnHand.IsZero() && lot.Status == LotActive {
		lot.Status = LotDepleted
	}
	lot.UpdatedAt = now
	if err := v.SaveLot(ctx, lot); err != nil {
		return nil, err
	}
	return reversal, nil
}

// Movements returns the full movement trail for a lot, oldest first.
func (sl *StockLedger) Movements(ctx context.Context, v StoreView, lotID LotID) ([]StockMovement, error) {
	return v.MovementsByLot(ctx, lotID)
}

// OnHandAt replays the trail to compute on-hand stock at a past instant:
// current on_hand minus every movement recorded after t.
func (sl *StockLedger) OnHandAt(ctx context.Context, v StoreView, lotID LotID, t time.Time) (Quantity, error) {
	lot, err := v.GetLot(ctx, lotID)
	if err != nil {
		return Quantity{}, err
	}
	movements, err := v.MovementsByLot(ctx, lotID)
	if err != nil {
		return Quantity{}, err
	}

	onHand := lot.OnHand
	for i := range movements {
		if movements[i].CreatedAt.After(t) {
			onHand = onHand.Sub(movements[i].Quantity)
		}
	}
	return onHand, nil
}

func (sl *StockLedger) creditLot(ctx context.Context, v StoreView, lot *Lot, quantity Quantity, now time.Time) error {
	lot.OnHand = lot.OnHand.Add(quantity)
	if lot.Status == LotDepleted && lot.OnHand.IsPositive() {
		lot.Status = LotActive
	}
	lot.UpdatedAt = now
	return v.SaveLot(ctx, lot)
}
