/*
ledger.go - Reservation ledger and the availability invariant

PURPOSE:
  The reservation ledger owns the one system-wide invariant:

    available = on_hand - sum(reserved of active+confirmed) - locked >= 0

  after every committed mutation. Available quantity is DERIVED on every
  read from live reservation rows, never cached, so it cannot drift from
  the ledger.

CONCURRENCY:
  Every primitive here takes a StoreView. Mutating primitives must be
  called inside Store.WithLot for the target lot: the availability check
  re-reads under the lock (never trust a pre-lock read), which closes the
  check-then-act race where two concurrent callers each observe stock and
  double-reserve it. The loser of a race legitimately fails with
  InsufficientStock even though it "would have" succeeded against its
  stale preview. That is the mechanism preventing double-booking.

  Primitives stage changes but never own the commit: the caller of
  WithLot decides the boundary, so "create order line + reserve stock"
  can commit as one unit.

LIFECYCLE:
  active --Confirm--> confirmed
  active/confirmed --Release--> released (terminal, row kept for audit)

  Transfer repoints a reservation to a new demand without changing its
  quantity; UpdateQuantity grows (revalidated) or shrinks (never fails)
  the hold.

SEE ALSO:
  - store.go: Locking contract
  - controller.go: Orchestration of reserve/confirm/release protocols
  - movement.go: Physical withdrawals sharing the same availability figure
*/
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RESERVATION LEDGER
// =============================================================================

// ReservationLedger provides the reservation primitives. It is stateless:
// all state lives behind the StoreView each call receives.
type ReservationLedger struct {
	Clock Clock
}

func NewReservationLedger(clock Clock) *ReservationLedger {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ReservationLedger{Clock: clock}
}

// ReserveOptions carries the optional parts of a Reserve call.
type ReserveOptions struct {
	// Status of the new reservation; defaults to ReservationActive.
	// ReservationConfirmed creates a hard hold directly (used when a firm
	// demand reserves without a provisional stage).
	Status ReservationStatus

	// ExpiresAt marks the reservation for the external sweeper.
	ExpiresAt *time.Time
}

// Reserve creates a reservation against a lot.
//
// Must run inside Store.WithLot(lotID). Availability is recomputed under
// the lock; if available < quantity the call fails with
// InsufficientStockError carrying lot id, requested and available.
// A lot that is locked, depleted or expired has zero allocatable stock.
func (rl *ReservationLedger) Reserve(
	ctx context.Context,
	v StoreView,
	lotID LotID,
	sourceType SourceType,
	sourceID string,
	quantity Quantity,
	opts ReserveOptions,
) (*Reservation, error) {
	if !quantity.IsPositive() {
		return nil, &InvalidQuantityError{Op: "reserve", Quantity: quantity}
	}

	lot, err := v.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}

	now := rl.Clock.Now()
	available, err := rl.availableOf(ctx, v, lot, now)
	if err != nil {
		return nil, err
	}
	if available.LessThan(quantity) {
		return nil, &InsufficientStockError{LotID: lotID, Requested: quantity, Available: available}
	}

	status := opts.Status
	if status == "" {
		status = ReservationActive
	}

	r := &Reservation{
		ID:         ReservationID(uuid.NewString()),
		LotID:      lotID,
		SourceType: sourceType,
		SourceID:   sourceID,
		Quantity:   quantity,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  opts.ExpiresAt,
	}
	if status == ReservationConfirmed {
		r.ConfirmedAt = &now
	}

	if err := v.InsertReservation(ctx, r); err != nil {
		return nil, err
	}
	if err := rl.touchLot(ctx, v, lot, now); err != nil {
		return nil, err
	}
	return r, nil
}

// Release sets the reservation to released and stamps the release time.
//
// This primitive does not re-check the current status: releasing an
// already-released reservation rewrites the same terminal state. Callers
// needing idempotent semantics use the controller's Cancel wrapper.
func (rl *ReservationLedger) Release(ctx context.Context, v StoreView, id ReservationID) (*Reservation, error) {
	r, err := v.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	now := rl.Clock.Now()
	r.Status = ReservationReleased
	r.ReleasedAt = &now
	if err := v.UpdateReservation(ctx, r); err != nil {
		return nil, err
	}
	if err := rl.touchLotByID(ctx, v, r.LotID, now); err != nil {
		return nil, err
	}
	return r, nil
}

// Confirm transitions active -> confirmed, stamping the confirmation time.
// Confirming an already-confirmed reservation is a no-op returning the
// existing record. A released reservation cannot be confirmed.
func (rl *ReservationLedger) Confirm(ctx context.Context, v StoreView, id ReservationID) (*Reservation, error) {
	r, err := v.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == ReservationConfirmed {
		return r, nil
	}
	if r.Status == ReservationReleased {
		return nil, &InvalidTransferStateError{ReservationID: id, Status: r.Status}
	}

	now := rl.Clock.Now()
	r.Status = ReservationConfirmed
	r.ConfirmedAt = &now
	if err := v.UpdateReservation(ctx, r); err != nil {
		return nil, err
	}
	if err := rl.touchLotByID(ctx, v, r.LotID, now); err != nil {
		return nil, err
	}
	return r, nil
}

// Transfer repoints a reservation to a different demand without changing
// its reserved quantity. Used when a provisional forecast-driven hold
// becomes a firm order's hold.
//
// Fails with InvalidTransferStateError if the reservation is released.
// ConfirmedAt, once set, is preserved and never cleared, even when the
// caller downgrades the status.
func (rl *ReservationLedger) Transfer(
	ctx context.Context,
	v StoreView,
	id ReservationID,
	newSourceType SourceType,
	newSourceID string,
	newStatus *ReservationStatus,
) (*Reservation, error) {
	r, err := v.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == ReservationReleased {
		return nil, &InvalidTransferStateError{ReservationID: id, Status: r.Status}
	}

	now := rl.Clock.Now()
	r.SourceType = newSourceType
	r.SourceID = newSourceID
	if newStatus != nil {
		r.Status = *newStatus
		if r.Status == ReservationConfirmed && r.ConfirmedAt == nil {
			r.ConfirmedAt = &now
		}
	}

	if err := v.UpdateReservation(ctx, r); err != nil {
		return nil, err
	}
	if err := rl.touchLotByID(ctx, v, r.LotID, now); err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateQuantity changes the reserved amount. Increasing re-validates
// availability under the lock exactly as Reserve does; decreasing never
// fails. The new quantity must stay positive: shrinking to zero is a
// Release, not an update.
func (rl *ReservationLedger) UpdateQuantity(ctx context.Context, v StoreView, id ReservationID, newQuantity Quantity) (*Reservation, error) {
	if !newQuantity.IsPositive() {
		return nil, &InvalidQuantityError{Op: "update_quantity", Quantity: newQuantity}
	}

	r, err := v.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == ReservationReleased {
		return nil, &InvalidTransferStateError{ReservationID: id, Status: r.Status}
	}

	now := rl.Clock.Now()
	if newQuantity.GreaterThan(r.Quantity) {
		lot, err := v.GetLot(ctx, r.LotID)
		if err != nil {
			return nil, err
		}
		available, err := rl.availableOf(ctx, v, lot, now)
		if err != nil {
			return nil, err
		}
		increase := newQuantity.Sub(r.Quantity)
		if available.LessThan(increase) {
			return nil, &InsufficientStockError{LotID: r.LotID, Requested: increase, Available: available}
		}
	}

	r.Quantity = newQuantity
	if err := v.UpdateReservation(ctx, r); err != nil {
		return nil, err
	}
	if err := rl.touchLotByID(ctx, v, r.LotID, now); err != nil {
		return nil, err
	}
	return r, nil
}

// =============================================================================
// DERIVED READS - Always recomputed from live rows
// =============================================================================

// ReservedQuantity sums the active and confirmed reservations on a lot.
func (rl *ReservationLedger) ReservedQuantity(ctx context.Context, v StoreView, lotID LotID) (Quantity, error) {
	reservations, err := v.ReservationsByLot(ctx, lotID)
	if err != nil {
		return Quantity{}, err
	}
	total := ZeroQuantity()
	for i := range reservations {
		if reservations[i].CountsAgainstAvailability() {
			total = total.Add(reservations[i].Quantity)
		}
	}
	return total, nil
}

// AvailableQuantity returns on_hand - reserved(active+confirmed) - locked.
// A lot that is locked, depleted or expired reports zero.
//
// Called outside a lock this is a display figure; commit decisions must
// recompute it inside Store.WithLot.
func (rl *ReservationLedger) AvailableQuantity(ctx context.Context, v StoreView, lotID LotID) (Quantity, error) {
	lot, err := v.GetLot(ctx, lotID)
	if err != nil {
		return Quantity{}, err
	}
	return rl.availableOf(ctx, v, lot, rl.Clock.Now())
}

func (rl *ReservationLedger) availableOf(ctx context.Context, v StoreView, lot *Lot, now time.Time) (Quantity, error) {
	if !lot.Allocatable(now) {
		return ZeroQuantity(), nil
	}
	reserved, err := rl.ReservedQuantity(ctx, v, lot.ID)
	if err != nil {
		return Quantity{}, err
	}
	return lot.OnHand.Sub(reserved).Sub(lot.Locked), nil
}

// =============================================================================
// LOT STALENESS MARKER
// =============================================================================

// Every ledger mutation bumps the parent lot's UpdatedAt so downstream
// caches and views can detect staleness.

func (rl *ReservationLedger) touchLot(ctx context.Context, v StoreView, lot *Lot, now time.Time) error {
	lot.UpdatedAt = now
	return v.SaveLot(ctx, lot)
}

func (rl *ReservationLedger) touchLotByID(ctx context.Context, v StoreView, lotID LotID, now time.Time) error {
	lot, err := v.GetLot(ctx, lotID)
	if err != nil {
		return err
	}
	return rl.touchLot(ctx, v, lot, now)
}
