/*
Package inventory provides the lot reservation and FEFO allocation engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking
  physical inventory lots and reserving them against competing demands.
  The same engine computes true availability under concurrent access,
  selects lots first-expiry-first-out, promotes provisional holds to
  binding ones, and arbitrates priority when a high-priority demand must
  displace lower-priority holds.

KEY CONCEPTS IN THIS FILE (types.go):
  - Quantity: A stock amount backed by decimal.Decimal (no float drift)
  - Lot: A physically identifiable batch of one product at one warehouse
  - Reservation: A claim against a lot's stock on behalf of a demand
  - StockMovement: An immutable signed delta against a lot's on-hand
  - SourceType: The closed set of demand sources with a priority ordering

DESIGN PRINCIPLES:
  1. Derived, never cached: available quantity is always recomputed from
     live reservation rows, so reads cannot go stale against the ledger.
  2. Soft delete as status: reservations and lots carry terminal statuses
     plus timestamps; rows are never removed. This is an audit requirement.
  3. Precision: decimal.Decimal for all quantities.
  4. Closed enums: demand sources are a tagged enum with one priority
     table, never scattered conditionals.

SEE ALSO:
  - ledger.go: Reservation ledger owning the availability invariant
  - planner.go: FEFO allocation planning
  - preemption.go: Priority-based displacement of soft reservations
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY - Stock amount (decimal-backed)
// =============================================================================

type Quantity struct {
	Value decimal.Decimal
}

func NewQuantity(value float64) Quantity {
	return Quantity{Value: decimal.NewFromFloat(value)}
}

func NewQuantityFromInt(value int) Quantity {
	return Quantity{Value: decimal.NewFromInt(int64(value))}
}

func MustParseQuantity(s string) Quantity {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{Value: decimal.Zero}
	}
	return Quantity{Value: d}
}

func ZeroQuantity() Quantity { return Quantity{Value: decimal.Zero} }

func (q Quantity) Add(o Quantity) Quantity      { return Quantity{Value: q.Value.Add(o.Value)} }
func (q Quantity) Sub(o Quantity) Quantity      { return Quantity{Value: q.Value.Sub(o.Value)} }
func (q Quantity) Neg() Quantity                { return Quantity{Value: q.Value.Neg()} }
func (q Quantity) IsZero() bool                 { return q.Value.IsZero() }
func (q Quantity) IsNegative() bool             { return q.Value.IsNegative() }
func (q Quantity) IsPositive() bool             { return q.Value.IsPositive() }
func (q Quantity) Equal(o Quantity) bool        { return q.Value.Equal(o.Value) }
func (q Quantity) GreaterThan(o Quantity) bool  { return q.Value.GreaterThan(o.Value) }
func (q Quantity) LessThan(o Quantity) bool     { return q.Value.LessThan(o.Value) }
func (q Quantity) GreaterOrEqual(o Quantity) bool { return !q.Value.LessThan(o.Value) }
func (q Quantity) String() string               { return q.Value.String() }

func (q Quantity) Min(o Quantity) Quantity {
	if q.LessThan(o) {
		return q
	}
	return o
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LotID string
type ReservationID string
type MovementID string
type OrderID string
type OrderLineID string
type ProductID string
type WarehouseID string

// =============================================================================
// SOURCE TYPE - Closed demand-source enum with priority ordering
// =============================================================================

// SourceType identifies which kind of demand a reservation belongs to.
// The set is closed: adding a new source means adding one constant and one
// row in the priority table below, nothing else.
type SourceType string

const (
	SourceForecast SourceType = "forecast"
	SourceSpot     SourceType = "spot"
	SourceManual   SourceType = "manual"
	SourceOrder    SourceType = "order"
	SourceKanban   SourceType = "kanban"
)

// sourcePriority is the single priority ordering table. Higher value wins.
// Preemption releases lower-priority soft reservations first.
// Manual holds rank with forecast-linked ones: both are provisional
// planning artifacts, not firm commitments.
var sourcePriority = map[SourceType]int{
	SourceForecast: 1,
	SourceManual:   1,
	SourceSpot:     2,
	SourceOrder:    3,
	SourceKanban:   4,
}

// Priority returns the preemption rank of the source type.
// Unknown types rank lowest so they can never displace real demand.
func (s SourceType) Priority() int {
	return sourcePriority[s]
}

// Valid reports whether the source type is one of the closed set.
func (s SourceType) Valid() bool {
	_, ok := sourcePriority[s]
	return ok
}

// =============================================================================
// LOT - A physically distinct receipt of stock
// =============================================================================

type LotStatus string

const (
	LotActive   LotStatus = "active"
	LotDepleted LotStatus = "depleted"
	LotLocked   LotStatus = "locked"
)

// Lot is a physically identifiable batch of one product at one warehouse.
//
// INVARIANTS:
//   - OnHand >= 0 at all times
//   - Available = OnHand - reserved(active+confirmed) - Locked >= 0
//     after every committed mutation (enforced by the ledger, not here)
//   - An expired lot is excluded from new allocation
type Lot struct {
	ID          LotID
	ProductID   ProductID
	WarehouseID WarehouseID

	ReceivedAt time.Time
	ExpiresAt  *time.Time // nil = never expires

	OnHand Quantity
	Locked Quantity // administratively frozen, excluded from allocation

	Status LotStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the lot's expiry date, if any, has passed.
func (l *Lot) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// Allocatable reports whether the lot may receive new reservations.
func (l *Lot) Allocatable(now time.Time) bool {
	return l.Status == LotActive && !l.Expired(now)
}

// =============================================================================
// RESERVATION - A claim against a lot's stock
// =============================================================================

type ReservationStatus string

const (
	// ReservationActive is a soft hold: provisional and preemptable.
	ReservationActive ReservationStatus = "active"
	// ReservationConfirmed is a hard hold: binding, displaced only by
	// explicit policy.
	ReservationConfirmed ReservationStatus = "confirmed"
	// ReservationReleased is terminal. Released rows persist for audit and
	// never affect availability.
	ReservationReleased ReservationStatus = "released"
)

type Reservation struct {
	ID    ReservationID
	LotID LotID

	SourceType SourceType
	SourceID   string

	Quantity Quantity
	Status   ReservationStatus

	CreatedAt   time.Time
	ConfirmedAt *time.Time
	ReleasedAt  *time.Time

	// ExpiresAt, if set, marks the reservation for an external sweeper.
	// The engine itself runs no timers.
	ExpiresAt *time.Time
}

// CountsAgainstAvailability reports whether the reservation reduces the
// lot's available quantity. Only active and confirmed rows count.
func (r *Reservation) CountsAgainstAvailability() bool {
	return r.Status == ReservationActive || r.Status == ReservationConfirmed
}

// Preemptable reports whether the reservation is a soft hold that a
// higher-priority demand may displace.
func (r *Reservation) Preemptable() bool {
	return r.Status == ReservationActive
}

// =============================================================================
// STOCK MOVEMENT - Immutable signed delta against a lot
// =============================================================================

type MovementType string

const (
	MovementWithdrawal MovementType = "withdrawal"
	MovementReturn     MovementType = "return"
)

// StockMovement is an append-only, signed quantity delta against a lot.
// Withdrawals are negative, returns positive. Cancellation of a withdrawal
// is a reversing return entry referencing the original, never a deletion.
type StockMovement struct {
	ID    MovementID
	LotID LotID

	Type     MovementType
	Quantity Quantity // signed: withdrawal < 0, return > 0

	// Link to the business transaction that caused the movement.
	ReferenceID   string
	ReferenceType string

	// ReversalOf points at the original movement when this entry reverses it.
	ReversalOf *MovementID

	CreatedAt time.Time
}
