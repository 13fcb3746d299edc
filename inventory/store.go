/*
store.go - Persistence interfaces and the per-lot locking discipline

PURPOSE:
  Defines the boundary between the engine and the database. Correctness
  under concurrency comes from per-lot exclusive critical sections backed
  by storage transactions, not from language-level coordination in the
  domain code.

LOCKING CONTRACT:
  Store.WithLot(lotID, fn) runs fn inside an exclusive critical section
  for that lot AND a storage transaction:
  - Two concurrent WithLot calls on the same lot serialize; the loser
    observes the winner's committed state.
  - Unrelated lots proceed fully in parallel (no global lock).
  - If fn returns an error the transaction rolls back; nothing staged
    inside fn persists.

  Store.WithLots acquires several lots sequentially in the order given.
  Callers pass lots in FEFO plan order, which is stable across all
  callers, so multi-lot commits cannot deadlock on lock ordering.

VIEW SEMANTICS:
  The StoreView handed to fn is valid only inside fn. Ledger primitives
  (Reserve, Confirm, ...) take a StoreView so several of them compose
  into one atomic unit; the caller of WithLot owns the commit boundary.

  Reads used purely for display may go through the Store directly,
  outside any lock; reads feeding a commit decision must re-run inside
  WithLot.

IMPLEMENTATIONS:
  - store/sqlite: production store (per-lot mutexes over WAL SQLite)
  - inventory/store: in-memory store for tests and dev

SEE ALSO:
  - ledger.go: Primitives operating on a StoreView
  - controller.go: Composes primitives under WithLot/WithLots
*/
package inventory

import (
	"context"
	"time"
)

// =============================================================================
// STORE VIEW - Operations available inside a critical section
// =============================================================================

// StoreView is the set of reads and staged writes available both inside a
// WithLot critical section and (for display reads) outside one.
type StoreView interface {
	// GetLot returns the lot or ErrLotNotFound.
	GetLot(ctx context.Context, id LotID) (*Lot, error)

	// SaveLot inserts or updates a lot record.
	SaveLot(ctx context.Context, lot *Lot) error

	// InsertReservation persists a new reservation row.
	InsertReservation(ctx context.Context, r *Reservation) error

	// GetReservation returns the reservation or ErrReservationNotFound.
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)

	// UpdateReservation persists status/quantity/timestamp changes.
	// Reservation rows are soft-deleted only; there is no delete.
	UpdateReservation(ctx context.Context, r *Reservation) error

	// ReservationsByLot returns all reservations against a lot,
	// creation order ascending. Includes released rows; callers filter.
	ReservationsByLot(ctx context.Context, lotID LotID) ([]Reservation, error)

	// ReservationsBySource returns the reservations a demand created,
	// creation order ascending.
	ReservationsBySource(ctx context.Context, sourceType SourceType, sourceID string) ([]Reservation, error)

	// ExpiredReservations returns active reservations whose ExpiresAt has
	// passed. Consumed by the external sweeper path.
	ExpiredReservations(ctx context.Context, now time.Time) ([]Reservation, error)

	// InsertMovement appends a stock movement. Movements are append-only:
	// no update or delete exists at any layer.
	InsertMovement(ctx context.Context, m *StockMovement) error

	// GetMovement returns the movement or an error if absent.
	GetMovement(ctx context.Context, id MovementID) (*StockMovement, error)

	// MovementsByLot returns all movements for a lot, creation order
	// ascending.
	MovementsByLot(ctx context.Context, lotID LotID) ([]StockMovement, error)

	// SaveOrder inserts or updates an order with its lines.
	SaveOrder(ctx context.Context, o *Order) error

	// GetOrder returns the order with its lines or ErrOrderNotFound.
	GetOrder(ctx context.Context, id OrderID) (*Order, error)

	// LotsByProduct returns lots for a product, optionally scoped to one
	// warehouse (empty WarehouseID = all). Used to build planner snapshots.
	LotsByProduct(ctx context.Context, productID ProductID, warehouseID WarehouseID) ([]Lot, error)
}

// =============================================================================
// STORE - View plus locking and transaction composition
// =============================================================================

// Store is a StoreView plus the per-lot critical sections that make
// check-then-act sequences safe.
type Store interface {
	StoreView

	// WithLot runs fn inside an exclusive critical section for the lot and
	// a storage transaction. Blocks until the lock is acquired. If fn
	// returns an error, all staged writes roll back.
	WithLot(ctx context.Context, lotID LotID, fn func(StoreView) error) error

	// WithLots acquires several lots sequentially in the order given, then
	// runs fn in one transaction spanning all of them. Callers must pass
	// lots in FEFO plan order to keep lock acquisition stable.
	WithLots(ctx context.Context, lotIDs []LotID, fn func(StoreView) error) error
}
