/*
controller.go - Reservation lifecycle orchestration

PURPOSE:
  Drives the end-to-end allocation protocol per attempt:

    PREVIEW -> (insufficient?) -> PREEMPT -> RE-PLAN -> COMMIT -> CONFIRM

  Preview plans against current availability and never persists. Commit
  reserves each planned lot inside ONE store transaction spanning the
  plan's lots, acquired in FEFO order; if any single-lot reserve loses a
  race with a concurrent consumer, the whole commit rolls back and
  surfaces AllocationCommitError (all-or-nothing). Preemption runs only
  on the binding path: a claim that will hold stock as confirmed is the
  only demand allowed to displace others' soft holds.

IDEMPOTENT EDGES:
  ConfirmReservation on an already-confirmed reservation is a no-op
  returning the existing record. CancelReservation on an already-released
  reservation is a success, tolerating retries from at-least-once
  callers; that idempotency lives here, not in the Release primitive.

ORDER COUPLING:
  After committing for an order line, the controller recomputes the
  order's status from ledger-derived line coverage (the single source of
  truth) and applies the lifecycle transition if one is due.

SEE ALSO:
  - planner.go: Pure planning
  - preemption.go: The displacement policy
  - order.go: Transition table and coverage derivation
*/
package inventory

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// DEMAND - What a caller asks the controller to satisfy
// =============================================================================

// Demand is a requirement for stock of one product, carrying the priority
// class that arbitrates preemption.
type Demand struct {
	SourceType  SourceType
	SourceID    string
	ProductID   ProductID
	WarehouseID WarehouseID // empty = any warehouse
	Quantity    Quantity

	// ExpiresAt, if set, is stamped onto the created reservations for the
	// external sweeper.
	ExpiresAt *time.Time
}

// AllocateOptions tunes one allocation attempt.
type AllocateOptions struct {
	// Bind creates confirmed (hard) holds and enables preemption: only a
	// would-be binding claim may displace lower-priority soft holds.
	Bind bool

	// AllowPartial commits an incomplete plan instead of failing when
	// stock (after any preemption) cannot cover the full requirement.
	AllowPartial bool
}

// AllocationResult reports what one attempt did.
type AllocationResult struct {
	Plan         *AllocationPlan
	Reservations []Reservation
	Preemptions  []Preemption
}

// =============================================================================
// ALLOCATION CONTROLLER
// =============================================================================

type AllocationController struct {
	Store    Store
	Ledger   *ReservationLedger
	Planner  FEFOPlanner
	Resolver *PreemptionResolver
	Clock    Clock
}

func NewAllocationController(store Store, clock Clock) *AllocationController {
	if clock == nil {
		clock = SystemClock{}
	}
	ledger := NewReservationLedger(clock)
	return &AllocationController{
		Store:    store,
		Ledger:   ledger,
		Resolver: NewPreemptionResolver(ledger),
		Clock:    clock,
	}
}

// Preview builds a plan against current availability without persisting
// anything. The snapshot is unlocked: it can go stale by commit time,
// which Commit handles by re-checking under locks.
func (c *AllocationController) Preview(ctx context.Context, demand Demand) (*AllocationPlan, error) {
	if !demand.Quantity.IsPositive() {
		return nil, &InvalidQuantityError{Op: "preview", Quantity: demand.Quantity}
	}
	candidates, err := c.candidates(ctx, c.Store, demand.ProductID, demand.WarehouseID)
	if err != nil {
		return nil, err
	}
	return c.Planner.Plan(demand.Quantity, candidates), nil
}

// Commit persists an accepted plan: one reservation per plan entry, all
// inside one transaction over the plan's lots in FEFO order. Any reserve
// failure aborts the whole commit; nothing persists and the caller gets
// AllocationCommitError ("please retry allocation").
func (c *AllocationController) Commit(ctx context.Context, demand Demand, plan *AllocationPlan) ([]Reservation, error) {
	var created []Reservation
	err := c.Store.WithLots(ctx, plan.LotIDs(), func(v StoreView) error {
		var err error
		created, err = c.commitLocked(ctx, v, demand, plan, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Allocate runs the whole protocol for a demand. Without Bind it is
// preview+commit of soft holds. With Bind the claim is binding: holds
// commit as confirmed, and a shortfall first displaces lower-priority
// soft reservations before re-planning, all in one transaction over the
// candidate lots.
func (c *AllocationController) Allocate(ctx context.Context, demand Demand, opts AllocateOptions) (*AllocationResult, error) {
	plan, err := c.Preview(ctx, demand)
	if err != nil {
		return nil, err
	}

	if plan.Complete() || (!opts.Bind && opts.AllowPartial) {
		if len(plan.Entries) == 0 && !opts.AllowPartial {
			return nil, fmt.Errorf("allocate %s/%s: no allocatable stock: %w",
				demand.SourceType, demand.SourceID, ErrInsufficientStock)
		}
		var created []Reservation
		err := c.Store.WithLots(ctx, plan.LotIDs(), func(v StoreView) error {
			var err error
			created, err = c.commitLocked(ctx, v, demand, plan, opts.Bind)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &AllocationResult{Plan: plan, Reservations: created}, nil
	}

	if !opts.Bind {
		return nil, fmt.Errorf("allocate %s/%s: short by %s: %w",
			demand.SourceType, demand.SourceID, plan.Shortfall, ErrInsufficientStock)
	}

	return c.allocateWithPreemption(ctx, demand, opts)
}

// allocateWithPreemption locks every candidate lot of the product (FEFO
// order, so lock acquisition stays stable system-wide), then preempts,
// re-plans from locked state, and commits - atomically.
func (c *AllocationController) allocateWithPreemption(ctx context.Context, demand Demand, opts AllocateOptions) (*AllocationResult, error) {
	lots, err := c.candidateLots(ctx, c.Store, demand.ProductID, demand.WarehouseID)
	if err != nil {
		return nil, err
	}
	lotIDs := make([]LotID, len(lots))
	for i := range lots {
		lotIDs[i] = lots[i].LotID
	}

	result := &AllocationResult{}
	err = c.Store.WithLots(ctx, lotIDs, func(v StoreView) error {
		candidates, err := c.candidates(ctx, v, demand.ProductID, demand.WarehouseID)
		if err != nil {
			return err
		}
		plan := c.Planner.Plan(demand.Quantity, candidates)

		if !plan.Complete() {
			preemptions, uncovered, err := c.Resolver.FreeUp(ctx, v, lotIDs, demand.SourceType, demand.SourceID, plan.Shortfall)
			if err != nil {
				return err
			}
			result.Preemptions = preemptions

			candidates, err = c.candidates(ctx, v, demand.ProductID, demand.WarehouseID)
			if err != nil {
				return err
			}
			plan = c.Planner.Plan(demand.Quantity, candidates)

			if !plan.Complete() && !opts.AllowPartial {
				// True physical shortage: everything eligible was already
				// preempted. Roll the preemptions back with the tx.
				return fmt.Errorf("allocate %s/%s: short by %s after preemption: %w",
					demand.SourceType, demand.SourceID, uncovered, ErrInsufficientStock)
			}
		}

		result.Plan = plan
		created, err := c.commitLocked(ctx, v, demand, plan, true)
		if err != nil {
			return err
		}
		result.Reservations = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *AllocationController) commitLocked(ctx context.Context, v StoreView, demand Demand, plan *AllocationPlan, bind bool) ([]Reservation, error) {
	status := ReservationActive
	if bind {
		status = ReservationConfirmed
	}

	created := make([]Reservation, 0, len(plan.Entries))
	for _, entry := range plan.Entries {
		r, err := c.Ledger.Reserve(ctx, v, entry.LotID, demand.SourceType, demand.SourceID, entry.Quantity,
			ReserveOptions{Status: status, ExpiresAt: demand.ExpiresAt})
		if err != nil {
			// Lost a race between preview and commit; the transaction
			// rolls back, so earlier entries vanish with it.
			return nil, &AllocationCommitError{LotID: entry.LotID, Cause: err}
		}
		created = append(created, *r)
	}
	return created, nil
}

// =============================================================================
// CONFIRM / CANCEL - Soft <-> terminal edges with idempotency
// =============================================================================

// ConfirmReservation promotes a soft hold to a hard one. Already
// confirmed is a no-op returning the existing record. confirmQuantity,
// when non-nil, must not exceed the reserved quantity; a smaller value
// shrinks the hold to exactly what is being bound and releases the rest
// of the claim implicitly (the surplus returns to the available pool).
func (c *AllocationController) ConfirmReservation(ctx context.Context, id ReservationID, confirmQuantity *Quantity) (*Reservation, error) {
	existing, err := c.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	var confirmed *Reservation
	err = c.Store.WithLot(ctx, existing.LotID, func(v StoreView) error {
		r, err := v.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == ReservationConfirmed {
			confirmed = r
			return nil
		}

		if confirmQuantity != nil {
			if confirmQuantity.GreaterThan(r.Quantity) {
				return &InvalidQuantityError{Op: "confirm", Quantity: *confirmQuantity}
			}
			if confirmQuantity.LessThan(r.Quantity) {
				if _, err := c.Ledger.UpdateQuantity(ctx, v, id, *confirmQuantity); err != nil {
					return err
				}
			}
		}

		confirmed, err = c.Ledger.Confirm(ctx, v, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// CancelReservation is the idempotent wrapper over Release: cancelling an
// already-released reservation is a success, not an error.
func (c *AllocationController) CancelReservation(ctx context.Context, id ReservationID) (*Reservation, error) {
	existing, err := c.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status == ReservationReleased {
		return existing, nil
	}

	var released *Reservation
	err = c.Store.WithLot(ctx, existing.LotID, func(v StoreView) error {
		r, err := v.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == ReservationReleased {
			released = r
			return nil
		}
		released, err = c.Ledger.Release(ctx, v, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// TransferReservation repoints a hold to a new demand under the lot lock.
func (c *AllocationController) TransferReservation(ctx context.Context, id ReservationID, newType SourceType, newID string, newStatus *ReservationStatus) (*Reservation, error) {
	existing, err := c.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	var transferred *Reservation
	err = c.Store.WithLot(ctx, existing.LotID, func(v StoreView) error {
		transferred, err = c.Ledger.Transfer(ctx, v, id, newType, newID, newStatus)
		return err
	})
	if err != nil {
		return nil, err
	}
	return transferred, nil
}

// ReleaseExpired releases active reservations whose ExpiresAt has passed.
// Called by an external sweeper; the engine runs no timers of its own.
func (c *AllocationController) ReleaseExpired(ctx context.Context, now time.Time) ([]Reservation, error) {
	expired, err := c.Store.ExpiredReservations(ctx, now)
	if err != nil {
		return nil, err
	}

	var released []Reservation
	for i := range expired {
		id, lotID := expired[i].ID, expired[i].LotID
		err := c.Store.WithLot(ctx, lotID, func(v StoreView) error {
			r, err := v.GetReservation(ctx, id)
			if err != nil {
				return err
			}
			// Re-check under the lock: a racing confirm keeps the hold.
			if r.Status != ReservationActive || r.ExpiresAt == nil || r.ExpiresAt.After(now) {
				return nil
			}
			rel, err := c.Ledger.Release(ctx, v, id)
			if err != nil {
				return err
			}
			released = append(released, *rel)
			return nil
		})
		if err != nil {
			return released, err
		}
	}
	return released, nil
}

// =============================================================================
// ORDER ORCHESTRATION
// =============================================================================

// AllocateLine satisfies one order line: the demand inherits the order's
// priority class, the line id is the demand identity, and the order's
// status is recomputed from ledger coverage after the commit.
func (c *AllocationController) AllocateLine(ctx context.Context, orderID OrderID, lineID OrderLineID, opts AllocateOptions) (*AllocationResult, error) {
	order, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderOpen && order.Status != OrderPartAllocated && order.Status != OrderAllocated {
		return nil, &InvalidStateTransitionError{From: order.Status, To: OrderPartAllocated, Operation: "allocate_line"}
	}

	line := findLine(order, lineID)
	if line == nil {
		return nil, fmt.Errorf("order %s has no line %s: %w", orderID, lineID, ErrOrderNotFound)
	}

	already, err := c.lineAllocated(ctx, order.Priority, line)
	if err != nil {
		return nil, err
	}
	outstanding := line.Quantity.Sub(already)
	if !outstanding.IsPositive() {
		return &AllocationResult{Plan: &AllocationPlan{Requested: ZeroQuantity()}}, nil
	}

	result, err := c.Allocate(ctx, Demand{
		SourceType:  order.Priority,
		SourceID:    string(line.ID),
		ProductID:   line.ProductID,
		WarehouseID: line.WarehouseID,
		Quantity:    outstanding,
	}, opts)
	if err != nil {
		return nil, err
	}

	if _, err := c.RefreshOrderStatus(ctx, orderID); err != nil {
		return nil, err
	}
	return result, nil
}

// OrderCoverage derives each line's allocated quantity from the
// reservation ledger. Never cached, never stored.
func (c *AllocationController) OrderCoverage(ctx context.Context, order *Order) ([]LineCoverage, error) {
	coverage := make([]LineCoverage, 0, len(order.Lines))
	for i := range order.Lines {
		line := &order.Lines[i]
		allocated, err := c.lineAllocated(ctx, order.Priority, line)
		if err != nil {
			return nil, err
		}
		coverage = append(coverage, LineCoverage{
			LineID:    line.ID,
			Required:  line.Quantity,
			Allocated: allocated,
		})
	}
	return coverage, nil
}

// RefreshOrderStatus recomputes the order's allocation status from
// ledger coverage and persists the transition when one is due.
func (c *AllocationController) RefreshOrderStatus(ctx context.Context, orderID OrderID) (*Order, error) {
	order, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	coverage, err := c.OrderCoverage(ctx, order)
	if err != nil {
		return nil, err
	}

	target, changed := DeriveAllocationStatus(order.Status, coverage)
	if !changed {
		return order, nil
	}
	order.Status = target
	order.UpdatedAt = c.Clock.Now()
	if err := c.Store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// TransitionOrder applies an explicit lifecycle edge (submit, ship,
// close) by name, for callers driving the machine directly.
func (c *AllocationController) TransitionOrder(ctx context.Context, orderID OrderID, to OrderStatus, operation string) (*Order, error) {
	order, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.Transition(to, operation); err != nil {
		return nil, err
	}
	order.UpdatedAt = c.Clock.Now()
	if err := c.Store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder cancels the order and all its lines, releasing every
// reservation the lines hold. A shipped or completed line blocks the
// cancel for the whole order.
func (c *AllocationController) CancelOrder(ctx context.Context, orderID OrderID) (*Order, error) {
	order, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if blocked := order.CancelBlockedBy(); blocked != nil {
		return nil, &InvalidStateTransitionError{From: order.Status, To: OrderCancelled,
			Operation: fmt.Sprintf("cancel_order(line %s %s)", blocked.ID, blocked.Status)}
	}
	if err := order.Transition(OrderCancelled, "cancel_order"); err != nil {
		return nil, err
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		reservations, err := c.Store.ReservationsBySource(ctx, order.Priority, string(line.ID))
		if err != nil {
			return nil, err
		}
		for j := range reservations {
			if _, err := c.CancelReservation(ctx, reservations[j].ID); err != nil {
				return nil, err
			}
		}
		line.Status = LineCancelled
	}

	order.UpdatedAt = c.Clock.Now()
	if err := c.Store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// =============================================================================
// SNAPSHOT HELPERS
// =============================================================================

func (c *AllocationController) candidateLots(ctx context.Context, v StoreView, productID ProductID, warehouseID WarehouseID) ([]LotCandidate, error) {
	now := c.Clock.Now()
	lots, err := v.LotsByProduct(ctx, productID, warehouseID)
	if err != nil {
		return nil, err
	}

	var candidates []LotCandidate
	for i := range lots {
		if !lots[i].Allocatable(now) {
			continue
		}
		candidates = append(candidates, LotCandidate{
			LotID:      lots[i].ID,
			ReceivedAt: lots[i].ReceivedAt,
			ExpiresAt:  lots[i].ExpiresAt,
		})
	}
	SortFEFO(candidates)
	return candidates, nil
}

// candidates builds the planner snapshot: allocatable lots with derived
// availability, FEFO-sorted.
func (c *AllocationController) candidates(ctx context.Context, v StoreView, productID ProductID, warehouseID WarehouseID) ([]LotCandidate, error) {
	candidates, err := c.candidateLots(ctx, v, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		available, err := c.Ledger.AvailableQuantity(ctx, v, candidates[i].LotID)
		if err != nil {
			return nil, err
		}
		candidates[i].Available = available
	}
	return candidates, nil
}

func (c *AllocationController) lineAllocated(ctx context.Context, priority SourceType, line *OrderLine) (Quantity, error) {
	reservations, err := c.Store.ReservationsBySource(ctx, priority, string(line.ID))
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

func findLine(order *Order, lineID OrderLineID) *OrderLine {
	for i := range order.Lines {
		if order.Lines[i].ID == lineID {
			return &order.Lines[i]
		}
	}
	return nil
}
