/*
order.go - Orders, order lines, and the lifecycle state machine

PURPOSE:
  An order is a demand: a requirement for quantities of products by a
  delivery date, carrying a priority class. Its status gates which
  allocation operations are permitted, and legal transitions are a flat
  table - any edge not listed fails with InvalidStateTransition carrying
  the attempted operation name.

ALLOCATION STATUS IS DERIVED:
  A line's "already allocated" quantity is never stored; it is the sum of
  that line's non-released reservations, computed from the ledger on every
  read. The order status is then recomputed from line coverage after each
  commit: fully covered -> allocated, partially -> part_allocated, none ->
  stays open. One source of truth, no reconciliation pass.

SEE ALSO:
  - controller.go: Recomputes coverage after committing a plan
  - types.go: SourceType priority classes that orders carry
*/
package inventory

import "time"

// =============================================================================
// ORDER STATUS - Lifecycle state machine
// =============================================================================

type OrderStatus string

const (
	OrderDraft         OrderStatus = "draft"
	OrderOpen          OrderStatus = "open"
	OrderPartAllocated OrderStatus = "part_allocated"
	OrderAllocated     OrderStatus = "allocated"
	OrderShipped       OrderStatus = "shipped"
	OrderClosed        OrderStatus = "closed"
	OrderCancelled     OrderStatus = "cancelled"
)

// orderTransitions is the complete edge set of the lifecycle machine.
// closed and cancelled are terminal: no outgoing edges.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderDraft:         {OrderOpen, OrderCancelled},
	OrderOpen:          {OrderPartAllocated, OrderAllocated, OrderCancelled},
	OrderPartAllocated: {OrderOpen, OrderAllocated, OrderCancelled},
	OrderAllocated:     {OrderShipped, OrderPartAllocated, OrderOpen, OrderCancelled},
	OrderShipped:       {OrderClosed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// =============================================================================
// ORDER / ORDER LINE
// =============================================================================

type LineStatus string

const (
	LineOpen      LineStatus = "open"
	LineShipped   LineStatus = "shipped"
	LineCompleted LineStatus = "completed"
	LineCancelled LineStatus = "cancelled"
)

// OrderLine is a single product requirement within an order.
type OrderLine struct {
	ID          OrderLineID
	OrderID     OrderID
	ProductID   ProductID
	WarehouseID WarehouseID // candidate scope; empty = any warehouse
	Quantity    Quantity
	DueDate     time.Time
	Status      LineStatus
}

// Order is a demand for stock, carrying the priority class its
// reservations compete with.
type Order struct {
	ID        OrderID
	Reference string

	// Priority is the demand-source class used when reserving for this
	// order's lines and when arbitrating preemption.
	Priority SourceType

	Status OrderStatus
	Lines  []OrderLine

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the order to a new status, or fails with
// InvalidStateTransitionError naming the attempted operation.
func (o *Order) Transition(to OrderStatus, operation string) error {
	if !CanTransition(o.Status, to) {
		return &InvalidStateTransitionError{From: o.Status, To: to, Operation: operation}
	}
	o.Status = to
	return nil
}

// CancelBlockedBy returns the first line that blocks cancelling the whole
// order, or nil. A line already shipped or completed blocks the cancel.
func (o *Order) CancelBlockedBy() *OrderLine {
	for i := range o.Lines {
		if o.Lines[i].Status == LineShipped || o.Lines[i].Status == LineCompleted {
			return &o.Lines[i]
		}
	}
	return nil
}

// =============================================================================
// DERIVED ALLOCATION STATUS
// =============================================================================

// LineCoverage pairs a line's requirement with its ledger-derived
// allocated quantity.
type LineCoverage struct {
	LineID    OrderLineID
	Required  Quantity
	Allocated Quantity
}

// Covered reports whether the line's requirement is fully reserved.
func (c LineCoverage) Covered() bool {
	return c.Allocated.GreaterOrEqual(c.Required)
}

// DeriveAllocationStatus maps line coverage onto the order lifecycle:
// every line covered -> allocated; some stock allocated -> part_allocated;
// nothing allocated -> open. The returned bool is false when the order's
// current status does not permit the derived transition (e.g. shipped
// orders are left alone).
func DeriveAllocationStatus(current OrderStatus, coverage []LineCoverage) (OrderStatus, bool) {
	if len(coverage) == 0 {
		return current, false
	}

	allCovered := true
	anyAllocated := false
	for _, c := range coverage {
		if c.Covered() {
			anyAllocated = true
			continue
		}
		allCovered = false
		if c.Allocated.IsPositive() {
			anyAllocated = true
		}
	}

	var target OrderStatus
	switch {
	case allCovered:
		target = OrderAllocated
	case anyAllocated:
		target = OrderPartAllocated
	default:
		target = OrderOpen
	}

	if target == current {
		return current, false
	}
	if !CanTransition(current, target) {
		return current, false
	}
	return target, true
}
