package inventory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/allocation-engine/inventory"
)

// =============================================================================
// LIFECYCLE TRANSITION TABLE
// =============================================================================

func TestCanTransition_TableEdges(t *testing.T) {
	cases := []struct {
		from, to inventory.OrderStatus
		allowed  bool
	}{
		{inventory.OrderDraft, inventory.OrderOpen, true},
		{inventory.OrderDraft, inventory.OrderCancelled, true},
		{inventory.OrderDraft, inventory.OrderAllocated, false},
		{inventory.OrderOpen, inventory.OrderPartAllocated, true},
		{inventory.OrderOpen, inventory.OrderAllocated, true},
		{inventory.OrderOpen, inventory.OrderShipped, false},
		{inventory.OrderPartAllocated, inventory.OrderOpen, true},
		{inventory.OrderAllocated, inventory.OrderShipped, true},
		{inventory.OrderAllocated, inventory.OrderOpen, true},
		{inventory.OrderShipped, inventory.OrderClosed, true},
		{inventory.OrderShipped, inventory.OrderCancelled, false},
		{inventory.OrderClosed, inventory.OrderOpen, false},
		{inventory.OrderCancelled, inventory.OrderOpen, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, inventory.CanTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestOrderStatus_Terminal(t *testing.T) {
	assert.True(t, inventory.OrderClosed.Terminal())
	assert.True(t, inventory.OrderCancelled.Terminal())
	assert.False(t, inventory.OrderShipped.Terminal())
	assert.False(t, inventory.OrderDraft.Terminal())
}

func TestOrder_TransitionNamesTheOperation(t *testing.T) {
	o := &inventory.Order{ID: "order-1", Status: inventory.OrderOpen}

	err := o.Transition(inventory.OrderShipped, "ship")
	var transition *inventory.InvalidStateTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, inventory.OrderOpen, transition.From)
	assert.Equal(t, inventory.OrderShipped, transition.To)
	assert.Equal(t, "ship", transition.Operation)
	assert.Equal(t, inventory.OrderOpen, o.Status)

	require.NoError(t, o.Transition(inventory.OrderAllocated, "allocate"))
	assert.Equal(t, inventory.OrderAllocated, o.Status)
}

func TestOrder_CancelBlockedBy(t *testing.T) {
	o := &inventory.Order{
		ID: "order-1",
		Lines: []inventory.OrderLine{
			{ID: "line-1", Status: inventory.LineOpen},
			{ID: "line-2", Status: inventory.LineShipped},
		},
	}
	blocked := o.CancelBlockedBy()
	require.NotNil(t, blocked)
	assert.Equal(t, inventory.OrderLineID("line-2"), blocked.ID)

	o.Lines[1].Status = inventory.LineCancelled
	assert.Nil(t, o.CancelBlockedBy())
}

// =============================================================================
// DERIVED ALLOCATION STATUS
// =============================================================================

func coverageOf(required, allocated int) inventory.LineCoverage {
	return inventory.LineCoverage{Required: qty(required), Allocated: qty(allocated)}
}

func TestDeriveAllocationStatus_AllLinesCovered(t *testing.T) {
	target, changed := inventory.DeriveAllocationStatus(inventory.OrderOpen,
		[]inventory.LineCoverage{coverageOf(40, 40), coverageOf(30, 30)})
	assert.True(t, changed)
	assert.Equal(t, inventory.OrderAllocated, target)
}

func TestDeriveAllocationStatus_SomeStockAllocated(t *testing.T) {
	target, changed := inventory.DeriveAllocationStatus(inventory.OrderOpen,
		[]inventory.LineCoverage{coverageOf(40, 40), coverageOf(30, 0)})
	assert.True(t, changed)
	assert.Equal(t, inventory.OrderPartAllocated, target)

	// Partial coverage of a single line counts the same way
	target, changed = inventory.DeriveAllocationStatus(inventory.OrderOpen,
		[]inventory.LineCoverage{coverageOf(40, 15)})
	assert.True(t, changed)
	assert.Equal(t, inventory.OrderPartAllocated, target)
}

func TestDeriveAllocationStatus_NothingAllocated(t *testing.T) {
	// Already open, nothing reserved: no transition due
	_, changed := inventory.DeriveAllocationStatus(inventory.OrderOpen,
		[]inventory.LineCoverage{coverageOf(40, 0)})
	assert.False(t, changed)

	// Holds released out from under a part_allocated order drop it back
	target, changed := inventory.DeriveAllocationStatus(inventory.OrderPartAllocated,
		[]inventory.LineCoverage{coverageOf(40, 0)})
	assert.True(t, changed)
	assert.Equal(t, inventory.OrderOpen, target)
}

func TestDeriveAllocationStatus_RespectsCurrentLifecycle(t *testing.T) {
	// A shipped order never moves, whatever coverage says
	_, changed := inventory.DeriveAllocationStatus(inventory.OrderShipped,
		[]inventory.LineCoverage{coverageOf(40, 0)})
	assert.False(t, changed)

	// No lines, no opinion
	_, changed = inventory.DeriveAllocationStatus(inventory.OrderOpen, nil)
	assert.False(t, changed)
}
