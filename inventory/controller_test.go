package inventory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/allocation-engine/inventory"
	memory "github.com/warp/allocation-engine/inventory/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestController(t *testing.T) (*inventory.AllocationController, *memory.Memory) {
	t.Helper()
	st := memory.NewMemory()
	return inventory.NewAllocationController(st, &stepClock{t: day(1)}), st
}

func demand(sourceType inventory.SourceType, sourceID string, n int) inventory.Demand {
	return inventory.Demand{
		SourceType: sourceType,
		SourceID:   sourceID,
		ProductID:  "prod-1",
		Quantity:   qty(n),
	}
}

func seedOrder(t *testing.T, st *memory.Memory, o *inventory.Order) {
	t.Helper()
	require.NoError(t, st.SaveOrder(context.Background(), o))
}

func availability(t *testing.T, c *inventory.AllocationController, st *memory.Memory, lotID string) inventory.Quantity {
	t.Helper()
	available, err := c.Ledger.AvailableQuantity(context.Background(), st, inventory.LotID(lotID))
	require.NoError(t, err)
	return available
}

// =============================================================================
// PREVIEW AND SOFT ALLOCATION
// =============================================================================

func TestPreview_PersistsNothing(t *testing.T) {
	// GIVEN: A lot with 100 available
	// WHEN: Previewing a demand for 60
	// THEN: The plan is complete but no reservation exists

	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)

	plan, err := c.Preview(context.Background(), demand(inventory.SourceOrder, "order-1", 60))
	require.NoError(t, err)
	assert.True(t, plan.Complete())

	held, err := st.ReservationsByLot(context.Background(), "lot-1")
	require.NoError(t, err)
	assert.Empty(t, held)
	assert.True(t, availability(t, c, st, "lot-1").Equal(qty(100)))
}

func TestAllocate_SoftHold(t *testing.T) {
	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)

	result, err := c.Allocate(context.Background(), demand(inventory.SourceOrder, "order-1", 60), inventory.AllocateOptions{})
	require.NoError(t, err)

	require.Len(t, result.Reservations, 1)
	assert.Equal(t, inventory.ReservationActive, result.Reservations[0].Status)
	assert.True(t, result.Reservations[0].Quantity.Equal(qty(60)))
	assert.True(t, availability(t, c, st, "lot-1").Equal(qty(40)))
}

func TestAllocate_SpansLotsEarliestExpiryFirst(t *testing.T) {
	// GIVEN: 50 expiring soon, 200 expiring later
	// WHEN: Allocating 120
	// THEN: The soon-to-expire lot drains first

	c, st := newTestController(t)
	seedLot(t, st, "lot-late", 200, dayPtr(30))
	seedLot(t, st, "lot-soon", 50, dayPtr(10))

	result, err := c.Allocate(context.Background(), demand(inventory.SourceOrder, "order-1", 120), inventory.AllocateOptions{})
	require.NoError(t, err)

	require.Len(t, result.Reservations, 2)
	assert.Equal(t, inventory.LotID("lot-soon"), result.Reservations[0].LotID)
	assert.True(t, result.Reservations[0].Quantity.Equal(qty(50)))
	assert.Equal(t, inventory.LotID("lot-late"), result.Reservations[1].LotID)
	assert.True(t, result.Reservations[1].Quantity.Equal(qty(70)))
}

func TestAllocate_ShortfallRejectedWhole(t *testing.T) {
	// GIVEN: Only 40 available
	// WHEN: Allocating 100 without accepting partials
	// THEN: Rejected and nothing persists

	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 40, nil)

	_, err := c.Allocate(context.Background(), demand(inventory.SourceOrder, "order-1", 100), inventory.AllocateOptions{})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	held, err := st.ReservationsByLot(context.Background(), "lot-1")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestAllocate_PartialAccepted(t *testing.T) {
	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 40, nil)

	result, err := c.Allocate(context.Background(), demand(inventory.SourceOrder, "order-1", 100), inventory.AllocateOptions{AllowPartial: true})
	require.NoError(t, err)

	assert.False(t, result.Plan.Complete())
	assert.True(t, result.Plan.Shortfall.Equal(qty(60)))
	require.Len(t, result.Reservations, 1)
	assert.True(t, result.Reservations[0].Quantity.Equal(qty(40)))
}

func TestAllocate_NoStockAtAll(t *testing.T) {
	c, _ := newTestController(t)

	_, err := c.Allocate(context.Background(), demand(inventory.SourceOrder, "order-1", 10), inventory.AllocateOptions{})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

// =============================================================================
// BINDING ALLOCATION AND PREEMPTION
// =============================================================================

func TestAllocate_BindCommitsConfirmed(t *testing.T) {
	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)

	result, err := c.Allocate(context.Background(), demand(inventory.SourceKanban, "kb-1", 60), inventory.AllocateOptions{Bind: true})
	require.NoError(t, err)

	require.Len(t, result.Reservations, 1)
	assert.Equal(t, inventory.ReservationConfirmed, result.Reservations[0].Status)
	assert.NotNil(t, result.Reservations[0].ConfirmedAt)
	assert.Empty(t, result.Preemptions)
}

func TestAllocate_BindPreemptsLowerPrioritySoftHold(t *testing.T) {
	// GIVEN: 100 on hand with a forecast soft hold of 80
	// WHEN: A binding kanban demand for 60 arrives
	// THEN: The forecast hold shrinks by exactly the 40 shortfall and the
	//       kanban demand commits confirmed

	c, st := newTestController(t)
	ctx := context.Background()
	seedLot(t, st, "lot-1", 100, nil)
	forecast := reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceForecast, "fc-1", 80)

	result, err := c.Allocate(ctx, demand(inventory.SourceKanban, "kb-1", 60), inventory.AllocateOptions{Bind: true})
	require.NoError(t, err)

	require.Len(t, result.Preemptions, 1)
	p := result.Preemptions[0]
	assert.Equal(t, forecast.ID, p.ReservationID)
	assert.True(t, p.FreedQuantity.Equal(qty(40)))
	assert.True(t, p.Partial)

	survivor, err := st.GetReservation(ctx, forecast.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationActive, survivor.Status)
	assert.True(t, survivor.Quantity.Equal(qty(40)))

	require.Len(t, result.Reservations, 1)
	assert.Equal(t, inventory.ReservationConfirmed, result.Reservations[0].Status)
	assert.True(t, result.Reservations[0].Quantity.Equal(qty(60)))
	assert.True(t, availability(t, c, st, "lot-1").IsZero())
}

func TestAllocate_BindReleasesLowestClassFullyThenPartial(t *testing.T) {
	// GIVEN: 100 on hand, fully held: 50 forecast (older) and 50 spot
	// WHEN: A binding kanban demand for 70 arrives
	// THEN: The forecast hold goes entirely, then 20 of the spot hold,
	//       leaving the spot holder 30; the kanban demand gets its 70

	c, st := newTestController(t)
	ctx := context.Background()
	seedLot(t, st, "lot-1", 100, nil)
	forecast := reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceForecast, "fc-1", 50)
	spot := reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceSpot, "sp-1", 50)

	result, err := c.Allocate(ctx, demand(inventory.SourceKanban, "kb-1", 70), inventory.AllocateOptions{Bind: true})
	require.NoError(t, err)

	require.Len(t, result.Preemptions, 2)
	assert.Equal(t, forecast.ID, result.Preemptions[0].ReservationID)
	assert.True(t, result.Preemptions[0].FreedQuantity.Equal(qty(50)))
	assert.False(t, result.Preemptions[0].Partial)
	assert.Equal(t, spot.ID, result.Preemptions[1].ReservationID)
	assert.True(t, result.Preemptions[1].FreedQuantity.Equal(qty(20)))
	assert.True(t, result.Preemptions[1].Partial)

	gone, err := st.GetReservation(ctx, forecast.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationReleased, gone.Status)
	survivor, err := st.GetReservation(ctx, spot.ID)
	require.NoError(t, err)
	assert.True(t, survivor.Quantity.Equal(qty(30)))

	require.Len(t, result.Reservations, 1)
	assert.True(t, result.Reservations[0].Quantity.Equal(qty(70)))
	assert.Equal(t, inventory.ReservationConfirmed, result.Reservations[0].Status)
}

func TestAllocate_PreemptionRolledBackWhenStillShort(t *testing.T) {
	// GIVEN: 100 on hand with a forecast soft hold of 80
	// WHEN: A binding kanban demand for 150 cannot be covered even after
	//       displacing everything eligible
	// THEN: The attempt fails and the forecast hold is untouched

	c, st := newTestController(t)
	ctx := context.Background()
	seedLot(t, st, "lot-1", 100, nil)
	forecast := reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceForecast, "fc-1", 80)

	_, err := c.Allocate(ctx, demand(inventory.SourceKanban, "kb-1", 150), inventory.AllocateOptions{Bind: true})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	survivor, err := st.GetReservation(ctx, forecast.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationActive, survivor.Status)
	assert.True(t, survivor.Quantity.Equal(qty(80)))
	assert.True(t, availability(t, c, st, "lot-1").Equal(qty(20)))
}

func TestAllocate_SoftDemandNeverPreempts(t *testing.T) {
	// A non-binding demand short on stock fails rather than displacing
	// anyone, however low the holder's priority.

	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)
	forecast := reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceForecast, "fc-1", 80)

	_, err := c.Allocate(context.Background(), demand(inventory.SourceKanban, "kb-1", 60), inventory.AllocateOptions{})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	survivor, err := st.GetReservation(context.Background(), forecast.ID)
	require.NoError(t, err)
	assert.True(t, survivor.Quantity.Equal(qty(80)))
}

// =============================================================================
// CONFIRM / CANCEL EDGES
// =============================================================================

func TestConfirmReservation_FullQuantity(t *testing.T) {
	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)
	r := reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceOrder, "order-1", 50)

	confirmed, err := c.ConfirmReservation(context.Background(), r.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationConfirmed, confirmed.Status)
	assert.True(t, confirmed.Quantity.Equal(qty(50)))
}

func TestConfirmReservation_PartialShrinksHold(t *testing.T) {
	// GIVEN: A soft hold of 50
	// WHEN: Confirming only 30
	// THEN: The hold binds at 30 and the surplus 20 returns to the pool

	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)
	r := reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceOrder, "order-1", 50)

	confirmQty := qty(30)
	confirmed, err := c.ConfirmReservation(context.Background(), r.ID, &confirmQty)
	require.NoError(t, err)

	assert.Equal(t, inventory.ReservationConfirmed, confirmed.Status)
	assert.True(t, confirmed.Quantity.Equal(qty(30)))
	assert.True(t, availability(t, c, st, "lot-1").Equal(qty(70)))
}

func TestConfirmReservation_CannotGrow(t *testing.T) {
	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)
	r := reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceOrder, "order-1", 50)

	confirmQty := qty(60)
	_, err := c.ConfirmReservation(context.Background(), r.ID, &confirmQty)
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestConfirmReservation_Idempotent(t *testing.T) {
	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)
	r := reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceOrder, "order-1", 50)

	first, err := c.ConfirmReservation(context.Background(), r.ID, nil)
	require.NoError(t, err)
	second, err := c.ConfirmReservation(context.Background(), r.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ConfirmedAt, second.ConfirmedAt)
}

func TestCancelReservation_Idempotent(t *testing.T) {
	// Cancelling twice is a success both times; at-least-once callers
	// retry without special-casing.

	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)
	r := reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceOrder, "order-1", 50)

	first, err := c.CancelReservation(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationReleased, first.Status)

	second, err := c.CancelReservation(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationReleased, second.Status)
	assert.True(t, availability(t, c, st, "lot-1").Equal(qty(100)))
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

func TestReleaseExpired_SweepsActivePastDue(t *testing.T) {
	// GIVEN: An active hold past its expiry, an active hold still live,
	//        and a confirmed hold past its expiry
	// WHEN: Sweeping at day 15
	// THEN: Only the past-due active hold is released

	c, st := newTestController(t)
	ctx := context.Background()
	seedLot(t, st, "lot-1", 100, nil)

	allocate := func(sourceID string, expires *int, opts inventory.AllocateOptions) inventory.Reservation {
		d := demand(inventory.SourceOrder, sourceID, 10)
		if expires != nil {
			d.ExpiresAt = dayPtr(*expires)
		}
		result, err := c.Allocate(ctx, d, opts)
		require.NoError(t, err)
		return result.Reservations[0]
	}
	past, future := 5, 30
	stale := allocate("order-stale", &past, inventory.AllocateOptions{})
	live := allocate("order-live", &future, inventory.AllocateOptions{})
	bound := allocate("order-bound", &past, inventory.AllocateOptions{Bind: true})

	released, err := c.ReleaseExpired(ctx, day(15))
	require.NoError(t, err)

	require.Len(t, released, 1)
	assert.Equal(t, stale.ID, released[0].ID)

	still, err := st.GetReservation(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationActive, still.Status)
	hard, err := st.GetReservation(ctx, bound.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationConfirmed, hard.Status)
}

// =============================================================================
// ORDER ORCHESTRATION
// =============================================================================

func testOrder(lines ...inventory.OrderLine) *inventory.Order {
	return &inventory.Order{
		ID:        "order-1",
		Reference: "SO-1001",
		Priority:  inventory.SourceOrder,
		Status:    inventory.OrderOpen,
		Lines:     lines,
		CreatedAt: day(1),
		UpdatedAt: day(1),
	}
}

func line(id string, n int) inventory.OrderLine {
	return inventory.OrderLine{
		ID:        inventory.OrderLineID(id),
		OrderID:   "order-1",
		ProductID: "prod-1",
		Quantity:  qty(n),
		DueDate:   day(28),
		Status:    inventory.LineOpen,
	}
}

func TestAllocateLine_FullCoverageMarksAllocated(t *testing.T) {
	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)
	seedOrder(t, st, testOrder(line("line-1", 40)))

	result, err := c.AllocateLine(context.Background(), "order-1", "line-1", inventory.AllocateOptions{})
	require.NoError(t, err)
	require.Len(t, result.Reservations, 1)
	assert.Equal(t, "line-1", result.Reservations[0].SourceID)

	order, err := st.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.OrderAllocated, order.Status)
}

func TestAllocateLine_RemainingLinesKeepOrderPartial(t *testing.T) {
	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)
	seedOrder(t, st, testOrder(line("line-1", 40), line("line-2", 30)))

	_, err := c.AllocateLine(context.Background(), "order-1", "line-1", inventory.AllocateOptions{})
	require.NoError(t, err)

	order, err := st.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.OrderPartAllocated, order.Status)
}

func TestAllocateLine_DraftOrderRejected(t *testing.T) {
	c, st := newTestController(t)
	seedLot(t, st, "lot-1", 100, nil)
	o := testOrder(line("line-1", 40))
	o.Status = inventory.OrderDraft
	seedOrder(t, st, o)

	_, err := c.AllocateLine(context.Background(), "order-1", "line-1", inventory.AllocateOptions{})
	var transition *inventory.InvalidStateTransitionError
	assert.ErrorAs(t, err, &transition)
}

func TestAllocateLine_AlreadyCoveredIsNoOp(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()
	seedLot(t, st, "lot-1", 100, nil)
	seedOrder(t, st, testOrder(line("line-1", 40)))

	_, err := c.AllocateLine(ctx, "order-1", "line-1", inventory.AllocateOptions{})
	require.NoError(t, err)
	result, err := c.AllocateLine(ctx, "order-1", "line-1", inventory.AllocateOptions{})
	require.NoError(t, err)

	assert.Empty(t, result.Reservations)
	held, err := st.ReservationsBySource(ctx, inventory.SourceOrder, "line-1")
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestOrderCoverage_DerivedFromLedger(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()
	seedLot(t, st, "lot-1", 100, nil)
	seedOrder(t, st, testOrder(line("line-1", 40), line("line-2", 30)))
	reserveOn(t, c.Ledger, st, "lot-1", inventory.SourceOrder, "line-1", 25)

	order, err := st.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	coverage, err := c.OrderCoverage(ctx, order)
	require.NoError(t, err)

	require.Len(t, coverage, 2)
	assert.True(t, coverage[0].Allocated.Equal(qty(25)))
	assert.False(t, coverage[0].Covered())
	assert.True(t, coverage[1].Allocated.IsZero())
}

func TestTransitionOrder_IllegalEdgeRejected(t *testing.T) {
	c, st := newTestController(t)
	seedOrder(t, st, testOrder(line("line-1", 40)))

	_, err := c.TransitionOrder(context.Background(), "order-1", inventory.OrderClosed, "close")
	var transition *inventory.InvalidStateTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, inventory.OrderOpen, transition.From)
	assert.Equal(t, inventory.OrderClosed, transition.To)
}

func TestCancelOrder_ReleasesLineReservations(t *testing.T) {
	// GIVEN: An order whose line holds 40 of a lot
	// WHEN: Cancelling the order
	// THEN: The order and its lines cancel and the stock returns to the pool

	c, st := newTestController(t)
	ctx := context.Background()
	seedLot(t, st, "lot-1", 100, nil)
	seedOrder(t, st, testOrder(line("line-1", 40)))
	_, err := c.AllocateLine(ctx, "order-1", "line-1", inventory.AllocateOptions{})
	require.NoError(t, err)
	require.True(t, availability(t, c, st, "lot-1").Equal(qty(60)))

	order, err := c.CancelOrder(ctx, "order-1")
	require.NoError(t, err)

	assert.Equal(t, inventory.OrderCancelled, order.Status)
	assert.Equal(t, inventory.LineCancelled, order.Lines[0].Status)
	assert.True(t, availability(t, c, st, "lot-1").Equal(qty(100)))
}

func TestCancelOrder_BlockedByShippedLine(t *testing.T) {
	c, st := newTestController(t)
	o := testOrder(line("line-1", 40), line("line-2", 30))
	o.Status = inventory.OrderShipped
	o.Lines[0].Status = inventory.LineShipped
	seedOrder(t, st, o)

	_, err := c.CancelOrder(context.Background(), "order-1")
	var transition *inventory.InvalidStateTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, inventory.OrderCancelled, transition.To)
}
