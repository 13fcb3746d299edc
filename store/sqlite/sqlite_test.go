package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/allocation-engine/inventory"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func qty(n int) inventory.Quantity {
	return inventory.NewQuantityFromInt(n)
}

func day(d int) time.Time {
	return time.Date(2025, time.June, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(d int) *time.Time {
	t := day(d)
	return &t
}

func testLot(id string, expires *time.Time) *inventory.Lot {
	return &inventory.Lot{
		ID:          inventory.LotID(id),
		ProductID:   "prod-1",
		WarehouseID: "wh-1",
		ReceivedAt:  day(1),
		ExpiresAt:   expires,
		OnHand:      qty(100),
		Locked:      inventory.ZeroQuantity(),
		Status:      inventory.LotActive,
		CreatedAt:   day(1),
		UpdatedAt:   day(1),
	}
}

func saveLot(t *testing.T, st *sqlite.Store, lot *inventory.Lot) {
	t.Helper()
	require.NoError(t, st.SaveLot(context.Background(), lot))
}

// =============================================================================
// LOTS
// =============================================================================

func TestLot_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", dayPtr(30)))

	got, err := st.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.ProductID("prod-1"), got.ProductID)
	assert.True(t, got.OnHand.Equal(qty(100)))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(day(30)))
	assert.Equal(t, inventory.LotActive, got.Status)
}

func TestLot_NullExpiry(t *testing.T) {
	st := newTestStore(t)
	saveLot(t, st, testLot("lot-1", nil))

	got, err := st.GetLot(context.Background(), "lot-1")
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)
}

func TestLot_SaveIsUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	lot := testLot("lot-1", nil)
	saveLot(t, st, lot)

	lot.OnHand = qty(60)
	lot.Status = inventory.LotDepleted
	saveLot(t, st, lot)

	got, err := st.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.True(t, got.OnHand.Equal(qty(60)))
	assert.Equal(t, inventory.LotDepleted, got.Status)
}

func TestLot_NotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetLot(context.Background(), "missing")
	assert.ErrorIs(t, err, inventory.ErrLotNotFound)
	assert.True(t, inventory.IsNotFound(err))
}

func TestLotsByProduct_WarehouseFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	a := testLot("lot-a", nil)
	b := testLot("lot-b", nil)
	b.WarehouseID = "wh-2"
	other := testLot("lot-c", nil)
	other.ProductID = "prod-9"
	saveLot(t, st, a)
	saveLot(t, st, b)
	saveLot(t, st, other)

	all, err := st.LotsByProduct(ctx, "prod-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := st.LotsByProduct(ctx, "prod-1", "wh-2")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, inventory.LotID("lot-b"), scoped[0].ID)
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func testReservation(id, lotID string, createdAt time.Time) *inventory.Reservation {
	return &inventory.Reservation{
		ID:         inventory.ReservationID(id),
		LotID:      inventory.LotID(lotID),
		SourceType: inventory.SourceOrder,
		SourceID:   "order-1",
		Quantity:   qty(10),
		Status:     inventory.ReservationActive,
		CreatedAt:  createdAt,
	}
}

func TestReservation_RoundTripWithNullTimestamps(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))
	require.NoError(t, st.InsertReservation(ctx, testReservation("res-1", "lot-1", day(2))))

	got, err := st.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.SourceOrder, got.SourceType)
	assert.True(t, got.Quantity.Equal(qty(10)))
	assert.Nil(t, got.ConfirmedAt)
	assert.Nil(t, got.ReleasedAt)
	assert.Nil(t, got.ExpiresAt)
}

func TestReservation_UpdatePersistsLifecycleStamps(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))
	r := testReservation("res-1", "lot-1", day(2))
	require.NoError(t, st.InsertReservation(ctx, r))

	r.Status = inventory.ReservationConfirmed
	r.ConfirmedAt = dayPtr(3)
	require.NoError(t, st.UpdateReservation(ctx, r))

	got, err := st.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationConfirmed, got.Status)
	require.NotNil(t, got.ConfirmedAt)
	assert.True(t, got.ConfirmedAt.Equal(day(3)))
}

func TestReservationsByLot_OldestFirst(t *testing.T) {
	// Same created_at instants still come back in insertion order, which
	// the preemption policy relies on for its oldest-first tiebreak.

	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))
	require.NoError(t, st.InsertReservation(ctx, testReservation("res-b", "lot-1", day(2))))
	require.NoError(t, st.InsertReservation(ctx, testReservation("res-a", "lot-1", day(2))))
	require.NoError(t, st.InsertReservation(ctx, testReservation("res-c", "lot-1", day(1))))

	got, err := st.ReservationsByLot(ctx, "lot-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, inventory.ReservationID("res-c"), got[0].ID)
	assert.Equal(t, inventory.ReservationID("res-b"), got[1].ID)
	assert.Equal(t, inventory.ReservationID("res-a"), got[2].ID)
}

func TestExpiredReservations_ActivePastDueOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))

	stale := testReservation("res-stale", "lot-1", day(2))
	stale.ExpiresAt = dayPtr(5)
	live := testReservation("res-live", "lot-1", day(2))
	live.ExpiresAt = dayPtr(30)
	confirmed := testReservation("res-confirmed", "lot-1", day(2))
	confirmed.ExpiresAt = dayPtr(5)
	confirmed.Status = inventory.ReservationConfirmed
	open := testReservation("res-open", "lot-1", day(2))
	for _, r := range []*inventory.Reservation{stale, live, confirmed, open} {
		require.NoError(t, st.InsertReservation(ctx, r))
	}

	got, err := st.ExpiredReservations(ctx, day(15))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inventory.ReservationID("res-stale"), got[0].ID)
}

// =============================================================================
// CRITICAL SECTIONS
// =============================================================================

func TestWithLot_CommitsOnNil(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))

	err := st.WithLot(ctx, "lot-1", func(v inventory.StoreView) error {
		lot, err := v.GetLot(ctx, "lot-1")
		if err != nil {
			return err
		}
		lot.OnHand = qty(55)
		return v.SaveLot(ctx, lot)
	})
	require.NoError(t, err)

	got, err := st.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.True(t, got.OnHand.Equal(qty(55)))
}

func TestWithLot_RollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))

	boom := errors.New("boom")
	err := st.WithLot(ctx, "lot-1", func(v inventory.StoreView) error {
		lot, err := v.GetLot(ctx, "lot-1")
		if err != nil {
			return err
		}
		lot.OnHand = qty(55)
		if err := v.SaveLot(ctx, lot); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := st.GetLot(ctx, "lot-1")
	require.NoError(t, err)
	assert.True(t, got.OnHand.Equal(qty(100)))
}

func TestWithLots_DuplicateIDsDoNotDeadlock(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))

	err := st.WithLots(ctx, []inventory.LotID{"lot-1", "lot-1"}, func(v inventory.StoreView) error {
		_, err := v.GetLot(ctx, "lot-1")
		return err
	})
	assert.NoError(t, err)
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func testMovement(id, lotID string, n int, reversalOf *inventory.MovementID) *inventory.StockMovement {
	return &inventory.StockMovement{
		ID:            inventory.MovementID(id),
		LotID:         inventory.LotID(lotID),
		Type:          inventory.MovementWithdrawal,
		Quantity:      qty(n).Neg(),
		ReferenceID:   "pick-1",
		ReferenceType: "shipment",
		ReversalOf:    reversalOf,
		CreatedAt:     day(2),
	}
}

func TestMovement_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))
	require.NoError(t, st.InsertMovement(ctx, testMovement("mv-1", "lot-1", 30, nil)))

	got, err := st.GetMovement(ctx, "mv-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.MovementWithdrawal, got.Type)
	assert.True(t, got.Quantity.Equal(qty(30).Neg()))
	assert.Nil(t, got.ReversalOf)
}

func TestMovement_SecondReversalRowRejected(t *testing.T) {
	// The unique index on reversal_of is the backstop that makes
	// double-reversal impossible even across racing processes.

	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))
	require.NoError(t, st.InsertMovement(ctx, testMovement("mv-1", "lot-1", 30, nil)))

	original := inventory.MovementID("mv-1")
	require.NoError(t, st.InsertMovement(ctx, testMovement("mv-2", "lot-1", 30, &original)))

	err := st.InsertMovement(ctx, testMovement("mv-3", "lot-1", 30, &original))
	assert.ErrorIs(t, err, inventory.ErrMovementAlreadyReversed)
}

func TestMovementsByLot_OldestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))
	m1 := testMovement("mv-1", "lot-1", 30, nil)
	m1.CreatedAt = day(3)
	m2 := testMovement("mv-2", "lot-1", 10, nil)
	m2.CreatedAt = day(2)
	require.NoError(t, st.InsertMovement(ctx, m1))
	require.NoError(t, st.InsertMovement(ctx, m2))

	got, err := st.MovementsByLot(ctx, "lot-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, inventory.MovementID("mv-2"), got[0].ID)
}

func TestMovement_NotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetMovement(context.Background(), "missing")
	assert.ErrorIs(t, err, inventory.ErrMovementNotFound)
}

// =============================================================================
// ORDERS
// =============================================================================

func TestOrder_RoundTripWithLines(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	o := &inventory.Order{
		ID:        "order-1",
		Reference: "SO-1001",
		Priority:  inventory.SourceOrder,
		Status:    inventory.OrderOpen,
		Lines: []inventory.OrderLine{
			{ID: "line-1", OrderID: "order-1", ProductID: "prod-1", WarehouseID: "wh-1",
				Quantity: qty(40), DueDate: day(28), Status: inventory.LineOpen},
			{ID: "line-2", OrderID: "order-1", ProductID: "prod-2",
				Quantity: qty(15), DueDate: day(28), Status: inventory.LineOpen},
		},
		CreatedAt: day(1),
		UpdatedAt: day(1),
	}
	require.NoError(t, st.SaveOrder(ctx, o))

	got, err := st.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "SO-1001", got.Reference)
	assert.Equal(t, inventory.SourceOrder, got.Priority)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, inventory.OrderLineID("line-1"), got.Lines[0].ID)
	assert.True(t, got.Lines[0].Quantity.Equal(qty(40)))
	assert.Equal(t, inventory.WarehouseID(""), got.Lines[1].WarehouseID)
}

func TestOrder_SaveRewritesLines(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	o := &inventory.Order{
		ID: "order-1", Reference: "SO-1001", Priority: inventory.SourceOrder,
		Status: inventory.OrderOpen,
		Lines: []inventory.OrderLine{
			{ID: "line-1", OrderID: "order-1", ProductID: "prod-1",
				Quantity: qty(40), DueDate: day(28), Status: inventory.LineOpen},
		},
		CreatedAt: day(1), UpdatedAt: day(1),
	}
	require.NoError(t, st.SaveOrder(ctx, o))

	o.Status = inventory.OrderCancelled
	o.Lines[0].Status = inventory.LineCancelled
	require.NoError(t, st.SaveOrder(ctx, o))

	got, err := st.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.OrderCancelled, got.Status)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, inventory.LineCancelled, got.Lines[0].Status)
}

func TestOrder_NotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, inventory.ErrOrderNotFound)
}

// =============================================================================
// RESET
// =============================================================================

func TestReset_ClearsEverything(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))
	require.NoError(t, st.InsertReservation(ctx, testReservation("res-1", "lot-1", day(2))))

	require.NoError(t, st.Reset(ctx))

	_, err := st.GetLot(ctx, "lot-1")
	assert.ErrorIs(t, err, inventory.ErrLotNotFound)
	_, err = st.GetReservation(ctx, "res-1")
	assert.ErrorIs(t, err, inventory.ErrReservationNotFound)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestWithLot_ConcurrentReservesOneWinner(t *testing.T) {
	// GIVEN: A lot with 100 on hand
	// WHEN: Four goroutines race to reserve 60 each through the ledger
	// THEN: Exactly one commits; availability reflects a single hold

	st := newTestStore(t)
	ctx := context.Background()
	saveLot(t, st, testLot("lot-1", nil))
	ledger := inventory.NewReservationLedger(inventory.FixedClock{T: day(2)})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = st.WithLot(ctx, "lot-1", func(v inventory.StoreView) error {
				_, err := ledger.Reserve(ctx, v, "lot-1", inventory.SourceOrder,
					"order-1", qty(60), inventory.ReserveOptions{})
				return err
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, winners)

	available, err := ledger.AvailableQuantity(ctx, st, "lot-1")
	require.NoError(t, err)
	assert.True(t, available.Equal(qty(40)))
}
