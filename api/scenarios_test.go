/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Lots are created with the intended stock and expiry staggering
	- Reservations exist where the scenario narrative needs them
	- Orders are created with their lines

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"testing"

	"github.com/warp/allocation-engine/inventory"
	"github.com/warp/allocation-engine/store/sqlite"
)

func setupTestHandler(t *testing.T) *Handler {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewHandler(store)
}

func TestScenario_FEFOBaseline(t *testing.T) {
	// GIVEN: The FEFO baseline scenario
	// WHEN: Loading it
	// THEN: Three widget lots exist, staggered so a preview drains the
	//       earliest-expiring lot first

	h := setupTestHandler(t)
	ctx := context.Background()

	if err := h.loadFEFOBaseline(ctx); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	lots, err := h.Store.LotsByProduct(ctx, "prod-widget", "")
	if err != nil {
		t.Fatalf("Failed to list lots: %v", err)
	}
	if len(lots) != 3 {
		t.Fatalf("Expected 3 lots, got %d", len(lots))
	}

	plan, err := h.Controller.Preview(ctx, inventory.Demand{
		SourceType: inventory.SourceOrder,
		SourceID:   "preview",
		ProductID:  "prod-widget",
		Quantity:   inventory.NewQuantityFromInt(120),
	})
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if !plan.Complete() {
		t.Fatal("Expected a complete plan")
	}
	if plan.Entries[0].LotID != "lot-a" {
		t.Errorf("Expected lot-a (earliest expiry) first, got %s", plan.Entries[0].LotID)
	}
}

func TestScenario_Contention(t *testing.T) {
	// GIVEN: The contention scenario
	// WHEN: Loading it
	// THEN: lot-hot has only 5 of 50 left available

	h := setupTestHandler(t)
	ctx := context.Background()

	if err := h.loadContention(ctx); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	available, err := h.Controller.Ledger.AvailableQuantity(ctx, h.Store, "lot-hot")
	if err != nil {
		t.Fatalf("Failed to compute availability: %v", err)
	}
	if !available.Equal(inventory.NewQuantityFromInt(5)) {
		t.Errorf("Expected 5 available, got %s", available)
	}

	held, err := h.Store.ReservationsByLot(ctx, "lot-hot")
	if err != nil {
		t.Fatalf("Failed to list reservations: %v", err)
	}
	if len(held) != 2 {
		t.Errorf("Expected 2 competing holds, got %d", len(held))
	}
}

func TestScenario_Preemption(t *testing.T) {
	// GIVEN: The preemption scenario
	// WHEN: A binding kanban demand for 60 arrives
	// THEN: Forecast holds are displaced to make room

	h := setupTestHandler(t)
	ctx := context.Background()

	if err := h.loadPreemption(ctx); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	result, err := h.Controller.Allocate(ctx, inventory.Demand{
		SourceType: inventory.SourceKanban,
		SourceID:   "kb-demo",
		ProductID:  "prod-part",
		Quantity:   inventory.NewQuantityFromInt(60),
	}, inventory.AllocateOptions{Bind: true})
	if err != nil {
		t.Fatalf("Binding allocation failed: %v", err)
	}
	if len(result.Preemptions) == 0 {
		t.Fatal("Expected forecast holds to be displaced")
	}
	for _, p := range result.Preemptions {
		if p.SourceType != inventory.SourceForecast {
			t.Errorf("Expected only forecast holds displaced, got %s", p.SourceType)
		}
	}
}

func TestScenario_OrderFlow(t *testing.T) {
	// GIVEN: The order flow scenario
	// WHEN: Loading it
	// THEN: An open two-line order exists with stock to cover both lines

	h := setupTestHandler(t)
	ctx := context.Background()

	if err := h.loadOrderFlow(ctx); err != nil {
		t.Fatalf("Failed to load scenario: %v", err)
	}

	order, err := h.Store.GetOrder(ctx, "order-demo")
	if err != nil {
		t.Fatalf("Failed to get order: %v", err)
	}
	if order.Status != inventory.OrderOpen {
		t.Errorf("Expected open order, got %s", order.Status)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(order.Lines))
	}

	result, err := h.Controller.AllocateLine(ctx, "order-demo", "line-1", inventory.AllocateOptions{})
	if err != nil {
		t.Fatalf("Allocate line failed: %v", err)
	}
	if len(result.Reservations) != 1 {
		t.Fatalf("Expected 1 reservation, got %d", len(result.Reservations))
	}

	refreshed, err := h.Store.GetOrder(ctx, "order-demo")
	if err != nil {
		t.Fatalf("Failed to reload order: %v", err)
	}
	if refreshed.Status != inventory.OrderPartAllocated {
		t.Errorf("Expected part_allocated, got %s", refreshed.Status)
	}
}
