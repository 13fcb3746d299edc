/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates lots, reservations
	and orders that demonstrate specific engine behavior.

AVAILABLE SCENARIOS:

	fefo-baseline:   Three lots with staggered expiry, no reservations yet
	contention:      One lot nearly consumed by competing soft holds
	preemption:      Forecast holds squatting on stock a kanban will claim
	order-flow:      An open order with lines ready to allocate

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create lots with staggered received/expiry dates
 3. Optionally reserve via the controller so ledger rows are realistic
 4. Optionally create orders

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler context and error helpers
  - server.go: /api/scenarios routes
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/allocation-engine/inventory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fefo-baseline",
		Name:        "FEFO Baseline",
		Description: "Three lots of one product with staggered expiry dates",
	},
	{
		ID:          "contention",
		Name:        "Contention",
		Description: "One lot nearly consumed by competing soft holds",
	},
	{
		ID:          "preemption",
		Name:        "Preemption",
		Description: "Forecast holds on stock that a kanban demand will displace",
	},
	{
		ID:          "order-flow",
		Name:        "Order Flow",
		Description: "An open order with two lines ready to allocate",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.Scenario {
	case "fefo-baseline":
		err = h.loadFEFOBaseline(ctx)
	case "contention":
		err = h.loadContention(ctx)
	case "preemption":
		err = h.loadPreemption(ctx)
	case "order-flow":
		err = h.loadOrderFlow(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.Scenario), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.Scenario
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.Scenario})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) seedLot(ctx context.Context, id string, product string, onHand int, receivedDaysAgo, expiresInDays int) error {
	now := h.Clock.Now()
	lot := &inventory.Lot{
		ID:          inventory.LotID(id),
		ProductID:   inventory.ProductID(product),
		WarehouseID: "wh-main",
		ReceivedAt:  now.AddDate(0, 0, -receivedDaysAgo),
		OnHand:      inventory.NewQuantityFromInt(onHand),
		Locked:      inventory.ZeroQuantity(),
		Status:      inventory.LotActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if expiresInDays > 0 {
		exp := now.AddDate(0, 0, expiresInDays)
		lot.ExpiresAt = &exp
	}
	return h.Store.SaveLot(ctx, lot)
}

func (h *Handler) reserve(ctx context.Context, sourceType inventory.SourceType, sourceID, product string, qty int) error {
	_, err := h.Controller.Allocate(ctx, inventory.Demand{
		SourceType: sourceType,
		SourceID:   sourceID,
		ProductID:  inventory.ProductID(product),
		Quantity:   inventory.NewQuantityFromInt(qty),
	}, inventory.AllocateOptions{})
	return err
}

// loadFEFOBaseline seeds three lots with staggered expiry so a preview
// shows the earliest-expiring lot consumed first.
func (h *Handler) loadFEFOBaseline(ctx context.Context) error {
	if err := h.seedLot(ctx, "lot-a", "prod-widget", 100, 30, 10); err != nil {
		return err
	}
	if err := h.seedLot(ctx, "lot-b", "prod-widget", 150, 20, 45); err != nil {
		return err
	}
	// Never expires; picked last despite being oldest on the shelf
	return h.seedLot(ctx, "lot-c", "prod-widget", 200, 60, 0)
}

// loadContention leaves a thin slice of availability in one lot so
// concurrent reserve attempts race visibly.
func (h *Handler) loadContention(ctx context.Context) error {
	if err := h.seedLot(ctx, "lot-hot", "prod-gadget", 50, 5, 30); err != nil {
		return err
	}
	if err := h.reserve(ctx, inventory.SourceOrder, "order-100", "prod-gadget", 25); err != nil {
		return err
	}
	return h.reserve(ctx, inventory.SourceSpot, "spot-7", "prod-gadget", 20)
}

// loadPreemption fills a lot with forecast holds; a bound kanban demand
// against prod-part will displace them.
func (h *Handler) loadPreemption(ctx context.Context) error {
	if err := h.seedLot(ctx, "lot-parts", "prod-part", 80, 10, 60); err != nil {
		return err
	}
	if err := h.reserve(ctx, inventory.SourceForecast, "fc-q3", "prod-part", 50); err != nil {
		return err
	}
	return h.reserve(ctx, inventory.SourceForecast, "fc-q4", "prod-part", 25)
}

// loadOrderFlow seeds stock and an open two-line order.
func (h *Handler) loadOrderFlow(ctx context.Context) error {
	if err := h.seedLot(ctx, "lot-w1", "prod-widget", 120, 15, 40); err != nil {
		return err
	}
	if err := h.seedLot(ctx, "lot-g1", "prod-gadget", 60, 8, 25); err != nil {
		return err
	}

	now := h.Clock.Now()
	due := now.AddDate(0, 0, 14)
	order := &inventory.Order{
		ID:        "order-demo",
		Reference: "SO-2024-001",
		Priority:  inventory.SourceOrder,
		Status:    inventory.OrderOpen,
		Lines: []inventory.OrderLine{
			{
				ID:        "line-1",
				OrderID:   "order-demo",
				ProductID: "prod-widget",
				Quantity:  inventory.NewQuantityFromInt(40),
				DueDate:   due,
				Status:    inventory.LineOpen,
			},
			{
				ID:        "line-2",
				OrderID:   "order-demo",
				ProductID: "prod-gadget",
				Quantity:  inventory.NewQuantityFromInt(15),
				DueDate:   due,
				Status:    inventory.LineOpen,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return h.Store.SaveOrder(ctx, order)
}
