/*
handlers.go - HTTP API handlers for the allocation engine

PURPOSE:
  Exposes the lot reservation and FEFO allocation engine via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic. Handlers stay thin: every decision about availability,
  lot selection, preemption and lifecycle lives in the inventory package.

ENDPOINTS:
  Lots:
    GET    /api/lots?product_id=..           List lots of a product
    POST   /api/lots                         Register a received batch
    GET    /api/lots/{id}                    Get lot details
    GET    /api/lots/{id}/availability       Derived availability
    GET    /api/lots/{id}/reservations       Claims against the lot
    GET    /api/lots/{id}/movements          Movement history
    POST   /api/lots/{id}/lock               Freeze quantity against allocation
    POST   /api/lots/{id}/withdrawals        Record physical withdrawal
    POST   /api/lots/{id}/returns            Record physical return

  Allocation:
    POST   /api/allocations/preview          Plan without persisting
    POST   /api/allocations                  Reserve stock for a demand

  Reservations:
    GET    /api/reservations/{id}            Get reservation
    POST   /api/reservations/{id}/confirm    Promote soft hold to binding
    POST   /api/reservations/{id}/release    Release (idempotent)
    POST   /api/reservations/{id}/transfer   Reassign to another demand

  Movements:
    GET    /api/movements/{id}               Get movement
    POST   /api/movements/{id}/reverse       Reversing entry

  Orders:
    POST   /api/orders                       Create order (draft)
    GET    /api/orders/{id}                  Get order with lines
    GET    /api/orders/{id}/coverage         Ledger-derived line coverage
    POST   /api/orders/{id}/status           Lifecycle transition
    POST   /api/orders/{id}/cancel           Cancel and release reservations
    POST   /api/orders/{id}/lines/{lineID}/allocate  Allocate one line

  Admin:
    POST   /api/admin/sweep-expired          Release expired soft holds

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (insufficient stock, invalid transition, commit race)
  - 500: Internal errors
  Conflict responses carry a machine-readable code; "retry_allocation"
  tells the client the commit lost a race and retrying is safe.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/allocation-engine/inventory"
	"github.com/warp/allocation-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      *sqlite.Store
	Controller *inventory.AllocationController
	Stock      *inventory.StockLedger
	Clock      inventory.Clock

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	clock := inventory.SystemClock{}
	controller := inventory.NewAllocationController(store, clock)
	return &Handler{
		Store:      store,
		Controller: controller,
		Stock:      inventory.NewStockLedger(clock, controller.Ledger),
		Clock:      clock,
	}
}

// =============================================================================
// LOT HANDLERS
// =============================================================================

// ListLots returns the lots of a product, optionally narrowed to one
// warehouse.
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		writeError(w, http.StatusBadRequest, "product_id is required", nil)
		return
	}
	warehouseID := r.URL.Query().Get("warehouse_id")

	lots, err := h.Store.LotsByProduct(r.Context(),
		inventory.ProductID(productID), inventory.WarehouseID(warehouseID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list lots", err)
		return
	}

	dtos := make([]LotDTO, len(lots))
	for i := range lots {
		dtos[i] = toLotDTO(&lots[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLot registers a newly received batch.
func (h *Handler) CreateLot(w http.ResponseWriter, r *http.Request) {
	var req CreateLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ProductID == "" || req.WarehouseID == "" {
		writeError(w, http.StatusBadRequest, "product_id and warehouse_id are required", nil)
		return
	}
	onHand, err := parseQuantity(req.OnHand)
	if err != nil || onHand.IsNegative() {
		writeError(w, http.StatusBadRequest, "on_hand must be a non-negative decimal", err)
		return
	}
	expiresAt, err := parseOptionalTime(req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "expires_at must be RFC3339", err)
		return
	}

	now := h.Clock.Now()
	receivedAt := now
	if req.ReceivedAt != "" {
		t, err := time.Parse(time.RFC3339, req.ReceivedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "received_at must be RFC3339", err)
			return
		}
		receivedAt = t
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	lot := &inventory.Lot{
		ID:          inventory.LotID(id),
		ProductID:   inventory.ProductID(req.ProductID),
		WarehouseID: inventory.WarehouseID(req.WarehouseID),
		ReceivedAt:  receivedAt,
		ExpiresAt:   expiresAt,
		OnHand:      onHand,
		Locked:      inventory.ZeroQuantity(),
		Status:      inventory.LotActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if onHand.IsZero() {
		lot.Status = inventory.LotDepleted
	}

	if err := h.Store.SaveLot(r.Context(), lot); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save lot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLotDTO(lot))
}

// GetLot returns a single lot.
func (h *Handler) GetLot(w http.ResponseWriter, r *http.Request) {
	id := inventory.LotID(chi.URLParam(r, "id"))

	lot, err := h.Store.GetLot(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get lot", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(lot))
}

// GetAvailability returns the derived availability of a lot. The value
// is recomputed from live reservation rows on every call, never cached.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := inventory.LotID(chi.URLParam(r, "id"))

	lot, err := h.Store.GetLot(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get lot", err)
		return
	}
	reserved, err := h.Controller.Ledger.ReservedQuantity(ctx, h.Store, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute reserved quantity", err)
		return
	}
	available, err := h.Controller.Ledger.AvailableQuantity(ctx, h.Store, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute availability", err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityDTO{
		LotID:     string(id),
		OnHand:    lot.OnHand.String(),
		Reserved:  reserved.String(),
		Locked:    lot.Locked.String(),
		Available: available.String(),
	})
}

// GetLotReservations returns all claims against a lot, released ones
// included (the rows persist for audit).
func (h *Handler) GetLotReservations(w http.ResponseWriter, r *http.Request) {
	id := inventory.LotID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetLot(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get lot", err)
		return
	}
	reservations, err := h.Store.ReservationsByLot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTOs(reservations))
}

// GetLotMovements returns the movement history of a lot, oldest first.
func (h *Handler) GetLotMovements(w http.ResponseWriter, r *http.Request) {
	id := inventory.LotID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetLot(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get lot", err)
		return
	}
	movements, err := h.Store.MovementsByLot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list movements", err)
		return
	}

	dtos := make([]MovementDTO, len(movements))
	for i := range movements {
		dtos[i] = toMovementDTO(&movements[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LockLot freezes a quantity of the lot against allocation. Sending "0"
// removes the freeze. The new locked quantity must leave availability
// non-negative against current reservations.
func (h *Handler) LockLot(w http.ResponseWriter, r *http.Request) {
	id := inventory.LotID(chi.URLParam(r, "id"))

	var req LockLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	locked, err := parseQuantity(req.Quantity)
	if err != nil || locked.IsNegative() {
		writeError(w, http.StatusBadRequest, "quantity must be a non-negative decimal", err)
		return
	}

	var updated *inventory.Lot
	err = h.Store.WithLot(r.Context(), id, func(v inventory.StoreView) error {
		lot, err := v.GetLot(r.Context(), id)
		if err != nil {
			return err
		}
		reserved, err := h.Controller.Ledger.ReservedQuantity(r.Context(), v, id)
		if err != nil {
			return err
		}
		if lot.OnHand.Sub(reserved).Sub(locked).IsNegative() {
			return &inventory.InsufficientStockError{
				LotID:     id,
				Requested: locked,
				Available: lot.OnHand.Sub(reserved),
			}
		}
		lot.Locked = locked
		lot.UpdatedAt = h.Clock.Now()
		updated = lot
		return v.SaveLot(r.Context(), lot)
	})
	if err != nil {
		writeDomainError(w, "Failed to lock lot", err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(updated))
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// PreviewAllocation plans an allocation without persisting anything.
func (h *Handler) PreviewAllocation(w http.ResponseWriter, r *http.Request) {
	demand, ok := h.parseDemand(w, r)
	if !ok {
		return
	}
	plan, err := h.Controller.Preview(r.Context(), demand)
	if err != nil {
		writeDomainError(w, "Failed to plan allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// Allocate reserves stock for a demand. With bind=true the holds commit
// as confirmed and the attempt may preempt lower-priority soft holds.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	demand, ok := h.buildDemand(w, req)
	if !ok {
		return
	}
	result, err := h.Controller.Allocate(r.Context(), demand, inventory.AllocateOptions{
		Bind:         req.Bind,
		AllowPartial: req.AllowPartial,
	})
	if err != nil {
		writeDomainError(w, "Failed to allocate", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(result))
}

func (h *Handler) parseDemand(w http.ResponseWriter, r *http.Request) (inventory.Demand, bool) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return inventory.Demand{}, false
	}
	return h.buildDemand(w, req)
}

func (h *Handler) buildDemand(w http.ResponseWriter, req AllocateRequest) (inventory.Demand, bool) {
	sourceType := inventory.SourceType(req.SourceType)
	if !sourceType.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown source_type", nil)
		return inventory.Demand{}, false
	}
	if req.SourceID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "source_id and product_id are required", nil)
		return inventory.Demand{}, false
	}
	quantity, err := parseQuantity(req.Quantity)
	if err != nil || !quantity.IsPositive() {
		writeError(w, http.StatusBadRequest, "quantity must be a positive decimal", err)
		return inventory.Demand{}, false
	}
	expiresAt, err := parseOptionalTime(req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "expires_at must be RFC3339", err)
		return inventory.Demand{}, false
	}
	return inventory.Demand{
		SourceType:  sourceType,
		SourceID:    req.SourceID,
		ProductID:   inventory.ProductID(req.ProductID),
		WarehouseID: inventory.WarehouseID(req.WarehouseID),
		Quantity:    quantity,
		ExpiresAt:   expiresAt,
	}, true
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// GetReservation returns a single reservation.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := inventory.ReservationID(chi.URLParam(r, "id"))

	res, err := h.Store.GetReservation(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// ConfirmReservation promotes a soft hold to a binding one. Confirming
// an already-confirmed reservation is a no-op. An optional quantity
// confirms less than reserved; the remainder frees immediately.
func (h *Handler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	id := inventory.ReservationID(chi.URLParam(r, "id"))

	var req ConfirmRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	var confirmQty *inventory.Quantity
	if req.Quantity != "" {
		q, err := parseQuantity(req.Quantity)
		if err != nil || !q.IsPositive() {
			writeError(w, http.StatusBadRequest, "quantity must be a positive decimal", err)
			return
		}
		confirmQty = &q
	}

	res, err := h.Controller.ConfirmReservation(r.Context(), id, confirmQty)
	if err != nil {
		writeDomainError(w, "Failed to confirm reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// ReleaseReservation releases a reservation. Releasing an
// already-released reservation succeeds (idempotent for retries).
func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	id := inventory.ReservationID(chi.URLParam(r, "id"))

	res, err := h.Controller.CancelReservation(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to release reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// TransferReservation reassigns a reservation to a different demand
// without touching availability.
func (h *Handler) TransferReservation(w http.ResponseWriter, r *http.Request) {
	id := inventory.ReservationID(chi.URLParam(r, "id"))

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	sourceType := inventory.SourceType(req.SourceType)
	if !sourceType.Valid() || req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "source_type and source_id are required", nil)
		return
	}
	var newStatus *inventory.ReservationStatus
	if req.Status != "" {
		s := inventory.ReservationStatus(req.Status)
		if s != inventory.ReservationActive && s != inventory.ReservationConfirmed {
			writeError(w, http.StatusBadRequest, "status must be active or confirmed", nil)
			return
		}
		newStatus = &s
	}

	res, err := h.Controller.TransferReservation(r.Context(), id, sourceType, req.SourceID, newStatus)
	if err != nil {
		writeDomainError(w, "Failed to transfer reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(res))
}

// UpdateReservationQuantity resizes an active or confirmed reservation.
// Growth revalidates against availability under the lot lock.
func (h *Handler) UpdateReservationQuantity(w http.ResponseWriter, r *http.Request) {
	id := inventory.ReservationID(chi.URLParam(r, "id"))

	var req UpdateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	quantity, err := parseQuantity(req.Quantity)
	if err != nil || !quantity.IsPositive() {
		writeError(w, http.StatusBadRequest, "quantity must be a positive decimal", err)
		return
	}

	existing, err := h.Store.GetReservation(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get reservation", err)
		return
	}

	var updated *inventory.Reservation
	err = h.Store.WithLot(r.Context(), existing.LotID, func(v inventory.StoreView) error {
		var err error
		updated, err = h.Controller.Ledger.UpdateQuantity(r.Context(), v, id, quantity)
		return err
	})
	if err != nil {
		writeDomainError(w, "Failed to update reservation quantity", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(updated))
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// Withdraw records a physical withdrawal from a lot.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.recordMovement(w, r, h.Stock.Withdraw)
}

// Return records physical stock coming back into a lot.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	h.recordMovement(w, r, h.Stock.Return)
}

type movementFn func(ctx context.Context, v inventory.StoreView, lotID inventory.LotID, quantity inventory.Quantity, referenceID, referenceType string) (*inventory.StockMovement, error)

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request, fn movementFn) {
	id := inventory.LotID(chi.URLParam(r, "id"))

	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	quantity, err := parseQuantity(req.Quantity)
	if err != nil || !quantity.IsPositive() {
		writeError(w, http.StatusBadRequest, "quantity must be a positive decimal", err)
		return
	}

	var movement *inventory.StockMovement
	err = h.Store.WithLot(r.Context(), id, func(v inventory.StoreView) error {
		var err error
		movement, err = fn(r.Context(), v, id, quantity, req.ReferenceID, req.ReferenceType)
		return err
	})
	if err != nil {
		writeDomainError(w, "Failed to record movement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(movement))
}

// GetMovement returns a single movement.
func (h *Handler) GetMovement(w http.ResponseWriter, r *http.Request) {
	id := inventory.MovementID(chi.URLParam(r, "id"))

	m, err := h.Store.GetMovement(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get movement", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(m))
}

// ReverseMovement appends a reversing entry for a movement. The original
// row is untouched; the ledger is append-only.
func (h *Handler) ReverseMovement(w http.ResponseWriter, r *http.Request) {
	id := inventory.MovementID(chi.URLParam(r, "id"))

	original, err := h.Store.GetMovement(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get movement", err)
		return
	}

	var reversal *inventory.StockMovement
	err = h.Store.WithLot(r.Context(), original.LotID, func(v inventory.StoreView) error {
		var err error
		reversal, err = h.Stock.Reverse(r.Context(), v, id)
		return err
	})
	if err != nil {
		writeDomainError(w, "Failed to reverse movement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(reversal))
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder registers a demand order in draft status.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "order must have at least one line", nil)
		return
	}
	priority := inventory.SourceOrder
	if req.Priority != "" {
		priority = inventory.SourceType(req.Priority)
		if !priority.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown priority", nil)
			return
		}
	}

	now := h.Clock.Now()
	orderID := req.ID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	order := &inventory.Order{
		ID:        inventory.OrderID(orderID),
		Reference: req.Reference,
		Priority:  priority,
		Status:    inventory.OrderDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, l := range req.Lines {
		quantity, err := parseQuantity(l.Quantity)
		if err != nil || !quantity.IsPositive() {
			writeError(w, http.StatusBadRequest, "line quantity must be a positive decimal", err)
			return
		}
		if l.ProductID == "" {
			writeError(w, http.StatusBadRequest, "line product_id is required", nil)
			return
		}
		var dueDate time.Time
		if l.DueDate != "" {
			t, err := time.Parse(time.RFC3339, l.DueDate)
			if err != nil {
				writeError(w, http.StatusBadRequest, "line due_date must be RFC3339", err)
				return
			}
			dueDate = t
		}
		lineID := l.ID
		if lineID == "" {
			lineID = uuid.NewString()
		}
		order.Lines = append(order.Lines, inventory.OrderLine{
			ID:          inventory.OrderLineID(lineID),
			OrderID:     order.ID,
			ProductID:   inventory.ProductID(l.ProductID),
			WarehouseID: inventory.WarehouseID(l.WarehouseID),
			Quantity:    quantity,
			DueDate:     dueDate,
			Status:      inventory.LineOpen,
		})
	}

	if err := h.Store.SaveOrder(r.Context(), order); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(order))
}

// GetOrder returns one order with its lines.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := inventory.OrderID(chi.URLParam(r, "id"))

	order, err := h.Store.GetOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// GetOrderCoverage returns the ledger-derived allocation coverage per line.
func (h *Handler) GetOrderCoverage(w http.ResponseWriter, r *http.Request) {
	id := inventory.OrderID(chi.URLParam(r, "id"))

	order, err := h.Store.GetOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get order", err)
		return
	}
	coverage, err := h.Controller.OrderCoverage(r.Context(), order)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute coverage", err)
		return
	}

	dtos := make([]LineCoverageDTO, len(coverage))
	for i, c := range coverage {
		dtos[i] = LineCoverageDTO{
			LineID:    string(c.LineID),
			Required:  c.Required.String(),
			Allocated: c.Allocated.String(),
			Covered:   c.Covered(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TransitionOrder applies a lifecycle transition to an order.
func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	id := inventory.OrderID(chi.URLParam(r, "id"))

	var req TransitionOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	order, err := h.Controller.TransitionOrder(r.Context(), id, inventory.OrderStatus(req.Status), "api transition")
	if err != nil {
		writeDomainError(w, "Failed to transition order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// CancelOrder cancels an order and releases all reservations tied to
// its lines. Orders with shipped lines cannot be cancelled.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := inventory.OrderID(chi.URLParam(r, "id"))

	order, err := h.Controller.CancelOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to cancel order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order))
}

// AllocateLine reserves stock for one order line and refreshes the
// order's derived allocation status.
func (h *Handler) AllocateLine(w http.ResponseWriter, r *http.Request) {
	orderID := inventory.OrderID(chi.URLParam(r, "id"))
	lineID := inventory.OrderLineID(chi.URLParam(r, "lineID"))

	var req AllocateLineRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	result, err := h.Controller.AllocateLine(r.Context(), orderID, lineID, inventory.AllocateOptions{
		Bind:         req.Bind,
		AllowPartial: req.AllowPartial,
	})
	if err != nil {
		writeDomainError(w, "Failed to allocate line", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(result))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SweepExpired releases all soft holds whose expiry has passed. The
// engine runs no timers; this endpoint is the hook for an external
// scheduler (and the built-in sweeper calls the same code path).
func (h *Handler) SweepExpired(w http.ResponseWriter, r *http.Request) {
	released, err := h.Controller.ReleaseExpired(r.Context(), h.Clock.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sweep expired reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTOs(released))
}

// =============================================================================
// HELPERS
// =============================================================================

func parseQuantity(s string) (inventory.Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return inventory.ZeroQuantity(), err
	}
	return inventory.Quantity{Value: d}, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses and
// machine-readable codes. retry_allocation signals a lost commit race:
// nothing persisted and the client may safely retry.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case inventory.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: message, Code: "not_found", Details: err.Error()})
	case inventory.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "retry_allocation", Details: err.Error()})
	case errors.Is(err, inventory.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "insufficient_stock", Details: err.Error()})
	case errors.Is(err, inventory.ErrMovementAlreadyReversed):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "already_reversed", Details: err.Error()})
	case errors.Is(err, inventory.ErrInvalidTransferState):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "invalid_state", Details: err.Error()})
	case errors.Is(err, inventory.ErrInvalidStateTransition):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "invalid_transition", Details: err.Error()})
	case errors.Is(err, inventory.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "invalid_quantity", Details: err.Error()})
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
