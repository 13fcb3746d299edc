/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WIRE FORMAT:
  Quantities travel as decimal strings to avoid float drift on the
  wire; timestamps are RFC3339. Optional timestamps serialize as absent
  fields, not null.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - inventory/types.go: The domain types being converted
*/
package api

import (
	"time"

	"github.com/warp/allocation-engine/inventory"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateLotRequest registers a newly received batch.
type CreateLotRequest struct {
	ID          string `json:"id,omitempty"` // generated when empty
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	ReceivedAt  string `json:"received_at,omitempty"` // RFC3339; defaults to now
	ExpiresAt   string `json:"expires_at,omitempty"`  // RFC3339; empty = never expires
	OnHand      string `json:"on_hand"`               // decimal string
}

// LockLotRequest freezes a quantity of a lot against allocation.
type LockLotRequest struct {
	Quantity string `json:"quantity"` // decimal string; "0" unlocks
}

// AllocateRequest asks for stock on behalf of a demand.
type AllocateRequest struct {
	SourceType  string `json:"source_type"`
	SourceID    string `json:"source_id"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id,omitempty"` // empty = any warehouse
	Quantity    string `json:"quantity"`
	ExpiresAt   string `json:"expires_at,omitempty"` // soft-hold expiry for the sweeper

	Bind         bool `json:"bind"`          // commit confirmed holds; enables preemption
	AllowPartial bool `json:"allow_partial"` // accept an incomplete plan
}

// ConfirmRequest promotes a soft hold to a binding one.
// Quantity, when set, confirms less than reserved and releases the rest.
type ConfirmRequest struct {
	Quantity string `json:"quantity,omitempty"`
}

// UpdateQuantityRequest resizes a reservation. Increases revalidate
// against availability; decreases always succeed.
type UpdateQuantityRequest struct {
	Quantity string `json:"quantity"` // positive decimal string
}

// TransferRequest reassigns a reservation to a different demand.
type TransferRequest struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Status     string `json:"status,omitempty"` // optional new status (active|confirmed)
}

// MovementRequest records a physical withdrawal or return.
type MovementRequest struct {
	Quantity      string `json:"quantity"` // positive decimal string
	ReferenceID   string `json:"reference_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
}

// CreateOrderRequest registers a demand order with its lines.
type CreateOrderRequest struct {
	ID        string                   `json:"id,omitempty"`
	Reference string                   `json:"reference,omitempty"`
	Priority  string                   `json:"priority,omitempty"` // source type; defaults to "order"
	Lines     []CreateOrderLineRequest `json:"lines"`
}

type CreateOrderLineRequest struct {
	ID          string `json:"id,omitempty"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id,omitempty"`
	Quantity    string `json:"quantity"`
	DueDate     string `json:"due_date,omitempty"` // RFC3339
}

// TransitionOrderRequest applies a lifecycle transition.
type TransitionOrderRequest struct {
	Status string `json:"status"`
}

// AllocateLineRequest allocates stock for one order line.
type AllocateLineRequest struct {
	Bind         bool `json:"bind"`
	AllowPartial bool `json:"allow_partial"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	Scenario string `json:"scenario"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type LotDTO struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	ReceivedAt  string `json:"received_at"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	OnHand      string `json:"on_hand"`
	Locked      string `json:"locked"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// AvailabilityDTO is the derived availability of one lot.
type AvailabilityDTO struct {
	LotID     string `json:"lot_id"`
	OnHand    string `json:"on_hand"`
	Reserved  string `json:"reserved"`
	Locked    string `json:"locked"`
	Available string `json:"available"`
}

type ReservationDTO struct {
	ID          string `json:"id"`
	LotID       string `json:"lot_id"`
	SourceType  string `json:"source_type"`
	SourceID    string `json:"source_id"`
	Quantity    string `json:"quantity"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	ConfirmedAt string `json:"confirmed_at,omitempty"`
	ReleasedAt  string `json:"released_at,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

type MovementDTO struct {
	ID            string `json:"id"`
	LotID         string `json:"lot_id"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	ReferenceID   string `json:"reference_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
	ReversalOf    string `json:"reversal_of,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type PlanEntryDTO struct {
	LotID    string `json:"lot_id"`
	Quantity string `json:"quantity"`
}

type PlanDTO struct {
	Requested string         `json:"requested"`
	Allocated string         `json:"allocated"`
	Shortfall string         `json:"shortfall"`
	Complete  bool           `json:"complete"`
	Entries   []PlanEntryDTO `json:"entries"`
}

type PreemptionDTO struct {
	ReservationID string `json:"reservation_id"`
	LotID         string `json:"lot_id"`
	SourceType    string `json:"source_type"`
	SourceID      string `json:"source_id"`
	FreedQuantity string `json:"freed_quantity"`
	Partial       bool   `json:"partial"`
}

// AllocationDTO reports everything one allocation attempt did.
type AllocationDTO struct {
	Plan         PlanDTO          `json:"plan"`
	Reservations []ReservationDTO `json:"reservations"`
	Preemptions  []PreemptionDTO  `json:"preemptions,omitempty"`
}

type OrderLineDTO struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id,omitempty"`
	Quantity    string `json:"quantity"`
	DueDate     string `json:"due_date,omitempty"`
	Status      string `json:"status"`
}

type OrderDTO struct {
	ID        string         `json:"id"`
	Reference string         `json:"reference,omitempty"`
	Priority  string         `json:"priority"`
	Status    string         `json:"status"`
	Lines     []OrderLineDTO `json:"lines"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

type LineCoverageDTO struct {
	LineID    string `json:"line_id"`
	Required  string `json:"required"`
	Allocated string `json:"allocated"`
	Covered   bool   `json:"covered"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toLotDTO(lot *inventory.Lot) LotDTO {
	return LotDTO{
		ID:          string(lot.ID),
		ProductID:   string(lot.ProductID),
		WarehouseID: string(lot.WarehouseID),
		ReceivedAt:  lot.ReceivedAt.Format(time.RFC3339),
		ExpiresAt:   formatOptionalTime(lot.ExpiresAt),
		OnHand:      lot.OnHand.String(),
		Locked:      lot.Locked.String(),
		Status:      string(lot.Status),
		CreatedAt:   lot.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   lot.UpdatedAt.Format(time.RFC3339),
	}
}

func toReservationDTO(r *inventory.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:          string(r.ID),
		LotID:       string(r.LotID),
		SourceType:  string(r.SourceType),
		SourceID:    r.SourceID,
		Quantity:    r.Quantity.String(),
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		ConfirmedAt: formatOptionalTime(r.ConfirmedAt),
		ReleasedAt:  formatOptionalTime(r.ReleasedAt),
		ExpiresAt:   formatOptionalTime(r.ExpiresAt),
	}
}

func toReservationDTOs(rs []inventory.Reservation) []ReservationDTO {
	dtos := make([]ReservationDTO, len(rs))
	for i := range rs {
		dtos[i] = toReservationDTO(&rs[i])
	}
	return dtos
}

func toMovementDTO(m *inventory.StockMovement) MovementDTO {
	dto := MovementDTO{
		ID:            string(m.ID),
		LotID:         string(m.LotID),
		Type:          string(m.Type),
		Quantity:      m.Quantity.String(),
		ReferenceID:   m.ReferenceID,
		ReferenceType: m.ReferenceType,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
	if m.ReversalOf != nil {
		dto.ReversalOf = string(*m.ReversalOf)
	}
	return dto
}

func toPlanDTO(p *inventory.AllocationPlan) PlanDTO {
	entries := make([]PlanEntryDTO, len(p.Entries))
	for i, e := range p.Entries {
		entries[i] = PlanEntryDTO{
			LotID:    string(e.LotID),
			Quantity: e.Quantity.String(),
		}
	}
	return PlanDTO{
		Requested: p.Requested.String(),
		Allocated: p.Allocated.String(),
		Shortfall: p.Shortfall.String(),
		Complete:  p.Complete(),
		Entries:   entries,
	}
}

func toAllocationDTO(res *inventory.AllocationResult) AllocationDTO {
	dto := AllocationDTO{
		Plan:         toPlanDTO(res.Plan),
		Reservations: toReservationDTOs(res.Reservations),
	}
	for _, p := range res.Preemptions {
		dto.Preemptions = append(dto.Preemptions, PreemptionDTO{
			ReservationID: string(p.ReservationID),
			LotID:         string(p.LotID),
			SourceType:    string(p.SourceType),
			SourceID:      p.SourceID,
			FreedQuantity: p.FreedQuantity.String(),
			Partial:       p.Partial,
		})
	}
	return dto
}

func toOrderDTO(o *inventory.Order) OrderDTO {
	lines := make([]OrderLineDTO, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = OrderLineDTO{
			ID:          string(l.ID),
			ProductID:   string(l.ProductID),
			WarehouseID: string(l.WarehouseID),
			Quantity:    l.Quantity.String(),
			Status:      string(l.Status),
		}
		if !l.DueDate.IsZero() {
			lines[i].DueDate = l.DueDate.Format(time.RFC3339)
		}
	}
	return OrderDTO{
		ID:        string(o.ID),
		Reference: o.Reference,
		Priority:  string(o.Priority),
		Status:    string(o.Status),
		Lines:     lines,
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
		UpdatedAt: o.UpdatedAt.Format(time.RFC3339),
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
