/*
preemption.go - Priority-based displacement of soft reservations

PURPOSE:
  When a higher-priority demand cannot be fully satisfied from free stock,
  the resolver frees stock by releasing lower-priority SOFT reservations
  on the candidate lots until the shortfall is covered or nothing
  releasable remains.

POLICY (explicit contract, not emergent behavior):
  - Priority order low -> high: forecast/manual, spot, order, kanban.
    A demand never preempts an equal-or-higher-priority reservation, and
    never its own reservations.
  - Confirmed (hard) reservations are never preempted.
  - Within a priority class the OLDEST reservation is released first,
    protecting earlier commitments over newer ones of equal standing.
  - Release the minimum necessary: when a whole reservation would free
    more than needed, only the needed portion is released by reducing the
    reservation's quantity; the remainder of that hold survives. The
    partial release is therefore always the last action taken.

  The resolver frees stock only. It performs no allocation; the caller
  re-plans after preemption completes. If every eligible reservation has
  been preempted and the shortfall remains (true physical shortage), the
  resolver reports what it freed plus the uncovered remainder.

SEE ALSO:
  - controller.go: The binding allocation path, the only one that preempts
  - ledger.go: Release / UpdateQuantity primitives used here
*/
package inventory

import (
	"context"
	"sort"
)

// =============================================================================
// PREEMPTION RESOLVER
// =============================================================================

// Preemption records one resolver action: which reservation was displaced,
// whose demand held it, and how much stock the action freed.
type Preemption struct {
	ReservationID ReservationID
	LotID         LotID
	SourceType    SourceType
	SourceID      string
	FreedQuantity Quantity
	// Partial is true when the reservation survived with a reduced
	// quantity instead of being fully released.
	Partial bool
}

// PreemptionResolver frees stock held by lower-priority soft reservations.
type PreemptionResolver struct {
	Ledger *ReservationLedger
}

func NewPreemptionResolver(ledger *ReservationLedger) *PreemptionResolver {
	return &PreemptionResolver{Ledger: ledger}
}

// FreeUp releases lower-priority soft reservations on the given lots until
// the shortfall is covered. Must run inside Store.WithLots over lotIDs.
//
// demandType/demandID identify the requesting demand: reservations of
// equal or higher priority are untouchable, and self-preemption is
// excluded. Returns the actions taken and the shortfall still uncovered.
func (pr *PreemptionResolver) FreeUp(
	ctx context.Context,
	v StoreView,
	lotIDs []LotID,
	demandType SourceType,
	demandID string,
	shortfall Quantity,
) ([]Preemption, Quantity, error) {
	if !shortfall.IsPositive() {
		return nil, ZeroQuantity(), nil
	}

	candidates, err := pr.releasable(ctx, v, lotIDs, demandType, demandID)
	if err != nil {
		return nil, shortfall, err
	}

	var actions []Preemption
	remaining := shortfall
	for i := range candidates {
		if !remaining.IsPositive() {
			break
		}
		r := &candidates[i]

		if r.Quantity.GreaterThan(remaining) {
			// Partial: keep the hold alive with the surplus.
			kept := r.Quantity.Sub(remaining)
			if _, err := pr.Ledger.UpdateQuantity(ctx, v, r.ID, kept); err != nil {
				return actions, remaining, err
			}
			actions = append(actions, Preemption{
				ReservationID: r.ID,
				LotID:         r.LotID,
				SourceType:    r.SourceType,
				SourceID:      r.SourceID,
				FreedQuantity: remaining,
				Partial:       true,
			})
			remaining = ZeroQuantity()
			break
		}

		if _, err := pr.Ledger.Release(ctx, v, r.ID); err != nil {
			return actions, remaining, err
		}
		actions = append(actions, Preemption{
			ReservationID: r.ID,
			LotID:         r.LotID,
			SourceType:    r.SourceType,
			SourceID:      r.SourceID,
			FreedQuantity: r.Quantity,
		})
		remaining = remaining.Sub(r.Quantity)
	}

	return actions, remaining, nil
}

// releasable collects the preemptable reservations across the lots and
// orders them: priority class ascending, then creation time ascending,
// ties broken by id for determinism.
func (pr *PreemptionResolver) releasable(
	ctx context.Context,
	v StoreView,
	lotIDs []LotID,
	demandType SourceType,
	demandID string,
) ([]Reservation, error) {
	demandPriority := demandType.Priority()

	var out []Reservation
	for _, lotID := range lotIDs {
		reservations, err := v.ReservationsByLot(ctx, lotID)
		if err != nil {
			return nil, err
		}
		for _, r := range reservations {
			if !r.Preemptable() {
				continue
			}
			if r.SourceType.Priority() >= demandPriority {
				continue
			}
			if r.SourceType == demandType && r.SourceID == demandID {
				continue
			}
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].SourceType.Priority(), out[j].SourceType.Priority()
		if pi != pj {
			return pi < pj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
