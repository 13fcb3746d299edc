/*
planner.go - FEFO allocation planning

PURPOSE:
  Pure planning: given a required quantity and a snapshot of candidate
  lots, produce a multi-lot allocation plan. Building and committing a
  plan are separate steps so a caller may preview without persistence,
  then commit via the ledger inside a lock.

POLICY:
  First-Expiry-First-Out. Sort key, ascending, nulls last on expiry:

    (expiry_date, received_date, lot_id)

  Earliest-expiring stock first; among equal expiry, earliest-received
  first; ties broken by lot id so planning is deterministic and
  reproducible for the same input snapshot.

  Consumption is greedy: walk the sorted candidates, take
  min(remaining, candidate.available) from each until the requirement is
  met or candidates are exhausted. If candidates run out, the plan
  reports the shortfall; the caller decides whether to accept a partial
  plan, preempt and re-plan, or reject the demand.

  The planner never over-allocates: it only reads the already
  invariant-protected available figure, and it never mutates state.

SEE ALSO:
  - controller.go: Builds snapshots and commits accepted plans
  - preemption.go: Frees stock when a plan reports a shortfall
*/
package inventory

import (
	"sort"
	"time"
)

// =============================================================================
// CANDIDATES AND PLANS
// =============================================================================

// LotCandidate is a point-in-time snapshot of one lot offered to the
// planner: identity, FEFO sort attributes, and the available quantity at
// snapshot time.
type LotCandidate struct {
	LotID      LotID
	ReceivedAt time.Time
	ExpiresAt  *time.Time
	Available  Quantity
}

// PlanEntry allocates a quantity from one lot.
type PlanEntry struct {
	LotID    LotID
	Quantity Quantity
}

// AllocationPlan is the planner's output: a sequence of per-lot
// allocations summing to at most the required quantity.
type AllocationPlan struct {
	Requested Quantity
	Entries   []PlanEntry
	Allocated Quantity
	Shortfall Quantity
}

// Complete reports whether the plan covers the full requirement.
func (p *AllocationPlan) Complete() bool { return p.Shortfall.IsZero() }

// LotIDs returns the planned lots in plan (FEFO) order. Callers use this
// ordering for lock acquisition so it stays stable across the system.
func (p *AllocationPlan) LotIDs() []LotID {
	ids := make([]LotID, len(p.Entries))
	for i, e := range p.Entries {
		ids[i] = e.LotID
	}
	return ids
}

// =============================================================================
// FEFO PLANNER
// =============================================================================

// FEFOPlanner selects lots first-expiry-first-out. It holds no state and
// performs no I/O.
type FEFOPlanner struct{}

// Plan produces an allocation plan for the required quantity against the
// candidate snapshot. Candidates with no available stock are skipped; the
// input slice is not modified.
func (FEFOPlanner) Plan(required Quantity, candidates []LotCandidate) *AllocationPlan {
	plan := &AllocationPlan{
		Requested: required,
		Allocated: ZeroQuantity(),
		Shortfall: ZeroQuantity(),
	}
	if !required.IsPositive() {
		return plan
	}

	sorted := make([]LotCandidate, len(candidates))
	copy(sorted, candidates)
	SortFEFO(sorted)

	remaining := required
	for _, c := range sorted {
		if remaining.IsZero() {
			break
		}
		if !c.Available.IsPositive() {
			continue
		}
		take := remaining.Min(c.Available)
		plan.Entries = append(plan.Entries, PlanEntry{LotID: c.LotID, Quantity: take})
		plan.Allocated = plan.Allocated.Add(take)
		remaining = remaining.Sub(take)
	}

	plan.Shortfall = remaining
	return plan
}

// SortFEFO orders candidates in place by (expiry nulls-last, received,
// lot id) ascending. Exported because lock acquisition everywhere must
// follow the same stable order.
func SortFEFO(candidates []LotCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.LotID < b.LotID
	})
}
