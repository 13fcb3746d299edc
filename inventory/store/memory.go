/*
Package store provides an in-memory inventory.Store implementation.

PURPOSE:
  Backs tests and dev servers without a database while honoring the same
  locking contract as the production store: per-lot exclusive critical
  sections, parallel across unrelated lots, with rollback on error.

TRANSACTION SCOPE:
  WithLot/WithLots journal only the state owned by the locked lots (the
  lot records, their reservations, their movements). That is exactly the
  state the ledger primitives may touch inside a critical section, so a
  rollback on one lot never clobbers a concurrent commit on another.

SEE ALSO:
  - inventory/store.go: The contract this implements
  - store/sqlite: The production implementation
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/allocation-engine/inventory"
)

// Memory is an in-memory Store.
type Memory struct {
	mu sync.RWMutex

	lots         map[inventory.LotID]inventory.Lot
	reservations map[inventory.ReservationID]inventory.Reservation
	movements    map[inventory.LotID][]inventory.StockMovement
	orders       map[inventory.OrderID]inventory.Order

	// seq preserves insertion order for creation-order reads when
	// timestamps tie (fixed clocks in tests).
	seq     map[inventory.ReservationID]uint64
	nextSeq uint64

	lotLocks map[inventory.LotID]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		lots:         make(map[inventory.LotID]inventory.Lot),
		reservations: make(map[inventory.ReservationID]inventory.Reservation),
		movements:    make(map[inventory.LotID][]inventory.StockMovement),
		orders:       make(map[inventory.OrderID]inventory.Order),
		seq:          make(map[inventory.ReservationID]uint64),
		lotLocks:     make(map[inventory.LotID]*sync.Mutex),
	}
}

// =============================================================================
// STORE VIEW
// =============================================================================

func (m *Memory) GetLot(_ context.Context, id inventory.LotID) (*inventory.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lot, ok := m.lots[id]
	if !ok {
		return nil, inventory.ErrLotNotFound
	}
	out := lot
	return &out, nil
}

func (m *Memory) SaveLot(_ context.Context, lot *inventory.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lot.ID] = *lot
	return nil
}

func (m *Memory) InsertReservation(_ context.Context, r *inventory.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations[r.ID] = *r
	m.nextSeq++
	m.seq[r.ID] = m.nextSeq
	return nil
}

func (m *Memory) GetReservation(_ context.Context, id inventory.ReservationID) (*inventory.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, inventory.ErrReservationNotFound
	}
	out := r
	return &out, nil
}

func (m *Memory) UpdateReservation(_ context.Context, r *inventory.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reservations[r.ID]; !ok {
		return inventory.ErrReservationNotFound
	}
	m.reservations[r.ID] = *r
	return nil
}

func (m *Memory) ReservationsByLot(_ context.Context, lotID inventory.LotID) ([]inventory.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []inventory.Reservation
	for _, r := range m.reservations {
		if r.LotID == lotID {
			out = append(out, r)
		}
	}
	m.sortByCreation(out)
	return out, nil
}

func (m *Memory) ReservationsBySource(_ context.Context, sourceType inventory.SourceType, sourceID string) ([]inventory.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []inventory.Reservation
	for _, r := range m.reservations {
		if r.SourceType == sourceType && r.SourceID == sourceID {
			out = append(out, r)
		}
	}
	m.sortByCreation(out)
	return out, nil
}

func (m *Memory) ExpiredReservations(_ context.Context, now time.Time) ([]inventory.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []inventory.Reservation
	for _, r := range m.reservations {
		if r.Status == inventory.ReservationActive && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}
	m.sortByCreation(out)
	return out, nil
}

func (m *Memory) InsertMovement(_ context.Context, mv *inventory.StockMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements[mv.LotID] = append(m.movements[mv.LotID], *mv)
	return nil
}

func (m *Memory) GetMovement(_ context.Context, id inventory.MovementID) (*inventory.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, list := range m.movements {
		for i := range list {
			if list[i].ID == id {
				out := list[i]
				return &out, nil
			}
		}
	}
	return nil, inventory.ErrMovementNotFound
}

func (m *Memory) MovementsByLot(_ context.Context, lotID inventory.LotID) ([]inventory.StockMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]inventory.StockMovement, len(m.movements[lotID]))
	copy(out, m.movements[lotID])
	return out, nil
}

func (m *Memory) SaveOrder(_ context.Context, o *inventory.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *o
	stored.Lines = append([]inventory.OrderLine(nil), o.Lines...)
	m.orders[o.ID] = stored
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id inventory.OrderID) (*inventory.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, inventory.ErrOrderNotFound
	}
	out := o
	out.Lines = append([]inventory.OrderLine(nil), o.Lines...)
	return &out, nil
}

func (m *Memory) LotsByProduct(_ context.Context, productID inventory.ProductID, warehouseID inventory.WarehouseID) ([]inventory.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []inventory.Lot
	for _, lot := range m.lots {
		if lot.ProductID != productID {
			continue
		}
		if warehouseID != "" && lot.WarehouseID != warehouseID {
			continue
		}
		out = append(out, lot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) sortByCreation(rs []inventory.Reservation) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return m.seq[rs[i].ID] < m.seq[rs[j].ID]
	})
}

// =============================================================================
// PER-LOT CRITICAL SECTIONS
// =============================================================================

// WithLot serializes same-lot callers and rolls back lot-scoped state if
// fn fails.
func (m *Memory) WithLot(ctx context.Context, lotID inventory.LotID, fn func(inventory.StoreView) error) error {
	return m.WithLots(ctx, []inventory.LotID{lotID}, fn)
}

// WithLots acquires the lot locks sequentially in the order given.
// Callers pass FEFO order, keeping acquisition stable across the system.
func (m *Memory) WithLots(_ context.Context, lotIDs []inventory.LotID, fn func(inventory.StoreView) error) error {
	locks := make([]*sync.Mutex, 0, len(lotIDs))
	seen := make(map[inventory.LotID]bool, len(lotIDs))
	for _, id := range lotIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		locks = append(locks, m.lockFor(id))
	}
	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}()

	journal := m.snapshot(seen)
	if err := fn(m); err != nil {
		m.restore(seen, journal)
		return err
	}
	return nil
}

func (m *Memory) lockFor(id inventory.LotID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lotLocks[id]
	if !ok {
		l = &sync.Mutex{}
		m.lotLocks[id] = l
	}
	return l
}

type lotJournal struct {
	lots         map[inventory.LotID]*inventory.Lot // nil = absent before
	reservations map[inventory.ReservationID]inventory.Reservation
	movementLens map[inventory.LotID]int
}

func (m *Memory) snapshot(lotIDs map[inventory.LotID]bool) lotJournal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j := lotJournal{
		lots:         make(map[inventory.LotID]*inventory.Lot),
		reservations: make(map[inventory.ReservationID]inventory.Reservation),
		movementLens: make(map[inventory.LotID]int),
	}
	for id := range lotIDs {
		if lot, ok := m.lots[id]; ok {
			copied := lot
			j.lots[id] = &copied
		} else {
			j.lots[id] = nil
		}
		j.movementLens[id] = len(m.movements[id])
	}
	for rid, r := range m.reservations {
		if lotIDs[r.LotID] {
			j.reservations[rid] = r
		}
	}
	return j
}

func (m *Memory) restore(lotIDs map[inventory.LotID]bool, j lotJournal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, lot := range j.lots {
		if lot == nil {
			delete(m.lots, id)
		} else {
			m.lots[id] = *lot
		}
	}
	for id := range lotIDs {
		m.movements[id] = m.movements[id][:j.movementLens[id]]
	}
	for rid, r := range m.reservations {
		if !lotIDs[r.LotID] {
			continue
		}
		saved, ok := j.reservations[rid]
		if !ok {
			delete(m.reservations, rid)
			delete(m.seq, rid)
			continue
		}
		m.reservations[rid] = saved
	}
}
