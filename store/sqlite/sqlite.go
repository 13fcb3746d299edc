/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements inventory.Store using SQLite. In production the same
  patterns apply to PostgreSQL with row-level locks (SELECT ... FOR
  UPDATE); only the lock mechanism and minor SQL dialect details differ.

KEY TABLES:
  lots:            Physical batches with on-hand/locked quantities
  reservations:    Claims against lots; soft-deleted via status, rows
                   are never removed (audit requirement)
  stock_movements: Append-only signed deltas; corrections are reversing
                   entries, never UPDATE or DELETE
  orders:          Demand headers with lifecycle status
  order_lines:     Per-product requirements within an order

PER-LOT LOCKING:
  SQLite has no row locks, so the exclusive per-lot critical section is
  an in-process mutex per lot id wrapped around a database transaction.
  Same-lot callers serialize; unrelated lots proceed in parallel.
  Multi-lot sections acquire mutexes in the order the caller gives
  (allocation order), which keeps acquisition order stable across
  callers and avoids deadlocks.

QUANTITY ENCODING:
  Quantities persist as decimal strings (TEXT) and parse back through
  inventory.MustParseQuantity, so no precision is lost in the round trip.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/allocation.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - inventory/store.go: Interface definitions and the locking contract
  - inventory/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/allocation-engine/inventory"
)

// Store implements inventory.Store using SQLite.
type Store struct {
	db *sql.DB
	view

	mu       sync.Mutex
	lotLocks map[inventory.LotID]*sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps write transactions serialized behind the
	// in-process lot locks instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &Store{
		db:       db,
		view:     view{q: db},
		lotLocks: make(map[inventory.LotID]*sync.Mutex),
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Lots: physical batches
	CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		received_at TEXT NOT NULL,
		expires_at TEXT,
		on_hand TEXT NOT NULL,
		locked TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lots_product
		ON lots(product_id, warehouse_id);
	CREATE INDEX IF NOT EXISTS idx_lots_expiry
		ON lots(expires_at) WHERE expires_at IS NOT NULL;

	-- Reservations: soft-deleted via status, rows persist for audit
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL REFERENCES lots(id),
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		confirmed_at TEXT,
		released_at TEXT,
		expires_at TEXT
	);

	-- Availability recomputation (hot path)
	CREATE INDEX IF NOT EXISTS idx_reservations_lot_status
		ON reservations(lot_id, status);
	-- Demand-side lookups for order coverage
	CREATE INDEX IF NOT EXISTS idx_reservations_source
		ON reservations(source_type, source_id);
	-- Sweeper scan
	CREATE INDEX IF NOT EXISTS idx_reservations_expiry
		ON reservations(expires_at) WHERE expires_at IS NOT NULL;

	-- Stock movements: append-only
	CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL REFERENCES lots(id),
		movement_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		reference_id TEXT,
		reference_type TEXT,
		reversal_of TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_lot
		ON stock_movements(lot_id, created_at);
	-- At most one reversal per original entry
	CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_reversal
		ON stock_movements(reversal_of) WHERE reversal_of IS NOT NULL;

	-- Orders: demand headers
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		reference TEXT,
		priority TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS order_lines (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open'
	);

	CREATE INDEX IF NOT EXISTS idx_order_lines_order
		ON order_lines(order_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PER-LOT CRITICAL SECTIONS
// =============================================================================

// WithLot runs fn inside the lot's exclusive critical section and a
// single database transaction. The transaction commits only if fn
// returns nil.
func (s *Store) WithLot(ctx context.Context, lotID inventory.LotID, fn func(inventory.StoreView) error) error {
	return s.WithLots(ctx, []inventory.LotID{lotID}, fn)
}

// WithLots acquires the lot locks sequentially in the order given, then
// runs fn inside one transaction. Callers pass allocation (FEFO) order;
// acquisition order must stay stable across callers to avoid deadlocks.
func (s *Store) WithLots(ctx context.Context, lotIDs []inventory.LotID, fn func(inventory.StoreView) error) error {
	locks := make([]*sync.Mutex, 0, len(lotIDs))
	seen := make(map[inventory.LotID]bool, len(lotIDs))
	for _, id := range lotIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		locks = append(locks, s.lockFor(id))
	}
	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(view{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) lockFor(id inventory.LotID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lotLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.lotLocks[id] = l
	}
	return l
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"stock_movements", "reservations", "order_lines", "orders", "lots"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// STORE VIEW - Shared between direct reads and transactional sections
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// view implements inventory.StoreView against either the bare *sql.DB
// (unlocked reads) or an open *sql.Tx (inside WithLot/WithLots).
type view struct {
	q queryer
}

func (v view) GetLot(ctx context.Context, id inventory.LotID) (*inventory.Lot, error) {
	row := v.q.QueryRowContext(ctx, `
		SELECT id, product_id, warehouse_id, received_at, expires_at,
		       on_hand, locked, status, created_at, updated_at
		FROM lots WHERE id = ?`, id)

	lot, err := scanLot(row)
	if err == sql.ErrNoRows {
		return nil, inventory.ErrLotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lot %s: %w", id, err)
	}
	return lot, nil
}

func (v view) SaveLot(ctx context.Context, lot *inventory.Lot) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO lots (id, product_id, warehouse_id, received_at, expires_at,
			on_hand, locked, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			product_id = excluded.product_id,
			warehouse_id = excluded.warehouse_id,
			received_at = excluded.received_at,
			expires_at = excluded.expires_at,
			on_hand = excluded.on_hand,
			locked = excluded.locked,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		lot.ID, lot.ProductID, lot.WarehouseID,
		formatTime(lot.ReceivedAt), formatTimePtr(lot.ExpiresAt),
		lot.OnHand.String(), lot.Locked.String(), lot.Status,
		formatTime(lot.CreatedAt), formatTime(lot.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save lot %s: %w", lot.ID, err)
	}
	return nil
}

func (v view) LotsByProduct(ctx context.Context, productID inventory.ProductID, warehouseID inventory.WarehouseID) ([]inventory.Lot, error) {
	query := `
		SELECT id, product_id, warehouse_id, received_at, expires_at,
		       on_hand, locked, status, created_at, updated_at
		FROM lots WHERE product_id = ?`
	args := []any{productID}
	if warehouseID != "" {
		query += " AND warehouse_id = ?"
		args = append(args, warehouseID)
	}
	query += " ORDER BY id"

	rows, err := v.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []inventory.Lot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *lot)
	}
	return lots, rows.Err()
}

func (v view) InsertReservation(ctx context.Context, r *inventory.Reservation) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO reservations (id, lot_id, source_type, source_id, quantity,
			status, created_at, confirmed_at, released_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.LotID, r.SourceType, r.SourceID, r.Quantity.String(),
		r.Status, formatTime(r.CreatedAt),
		formatTimePtr(r.ConfirmedAt), formatTimePtr(r.ReleasedAt), formatTimePtr(r.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reservation %s: %w", r.ID, err)
	}
	return nil
}

func (v view) GetReservation(ctx context.Context, id inventory.ReservationID) (*inventory.Reservation, error) {
	row := v.q.QueryRowContext(ctx, `
		SELECT id, lot_id, source_type, source_id, quantity,
		       status, created_at, confirmed_at, released_at, expires_at
		FROM reservations WHERE id = ?`, id)

	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, inventory.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation %s: %w", id, err)
	}
	return r, nil
}

func (v view) UpdateReservation(ctx context.Context, r *inventory.Reservation) error {
	// Status, quantity and timestamps only. A reservation never moves
	// to a different lot and its row never disappears.
	res, err := v.q.ExecContext(ctx, `
		UPDATE reservations SET
			source_type = ?, source_id = ?, quantity = ?, status = ?,
			confirmed_at = ?, released_at = ?, expires_at = ?
		WHERE id = ?`,
		r.SourceType, r.SourceID, r.Quantity.String(), r.Status,
		formatTimePtr(r.ConfirmedAt), formatTimePtr(r.ReleasedAt), formatTimePtr(r.ExpiresAt),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return inventory.ErrReservationNotFound
	}
	return nil
}

func (v view) ReservationsByLot(ctx context.Context, lotID inventory.LotID) ([]inventory.Reservation, error) {
	return v.queryReservations(ctx, `
		SELECT id, lot_id, source_type, source_id, quantity,
		       status, created_at, confirmed_at, released_at, expires_at
		FROM reservations
		WHERE lot_id = ?
		ORDER BY created_at ASC, rowid ASC`, lotID)
}

func (v view) ReservationsBySource(ctx context.Context, sourceType inventory.SourceType, sourceID string) ([]inventory.Reservation, error) {
	return v.queryReservations(ctx, `
		SELECT id, lot_id, source_type, source_id, quantity,
		       status, created_at, confirmed_at, released_at, expires_at
		FROM reservations
		WHERE source_type = ? AND source_id = ?
		ORDER BY created_at ASC, rowid ASC`, sourceType, sourceID)
}

func (v view) ExpiredReservations(ctx context.Context, now time.Time) ([]inventory.Reservation, error) {
	return v.queryReservations(ctx, `
		SELECT id, lot_id, source_type, source_id, quantity,
		       status, created_at, confirmed_at, released_at, expires_at
		FROM reservations
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY created_at ASC, rowid ASC`, formatTime(now))
}

func (v view) queryReservations(ctx context.Context, query string, args ...any) ([]inventory.Reservation, error) {
	rows, err := v.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []inventory.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, *r)
	}
	return reservations, rows.Err()
}

func (v view) InsertMovement(ctx context.Context, m *inventory.StockMovement) error {
	var reversalOf any
	if m.ReversalOf != nil {
		reversalOf = string(*m.ReversalOf)
	}
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO stock_movements (id, lot_id, movement_type, quantity,
			reference_id, reference_type, reversal_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.LotID, m.Type, m.Quantity.String(),
		m.ReferenceID, m.ReferenceType, reversalOf, formatTime(m.CreatedAt),
	)
	if err != nil {
		// The unique partial index on reversal_of closes the race
		// between two concurrent reversals of the same entry.
		if isUniqueConstraintError(err) {
			return inventory.ErrMovementAlreadyReversed
		}
		return fmt.Errorf("failed to insert movement %s: %w", m.ID, err)
	}
	return nil
}

func (v view) GetMovement(ctx context.Context, id inventory.MovementID) (*inventory.StockMovement, error) {
	row := v.q.QueryRowContext(ctx, `
		SELECT id, lot_id, movement_type, quantity,
		       reference_id, reference_type, reversal_of, created_at
		FROM stock_movements WHERE id = ?`, id)

	m, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, inventory.ErrMovementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load movement %s: %w", id, err)
	}
	return m, nil
}

func (v view) MovementsByLot(ctx context.Context, lotID inventory.LotID) ([]inventory.StockMovement, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, lot_id, movement_type, quantity,
		       reference_id, reference_type, reversal_of, created_at
		FROM stock_movements
		WHERE lot_id = ?
		ORDER BY created_at ASC, rowid ASC`, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []inventory.StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *m)
	}
	return movements, rows.Err()
}

func (v view) SaveOrder(ctx context.Context, o *inventory.Order) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO orders (id, reference, priority, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reference = excluded.reference,
			priority = excluded.priority,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		o.ID, o.Reference, o.Priority, o.Status,
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.ID, err)
	}

	for i := range o.Lines {
		line := &o.Lines[i]
		_, err := v.q.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, product_id, warehouse_id, quantity, due_date, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				quantity = excluded.quantity,
				due_date = excluded.due_date,
				status = excluded.status`,
			line.ID, o.ID, line.ProductID, line.WarehouseID,
			line.Quantity.String(), formatTime(line.DueDate), line.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to save order line %s: %w", line.ID, err)
		}
	}
	return nil
}

func (v view) GetOrder(ctx context.Context, id inventory.OrderID) (*inventory.Order, error) {
	var o inventory.Order
	var createdAt, updatedAt string
	err := v.q.QueryRowContext(ctx, `
		SELECT id, reference, priority, status, created_at, updated_at
		FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.Reference, &o.Priority, &o.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, inventory.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)

	rows, err := v.q.QueryContext(ctx, `
		SELECT id, order_id, product_id, warehouse_id, quantity, due_date, status
		FROM order_lines WHERE order_id = ?
		ORDER BY rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line inventory.OrderLine
		var quantity, dueDate string
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.WarehouseID,
			&quantity, &dueDate, &line.Status); err != nil {
			return nil, err
		}
		line.Quantity = inventory.MustParseQuantity(quantity)
		line.DueDate = parseTime(dueDate)
		o.Lines = append(o.Lines, line)
	}
	return &o, rows.Err()
}

// =============================================================================
// ROW SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (*inventory.Lot, error) {
	var lot inventory.Lot
	var receivedAt, onHand, locked, createdAt, updatedAt string
	var expiresAt sql.NullString

	err := row.Scan(&lot.ID, &lot.ProductID, &lot.WarehouseID,
		&receivedAt, &expiresAt, &onHand, &locked, &lot.Status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	lot.ReceivedAt = parseTime(receivedAt)
	lot.ExpiresAt = parseTimePtr(expiresAt)
	lot.OnHand = inventory.MustParseQuantity(onHand)
	lot.Locked = inventory.MustParseQuantity(locked)
	lot.CreatedAt = parseTime(createdAt)
	lot.UpdatedAt = parseTime(updatedAt)
	return &lot, nil
}

func scanReservation(row rowScanner) (*inventory.Reservation, error) {
	var r inventory.Reservation
	var quantity, createdAt string
	var confirmedAt, releasedAt, expiresAt sql.NullString

	err := row.Scan(&r.ID, &r.LotID, &r.SourceType, &r.SourceID,
		&quantity, &r.Status, &createdAt, &confirmedAt, &releasedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	r.Quantity = inventory.MustParseQuantity(quantity)
	r.CreatedAt = parseTime(createdAt)
	r.ConfirmedAt = parseTimePtr(confirmedAt)
	r.ReleasedAt = parseTimePtr(releasedAt)
	r.ExpiresAt = parseTimePtr(expiresAt)
	return &r, nil
}

func scanMovement(row rowScanner) (*inventory.StockMovement, error) {
	var m inventory.StockMovement
	var quantity, createdAt string
	var referenceID, referenceType, reversalOf sql.NullString

	err := row.Scan(&m.ID, &m.LotID, &m.Type, &quantity,
		&referenceID, &referenceType, &reversalOf, &createdAt)
	if err != nil {
		return nil, err
	}

	m.Quantity = inventory.MustParseQuantity(quantity)
	m.ReferenceID = referenceID.String
	m.ReferenceType = referenceType.String
	if reversalOf.Valid {
		id := inventory.MovementID(reversalOf.String)
		m.ReversalOf = &id
	}
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

// =============================================================================
// TIME AND ERROR HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
