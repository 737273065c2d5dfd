package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/correlator-io/fleetlog/internal/config"
	"github.com/correlator-io/fleetlog/internal/ingestion"
	"github.com/correlator-io/fleetlog/internal/stats"
)

// Sentinel errors for machine-event storage operations.
var (
	// ErrNoDatabaseConnection is returned when a nil *Connection is passed
	// to NewEventStore.
	ErrNoDatabaseConnection = errors.New("no database connection provided")

	// ErrEventStoreFailed wraps unexpected failures from the underlying
	// driver (connectivity, malformed rows) that are not version conflicts.
	ErrEventStoreFailed = errors.New("event store operation failed")

	// Compile-time interface assertions: EventStore implements both the
	// write-side ingestion.Store and the read-side stats.Store over the
	// same table.
	_ ingestion.Store = (*EventStore)(nil)
	_ stats.Store     = (*EventStore)(nil)
)

const (
	// machineIDColumn and factoryIDColumn name the two candidate grouping
	// columns for topDefectLines.
	machineIDColumn = "machine_id"
	factoryIDColumn = "factory_id"
)

// EventStore implements ingestion.Store and stats.Store with a PostgreSQL
// backend: a single machine_events table carrying a per-row version for
// optimistic concurrency control.
type EventStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewEventStore constructs an EventStore bound to conn. Returns
// ErrNoDatabaseConnection if conn is nil.
func NewEventStore(conn *Connection) (*EventStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &EventStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck verifies the underlying connection is reachable.
func (s *EventStore) HealthCheck(ctx context.Context) error {
	if s.conn == nil {
		return ErrNoDatabaseConnection
	}

	return s.conn.HealthCheck(ctx)
}

const selectEventColumns = `
	event_id, machine_id, factory_id, event_time, received_time,
	duration_ms, defect_count, version`

// FindByID implements ingestion.Store.
func (s *EventStore) FindByID(ctx context.Context, id string) (ingestion.Event, bool, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+selectEventColumns+`
		FROM machine_events WHERE event_id = $1`, id)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ingestion.Event{}, false, nil
	}

	if err != nil {
		return ingestion.Event{}, false, fmt.Errorf("%w: find by id: %w", ErrEventStoreFailed, err)
	}

	return event, true, nil
}

// FindAllByIDs implements ingestion.Store with a single round-trip bulk
// lookup via event_id = ANY($1).
func (s *EventStore) FindAllByIDs(ctx context.Context, ids []string) (map[string]ingestion.Event, error) {
	if len(ids) == 0 {
		return map[string]ingestion.Event{}, nil
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT `+selectEventColumns+`
		FROM machine_events WHERE event_id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("%w: find all by ids: %w", ErrEventStoreFailed, err)
	}
	defer rows.Close()

	found := make(map[string]ingestion.Event, len(ids))

	for rows.Next() {
		event, err := scanEventRows(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: find all by ids: %w", ErrEventStoreFailed, err)
		}

		found[event.EventID] = event
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: find all by ids: %w", ErrEventStoreFailed, err)
	}

	return found, nil
}

// insertEventQuery is a plain, unconditional insert used only for rows the
// caller believes are brand new (Write.New == true). It carries no ON
// CONFLICT clause: a racing writer that already inserted the same event_id
// surfaces as a unique_violation, never as a silent update of the loser's
// payload over the winner's.
const insertEventQuery = `
	INSERT INTO machine_events (
		event_id, machine_id, factory_id, event_time, received_time,
		duration_ms, defect_count, version
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// updateEventQuery updates an existing row only when its stored version
// still matches $8. Used only for rows the caller already read
// (Write.New == false); RowsAffected()==0 unambiguously means the version
// moved since that read (ingestion.ErrVersionConflict).
const updateEventQuery = `
	UPDATE machine_events SET
		machine_id    = $2,
		factory_id    = $3,
		event_time    = $4,
		received_time = $5,
		duration_ms   = $6,
		defect_count  = $7,
		version       = version + 1
	WHERE event_id = $1 AND version = $8`

// uniqueViolationCode is the Postgres SQLSTATE for a primary-key collision.
const uniqueViolationCode = "23505"

// SaveAll implements ingestion.Store. All rows are written in a single
// transaction; the first insert collision or stale version rolls back every
// row in the batch (Stage A's all-or-nothing guarantee).
func (s *EventStore) SaveAll(ctx context.Context, writes []ingestion.Write) error {
	if len(writes) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrEventStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback() // no-op once committed
	}()

	for _, write := range writes {
		if err := execWrite(ctx, tx, write); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrEventStoreFailed, err)
	}

	return nil
}

// SaveOne implements ingestion.Store's Stage B per-row isolation: its own
// transaction, independent of any other row in the batch.
func (s *EventStore) SaveOne(ctx context.Context, write ingestion.Write) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrEventStoreFailed, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := execWrite(ctx, tx, write); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrEventStoreFailed, err)
	}

	return nil
}

// execWrite dispatches to a plain insert or a version-gated update
// depending on write.New, so a lost insert race can never be mistaken for a
// successful version-checked update.
func execWrite(ctx context.Context, tx *sql.Tx, write ingestion.Write) error {
	if write.New {
		return execInsert(ctx, tx, write.Event)
	}

	return execUpdate(ctx, tx, write.Event)
}

// execInsert runs the unconditional insert for a brand-new row, translating
// a primary-key collision into ingestion.ErrVersionConflict: the caller
// believed event.EventID was unseen, but another writer already claimed it.
func execInsert(ctx context.Context, tx *sql.Tx, event ingestion.Event) error {
	_, err := tx.ExecContext(ctx, insertEventQuery,
		event.EventID, event.MachineID, event.FactoryID, event.EventTime, event.ReceivedTime,
		event.DurationMs, event.DefectCount, event.Version)
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
		return fmt.Errorf("%w: event %s", ingestion.ErrVersionConflict, event.EventID)
	}

	return fmt.Errorf("%w: insert event %s: %w", ErrEventStoreFailed, event.EventID, err)
}

// execUpdate runs the version-checked update for a row the caller already
// read. A RowsAffected of 0 means the stored version moved since that read.
func execUpdate(ctx context.Context, tx *sql.Tx, event ingestion.Event) error {
	result, err := tx.ExecContext(ctx, updateEventQuery,
		event.EventID, event.MachineID, event.FactoryID, event.EventTime, event.ReceivedTime,
		event.DurationMs, event.DefectCount, event.Version)
	if err != nil {
		return fmt.Errorf("%w: update event %s: %w", ErrEventStoreFailed, event.EventID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected for event %s: %w", ErrEventStoreFailed, event.EventID, err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: event %s", ingestion.ErrVersionConflict, event.EventID)
	}

	return nil
}

// FindByMachineAndRange implements stats.Store for the half-open window
// [start, end).
func (s *EventStore) FindByMachineAndRange(
	ctx context.Context, machineID string, start, end time.Time,
) ([]ingestion.Event, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+selectEventColumns+`
		FROM machine_events
		WHERE machine_id = $1 AND event_time >= $2 AND event_time < $3`,
		machineID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: find by machine and range: %w", ErrEventStoreFailed, err)
	}
	defer rows.Close()

	var events []ingestion.Event

	for rows.Next() {
		event, err := scanEventRows(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: find by machine and range: %w", ErrEventStoreFailed, err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: find by machine and range: %w", ErrEventStoreFailed, err)
	}

	return events, nil
}

// buildTopDefectLinesQuery assembles the aggregation query: grouping
// by factory_id when factoryID is non-empty, falling back to machine_id
// (the historical, shipped-as-is behavior) otherwise. Factored out from
// TopDefectLines so the grouping-column decision is unit-testable without
// a database.
func buildTopDefectLinesQuery(factoryID string, start, end time.Time) (query string, args []any) {
	groupCol := machineIDColumn
	args = []any{start, end}

	filter := ""
	if factoryID != "" {
		groupCol = factoryIDColumn
		filter = " AND factory_id = $3"
		args = append(args, factoryID)
	}

	query = fmt.Sprintf(`
		SELECT %s AS line_id,
		       COALESCE(SUM(defect_count) FILTER (WHERE defect_count >= 0), 0) AS total_defects,
		       COUNT(*) AS event_count
		FROM machine_events
		WHERE event_time >= $1 AND event_time < $2%s
		GROUP BY %s
		ORDER BY total_defects DESC`, groupCol, filter, groupCol)

	return query, args
}

// TopDefectLines implements stats.Store.
func (s *EventStore) TopDefectLines(
	ctx context.Context, factoryID string, start, end time.Time,
) ([]ingestion.LineDefectRow, error) {
	query, args := buildTopDefectLinesQuery(factoryID, start, end)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: top defect lines: %w", ErrEventStoreFailed, err)
	}
	defer rows.Close()

	var result []ingestion.LineDefectRow

	for rows.Next() {
		var row ingestion.LineDefectRow
		if err := rows.Scan(&row.LineID, &row.TotalDefects, &row.EventCount); err != nil {
			return nil, fmt.Errorf("%w: top defect lines: %w", ErrEventStoreFailed, err)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: top defect lines: %w", ErrEventStoreFailed, err)
	}

	return result, nil
}

// SumKnownDefects implements ingestion.Store and stats.Store.
func (s *EventStore) SumKnownDefects(ctx context.Context) (int64, error) {
	var total int64

	row := s.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(defect_count) FILTER (WHERE defect_count >= 0), 0) FROM machine_events`)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("%w: sum known defects: %w", ErrEventStoreFailed, err)
	}

	return total, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting
// scanEvent/scanEventRows share the same column order.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (ingestion.Event, error) {
	return scanInto(row)
}

func scanEventRows(rows *sql.Rows) (ingestion.Event, error) {
	return scanInto(rows)
}

func scanInto(row rowScanner) (ingestion.Event, error) {
	var e ingestion.Event

	err := row.Scan(
		&e.EventID, &e.MachineID, &e.FactoryID, &e.EventTime, &e.ReceivedTime,
		&e.DurationMs, &e.DefectCount, &e.Version)

	return e, err
}
