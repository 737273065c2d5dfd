package ingestion

import (
	"context"
	"errors"
	"time"
)

// ErrVersionConflict is raised by saveAll/saveOne when a row's current
// version does not match the in-memory version presented by the caller, or
// when a Write.New insert loses a race to a concurrent insert of the same
// EventID (a primary key collision on what the caller believed was a new
// row). For saveAll, a single row's conflict aborts the entire call (the
// write must be atomic, all-or-nothing). Stage B treats either case the
// same way: retry, re-read, reclassify.
var ErrVersionConflict = errors.New("version conflict")

// Write pairs an Event with the caller's belief about whether it already
// exists in the store. New distinguishes a genuine first insert (the
// EventID was absent from FindByID/FindAllByIDs) from an update to a row
// the caller already read: an insert and a version-gated update are
// different SQL operations with different failure semantics, and
// conflating them lets a losing insert race silently resolve as an
// update (see classify and the Upsert Engine's stageA/stageB).
type Write struct {
	Event Event
	New   bool
}

// Store defines the interface for machine-event persistence.
//
// The domain package defines this interface to specify what it needs for
// event storage, without depending on concrete implementations. This
// follows the Dependency Inversion Principle: high-level domain logic
// should not depend on low-level infrastructure details. Concrete
// implementations (PostgreSQL, in-memory, etc.) live in internal/storage.
//
// Implementations must support:
//   - Idempotency: duplicate/stale events are classified DEDUPED, not errors.
//   - Out-of-order events: resolved by comparing ReceivedTime on every read.
//   - Row-granular optimistic concurrency: a Write.New insert fails
//     distinctly on primary-key collision; a Write.New==false update
//     asserts the in-memory Version still matches the stored row. Either
//     failure raises ErrVersionConflict.
type Store interface {
	// FindByID looks up a single event by its primary key. Returns
	// (event, false) when no row exists for id.
	FindByID(ctx context.Context, id string) (Event, bool, error)

	// FindAllByIDs performs a single round-trip bulk lookup, returning only
	// the ids that exist.
	FindAllByIDs(ctx context.Context, ids []string) (map[string]Event, error)

	// SaveAll performs an atomic bulk write: each Write.New==true row is a
	// plain insert, each Write.New==false row is a version-gated update.
	// A lost insert race or a stale version on any single row raises
	// ErrVersionConflict for the whole call and none of the rows are
	// persisted.
	SaveAll(ctx context.Context, writes []Write) error

	// SaveOne performs the same insert-or-version-gated-update decision as
	// SaveAll, for a single row, in its own transaction (Stage B's
	// per-row isolation).
	SaveOne(ctx context.Context, write Write) error

	// FindByMachineAndRange returns events for machineId in the half-open
	// window [start, end).
	FindByMachineAndRange(ctx context.Context, machineID string, start, end time.Time) ([]Event, error)

	// TopDefectLines aggregates events in [start, end) by line, summing
	// DefectCount only where DefectCount >= 0, ordered by that sum
	// descending. When factoryID is non-empty, grouping is by FactoryID;
	// otherwise grouping falls back to MachineID.
	TopDefectLines(ctx context.Context, factoryID string, start, end time.Time) ([]LineDefectRow, error)

	// SumKnownDefects returns the total DefectCount across all stored
	// events where DefectCount >= 0.
	SumKnownDefects(ctx context.Context) (int64, error)

	// HealthCheck verifies the storage backend is healthy and ready to
	// serve requests.
	HealthCheck(ctx context.Context) error
}

// LineDefectRow is one row of the topDefectLines aggregation: a line (or,
// under the historical fallback, a machine) identifier, its summed known
// defect count, and the number of events contributing to that sum.
type LineDefectRow struct {
	LineID       string
	TotalDefects int64
	EventCount   int64
}
