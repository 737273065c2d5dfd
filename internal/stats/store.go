// Package stats provides read-only machine health and line-defect
// aggregation over the same durable store the ingestion pipeline writes to.
package stats

import (
	"context"
	"time"

	"github.com/correlator-io/fleetlog/internal/ingestion"
)

// Store is the read-side counterpart to ingestion.Store: a narrow
// interface exposing only the aggregation queries the Aggregator needs,
// kept separate from the write-side interface so a reporting consumer
// never accidentally gains mutation access.
type Store interface {
	// FindByMachineAndRange returns events for machineID in the half-open
	// window [start, end).
	FindByMachineAndRange(ctx context.Context, machineID string, start, end time.Time) ([]ingestion.Event, error)

	// TopDefectLines aggregates events in [start, end) by line, summing
	// DefectCount only where DefectCount >= 0, ordered by that sum
	// descending. When factoryID is non-empty, grouping is by FactoryID;
	// otherwise grouping falls back to MachineID.
	TopDefectLines(ctx context.Context, factoryID string, start, end time.Time) ([]ingestion.LineDefectRow, error)

	// SumKnownDefects returns the total DefectCount across all stored
	// events where DefectCount >= 0.
	SumKnownDefects(ctx context.Context) (int64, error)
}
