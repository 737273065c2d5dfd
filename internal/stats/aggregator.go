package stats

import (
	"context"
	"time"
)

const (
	// healthyStatus is reported when avgDefectRate stays under
	// cfg.HealthThreshold.
	healthyStatus = "Healthy"
	// warningStatus is reported at or above cfg.HealthThreshold.
	warningStatus = "Warning"
)

// MachineStats is the getMachineStats result.
type MachineStats struct {
	MachineID     string
	Start         time.Time
	End           time.Time
	EventsCount   int
	DefectsCount  int64
	AvgDefectRate float64
	Status        string
}

// DefectLine is one ranked row of the getTopDefectLines result.
type DefectLine struct {
	LineID         string
	TotalDefects   int64
	EventCount     int64
	DefectsPercent float64
}

// Aggregator is the read-only consumer joining Store's aggregation queries
// with the derived rate/percentage/health-label formulas.
type Aggregator struct {
	store Store
	cfg   Config
}

// NewAggregator constructs an Aggregator over store using cfg's policy
// thresholds.
func NewAggregator(store Store, cfg Config) *Aggregator {
	return &Aggregator{store: store, cfg: cfg}
}

// GetMachineStats computes getMachineStats: fetch events in
// [start, end), sum known defects, and derive avgDefectRate over
// max(MinWindowHours, actual window hours), rounded half-up to 1 decimal.
// status is "Healthy" iff avgDefectRate < cfg.HealthThreshold.
func (a *Aggregator) GetMachineStats(ctx context.Context, machineID string, start, end time.Time) (MachineStats, error) {
	events, err := a.store.FindByMachineAndRange(ctx, machineID, start, end)
	if err != nil {
		return MachineStats{}, err
	}

	var defects int64

	for _, e := range events {
		if e.DefectCount >= 0 {
			defects += e.DefectCount
		}
	}

	hours := end.Sub(start).Hours()
	if hours < a.cfg.MinWindowHours {
		hours = a.cfg.MinWindowHours
	}

	rate := roundHalfUp(float64(defects)/hours, 1)

	status := healthyStatus
	if rate >= a.cfg.HealthThreshold {
		status = warningStatus
	}

	return MachineStats{
		MachineID:     machineID,
		Start:         start,
		End:           end,
		EventsCount:   len(events),
		DefectsCount:  defects,
		AvgDefectRate: rate,
		Status:        status,
	}, nil
}

// GetTopDefectLines computes getTopDefectLines: pull the store's
// per-line aggregation (already ordered by totalDefects descending),
// compute defectsPercent = totalDefects*100/eventCount (0 when
// eventCount is 0) rounded half-up to 2 decimals, then truncate to limit.
// limit <= 0 falls back to cfg.DefaultTopDefectLinesLimit.
func (a *Aggregator) GetTopDefectLines(
	ctx context.Context, factoryID string, start, end time.Time, limit int,
) ([]DefectLine, error) {
	if limit <= 0 {
		limit = a.cfg.DefaultTopDefectLinesLimit
	}

	rows, err := a.store.TopDefectLines(ctx, factoryID, start, end)
	if err != nil {
		return nil, err
	}

	lines := make([]DefectLine, 0, len(rows))

	for _, row := range rows {
		var percent float64
		if row.EventCount > 0 {
			percent = roundHalfUp(float64(row.TotalDefects)*100/float64(row.EventCount), 2)
		}

		lines = append(lines, DefectLine{
			LineID:         row.LineID,
			TotalDefects:   row.TotalDefects,
			EventCount:     row.EventCount,
			DefectsPercent: percent,
		})
	}

	if len(lines) > limit {
		lines = lines[:limit]
	}

	return lines, nil
}

// TotalKnownDefects returns the fleet-wide sum of defectCount across all
// stored events where defectCount >= 0, for health/diagnostics reporting.
func (a *Aggregator) TotalKnownDefects(ctx context.Context) (int64, error) {
	return a.store.SumKnownDefects(ctx)
}
