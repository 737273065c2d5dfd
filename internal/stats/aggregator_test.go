package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/fleetlog/internal/ingestion"
)

type fakeStore struct {
	events   []ingestion.Event
	rows     []ingestion.LineDefectRow
	findErr  error
	rowsErr  error
	sumKnown int64
	sumErr   error
}

func (f *fakeStore) FindByMachineAndRange(_ context.Context, _ string, _, _ time.Time) ([]ingestion.Event, error) {
	return f.events, f.findErr
}

func (f *fakeStore) TopDefectLines(_ context.Context, _ string, _, _ time.Time) ([]ingestion.LineDefectRow, error) {
	return f.rows, f.rowsErr
}

func (f *fakeStore) SumKnownDefects(context.Context) (int64, error) {
	return f.sumKnown, f.sumErr
}

func TestAggregator_GetMachineStats_HealthyBelowThreshold(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	store := &fakeStore{events: []ingestion.Event{
		{DefectCount: 1},
		{DefectCount: 2},
		{DefectCount: -1}, // unknown, excluded
	}}

	agg := NewAggregator(store, DefaultConfig())

	result, err := agg.GetMachineStats(context.Background(), "M1", start, end)
	require.NoError(t, err)

	assert.Equal(t, "M1", result.MachineID)
	assert.Equal(t, 3, result.EventsCount)
	assert.Equal(t, int64(3), result.DefectsCount)
	assert.InDelta(t, 1.5, result.AvgDefectRate, 0.001)
	assert.Equal(t, healthyStatus, result.Status)
}

func TestAggregator_GetMachineStats_WarningAtOrAboveThreshold(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(1 * time.Hour)

	store := &fakeStore{events: []ingestion.Event{
		{DefectCount: 2},
	}}

	agg := NewAggregator(store, DefaultConfig())

	result, err := agg.GetMachineStats(context.Background(), "M1", start, end)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, result.AvgDefectRate, 0.001)
	assert.Equal(t, warningStatus, result.Status)
}

func TestAggregator_GetMachineStats_WindowFlooredToMinHours(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(15 * time.Minute)

	store := &fakeStore{events: []ingestion.Event{
		{DefectCount: 1},
	}}

	agg := NewAggregator(store, DefaultConfig())

	result, err := agg.GetMachineStats(context.Background(), "M1", start, end)
	require.NoError(t, err)

	// window is 0.25h but floored to MinWindowHours=1.0, so rate == 1.0 not 4.0
	assert.InDelta(t, 1.0, result.AvgDefectRate, 0.001)
}

func TestAggregator_GetMachineStats_RoundsHalfUpToOneDecimal(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	store := &fakeStore{events: []ingestion.Event{
		{DefectCount: 5}, // 5/3 = 1.666... -> 1.7
	}}

	agg := NewAggregator(store, DefaultConfig())

	result, err := agg.GetMachineStats(context.Background(), "M1", start, end)
	require.NoError(t, err)

	assert.InDelta(t, 1.7, result.AvgDefectRate, 0.0001)
}

func TestAggregator_GetMachineStats_PropagatesStoreError(t *testing.T) {
	store := &fakeStore{findErr: assert.AnError}

	agg := NewAggregator(store, DefaultConfig())

	_, err := agg.GetMachineStats(context.Background(), "M1", time.Now(), time.Now())
	require.Error(t, err)
}

func TestAggregator_GetTopDefectLines_ComputesPercentAndTruncates(t *testing.T) {
	store := &fakeStore{rows: []ingestion.LineDefectRow{
		{LineID: "L1", TotalDefects: 30, EventCount: 100},
		{LineID: "L2", TotalDefects: 10, EventCount: 40},
		{LineID: "L3", TotalDefects: 1, EventCount: 3},
	}}

	agg := NewAggregator(store, DefaultConfig())

	lines, err := agg.GetTopDefectLines(context.Background(), "", time.Now(), time.Now(), 2)
	require.NoError(t, err)

	require.Len(t, lines, 2)
	assert.Equal(t, "L1", lines[0].LineID)
	assert.InDelta(t, 30.0, lines[0].DefectsPercent, 0.0001)
	assert.Equal(t, "L2", lines[1].LineID)
	assert.InDelta(t, 25.0, lines[1].DefectsPercent, 0.0001)
}

func TestAggregator_GetTopDefectLines_ZeroEventCountYieldsZeroPercent(t *testing.T) {
	store := &fakeStore{rows: []ingestion.LineDefectRow{
		{LineID: "L1", TotalDefects: 0, EventCount: 0},
	}}

	agg := NewAggregator(store, DefaultConfig())

	lines, err := agg.GetTopDefectLines(context.Background(), "", time.Now(), time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.InDelta(t, 0.0, lines[0].DefectsPercent, 0.0001)
}

func TestAggregator_GetTopDefectLines_NonPositiveLimitUsesDefault(t *testing.T) {
	rows := make([]ingestion.LineDefectRow, 0, 15)
	for i := 0; i < 15; i++ {
		rows = append(rows, ingestion.LineDefectRow{LineID: "L", TotalDefects: 1, EventCount: 1})
	}

	store := &fakeStore{rows: rows}
	agg := NewAggregator(store, DefaultConfig())

	lines, err := agg.GetTopDefectLines(context.Background(), "", time.Now(), time.Now(), 0)
	require.NoError(t, err)
	assert.Len(t, lines, DefaultConfig().DefaultTopDefectLinesLimit)
}

func TestAggregator_TotalKnownDefects(t *testing.T) {
	store := &fakeStore{sumKnown: 42}
	agg := NewAggregator(store, DefaultConfig())

	total, err := agg.TotalKnownDefects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), total)
}
