package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/fleetlog/internal/ingestion"
)

// TestEventStoreIntegration runs all integration tests for EventStore
// against a real PostgreSQL instance.
func TestEventStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	store, err := NewEventStore(conn)
	require.NoError(t, err)

	t.Run("SaveAll_NewRows", testEventStoreSaveAllNewRows(ctx, store))
	t.Run("SaveAll_VersionConflictRollsBackWholeBatch", testEventStoreSaveAllVersionConflict(ctx, store))
	t.Run("SaveOne_UpdatesExistingRow", testEventStoreSaveOneUpdates(ctx, store))
	t.Run("FindAllByIDs_OnlyReturnsExisting", testEventStoreFindAllByIDs(ctx, store))
	t.Run("FindByMachineAndRange_HalfOpenWindow", testEventStoreFindByMachineAndRange(ctx, store))
	t.Run("TopDefectLines_GroupsByFactoryWhenProvided", testEventStoreTopDefectLinesByFactory(ctx, store))
	t.Run("TopDefectLines_FallsBackToMachine", testEventStoreTopDefectLinesByMachine(ctx, store))
	t.Run("SumKnownDefects_ExcludesUnknown", testEventStoreSumKnownDefects(ctx, store))
	t.Run("HealthCheck_Succeeds", testEventStoreHealthCheck(ctx, store))
	t.Run("SaveOne_LostInsertRaceIsDetected", testEventStoreSaveOneLostInsertRace(ctx, store))
}

// newWrites marks every event as a brand-new row (Write.New == true), the
// common case in these fixtures: each seeds a never-before-seen EventID.
func newWrites(events ...ingestion.Event) []ingestion.Write {
	writes := make([]ingestion.Write, len(events))
	for i, e := range events {
		writes[i] = ingestion.Write{Event: e, New: true}
	}

	return writes
}

func testEventStoreSaveAllNewRows(ctx context.Context, store *EventStore) func(*testing.T) {
	return func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)

		events := []ingestion.Event{
			{
				EventID: "int-save-all-1", MachineID: "M1", FactoryID: "F1",
				EventTime: now, ReceivedTime: now, DurationMs: 100, DefectCount: 2,
			},
			{
				EventID: "int-save-all-2", MachineID: "M1", FactoryID: "F1",
				EventTime: now, ReceivedTime: now, DurationMs: 150, DefectCount: 0,
			},
		}

		err := store.SaveAll(ctx, newWrites(events...))
		require.NoError(t, err)

		got, found, err := store.FindByID(ctx, "int-save-all-1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(2), got.DefectCount)
		assert.Equal(t, int64(0), got.Version)
	}
}

func testEventStoreSaveAllVersionConflict(ctx context.Context, store *EventStore) func(*testing.T) {
	return func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)

		seed := ingestion.Event{
			EventID: "int-conflict-1", MachineID: "M1", FactoryID: "F1",
			EventTime: now, ReceivedTime: now, DurationMs: 100, DefectCount: 1,
		}
		require.NoError(t, store.SaveAll(ctx, newWrites(seed)))

		// stale version (0) competing with a sibling row that would otherwise save fine.
		staleUpdate := seed
		staleUpdate.DefectCount = 9

		sibling := ingestion.Event{
			EventID: "int-conflict-sibling", MachineID: "M1", FactoryID: "F1",
			EventTime: now, ReceivedTime: now, DurationMs: 50, DefectCount: 3,
		}

		// Bump the stored version out from under staleUpdate by saving seed again first.
		bumped := seed
		bumped.DefectCount = 5
		require.NoError(t, store.SaveOne(ctx, ingestion.Write{Event: bumped}))

		err := store.SaveAll(ctx, []ingestion.Write{
			{Event: staleUpdate}, // New: false — stale version update, must be rejected
			{Event: sibling, New: true},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ingestion.ErrVersionConflict)

		// sibling must NOT have been persisted: the whole batch rolled back.
		_, found, err := store.FindByID(ctx, "int-conflict-sibling")
		require.NoError(t, err)
		assert.False(t, found)
	}
}

func testEventStoreSaveOneUpdates(ctx context.Context, store *EventStore) func(*testing.T) {
	return func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)

		seed := ingestion.Event{
			EventID: "int-save-one-1", MachineID: "M1", FactoryID: "F1",
			EventTime: now, ReceivedTime: now, DurationMs: 100, DefectCount: 1,
		}
		require.NoError(t, store.SaveOne(ctx, ingestion.Write{Event: seed, New: true}))

		stored, found, err := store.FindByID(ctx, seed.EventID)
		require.NoError(t, err)
		require.True(t, found)

		stored.DefectCount = 7
		require.NoError(t, store.SaveOne(ctx, ingestion.Write{Event: stored}))

		updated, found, err := store.FindByID(ctx, seed.EventID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, int64(7), updated.DefectCount)
		assert.Equal(t, stored.Version+1, updated.Version)
	}
}

func testEventStoreFindAllByIDs(ctx context.Context, store *EventStore) func(*testing.T) {
	return func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)

		require.NoError(t, store.SaveAll(ctx, newWrites(
			ingestion.Event{EventID: "int-findall-1", MachineID: "M1", FactoryID: "F1", EventTime: now, ReceivedTime: now},
		)))

		found, err := store.FindAllByIDs(ctx, []string{"int-findall-1", "int-findall-missing"})
		require.NoError(t, err)
		assert.Len(t, found, 1)
		assert.Contains(t, found, "int-findall-1")
	}
}

func testEventStoreFindByMachineAndRange(ctx context.Context, store *EventStore) func(*testing.T) {
	return func(t *testing.T) {
		base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

		require.NoError(t, store.SaveAll(ctx, newWrites(
			ingestion.Event{EventID: "int-range-before", MachineID: "M-range", FactoryID: "F1", EventTime: base.Add(-time.Hour), ReceivedTime: base},
			ingestion.Event{EventID: "int-range-in", MachineID: "M-range", FactoryID: "F1", EventTime: base, ReceivedTime: base},
			ingestion.Event{EventID: "int-range-at-end", MachineID: "M-range", FactoryID: "F1", EventTime: base.Add(24 * time.Hour), ReceivedTime: base},
		)))

		events, err := store.FindByMachineAndRange(ctx, "M-range", base, base.Add(24*time.Hour))
		require.NoError(t, err)

		ids := make([]string, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.EventID)
		}

		assert.Contains(t, ids, "int-range-in")
		assert.NotContains(t, ids, "int-range-before")
		assert.NotContains(t, ids, "int-range-at-end") // end is exclusive
	}
}

func testEventStoreTopDefectLinesByFactory(ctx context.Context, store *EventStore) func(*testing.T) {
	return func(t *testing.T) {
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

		require.NoError(t, store.SaveAll(ctx, newWrites(
			ingestion.Event{EventID: "int-topf-1", MachineID: "M1", FactoryID: "F-top", EventTime: base, ReceivedTime: base, DefectCount: 10},
			ingestion.Event{EventID: "int-topf-2", MachineID: "M2", FactoryID: "F-top", EventTime: base, ReceivedTime: base, DefectCount: 5},
		)))

		rows, err := store.TopDefectLines(ctx, "F-top", base.Add(-time.Hour), base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "F-top", rows[0].LineID)
		assert.Equal(t, int64(15), rows[0].TotalDefects)
		assert.Equal(t, int64(2), rows[0].EventCount)
	}
}

func testEventStoreTopDefectLinesByMachine(ctx context.Context, store *EventStore) func(*testing.T) {
	return func(t *testing.T) {
		base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

		require.NoError(t, store.SaveAll(ctx, newWrites(
			ingestion.Event{EventID: "int-topm-1", MachineID: "M-top", FactoryID: "", EventTime: base, ReceivedTime: base, DefectCount: 4},
		)))

		rows, err := store.TopDefectLines(ctx, "", base.Add(-time.Hour), base.Add(time.Hour))
		require.NoError(t, err)

		found := false

		for _, row := range rows {
			if row.LineID == "M-top" {
				found = true

				assert.Equal(t, int64(4), row.TotalDefects)
			}
		}

		assert.True(t, found)
	}
}

func testEventStoreSumKnownDefects(ctx context.Context, store *EventStore) func(*testing.T) {
	return func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)

		before, err := store.SumKnownDefects(ctx)
		require.NoError(t, err)

		require.NoError(t, store.SaveAll(ctx, newWrites(
			ingestion.Event{EventID: "int-sum-1", MachineID: "M1", FactoryID: "F1", EventTime: now, ReceivedTime: now, DefectCount: 3},
			ingestion.Event{EventID: "int-sum-2", MachineID: "M1", FactoryID: "F1", EventTime: now, ReceivedTime: now, DefectCount: ingestion.UnknownDefectCount},
		)))

		after, err := store.SumKnownDefects(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+3, after)
	}
}

func testEventStoreHealthCheck(ctx context.Context, store *EventStore) func(*testing.T) {
	return func(t *testing.T) {
		assert.NoError(t, store.HealthCheck(ctx))
	}
}

// testEventStoreSaveOneLostInsertRace reproduces two writers who both
// believe "int-race-1" is brand new: the first SaveOne wins as a plain
// insert, the second must fail with ErrVersionConflict (a primary-key
// collision on the insert), never silently overwrite the winner as an
// update.
func testEventStoreSaveOneLostInsertRace(ctx context.Context, store *EventStore) func(*testing.T) {
	return func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)

		winner := ingestion.Event{
			EventID: "int-race-1", MachineID: "M1", FactoryID: "F1",
			EventTime: now, ReceivedTime: now, DurationMs: 100, DefectCount: 1,
		}
		loser := ingestion.Event{
			EventID: "int-race-1", MachineID: "M1", FactoryID: "F1",
			EventTime: now, ReceivedTime: now.Add(time.Second), DurationMs: 200, DefectCount: 9,
		}

		require.NoError(t, store.SaveOne(ctx, ingestion.Write{Event: winner, New: true}))

		err := store.SaveOne(ctx, ingestion.Write{Event: loser, New: true})
		require.Error(t, err)
		assert.ErrorIs(t, err, ingestion.ErrVersionConflict)

		stored, found, err := store.FindByID(ctx, "int-race-1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, winner.DurationMs, stored.DurationMs, "loser's insert must not have overwritten the winner")
		assert.Equal(t, int64(0), stored.Version)
	}
}
