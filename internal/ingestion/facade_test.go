package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	aliases map[string]string
}

func (r fakeResolver) Resolve(id string) string {
	if canonical, ok := r.aliases[id]; ok {
		return canonical
	}

	return id
}

func newTestFacade(opts ...FacadeOption) (*Facade, *fakeStore) {
	store := newFakeStore()
	engine := NewUpsertEngine(store, DefaultUpsertConfig(), nil)

	return NewFacade(engine, opts...), store
}

func TestFacade_ProcessBatch_AcceptsNewEvents(t *testing.T) {
	facade, _ := newTestFacade()

	result := facade.ProcessBatch(context.Background(), []Event{
		{EventID: "EV-1", MachineID: "M1", DurationMs: 10},
		{EventID: "EV-2", MachineID: "M1", DurationMs: 10},
	})

	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Deduped)
	assert.Empty(t, result.Rejections)
}

func TestFacade_ProcessBatch_RejectsInvalidEvents(t *testing.T) {
	facade, _ := newTestFacade()

	result := facade.ProcessBatch(context.Background(), []Event{
		{EventID: "EV-1", MachineID: "M1", DurationMs: 10},
		{EventID: "  ", MachineID: "M1", DurationMs: 10},
		{EventID: "EV-3", MachineID: "M1", DurationMs: -5},
	})

	assert.Equal(t, 1, result.Accepted)
	require.Len(t, result.Rejections, 2)
	assert.Equal(t, ReasonMissingEventID, result.Rejections[0].Reason)
	assert.Equal(t, ReasonInvalidDuration, result.Rejections[1].Reason)
}

func TestFacade_ProcessBatch_CoalescesInBatchDuplicates(t *testing.T) {
	facade, _ := newTestFacade()
	t0 := time.Now()

	result := facade.ProcessBatch(context.Background(), []Event{
		{EventID: "EV-1", MachineID: "M1", ReceivedTime: t0, DefectCount: 1},
		{EventID: "EV-1", MachineID: "M1", ReceivedTime: t0.Add(time.Second), DefectCount: 2},
		{EventID: "EV-1", MachineID: "M1", ReceivedTime: t0.Add(2 * time.Second), DefectCount: 3},
	})

	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 2, result.Deduped)
	assert.Empty(t, result.Rejections)
}

func TestFacade_ProcessBatch_DuplicateAcrossCalls(t *testing.T) {
	facade, _ := newTestFacade()
	t0 := time.Now()

	first := facade.ProcessBatch(context.Background(), []Event{
		{EventID: "EV-1", MachineID: "M1", ReceivedTime: t0, DefectCount: 1},
	})
	assert.Equal(t, 1, first.Accepted)
	assert.Equal(t, 0, first.Deduped)

	second := facade.ProcessBatch(context.Background(), []Event{
		{EventID: "EV-1", MachineID: "M1", ReceivedTime: t0, DefectCount: 1},
	})
	assert.Equal(t, 0, second.Accepted)
	assert.Equal(t, 1, second.Deduped)
}

// withFakeResolver is a test-only FacadeOption that injects a fake
// aliasResolver directly, since WithAliasResolver only accepts a concrete
// *aliasing.Resolver and this package has no reason to construct one just
// to exercise ProcessBatch's resolution step.
func withFakeResolver(r aliasResolver) FacadeOption {
	return func(f *Facade) {
		f.aliases = r
	}
}

func TestFacade_ProcessBatch_ResolvesAliasesBeforeValidation(t *testing.T) {
	resolver := fakeResolver{aliases: map[string]string{"OLD-M1": "M1", "OLD-F1": "F1"}}
	facade, store := newTestFacade(withFakeResolver(resolver))

	result := facade.ProcessBatch(context.Background(), []Event{
		{EventID: "EV-1", MachineID: "OLD-M1", FactoryID: "OLD-F1", DurationMs: 10},
	})

	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, "M1", store.rows["EV-1"].MachineID)
	assert.Equal(t, "F1", store.rows["EV-1"].FactoryID)
}

func TestFacade_ProcessBatch_DefaultsReceivedTimeWhenAbsent(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	facade, store := newTestFacade(WithClock(func() time.Time { return fixed }))

	result := facade.ProcessBatch(context.Background(), []Event{
		{EventID: "EV-1", MachineID: "M1", DurationMs: 10},
	})

	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, fixed, store.rows["EV-1"].ReceivedTime)
}

func TestFacade_ProcessBatch_CounterSumMatchesInputLength(t *testing.T) {
	facade, _ := newTestFacade()
	t0 := time.Now()

	input := []Event{
		{EventID: "EV-1", MachineID: "M1", ReceivedTime: t0, DurationMs: 10},
		{EventID: "EV-1", MachineID: "M1", ReceivedTime: t0.Add(time.Second), DurationMs: 10},
		{EventID: "  ", MachineID: "M1", DurationMs: 10},
		{EventID: "EV-2", MachineID: "M1", DurationMs: -1},
	}

	result := facade.ProcessBatch(context.Background(), input)

	sum := result.Accepted + result.Updated + result.Deduped + len(result.Rejections)
	assert.Equal(t, len(input), sum)
}

func TestFacade_ProcessBatch_Empty(t *testing.T) {
	facade, _ := newTestFacade()

	result := facade.ProcessBatch(context.Background(), nil)

	assert.Equal(t, 0, result.Accepted)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Deduped)
	assert.Empty(t, result.Rejections)
}
