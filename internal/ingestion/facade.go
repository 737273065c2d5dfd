package ingestion

import (
	"context"
	"time"

	"github.com/correlator-io/fleetlog/internal/aliasing"
)

// aliasResolver is the subset of aliasing.Resolver the Facade depends on;
// satisfied by a nil *aliasing.Resolver (passthrough) or a loaded one.
type aliasResolver interface {
	Resolve(id string) string
}

// Facade composes the Validator, Coalescer, and Upsert Engine into
// ProcessBatch, the single public ingestion entry point.
type Facade struct {
	validator *Validator
	engine    *UpsertEngine
	aliases   aliasResolver
	now       func() time.Time
}

// FacadeOption customizes Facade construction.
type FacadeOption func(*Facade)

// WithAliasResolver resolves legacy machineId/factoryId strings to their
// canonical form once, inside the Facade, before validation — so a renamed
// factoryId is validated and stored under its canonical form, and
// topDefectLines/machine-stats never see the legacy string.
func WithAliasResolver(r *aliasing.Resolver) FacadeOption {
	return func(f *Facade) {
		if r != nil {
			f.aliases = r
		}
	}
}

// WithClock overrides the facade's notion of "now" (tests only).
func WithClock(now func() time.Time) FacadeOption {
	return func(f *Facade) {
		if now != nil {
			f.now = now
		}
	}
}

// NewFacade constructs a Facade over engine, validating events with a fresh
// Validator.
func NewFacade(engine *UpsertEngine, opts ...FacadeOption) *Facade {
	f := &Facade{
		validator: NewValidator(),
		engine:    engine,
		aliases:   noopResolver{},
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// ProcessBatch runs the batch pipeline:
//  1. Build a fresh response with zero counters and an empty rejection list.
//  2. For each input event: resolve aliases, validate; on failure append a
//     rejection; on success default ReceivedTime if absent and collect.
//  3. Coalesce survivors; increment deduped by the in-batch dedup count.
//  4. Run the Upsert Engine over the coalesced winners. If Stage A fails,
//     its tally is discarded and Stage B recomputes accepted/updated/deduped;
//     the rejections and the in-batch dedup count from step 3 are kept.
func (f *Facade) ProcessBatch(ctx context.Context, events []Event) BatchResult {
	now := f.now()

	result := BatchResult{}

	survivors := make([]Event, 0, len(events))

	for _, e := range events {
		e.MachineID = f.aliases.Resolve(e.MachineID)
		e.FactoryID = f.aliases.Resolve(e.FactoryID)

		if reason, ok := f.validator.Validate(e, now); !ok {
			result.Rejections = append(result.Rejections, Rejection{EventID: e.EventID, Reason: reason})

			continue
		}

		if e.ReceivedTime.IsZero() {
			e.ReceivedTime = now
		}

		survivors = append(survivors, e)
	}

	winners, deduped := Coalesce(survivors)
	result.Deduped += deduped

	accepted, updated, stageDeduped, rejections := f.engine.Upsert(ctx, winners)
	result.Accepted = accepted
	result.Updated = updated
	result.Deduped += stageDeduped
	result.Rejections = append(result.Rejections, rejections...)

	return result
}

// noopResolver passes every id through unchanged.
type noopResolver struct{}

func (noopResolver) Resolve(id string) string { return id }
