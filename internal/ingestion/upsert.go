package ingestion

import (
	"context"
	"errors"
	"log/slog"
)

// MaxRetries is the default Stage B retry cap, overridable via
// UpsertConfig.MaxRetries.
const MaxRetries = 3

// UpsertConfig tunes the Upsert Engine. Every tunable has a default;
// cmd/ingester uses DefaultUpsertConfig and reads no environment variable
// for it.
type UpsertConfig struct {
	// MaxRetries bounds Stage B's per-row retry attempts. Defaults to 3.
	MaxRetries int
}

// DefaultUpsertConfig returns the documented defaults.
func DefaultUpsertConfig() UpsertConfig {
	return UpsertConfig{MaxRetries: MaxRetries}
}

// classification is the outcome of comparing a winner against any currently
// stored record for the same EventID.
type classification int

const (
	classNew classification = iota
	classUpdated
	classDeduped
)

// UpsertEngine is the two-stage writer. Stage A attempts an optimistic bulk
// upsert; if it fails with any store error (a version conflict or otherwise),
// Stage B retries every winner individually, each through its own
// Store.SaveOne transaction, bounded by a retry cap.
type UpsertEngine struct {
	store  Store
	cfg    UpsertConfig
	logger *slog.Logger
}

// NewUpsertEngine constructs an engine bound to store, using cfg for its
// tunables. A nil logger falls back to slog.Default().
func NewUpsertEngine(store Store, cfg UpsertConfig, logger *slog.Logger) *UpsertEngine {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = MaxRetries
	}

	return &UpsertEngine{store: store, cfg: cfg, logger: logger}
}

// tally accumulates the Stage A / Stage B outcome counters.
type tally struct {
	accepted int
	updated  int
	deduped  int
}

// Upsert runs Stage A; on any store error (including ErrVersionConflict) it
// discards Stage A's tallies and falls back to Stage B over the same
// winners. Returns the accepted/updated/deduped counts plus any per-row
// CONCURRENCY_FAILURE / INTERNAL_ERROR rejections from Stage B.
func (u *UpsertEngine) Upsert(ctx context.Context, winners []Event) (accepted, updated, deduped int, rejections []Rejection) {
	t, staErr := u.stageA(ctx, winners)
	if staErr == nil {
		return t.accepted, t.updated, t.deduped, nil
	}

	u.logger.Warn("stage A aborted, falling back to stage B",
		slog.String("error", staErr.Error()),
		slog.Int("winners", len(winners)))

	t, rejections = u.stageB(ctx, winners)

	return t.accepted, t.updated, t.deduped, rejections
}

// stageA is the optimistic bulk path: prefetch, classify, bulk write,
// tally. Any store error aborts the whole stage — its tallies are discarded
// by the caller.
func (u *UpsertEngine) stageA(ctx context.Context, winners []Event) (tally, error) {
	if len(winners) == 0 {
		return tally{}, nil
	}

	ids := make([]string, len(winners))
	for i, w := range winners {
		ids[i] = w.EventID
	}

	existing, err := u.store.FindAllByIDs(ctx, ids)
	if err != nil {
		return tally{}, err
	}

	var t tally

	staged := make([]Write, 0, len(winners))

	for _, w := range winners {
		e, found := existing[w.EventID]
		if !found {
			staged = append(staged, Write{Event: w, New: true})
			t.accepted++

			continue
		}

		switch classify(w, e) {
		case classDeduped:
			t.deduped++
		case classUpdated:
			e.ApplyPayload(w)
			staged = append(staged, Write{Event: e})
			t.updated++
		case classNew:
			staged = append(staged, Write{Event: w, New: true})
			t.accepted++
		}
	}

	if len(staged) == 0 {
		return t, nil
	}

	if err := u.store.SaveAll(ctx, staged); err != nil {
		return tally{}, err
	}

	return t, nil
}

// stageB is the per-row fallback: each winner gets its own
// transaction via Store.SaveOne and up to cfg.MaxRetries attempts. One
// row's failure never affects another.
func (u *UpsertEngine) stageB(ctx context.Context, winners []Event) (tally, []Rejection) {
	var (
		t          tally
		rejections []Rejection
	)

	for _, w := range winners {
		switch outcome, err := u.attemptUpsert(ctx, w); {
		case err != nil:
			reason := ReasonInternalError

			var concErr *concurrencyFailureError
			if errors.As(err, &concErr) {
				reason = ReasonConcurrencyFailure
			}

			rejections = append(rejections, Rejection{EventID: w.EventID, Reason: reason})

			u.logger.Error("stage B row failed",
				slog.String("event_id", w.EventID),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()))
		case outcome == classDeduped:
			t.deduped++
		case outcome == classUpdated:
			t.updated++
		default:
			t.accepted++
		}
	}

	return t, rejections
}

// attemptUpsert executes one winner's Stage B logic up to cfg.MaxRetries
// times. Returns the classification on success, or a non-nil error
// (CONCURRENCY_FAILURE after the retry budget is exhausted, or any other
// infrastructure error) otherwise.
func (u *UpsertEngine) attemptUpsert(ctx context.Context, w Event) (classification, error) {
	var lastErr error

	for attempt := 0; attempt < u.cfg.MaxRetries; attempt++ {
		outcome, err := u.tryOnce(ctx, w)
		if err == nil {
			return outcome, nil
		}

		if !errors.Is(err, ErrVersionConflict) {
			return 0, err
		}

		lastErr = err
	}

	return 0, errConcurrencyFailure(w.EventID, lastErr)
}

// tryOnce is a single Stage B attempt: read, classify, write.
func (u *UpsertEngine) tryOnce(ctx context.Context, w Event) (classification, error) {
	e, found, err := u.store.FindByID(ctx, w.EventID)
	if err != nil {
		return 0, err
	}

	if !found {
		if err := u.store.SaveOne(ctx, Write{Event: w, New: true}); err != nil {
			return 0, err
		}

		return classNew, nil
	}

	switch classify(w, e) {
	case classDeduped:
		return classDeduped, nil
	default:
		e.ApplyPayload(w)

		if err := u.store.SaveOne(ctx, Write{Event: e}); err != nil {
			return 0, err
		}

		return classUpdated, nil
	}
}

// classify compares winner w against the currently stored record e and
// returns how the Upsert Engine should treat w.
func classify(w, e Event) classification {
	if !w.ReceivedTime.After(e.ReceivedTime) {
		return classDeduped
	}

	if w.HasSamePayload(e) {
		return classDeduped
	}

	return classUpdated
}

// Rejection pairs an EventID with the reason it was not persisted.
type Rejection struct {
	EventID string
	Reason  Reason
}

// concurrencyFailureError is the terminal Stage B error after the retry
// budget is exhausted against a racing writer on the same EventID.
type concurrencyFailureError struct {
	eventID string
	cause   error
}

func errConcurrencyFailure(eventID string, cause error) error {
	return &concurrencyFailureError{eventID: eventID, cause: cause}
}

func (e *concurrencyFailureError) Error() string {
	return "concurrency failure for event " + e.eventID + ": " + e.cause.Error()
}

func (e *concurrencyFailureError) Unwrap() error {
	return e.cause
}
