package ingestion

import (
	"strings"
	"time"
)

// maxFutureSkew is the allowed window an event's EventTime may lead "now" by.
const maxFutureSkew = 15 * time.Minute

// maxDuration is the allowed upper bound on DurationMs.
const maxDuration = 6 * time.Hour

// Validator performs pure, stateless validation of candidate events. It does
// not mutate the event and never performs store I/O.
type Validator struct{}

// NewValidator creates a new Validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks event against now and returns (reason, false) on the first
// failing check, or ("", true) when the event is accepted. Checks run in
// order:
//  1. EventID present and non-blank → else ReasonMissingEventID.
//  2. DurationMs < 0 or > 6h → ReasonInvalidDuration.
//  3. EventTime > now + 15min → ReasonEventInFuture.
//
// A missing ReceivedTime is NOT a rejection; the Facade defaults it to now
// prior to coalescing.
func (v *Validator) Validate(event Event, now time.Time) (Reason, bool) {
	if strings.TrimSpace(event.EventID) == "" {
		return ReasonMissingEventID, false
	}

	if event.DurationMs < 0 || event.DurationMs > maxDuration.Milliseconds() {
		return ReasonInvalidDuration, false
	}

	if event.EventTime.After(now.Add(maxFutureSkew)) {
		return ReasonEventInFuture, false
	}

	return "", true
}
