// Package ingestion provides machine-event domain models, validation, and
// the two-stage upsert engine that reconciles noisy retries and out-of-order
// deliveries against durable storage.
package ingestion

import "time"

type (
	// Event is the sole persistent entity: one reported cycle from one
	// machine on a factory line.
	//
	// This is a pure domain model without JSON tags. The API layer uses
	// its own request/response DTOs and maps to this domain type.
	Event struct {
		// EventID is the externally assigned primary key. Must be globally
		// unique in the store (invariant I1).
		EventID string

		// MachineID identifies the reporting machine.
		MachineID string

		// FactoryID identifies the line/factory the machine belongs to
		// (a.k.a. lineId).
		FactoryID string

		// EventTime is when the cycle occurred on the machine. Must not be
		// more than 15 minutes ahead of "now" at ingestion.
		EventTime time.Time

		// ReceivedTime is the conflict-resolution clock: the stored record
		// always reflects the event with the maximal ReceivedTime for its
		// EventID (invariant I2). Defaulted to "now" by the Facade when the
		// caller omits it.
		ReceivedTime time.Time

		// DurationMs is the cycle duration in milliseconds, 0 <= d <= 6h.
		DurationMs int64

		// DefectCount is the number of defects observed in this cycle.
		// -1 denotes "unknown" and is excluded from defect sums (invariant I4).
		DefectCount int64

		// Version is a monotone per-row counter incremented on every
		// persisted mutation (invariant I3). Internal: callers constructing
		// a new event from a request leave this at zero.
		Version int64
	}

	// Reason is the rejection-reason vocabulary reported for a failed event.
	Reason string
)

const (
	// ReasonMissingEventID is reported when eventId is absent or blank.
	ReasonMissingEventID Reason = "MISSING_EVENT_ID"
	// ReasonInvalidDuration is reported when durationMs is out of range.
	ReasonInvalidDuration Reason = "INVALID_DURATION"
	// ReasonEventInFuture is reported when eventTime is too far ahead of now.
	ReasonEventInFuture Reason = "EVENT_IN_FUTURE"
	// ReasonConcurrencyFailure is reported when Stage B exhausts its retry
	// budget against a racing writer for the same eventId.
	ReasonConcurrencyFailure Reason = "CONCURRENCY_FAILURE"
	// ReasonInternalError is reported for unexpected store/driver failures.
	ReasonInternalError Reason = "INTERNAL_ERROR"
)

// UnknownDefectCount is the sentinel DefectCount value meaning "not reported".
const UnknownDefectCount int64 = -1

// HasSamePayload reports whether e and other share a "payload": DurationMs,
// DefectCount, EventTime, MachineID, and FactoryID are all equal.
// ReceivedTime and Version are not part of the payload.
func (e Event) HasSamePayload(other Event) bool {
	return e.DurationMs == other.DurationMs &&
		e.DefectCount == other.DefectCount &&
		e.EventTime.Equal(other.EventTime) &&
		e.MachineID == other.MachineID &&
		e.FactoryID == other.FactoryID
}

// ApplyPayload copies the payload fields and ReceivedTime of src onto e,
// preserving e's Version and EventID. Used when an incoming event updates an existing
// stored record.
func (e *Event) ApplyPayload(src Event) {
	e.DurationMs = src.DurationMs
	e.DefectCount = src.DefectCount
	e.EventTime = src.EventTime
	e.MachineID = src.MachineID
	e.FactoryID = src.FactoryID
	e.ReceivedTime = src.ReceivedTime
}
