package ingestion

// Coalesce reduces events to at most one winner per EventID, using
// receive-time ordering: for each group sharing an EventID, the winner is
// the one with the maximal ReceivedTime; ties are broken by keeping the one
// seen later in input order. Every non-winner increments dedupedCount.
//
// This stage runs entirely in memory, preserves no ordering guarantee on the
// returned winners, and has no failure mode.
func Coalesce(events []Event) (winners []Event, dedupedCount int) {
	best := make(map[string]Event, len(events))
	order := make([]string, 0, len(events))

	for _, e := range events {
		current, seen := best[e.EventID]
		if !seen {
			best[e.EventID] = e
			order = append(order, e.EventID)

			continue
		}

		// Later-seen event wins ties (>=), earlier winner otherwise stays.
		if !e.ReceivedTime.Before(current.ReceivedTime) {
			best[e.EventID] = e
		}

		dedupedCount++
	}

	winners = make([]Event, 0, len(order))
	for _, id := range order {
		winners = append(winners, best[id])
	}

	return winners, dedupedCount
}
