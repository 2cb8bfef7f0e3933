package realtime

import (
	"sort"

	"github.com/comalice/tickx"
)

// EventWithMeta adds sequencing metadata for deterministic ordering.
type EventWithMeta struct {
	Event       tickx.Event
	SequenceNum uint64
	Priority    int
}

// sortEvents orders a batch by priority, highest first, then by submission
// order.
func sortEvents(events []EventWithMeta) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Priority != events[j].Priority {
			return events[i].Priority > events[j].Priority
		}
		return events[i].SequenceNum < events[j].SequenceNum
	})
}
