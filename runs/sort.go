package runs

import (
	"sort"
	"time"

	"github.com/simon020286/go-promptchain/models"
)

// SortRuns orders items oldest first by the latest activity of their
// continuation chain. Items without a timestamp go last. Items sharing a
// continuation id stay contiguous, ordered by their own timestamp.
// The input slice is not modified.
func SortRuns(items []*models.Run) []*models.Run {
	latest := make(map[int64]time.Time)
	for _, item := range items {
		if item.ContinuationID == 0 {
			continue
		}
		if ts := lastActivity(item); ts.After(latest[item.ContinuationID]) {
			latest[item.ContinuationID] = ts
		}
	}

	effective := func(item *models.Run) time.Time {
		if item.ContinuationID != 0 {
			return latest[item.ContinuationID]
		}
		return lastActivity(item)
	}

	out := make([]*models.Run, len(items))
	copy(out, items)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]

		aDefined, bDefined := !a.Timestamp.IsZero(), !b.Timestamp.IsZero()
		if aDefined != bDefined {
			return aDefined
		}
		if !aDefined {
			return false
		}

		if la, lb := effective(a), effective(b); !la.Equal(lb) {
			return la.Before(lb)
		}
		if a.ContinuationID != b.ContinuationID {
			return a.ContinuationID < b.ContinuationID
		}
		return a.Timestamp.Before(b.Timestamp)
	})

	return out
}

// lastActivity is the newest timestamp of an item and its continuations
func lastActivity(item *models.Run) time.Time {
	ts := item.Timestamp
	for _, c := range item.Continuations {
		if c.Timestamp.After(ts) {
			ts = c.Timestamp
		}
	}
	return ts
}
