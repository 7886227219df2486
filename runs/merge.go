// Package runs folds persisted and streaming runs into display groups:
// continuation chains are merged, sorted by latest activity and bucketed.
package runs

import "github.com/simon020286/go-promptchain/models"

// Merge folds items left to right. An item joins the previous group when it
// continues it; otherwise it starts a new group. Each returned group is a
// copy of its first item with the joined items in Continuations.
//
// Groups returned by an earlier Merge are unfolded first, so merging twice
// yields the same groups.
func Merge(items []*models.Run) []*models.Run {
	var result []*models.Run

	for _, run := range flatten(items) {
		if len(result) == 0 {
			result = append(result, newGroup(run))
			continue
		}

		group := result[len(result)-1]
		compare := group
		own := true
		if n := len(group.Continuations); n > 0 {
			compare = group.Continuations[n-1]
			own = false
		}

		joined, takeID := continues(compare, run, own)
		if !joined {
			result = append(result, newGroup(run))
			continue
		}

		group.Continuations = append(group.Continuations, run)
		if takeID {
			group.ID = run.ID
		}
		if compare.ContinuationID != 0 {
			group.ContinuationID = compare.ContinuationID
		} else {
			group.ContinuationID = run.ContinuationID
		}
	}

	return result
}

// continues reports whether run extends compare and whether the group should
// take run's id. own is set when compare is the group itself.
func continues(compare, run *models.Run, own bool) (joined, takeID bool) {
	switch {
	// Next step of a row that is still streaming
	case compare.Partial && compare.Index < run.Index:
		return true, own
	// run is the parent a continuation already points at, in either order
	case compare.ParentRunID != 0 && compare.ParentRunID == run.ID:
		return true, true
	case run.ParentRunID != 0 && run.ParentRunID == compare.ID:
		return true, true
	// Siblings under one parent
	case compare.ParentRunID != 0 && compare.ParentRunID == run.ParentRunID:
		return true, false
	case compare.ContinuationID != 0 && compare.ContinuationID == run.ContinuationID:
		return true, false
	}
	return false, false
}

func newGroup(run *models.Run) *models.Run {
	g := *run
	g.Head = run
	g.Continuations = nil
	return &g
}

// flatten unfolds groups produced by Merge back into their original items
func flatten(items []*models.Run) []*models.Run {
	out := make([]*models.Run, 0, len(items))
	for _, item := range items {
		if item.Head == nil {
			out = append(out, item)
			continue
		}
		out = append(out, item.Head)
		out = append(out, item.Continuations...)
	}
	return out
}

// FromPartials converts streaming partial runs for merging
func FromPartials(partials []models.PartialRun) []*models.Run {
	out := make([]*models.Run, len(partials))
	for i, p := range partials {
		out[i] = p.AsRun()
	}
	return out
}
