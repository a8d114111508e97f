package engine

import "sort"

// sortQueue orders queue entries for the push drain:
//
//  1. Action priority: create < update < delete. Creates flush first so a
//     child referencing a same-cycle parent never reaches the server
//     before it; deletes flush last so a same-cycle create+delete pair
//     cannot race.
//  2. Within creates, table dependency depth: a profile before foods,
//     foods before ingredients, workouts before log entries before sets.
//  3. Enqueue time ascending as the final tiebreak.
//
// The sort is stable so entries the rules consider equal keep their
// original queue order.
func sortQueue(entries []*QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]

		if pa, pb := a.Action.priority(), b.Action.priority(); pa != pb {
			return pa < pb
		}

		if a.Action == ActionCreate {
			if da, db := a.Table.Meta().CreateDepth, b.Table.Meta().CreateDepth; da != db {
				return da < db
			}
		}

		return a.EnqueuedAt < b.EnqueuedAt
	})
}
