package engine

import "testing"

func TestSortQueue_ActionsBeforeDepth(t *testing.T) {
	t.Parallel()

	entries := []*QueueEntry{
		{ID: "del", Table: TableFoods, Action: ActionDelete, EnqueuedAt: 1},
		{ID: "upd", Table: TableFoods, Action: ActionUpdate, EnqueuedAt: 2},
		{ID: "cre", Table: TableWorkoutSets, Action: ActionCreate, EnqueuedAt: 3},
	}

	sortQueue(entries)

	want := []string{"cre", "upd", "del"}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, id)
		}
	}
}

func TestSortQueue_CreatesOrderedByDepth(t *testing.T) {
	t.Parallel()

	// Enqueued in reverse dependency order: set before its log entry,
	// log entry before its workout, workout before the profile.
	entries := []*QueueEntry{
		{ID: "set", Table: TableWorkoutSets, Action: ActionCreate, EnqueuedAt: 1},
		{ID: "entry", Table: TableWorkoutLogEntries, Action: ActionCreate, EnqueuedAt: 2},
		{ID: "workout", Table: TableWorkouts, Action: ActionCreate, EnqueuedAt: 3},
		{ID: "profile", Table: TableUserProfiles, Action: ActionCreate, EnqueuedAt: 4},
	}

	sortQueue(entries)

	want := []string{"profile", "workout", "entry", "set"}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("entries[%d].ID = %q, want %q", i, entries[i].ID, id)
		}
	}
}

func TestSortQueue_EnqueueTimeBreaksTies(t *testing.T) {
	t.Parallel()

	entries := []*QueueEntry{
		{ID: "second", Table: TableFoods, Action: ActionCreate, EnqueuedAt: 20},
		{ID: "first", Table: TableMeals, Action: ActionCreate, EnqueuedAt: 10},
	}

	sortQueue(entries)

	if entries[0].ID != "first" || entries[1].ID != "second" {
		t.Errorf("got order [%s %s], want [first second]", entries[0].ID, entries[1].ID)
	}
}

func TestSortQueue_DepthIgnoredForUpdates(t *testing.T) {
	t.Parallel()

	// Updates keep enqueue order even when table depths differ.
	entries := []*QueueEntry{
		{ID: "deep", Table: TableWorkoutSets, Action: ActionUpdate, EnqueuedAt: 1},
		{ID: "shallow", Table: TableUserProfiles, Action: ActionUpdate, EnqueuedAt: 2},
	}

	sortQueue(entries)

	if entries[0].ID != "deep" {
		t.Errorf("entries[0].ID = %q, want %q", entries[0].ID, "deep")
	}
}
