package engine

import "testing"

func TestApplyOwnership_StrictOverwrites(t *testing.T) {
	t.Parallel()

	payload := map[string]any{"id": "w1", "user_id": "someone-else"}
	applyOwnership(TableWorkouts.Meta(), payload, "u123")

	if payload["user_id"] != "u123" {
		t.Errorf("user_id = %v, want u123", payload["user_id"])
	}
}

func TestApplyOwnership_StrictAnonymousLeavesPayload(t *testing.T) {
	t.Parallel()

	payload := map[string]any{"id": "w1", "user_id": "local-user"}
	applyOwnership(TableWorkouts.Meta(), payload, "")

	if payload["user_id"] != "local-user" {
		t.Errorf("user_id = %v, want local-user", payload["user_id"])
	}
}

func TestApplyOwnership_SoftFillsPlaceholder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload map[string]any
		want    any
	}{
		{"placeholder", map[string]any{"id": "f1", "user_id": "local-user"}, "u123"},
		{"empty", map[string]any{"id": "f1", "user_id": ""}, "u123"},
		{"missing", map[string]any{"id": "f1"}, "u123"},
		{"real owner kept", map[string]any{"id": "f1", "user_id": "u999"}, "u999"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			applyOwnership(TableFoods.Meta(), tc.payload, "u123")

			if tc.payload["user_id"] != tc.want {
				t.Errorf("user_id = %v, want %v", tc.payload["user_id"], tc.want)
			}
		})
	}
}

func TestApplyOwnership_SoftAnonymousLeavesPayload(t *testing.T) {
	t.Parallel()

	payload := map[string]any{"id": "f1", "user_id": "local-user"}
	applyOwnership(TableFoods.Meta(), payload, "")

	if payload["user_id"] != "local-user" {
		t.Errorf("user_id = %v, want local-user", payload["user_id"])
	}
}

func TestApplyOwnership_NoneStrips(t *testing.T) {
	t.Parallel()

	meta := TableMeta{Ownership: OwnershipNone}
	payload := map[string]any{"id": "x", "user_id": "stray"}

	applyOwnership(meta, payload, "u123")

	if _, ok := payload["user_id"]; ok {
		t.Error("user_id should have been stripped")
	}
}

func TestApplyOwnership_PublicShareableKeepsCreator(t *testing.T) {
	t.Parallel()

	// A food flagged public keeps the creator's id; soft filling never
	// replaces a real owner.
	payload := map[string]any{"id": "f1", "user_id": "creator", "is_public": true}
	applyOwnership(TableFoods.Meta(), payload, "u123")

	if payload["user_id"] != "creator" {
		t.Errorf("user_id = %v, want creator", payload["user_id"])
	}
}
