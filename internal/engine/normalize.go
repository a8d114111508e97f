package engine

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizePayload prepares a queued snapshot for transmission: the
// local-only synced flag is dropped and dotted-path keys left over from
// flattened local storage are expanded into nested objects. The input map
// is not modified.
func normalizePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))

	for k, v := range payload {
		if k == syncedField {
			continue
		}

		if !strings.Contains(k, ".") {
			out[k] = v
			continue
		}

		setPath(out, strings.Split(k, "."), v)
	}

	return out
}

// setPath writes v at the nested location named by path, creating
// intermediate objects as needed. An existing non-object value at an
// intermediate step is replaced — dotted keys win over scalar leftovers.
func setPath(m map[string]any, path []string, v any) {
	for _, seg := range path[:len(path)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[seg] = child
		}

		m = child
	}

	m[path[len(path)-1]] = v
}

// mealTypeField is the free-text label on daily log rows that must be
// canonicalized before transmission.
const mealTypeField = "meal_type"

// Canonical meal vocabulary. The catch-all absorbs anything that matches
// neither the vocabulary nor the user's configured meals.
var mealVocabulary = []string{"breakfast", "lunch", "dinner", "snack"}

const mealCatchAll = "snack"

// canonicalMealType maps a free-text meal label to the fixed vocabulary.
// Matching is case-insensitive on NFC-normalized text (labels are typed by
// users, sometimes on mobile keyboards that emit decomposed accents):
//
//  1. substring match against the canonical vocabulary,
//  2. match against the user's configured meals by id, name, or
//     slug/underscore/dash variants of the name,
//  3. the catch-all category.
//
// A meal row must carry a "category" in the canonical vocabulary for step
// 2 to resolve; otherwise the match falls through to the catch-all.
func canonicalMealType(label string, meals []map[string]any) string {
	folded := foldLabel(label)
	if folded == "" {
		return mealCatchAll
	}

	for _, meal := range mealVocabulary {
		if strings.Contains(folded, meal) {
			return meal
		}
	}

	for _, meal := range meals {
		if !mealMatches(folded, meal) {
			continue
		}

		category, _ := meal["category"].(string)
		category = foldLabel(category)

		for _, known := range mealVocabulary {
			if category == known {
				return known
			}
		}
	}

	return mealCatchAll
}

// mealMatches reports whether a folded label refers to the given meal
// by id, name, or a slug variant of the name.
func mealMatches(folded string, meal map[string]any) bool {
	if id, _ := meal["id"].(string); id != "" && folded == foldLabel(id) {
		return true
	}

	name, _ := meal["name"].(string)
	if name == "" {
		return false
	}

	name = foldLabel(name)
	if folded == name {
		return true
	}

	spaceless := strings.ReplaceAll(name, " ", "")

	for _, sep := range []string{"_", "-", ""} {
		if folded == strings.ReplaceAll(name, " ", sep) || folded == spaceless {
			return true
		}
	}

	return false
}

// foldLabel lowercases and NFC-normalizes user-entered text for matching.
func foldLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}
