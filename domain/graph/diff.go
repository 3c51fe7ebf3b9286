package graph

import (
	"encoding/json"
	"sort"
)

// jsonEqual compares two values through their JSON encoding, so 1 and 1.0
// compare equal and map ordering does not matter.
func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	var av, bv any
	if err := json.Unmarshal(aj, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(bj, &bv); err != nil {
		return false
	}
	return deepEqualJSON(av, bv)
}

func deepEqualJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqualJSON(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// computeChangeSummary produces a per-key diff between two property bags.
// Returns nil when nothing changed.
func computeChangeSummary(oldProps, newProps map[string]any) map[string]any {
	var added, removed, updated []string

	for k, newVal := range newProps {
		oldVal, existed := oldProps[k]
		if !existed {
			added = append(added, k)
			continue
		}
		if !jsonEqual(oldVal, newVal) {
			updated = append(updated, k)
		}
	}
	for k := range oldProps {
		if _, exists := newProps[k]; !exists {
			removed = append(removed, k)
		}
	}

	if len(added) == 0 && len(removed) == 0 && len(updated) == 0 {
		return nil
	}

	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(updated)

	summary := map[string]any{}
	if len(added) > 0 {
		summary["added"] = added
	}
	if len(removed) > 0 {
		summary["removed"] = removed
	}
	if len(updated) > 0 {
		summary["updated"] = updated
	}
	return summary
}

// mergeProperties applies a delta to base. A nil value in the delta deletes
// the key. The inputs are not mutated.
func mergeProperties(base, delta map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range delta {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}
