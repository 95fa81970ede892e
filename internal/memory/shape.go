// Package memory implements the v1 pipeline: payload shape detection and
// normalization at write time, deterministic per-scope merge at read time,
// and the purpose-class policy matrix that gates reads.
package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/memoryscope/memoryscope/internal/model"
)

// DetectShape classifies a decoded JSON payload into exactly one value shape.
// Returns an error when the payload matches none.
func DetectShape(value interface{}) (model.ValueShape, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		if _, ok := v["likes"]; ok {
			return model.ShapeLikesDislikes, nil
		}
		if _, ok := v["dislikes"]; ok {
			return model.ShapeLikesDislikes, nil
		}
		if len(v) > 0 && allBooleans(v) {
			return model.ShapeBooleanFlags, nil
		}
		if _, ok := v["focus_mode"]; ok {
			return model.ShapeAttentionSettings, nil
		}
		if _, ok := v["do_not_disturb"]; ok {
			return model.ShapeAttentionSettings, nil
		}
		if _, ok := v["windows"]; ok {
			return model.ShapeScheduleWindows, nil
		}
		if _, ok := v["time_slots"]; ok {
			return model.ShapeScheduleWindows, nil
		}
		return model.ShapeKvMap, nil
	case []interface{}:
		if len(v) == 0 {
			return "", fmt.Errorf("value_json list is empty")
		}
		if allStrings(v) {
			return model.ShapeRulesList, nil
		}
		if allWindowDicts(v) {
			return model.ShapeScheduleWindows, nil
		}
		return "", fmt.Errorf("value_json list must contain only strings or window objects")
	default:
		return "", fmt.Errorf("value_json must be an object or a list")
	}
}

func allBooleans(m map[string]interface{}) bool {
	for _, v := range m {
		if _, ok := v.(bool); !ok {
			return false
		}
	}
	return true
}

func allStrings(items []interface{}) bool {
	for _, item := range items {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}

func allWindowDicts(items []interface{}) bool {
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return false
		}
		_, hasStart := m["start"]
		_, hasEnd := m["end"]
		_, hasDay := m["day"]
		if !hasStart && !hasEnd && !hasDay {
			return false
		}
	}
	return true
}

// Normalize canonicalizes a payload for storage: arrays deduplicated and
// sorted, keys lowercased, tag-like string values lowercased.
func Normalize(value interface{}, shape model.ValueShape) interface{} {
	switch shape {
	case model.ShapeLikesDislikes:
		m, ok := value.(map[string]interface{})
		if !ok {
			return value
		}
		result := map[string]interface{}{}
		if likes, ok := m["likes"].([]interface{}); ok {
			result["likes"] = dedupeCaseInsensitive(likes)
		}
		if dislikes, ok := m["dislikes"].([]interface{}); ok {
			result["dislikes"] = dedupeCaseInsensitive(dislikes)
		}
		return result
	case model.ShapeRulesList:
		items, ok := value.([]interface{})
		if !ok {
			return value
		}
		seen := map[string]bool{}
		var rules []string
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if !seen[s] {
				seen[s] = true
				rules = append(rules, s)
			}
		}
		sort.Strings(rules)
		out := make([]interface{}, len(rules))
		for i, r := range rules {
			out[i] = r
		}
		return out
	case model.ShapeScheduleWindows:
		items, ok := value.([]interface{})
		if !ok {
			return value
		}
		return dedupeWindows(items)
	case model.ShapeBooleanFlags:
		m, ok := value.(map[string]interface{})
		if !ok {
			return value
		}
		result := make(map[string]interface{}, len(m))
		for k, v := range m {
			result[strings.ToLower(k)] = v
		}
		return result
	case model.ShapeAttentionSettings:
		m, ok := value.(map[string]interface{})
		if !ok {
			return value
		}
		result := make(map[string]interface{}, len(m))
		for k, v := range m {
			key := strings.ToLower(k)
			switch val := v.(type) {
			case string:
				result[key] = strings.ToLower(val)
			case []interface{}:
				lowered := make([]interface{}, len(val))
				for i, item := range val {
					if s, ok := item.(string); ok {
						lowered[i] = strings.ToLower(s)
					} else {
						lowered[i] = item
					}
				}
				result[key] = lowered
			default:
				result[key] = v
			}
		}
		return result
	default: // kv_map
		m, ok := value.(map[string]interface{})
		if !ok {
			return value
		}
		result := make(map[string]interface{}, len(m))
		for k, v := range m {
			key := strings.ToLower(k)
			if s, ok := v.(string); ok && strings.Contains(key, "tag") {
				result[key] = strings.ToLower(s)
			} else {
				result[key] = v
			}
		}
		return result
	}
}

// dedupeCaseInsensitive keeps the first-seen representative of each
// case-insensitive equivalence class, then sorts lexicographically.
func dedupeCaseInsensitive(items []interface{}) []interface{} {
	seen := map[string]bool{}
	var kept []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		if !seen[lower] {
			seen[lower] = true
			kept = append(kept, s)
		}
	}
	sort.Strings(kept)
	out := make([]interface{}, len(kept))
	for i, s := range kept {
		out[i] = s
	}
	return out
}

// windowKey builds the identity of a window dict: its sorted key-value pairs.
func windowKey(window map[string]interface{}) string {
	keys := make([]string, 0, len(window))
	for k := range window {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v|", k, window[k])
	}
	return b.String()
}

func dedupeWindows(items []interface{}) []interface{} {
	seen := map[string]bool{}
	var out []interface{}
	for _, item := range items {
		if window, ok := item.(map[string]interface{}); ok {
			key := windowKey(window)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, item)
	}
	return out
}
