package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/memoryscope/memoryscope/internal/model"
)

// fuzzyThreshold is the similarity ratio above which two strings are treated
// as duplicates during preference merging.
const fuzzyThreshold = 0.85

// maxSummaryBytes bounds summary_text; longer summaries are truncated.
const maxSummaryBytes = 240

// Summary is the deterministic merge result for one (user, scope, domain) key.
type Summary struct {
	Text       string                 `json:"summary_text"`
	Struct     map[string]interface{} `json:"summary_struct"`
	Confidence float64                `json:"confidence"`
}

// Merge deterministically merges memories for a scope. Identical inputs
// produce byte-identical outputs: memories are sorted by (created_at, id)
// before merging and all emitted collections have a canonical order.
func Merge(memories []model.Memory, scope model.Scope) Summary {
	if len(memories) == 0 {
		return Summary{Text: "No memories found.", Struct: map[string]interface{}{}, Confidence: 0.0}
	}

	sorted := make([]model.Memory, len(memories))
	copy(sorted, memories)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})

	switch scope {
	case model.ScopePreferences:
		return mergePreferences(sorted)
	case model.ScopeConstraints:
		return mergeConstraints(sorted)
	case model.ScopeCommunication:
		return mergeCommunication(sorted)
	case model.ScopeAccessibility:
		return mergeAccessibility(sorted)
	case model.ScopeSchedule:
		return mergeSchedule(sorted)
	case model.ScopeAttention:
		return mergeAttention(sorted)
	default:
		return Summary{Text: fmt.Sprintf("Unknown scope: %s", scope), Struct: map[string]interface{}{}, Confidence: 0.0}
	}
}

func confidenceFor(n int) float64 {
	c := 0.5 + float64(n)*0.1
	if c > 0.9 {
		c = 0.9
	}
	return c
}

func truncate(text string) string {
	if len(text) > maxSummaryBytes {
		return text[:maxSummaryBytes-3] + "..."
	}
	return text
}

// fuzzyMatch reports whether two strings are near-duplicates: equal after
// lowercasing and trimming, or with a SequenceMatcher ratio at or above the
// threshold.
func fuzzyMatch(a, b string, threshold float64) bool {
	s1 := strings.ToLower(strings.TrimSpace(a))
	s2 := strings.ToLower(strings.TrimSpace(b))
	if s1 == s2 {
		return true
	}
	return difflib.NewMatcher(splitChars(s1), splitChars(s2)).Ratio() >= threshold
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// dedupeFuzzy removes near-duplicate strings (first occurrence wins) and
// sorts the survivors.
func dedupeFuzzy(items []string, threshold float64) []string {
	seenExact := map[string]bool{}
	kept := []string{}
	for _, item := range items {
		lower := strings.ToLower(strings.TrimSpace(item))
		if seenExact[lower] {
			continue
		}
		duplicate := false
		for _, prior := range kept {
			if fuzzyMatch(item, prior, threshold) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, item)
			seenExact[lower] = true
		}
	}
	sort.Strings(kept)
	return kept
}

// orderedKV is a map with deterministic key insertion order, so that key
// matching and latest-wins overwrites behave identically across runs.
type orderedKV struct {
	keys []string
	vals map[string]interface{}
}

func newOrderedKV() *orderedKV {
	return &orderedKV{vals: map[string]interface{}{}}
}

func (o *orderedKV) set(key string, value interface{}) {
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = value
}

func (o *orderedKV) toMap() map[string]interface{} {
	out := make(map[string]interface{}, len(o.vals))
	for k, v := range o.vals {
		out[k] = v
	}
	return out
}

func normalizeKey(key string) string {
	r := strings.NewReplacer("_", "", " ", "", "-", "")
	return r.Replace(key)
}

func mergePreferences(memories []model.Memory) Summary {
	var allLikes, allDislikes []string
	kv := newOrderedKV()

	for _, mem := range memories {
		switch mem.ValueShape {
		case model.ShapeLikesDislikes:
			m, ok := mem.Value.(map[string]interface{})
			if !ok {
				continue
			}
			allLikes = append(allLikes, stringItems(m["likes"])...)
			allDislikes = append(allDislikes, stringItems(m["dislikes"])...)
		case model.ShapeKvMap:
			m, ok := mem.Value.(map[string]interface{})
			if !ok {
				continue
			}
			for _, k := range sortedKeys(m) {
				keyLower := strings.ToLower(strings.TrimSpace(k))
				keyNorm := normalizeKey(keyLower)
				// Merge into an existing key when the normalized forms
				// collide; the later value wins.
				matched := ""
				for _, existing := range kv.keys {
					if normalizeKey(existing) == keyNorm {
						matched = existing
						break
					}
				}
				if matched != "" {
					kv.set(matched, m[k])
				} else {
					kv.set(keyLower, m[k])
				}
			}
		}
	}

	likes := dedupeFuzzy(allLikes, fuzzyThreshold)
	dislikes := dedupeFuzzy(allDislikes, fuzzyThreshold)

	text := fmt.Sprintf("Likes: %d, Dislikes: %d, Settings: %d", len(likes), len(dislikes), len(kv.keys))
	return Summary{
		Text: truncate(text),
		Struct: map[string]interface{}{
			"likes":    likes,
			"dislikes": dislikes,
			"settings": kv.toMap(),
		},
		Confidence: confidenceFor(len(memories)),
	}
}

func mergeConstraints(memories []model.Memory) Summary {
	seen := map[string]bool{}
	rules := []string{}
	kv := newOrderedKV()

	for _, mem := range memories {
		switch mem.ValueShape {
		case model.ShapeRulesList:
			for _, rule := range stringItems(mem.Value) {
				if !seen[rule] {
					seen[rule] = true
					rules = append(rules, rule)
				}
			}
		case model.ShapeKvMap:
			if m, ok := mem.Value.(map[string]interface{}); ok {
				for _, k := range sortedKeys(m) {
					kv.set(k, m[k])
				}
			}
		}
	}
	sort.Strings(rules)

	text := fmt.Sprintf("Rules: %d, Constraints: %d", len(rules), len(kv.keys))
	return Summary{
		Text: truncate(text),
		Struct: map[string]interface{}{
			"rules":       rules,
			"constraints": kv.toMap(),
		},
		Confidence: confidenceFor(len(memories)),
	}
}

func mergeCommunication(memories []model.Memory) Summary {
	kv := newOrderedKV()
	for _, mem := range memories {
		if m, ok := mem.Value.(map[string]interface{}); ok {
			for _, k := range sortedKeys(m) {
				kv.set(k, m[k])
			}
		}
	}

	text := fmt.Sprintf("Communication preferences: %d settings", len(kv.keys))
	return Summary{
		Text:       truncate(text),
		Struct:     map[string]interface{}{"preferences": kv.toMap()},
		Confidence: confidenceFor(len(memories)),
	}
}

func mergeAccessibility(memories []model.Memory) Summary {
	flags := newOrderedKV()
	kv := newOrderedKV()
	for _, mem := range memories {
		m, ok := mem.Value.(map[string]interface{})
		if !ok {
			continue
		}
		target := kv
		if mem.ValueShape == model.ShapeBooleanFlags {
			target = flags
		}
		for _, k := range sortedKeys(m) {
			target.set(k, m[k])
		}
	}

	text := fmt.Sprintf("Accessibility: %d flags, %d settings", len(flags.keys), len(kv.keys))
	return Summary{
		Text: truncate(text),
		Struct: map[string]interface{}{
			"flags":    flags.toMap(),
			"settings": kv.toMap(),
		},
		Confidence: confidenceFor(len(memories)),
	}
}

func mergeSchedule(memories []model.Memory) Summary {
	var windows []interface{}
	for _, mem := range memories {
		if mem.ValueShape != model.ShapeScheduleWindows {
			continue
		}
		switch v := mem.Value.(type) {
		case []interface{}:
			windows = append(windows, v...)
		case map[string]interface{}:
			windows = append(windows, v)
		}
	}
	deduped := dedupeWindows(windows)
	if deduped == nil {
		deduped = []interface{}{}
	}

	text := fmt.Sprintf("Schedule: %d time windows", len(deduped))
	return Summary{
		Text:       truncate(text),
		Struct:     map[string]interface{}{"windows": deduped},
		Confidence: confidenceFor(len(memories)),
	}
}

func mergeAttention(memories []model.Memory) Summary {
	kv := newOrderedKV()
	for _, mem := range memories {
		if m, ok := mem.Value.(map[string]interface{}); ok {
			for _, k := range sortedKeys(m) {
				kv.set(k, m[k])
			}
		}
	}

	text := fmt.Sprintf("Attention settings: %d preferences", len(kv.keys))
	return Summary{
		Text:       truncate(text),
		Struct:     map[string]interface{}{"settings": kv.toMap()},
		Confidence: confidenceFor(len(memories)),
	}
}

func stringItems(value interface{}) []string {
	items, ok := value.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
