package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// reconstructionFetchLimit is the retrieval limit used when assembling
// context; wider than interactive queries so grouping sees everything.
const reconstructionFetchLimit = 100

// ReconstructionSources lists the memory ids that contributed to a
// reconstruction, keyed by role.
type ReconstructionSources struct {
	Impacts []string `json:"impacts"`
	Seeds   []string `json:"seeds"`
	Events  []string `json:"events"`
}

// Reconstruction is assembled context plus its provenance. Sealed narrative is
// never part of it.
type Reconstruction struct {
	Context    string                `json:"reconstructed_context"`
	Confidence float64               `json:"confidence"`
	Sources    ReconstructionSources `json:"sources"`
	Trace      Trace                 `json:"policy_trace"`
}

// ReconstructionEngine builds prompt-ready context from impacts and seed cues.
// It never regenerates event narrative: events contribute only their count.
type ReconstructionEngine struct {
	retrieval *RetrievalEngine
}

// NewReconstructionEngine wires a reconstruction engine to retrieval.
func NewReconstructionEngine(retrieval *RetrievalEngine) *ReconstructionEngine {
	return &ReconstructionEngine{retrieval: retrieval}
}

// constraintLine describes how one constraint kind renders: which param keys
// feed the line and the label it carries. Kinds render in this fixed order.
var constraintLines = []struct {
	kind   ConstraintKind
	label  string
	render func(params map[string]interface{}) []string
}{
	{KindAvoid, "Avoid", func(p map[string]interface{}) []string {
		var items []string
		if v, ok := p["content_class"].(string); ok {
			items = append(items, v)
		}
		items = append(items, stringList(p["phrase_ids"])...)
		return items
	}},
	{KindPrefer, "Prefer", func(p map[string]interface{}) []string {
		attr, okA := p["attribute"]
		val, okV := p["value"]
		if okA && okV {
			return []string{fmt.Sprintf("%v=%v", attr, val)}
		}
		return nil
	}},
	{KindRequire, "Require", paramString("behavior")},
	{KindTone, "Tone", paramString("tone_profile")},
	{KindStyle, "Style", paramString("format")},
	{KindBoundary, "Boundaries", paramString("boundary_type")},
	{KindSafety, "Safety", paramString("mode")},
}

func paramString(key string) func(map[string]interface{}) []string {
	return func(p map[string]interface{}) []string {
		if v, ok := p[key].(string); ok {
			return []string{v}
		}
		return nil
	}
}

func stringList(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Reconstruct retrieves policy-filtered memories and assembles a labeled
// context string with per-source confidence.
func (e *ReconstructionEngine) Reconstruct(ctx context.Context, tenantID string, scope Scope, purpose PurposeType, queryText string, includeEvents bool) (*Reconstruction, error) {
	result, err := e.retrieval.RetrieveForPurpose(ctx, tenantID, scope, purpose, queryText, reconstructionFetchLimit)
	if err != nil {
		return nil, err
	}

	var parts []string
	impactRefs := map[string]bool{}

	byKind := map[ConstraintKind][]Constraint{}
	for _, c := range result.Impacts {
		byKind[c.Kind] = append(byKind[c.Kind], c)
		for _, ref := range c.SourceRefs {
			impactRefs[ref] = true
		}
	}
	for _, line := range constraintLines {
		var items []string
		for _, c := range byKind[line.kind] {
			items = append(items, line.render(c.Params)...)
		}
		if len(items) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", line.label, strings.Join(items, ", ")))
		}
	}

	seedIDs := []string{}
	var cues []string
	for _, seed := range result.Seeds {
		seedIDs = append(seedIDs, seed.ID)
		cues = append(cues, seed.Cues...)
	}
	if len(cues) > 0 {
		if len(cues) > 10 {
			cues = cues[:10]
		}
		parts = append(parts, "Associative cues: "+strings.Join(cues, ", "))
	}

	eventIDs := []string{}
	if includeEvents {
		eventIDs = append(eventIDs, result.Events...)
		if len(eventIDs) > 5 {
			eventIDs = eventIDs[:5]
		}
		// Events contribute existence only, never narrative.
		if len(eventIDs) > 0 {
			parts = append(parts, fmt.Sprintf("Referenced events: %d (content not included)", len(eventIDs)))
		}
	} else {
		parts = append(parts, "Events: excluded (sealed memories not reconstructed)")
	}

	text := "No relevant context found."
	if len(parts) > 0 {
		text = strings.Join(parts, "\n")
	}

	confidence := 0.0
	if len(impactRefs) > 0 {
		confidence += 0.4
	}
	if len(seedIDs) > 0 {
		confidence += 0.2
	}
	if includeEvents && len(eventIDs) > 0 {
		confidence += 0.1
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	if len(result.Impacts) > 0 && confidence < 0.5 {
		confidence = 0.5
	}

	impacts := make([]string, 0, len(impactRefs))
	for ref := range impactRefs {
		impacts = append(impacts, ref)
	}
	sort.Strings(impacts)

	return &Reconstruction{
		Context:    text,
		Confidence: confidence,
		Sources: ReconstructionSources{
			Impacts: impacts,
			Seeds:   seedIDs,
			Events:  eventIDs,
		},
		Trace: result.Trace,
	}, nil
}
