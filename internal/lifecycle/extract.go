package lifecycle

import (
	"regexp"
	"strings"
	"time"
)

// TransformVersion identifies the extraction transform pinned into the
// provenance of every derived impact.
const TransformVersion = "tx_impact_extract_v2.1.0"

// linkStrengthTransfer is the strength carried from an event to its derived
// impact.
const linkStrengthTransfer = 0.4

var (
	bulletPattern   = regexp.MustCompile(`[•\-\*]\s`)
	numberedPattern = regexp.MustCompile(`\d+\.\s`)
)

// DerivedLink is a directed parent → child edge produced by extraction.
type DerivedLink struct {
	ParentID         string           `json:"parent_id"`
	ChildID          string           `json:"child_id"`
	Relationship     LinkRelationship `json:"relationship"`
	Rule             string           `json:"rule"`
	StrengthTransfer float64          `json:"strength_transfer"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Extractor derives impact memories from events. Extraction is deterministic:
// the same event always yields the same constraint set, modulo generated IDs
// and timestamps.
type Extractor struct {
	now func() time.Time
}

// NewExtractor returns an extractor using the given clock. A nil clock uses
// time.Now.
func NewExtractor(now func() time.Time) *Extractor {
	if now == nil {
		now = time.Now
	}
	return &Extractor{now: now}
}

// Extract derives an impact memory from an event, or nil when nothing can be
// derived. Sealed events are never extracted from.
func (x *Extractor) Extract(event *MemoryObject, policyAllows bool) *MemoryObject {
	if !policyAllows || event.State == StateSealed || event.Type != TypeEvent {
		return nil
	}

	now := x.now().UTC()
	var constraints []Constraint

	categories := map[string]bool{}
	for _, c := range event.Sensitivity.Categories {
		categories[c] = true
	}
	if categories["trauma"] && (event.Sensitivity.Level == SensitivityHigh || event.Sensitivity.Level == SensitivityCritical) {
		constraints = append(constraints, x.safetyConstraint(event, now))
	}
	if categories["shame"] || categories["moral_injury"] {
		constraints = append(constraints,
			x.avoidConstraint(event, "judgment_language", now),
			x.toneConstraint(event, "non_judgmental", now),
		)
	}

	if tone := detectTonePreference(event.Content.Text); tone != "" {
		constraints = append(constraints, x.toneConstraint(event, tone, now))
	}
	if style := detectStylePreference(event.Content.Text); style != "" {
		constraints = append(constraints, x.styleConstraint(event, style, now))
	}

	if len(constraints) == 0 {
		return nil
	}

	return &MemoryObject{
		ID:          NewMemoryID(),
		TenantID:    event.TenantID,
		Scope:       event.Scope,
		Type:        TypeImpact,
		TruthMode:   TruthProcedural,
		State:       StateActive,
		Sensitivity: event.Sensitivity,
		Ownership:   event.Ownership,
		Temporal:    event.Temporal,
		Content:     event.Content,
		Affect:      event.Affect,
		Strength:    event.Strength,
		Provenance: Provenance{
			Source:         SourceSystem,
			TransformChain: []string{TransformVersion},
			DerivedFrom:    []string{event.ID},
			PolicyVersion:  event.Provenance.PolicyVersion,
			Confidence:     0.7,
		},
		ReconsolidationPolicy: ReconsolidateAppendOnly,
		ImpactPayload:         &ImpactPayload{Constraints: constraints},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// Link builds the derived_impact edge from an event to its extracted impact.
func (x *Extractor) Link(event, impact *MemoryObject) DerivedLink {
	return DerivedLink{
		ParentID:         event.ID,
		ChildID:          impact.ID,
		Relationship:     RelDerivedImpact,
		Rule:             TransformVersion,
		StrengthTransfer: linkStrengthTransfer,
		CreatedAt:        x.now().UTC(),
	}
}

func (x *Extractor) safetyConstraint(event *MemoryObject, now time.Time) Constraint {
	return Constraint{
		ConstraintID: NewConstraintID(),
		Kind:         KindSafety,
		Topic:        "safety",
		Target:       TargetResponse,
		Rule:         "safety_extraction_v2",
		Params: map[string]interface{}{
			"mode":             "supportive_reframe_only",
			"consent_required": true,
		},
		Weight:     1.0,
		Priority:   10,
		Confidence: 0.8,
		CreatedAt:  now,
		SourceRefs: []string{event.ID},
		Merge: ConstraintMerge{
			Slot:        "safety",
			Strategy:    MergeIntersection,
			TieBreakers: []string{"priority", "created_at"},
		},
	}
}

func (x *Extractor) avoidConstraint(event *MemoryObject, contentClass string, now time.Time) Constraint {
	return Constraint{
		ConstraintID: NewConstraintID(),
		Kind:         KindAvoid,
		Topic:        "content",
		Target:       TargetResponse,
		Rule:         "avoid_extraction_v2",
		Params:       map[string]interface{}{"content_class": contentClass},
		Weight:       0.9,
		Priority:     8,
		Confidence:   0.75,
		CreatedAt:    now,
		SourceRefs:   []string{event.ID},
		Merge: ConstraintMerge{
			Slot:        "avoid",
			Strategy:    MergeIntersection,
			TieBreakers: []string{"priority", "created_at"},
		},
	}
}

func (x *Extractor) toneConstraint(event *MemoryObject, toneProfile string, now time.Time) Constraint {
	return Constraint{
		ConstraintID: NewConstraintID(),
		Kind:         KindTone,
		Topic:        "tone",
		Target:       TargetResponse,
		Rule:         "tone_extraction_v2",
		Params:       map[string]interface{}{"tone_profile": toneProfile},
		Weight:       0.7,
		Priority:     5,
		Confidence:   0.7,
		CreatedAt:    now,
		SourceRefs:   []string{event.ID},
		Merge: ConstraintMerge{
			Slot:        "tone",
			Strategy:    MergeLatestWins,
			TieBreakers: []string{"priority", "created_at"},
		},
	}
}

func (x *Extractor) styleConstraint(event *MemoryObject, format string, now time.Time) Constraint {
	return Constraint{
		ConstraintID: NewConstraintID(),
		Kind:         KindStyle,
		Topic:        "style",
		Target:       TargetResponse,
		Rule:         "style_extraction_v2",
		Params:       map[string]interface{}{"format": format},
		Weight:       0.6,
		Priority:     4,
		Confidence:   0.65,
		CreatedAt:    now,
		SourceRefs:   []string{event.ID},
		Merge: ConstraintMerge{
			Slot:        "style",
			Strategy:    MergeUnion,
			TieBreakers: []string{"priority", "created_at"},
		},
	}
}

var tonePreferences = []struct {
	profile  string
	keywords []string
}{
	{"reassuring", []string{"gentle", "soft", "kind", "caring"}},
	{"matter_of_fact", []string{"direct", "straightforward", "clear"}},
	{"supportive", []string{"supportive", "helpful", "encouraging"}},
	{"firm", []string{"firm", "strict", "serious"}},
}

func detectTonePreference(text string) string {
	lower := strings.ToLower(text)
	for _, pref := range tonePreferences {
		for _, kw := range pref.keywords {
			if strings.Contains(lower, kw) {
				return pref.profile
			}
		}
	}
	return ""
}

func detectStylePreference(text string) string {
	lower := strings.ToLower(text)
	switch {
	case bulletPattern.MatchString(text) || strings.Contains(lower, "bullet"):
		return "bullets"
	case numberedPattern.MatchString(text) || strings.Contains(lower, "numbered"):
		return "numbered_steps"
	case len(strings.Split(text, "\n\n")) > 3 || strings.Contains(lower, "paragraph"):
		return "short_paragraphs"
	default:
		return ""
	}
}
