package lifecycle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sensitiveEvent(categories ...string) *MemoryObject {
	return &MemoryObject{
		ID:        NewMemoryID(),
		TenantID:  "tenant-1",
		Scope:     Scope{Type: ScopeUser, ID: "user-1"},
		Type:      TypeEvent,
		TruthMode: TruthSubjectiveExperience,
		State:     StateActive,
		Sensitivity: Sensitivity{
			Level:      SensitivityHigh,
			Categories: categories,
			Handling:   HandlingNormal,
		},
		Ownership: Ownership{OwnerType: OwnerUser, DisputeState: DisputeUndisputed, Visibility: VisibilityPrivate},
		Content:   Content{Format: "text", Text: "something happened"},
	}
}

func TestEvaluateIngest_SealsSensitiveEvents(t *testing.T) {
	engine := NewEngine(DefaultDocument())

	decision := engine.EvaluateIngest(sensitiveEvent("shame"))
	require.True(t, decision.Allowed)
	require.Equal(t, StateSealed, decision.State)
	require.True(t, decision.DeriveImpacts)
	require.Contains(t, decision.Trace.MatchedRules, "seal_sensitive_events")
	require.Equal(t, "allow", decision.Trace.FinalDecision)
}

func TestEvaluateIngest_PlainEventStaysActive(t *testing.T) {
	engine := NewEngine(DefaultDocument())

	event := sensitiveEvent()
	event.Sensitivity.Level = SensitivityLow
	decision := engine.EvaluateIngest(event)
	require.Equal(t, StateActive, decision.State)
	require.Empty(t, decision.Trace.MatchedRules)
}

func TestEvaluateQuery_DefaultsToDeny(t *testing.T) {
	engine := NewEngine(DefaultDocument())

	event := sensitiveEvent()
	event.Sensitivity.Categories = nil
	decision := engine.EvaluateQuery(event, PurposeChatResponse)
	require.False(t, decision.AllowRead)
	require.Contains(t, decision.Trace.DeniedReasons, "default_deny_read")
	require.Equal(t, "deny", decision.Trace.FinalDecision)
}

func TestEvaluateQuery_AllowsLowSensitivityImpactsForChat(t *testing.T) {
	engine := NewEngine(DefaultDocument())

	impact := sensitiveEvent()
	impact.Type = TypeImpact
	impact.TruthMode = TruthProcedural
	impact.Sensitivity.Level = SensitivityLow
	impact.Sensitivity.Categories = nil

	decision := engine.EvaluateQuery(impact, PurposeChatResponse)
	require.True(t, decision.AllowRead)
	require.True(t, decision.IncludeInPrompt)
	require.Contains(t, decision.Trace.MatchedRules, "allow_impacts_for_chat")
}

func TestEvaluateQuery_DeniesDisputedFactsForChat(t *testing.T) {
	engine := NewEngine(DefaultDocument())

	fact := sensitiveEvent()
	fact.TruthMode = TruthFactualClaim
	fact.Ownership.DisputeState = DisputeDisputed
	fact.Sensitivity.Categories = nil

	decision := engine.EvaluateQuery(fact, PurposeChatResponse)
	require.False(t, decision.AllowRead)
	require.Contains(t, decision.Trace.MatchedRules, "deny_disputed_facts_in_chat")
	require.Contains(t, decision.Trace.DeniedReasons, "denied_by_rule:deny_disputed_facts_in_chat")
}

func TestEvaluateQuery_MostRestrictiveWins(t *testing.T) {
	doc := DefaultDocument()
	allow := true
	deny := false
	doc.Rules = append(doc.Rules, Rule{
		ID:   "allow_everything",
		When: map[string]interface{}{"memory.type": string(TypeImpact)},
		Then: RuleActions{AllowRead: &allow},
	}, Rule{
		ID:   "deny_high_sensitivity",
		When: map[string]interface{}{"memory.sensitivity.level": string(SensitivityHigh)},
		Then: RuleActions{AllowRead: &deny},
	})
	engine := NewEngine(doc)

	impact := sensitiveEvent()
	impact.Type = TypeImpact
	impact.Sensitivity.Categories = nil

	decision := engine.EvaluateQuery(impact, PurposeReflection)
	require.False(t, decision.AllowRead)
	require.Contains(t, decision.Trace.MatchedRules, "allow_everything")
	require.Contains(t, decision.Trace.MatchedRules, "deny_high_sensitivity")
}

func TestBlockedForTools_GatesNonFactualTruthModes(t *testing.T) {
	m := sensitiveEvent()
	for _, mode := range []TruthMode{TruthCounterfactual, TruthImagined, TruthSociallySourced} {
		m.TruthMode = mode
		require.True(t, BlockedForTools(m, PurposeTaskExecution), string(mode))
		require.False(t, BlockedForTools(m, PurposeChatResponse), string(mode))
	}
	m.TruthMode = TruthFactualClaim
	require.False(t, BlockedForTools(m, PurposeTaskExecution))
}

func TestMatchCondition_ListIntersection(t *testing.T) {
	require.True(t, matchCondition([]string{"trauma", "work"}, []interface{}{"trauma", "shame"}))
	require.False(t, matchCondition([]string{"work"}, []interface{}{"trauma", "shame"}))
	require.True(t, matchCondition("disputed", []interface{}{"disputed", "contested"}))
	require.True(t, matchCondition("event", "event"))
	require.False(t, matchCondition("event", "impact"))
}

func TestRuleMatches_EmptyWhenNeverMatches(t *testing.T) {
	require.False(t, ruleMatches(Rule{ID: "empty"}, sensitiveEvent(), PurposeChatResponse))
}

func TestLoadDir_PicksGreatestVersion(t *testing.T) {
	dir := t.TempDir()
	older := "policy_version: pol_2025_12_01_01\ndefaults:\n  read: deny\n"
	newer := "policy_version: pol_2026_01_06_01\ndefaults:\n  read: deny\nrules:\n  - id: r1\n    when:\n      memory.type: event\n    then:\n      allow_read: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.yaml"), []byte(older), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.yaml"), []byte(newer), 0o600))

	doc, err := LoadDir(dir)
	require.NoError(t, err)
	require.Equal(t, "pol_2026_01_06_01", doc.PolicyVersion)
	require.Len(t, doc.Rules, 1)
	require.Equal(t, "r1", doc.Rules[0].ID)
	require.NotNil(t, doc.Rules[0].Then.AllowRead)
	require.False(t, *doc.Rules[0].Then.AllowRead)
}

func TestLoadDir_RejectsMissingVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("defaults:\n  read: deny\n"), 0o600))

	_, err := LoadDir(dir)
	require.Error(t, err)
}
