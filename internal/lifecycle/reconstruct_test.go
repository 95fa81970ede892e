package lifecycle

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func reconstructionFixture(t *testing.T, rows []MemoryObject, doc *Document) *ReconstructionEngine {
	t.Helper()
	if doc == nil {
		doc = DefaultDocument()
	}
	retrieval := NewRetrievalEngine(&stubReader{rows: rows}, NewEngine(doc))
	return NewReconstructionEngine(retrieval)
}

func TestReconstruct_ConstraintsRenderInFixedOrder(t *testing.T) {
	x := NewExtractor(nil)
	event := sensitiveEvent("shame")
	event.Content.Text = "be gentle and keep it as bullets:\n- a\n- b"
	impact := x.Extract(event, true)
	require.NotNil(t, impact)
	impact.Sensitivity.Level = SensitivityLow

	engine := reconstructionFixture(t, []MemoryObject{*impact}, nil)
	out, err := engine.Reconstruct(context.Background(), "tenant-1", impact.Scope, PurposeChatResponse, "", false)
	require.NoError(t, err)

	lines := strings.Split(out.Context, "\n")
	require.Equal(t, "Avoid: judgment_language", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "Tone: "))
	require.Contains(t, lines[1], "non_judgmental")
	require.Equal(t, "Style: bullets", lines[2])
	require.Equal(t, "Events: excluded (sealed memories not reconstructed)", lines[len(lines)-1])
	require.Equal(t, []string{event.ID}, out.Sources.Impacts)
	require.GreaterOrEqual(t, out.Confidence, 0.5)
}

func TestReconstruct_SealedNarrativeNeverSurfaces(t *testing.T) {
	sealed := sensitiveEvent("trauma")
	sealed.State = StateSealed
	sealed.Content.Text = "a private thing happened"

	engine := reconstructionFixture(t, []MemoryObject{*sealed}, nil)
	out, err := engine.Reconstruct(context.Background(), "tenant-1", sealed.Scope, PurposeChatResponse, "", true)
	require.NoError(t, err)
	require.NotContains(t, out.Context, "private")
	require.Empty(t, out.Sources.Events)
	require.Equal(t, 0.0, out.Confidence)
}

func TestReconstruct_EventsByReferenceOnly(t *testing.T) {
	allow := true
	doc := DefaultDocument()
	doc.Rules = append(doc.Rules, Rule{
		ID:   "allow_plain_events",
		When: map[string]interface{}{"memory.type": string(TypeEvent)},
		Then: RuleActions{AllowRead: &allow},
	})

	event := sensitiveEvent()
	event.Sensitivity.Level = SensitivityLow
	event.Sensitivity.Categories = nil
	event.Content.Text = "went to the dentist"

	engine := reconstructionFixture(t, []MemoryObject{*event}, doc)
	out, err := engine.Reconstruct(context.Background(), "tenant-1", event.Scope, PurposeChatResponse, "", true)
	require.NoError(t, err)
	require.Contains(t, out.Context, "Referenced events: 1 (content not included)")
	require.NotContains(t, out.Context, "dentist")
	require.Equal(t, []string{event.ID}, out.Sources.Events)
	require.Equal(t, 0.1, out.Confidence)
}

func TestReconstruct_SeedCuesCappedAtTen(t *testing.T) {
	allow := true
	doc := DefaultDocument()
	doc.Rules = append(doc.Rules, Rule{
		ID:   "allow_seeds",
		When: map[string]interface{}{"memory.type": string(TypeSeed)},
		Then: RuleActions{AllowRead: &allow},
	})

	seed := sensitiveEvent()
	seed.Type = TypeSeed
	seed.Sensitivity.Categories = nil
	cues := []string{"c01", "c02", "c03", "c04", "c05", "c06", "c07", "c08", "c09", "c10", "c11", "c12"}
	seed.SeedPayload = &SeedPayload{Cues: cues}

	engine := reconstructionFixture(t, []MemoryObject{*seed}, doc)
	out, err := engine.Reconstruct(context.Background(), "tenant-1", seed.Scope, PurposeChatResponse, "", false)
	require.NoError(t, err)
	require.Contains(t, out.Context, "Associative cues: ")
	require.Contains(t, out.Context, "c10")
	require.NotContains(t, out.Context, "c11")
	require.Equal(t, []string{seed.ID}, out.Sources.Seeds)
	require.Equal(t, 0.2, out.Confidence)
}

func TestReconstruct_EmptyStore(t *testing.T) {
	engine := reconstructionFixture(t, nil, nil)
	out, err := engine.Reconstruct(context.Background(), "tenant-1", Scope{Type: ScopeUser, ID: "u"}, PurposeChatResponse, "", false)
	require.NoError(t, err)
	require.Equal(t, "Events: excluded (sealed memories not reconstructed)", out.Context)
	require.Equal(t, 0.0, out.Confidence)
	require.Empty(t, out.Sources.Impacts)
}
