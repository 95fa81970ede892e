package lifecycle

import (
	"context"
	"strings"
)

// MemoryQuery is the indexed store predicate built by the retrieval engine.
// Results must be ordered by occurred_at_observed descending.
type MemoryQuery struct {
	TenantID string
	Scope    Scope
	Limit    int
}

// Reader is the slice of the store the retrieval engine depends on.
type Reader interface {
	QueryMemoryObjects(ctx context.Context, q MemoryQuery) ([]MemoryObject, error)
}

// SeedRef is the retrievable surface of a seed memory: its id and cues,
// never its narrative.
type SeedRef struct {
	ID   string   `json:"id"`
	Cues []string `json:"cues"`
}

// RetrievalResult is a policy-filtered, type-routed view over matching
// memories.
type RetrievalResult struct {
	MemoryIDs []string     `json:"memory_ids"`
	Impacts   []Constraint `json:"impacts"`
	Seeds     []SeedRef    `json:"seeds"`
	Events    []string     `json:"events"`
	DeniedIDs []string     `json:"denied_ids"`
	Trace     Trace        `json:"policy_trace"`
}

// RetrievalEngine fetches memories for a purpose and applies per-row policy.
type RetrievalEngine struct {
	store  Reader
	policy *Engine
}

// NewRetrievalEngine wires a retrieval engine to its store and policy.
func NewRetrievalEngine(store Reader, policy *Engine) *RetrievalEngine {
	return &RetrievalEngine{store: store, policy: policy}
}

const defaultRetrievalLimit = 20

// RetrieveForPurpose fetches candidate memories, filters them through the
// policy engine, and partitions the survivors by type. Sealed narrative never
// crosses this boundary: events surface their id only.
func (r *RetrievalEngine) RetrieveForPurpose(ctx context.Context, tenantID string, scope Scope, purpose PurposeType, queryText string, limit int) (*RetrievalResult, error) {
	if limit <= 0 {
		limit = defaultRetrievalLimit
	}

	restrictive := purpose == PurposeChatResponse || purpose == PurposeTaskExecution
	// Over-fetch to leave room for post-policy dropping.
	rows, err := r.store.QueryMemoryObjects(ctx, MemoryQuery{
		TenantID: tenantID,
		Scope:    scope,
		Limit:    limit * 2,
	})
	if err != nil {
		return nil, err
	}

	if queryText != "" {
		rows = filterByText(rows, queryText)
	}

	result := &RetrievalResult{
		MemoryIDs: []string{},
		Impacts:   []Constraint{},
		Seeds:     []SeedRef{},
		Events:    []string{},
		DeniedIDs: []string{},
		Trace:     Trace{PolicyVersion: r.policy.Version(), MatchedRules: []string{}},
	}

	seenRules := map[string]bool{}
	seenReasons := map[string]bool{}
	allowed := 0
	for i := range rows {
		m := &rows[i]
		if allowed >= limit {
			break
		}

		decision := r.policy.EvaluateQuery(m, purpose)
		for _, id := range decision.Trace.MatchedRules {
			if !seenRules[id] {
				seenRules[id] = true
				result.Trace.MatchedRules = append(result.Trace.MatchedRules, id)
			}
		}
		for _, reason := range decision.Trace.DeniedReasons {
			if !seenReasons[reason] {
				seenReasons[reason] = true
				result.Trace.DeniedReasons = append(result.Trace.DeniedReasons, reason)
			}
		}

		// Sealed and disputed rows are denied outright for chat and tool
		// purposes, whatever the rules say, so that their ids are recorded
		// rather than silently dropped.
		blocked := restrictive && (m.State == StateSealed ||
			m.Ownership.DisputeState == DisputeDisputed ||
			m.Ownership.DisputeState == DisputeContested)
		if blocked || !decision.AllowRead || BlockedForTools(m, purpose) {
			result.DeniedIDs = append(result.DeniedIDs, m.ID)
			continue
		}

		allowed++
		result.MemoryIDs = append(result.MemoryIDs, m.ID)
		switch m.Type {
		case TypeImpact:
			if m.ImpactPayload != nil {
				result.Impacts = append(result.Impacts, m.ImpactPayload.Constraints...)
			}
		case TypeSeed:
			ref := SeedRef{ID: m.ID, Cues: []string{}}
			if m.SeedPayload != nil {
				ref.Cues = m.SeedPayload.Cues
			}
			result.Seeds = append(result.Seeds, ref)
		case TypeEvent:
			if m.State != StateSealed {
				result.Events = append(result.Events, m.ID)
			}
		}
	}

	if len(result.MemoryIDs) > 0 {
		result.Trace.FinalDecision = "allow"
	} else {
		result.Trace.FinalDecision = "deny"
	}
	return result, nil
}

// filterByText keeps rows whose content.text contains any query token longer
// than two characters, case-insensitively.
func filterByText(rows []MemoryObject, queryText string) []MemoryObject {
	var tokens []string
	for _, tok := range strings.Fields(strings.ToLower(queryText)) {
		if len(tok) > 2 {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return rows
	}
	var out []MemoryObject
	for _, row := range rows {
		text := strings.ToLower(row.Content.Text)
		for _, tok := range tokens {
			if strings.Contains(text, tok) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}
