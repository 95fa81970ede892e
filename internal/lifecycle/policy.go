package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Policy actions that defaults may allow or deny.
const (
	ActionWrite           = "write"
	ActionRead            = "read"
	ActionIncludeInPrompt = "include_in_prompt"
	ActionToolExecution   = "tool_execution"
	ActionReinforcement   = "reinforcement"
	ActionDeriveImpacts   = "derive_impacts"
	ActionDeriveSeeds     = "derive_seeds"
)

// RuleActions is the discretionary `then` half of a policy rule. Nil fields
// express no opinion.
type RuleActions struct {
	SetState        *MemoryState `json:"set_state,omitempty"        yaml:"set_state"`
	AllowRead       *bool        `json:"allow_read,omitempty"       yaml:"allow_read"`
	IncludeInPrompt *bool        `json:"include_in_prompt,omitempty" yaml:"include_in_prompt"`
	DeriveImpacts   *bool        `json:"derive_impacts,omitempty"   yaml:"derive_impacts"`
	DeriveSeeds     *bool        `json:"derive_seeds,omitempty"     yaml:"derive_seeds"`
}

// Rule matches memories/requests by dotted-path conditions and applies
// actions. Conditions are ANDed; a scalar condition means equality, a list
// condition means membership (intersection when the resolved value is itself
// a list).
type Rule struct {
	ID   string                 `json:"id"   yaml:"id"`
	When map[string]interface{} `json:"when" yaml:"when"`
	Then RuleActions            `json:"then" yaml:"then"`
}

// SpiralPolicy is the frozen sub-policy consulted when an active
// thought-pattern artifact exists in the target scope.
type SpiralPolicy struct {
	EnabledDefault                 bool    `json:"enabled_default"                    yaml:"enabled_default"`
	TTLMinutes                     int     `json:"ttl_minutes"                        yaml:"ttl_minutes"`
	BlockToolExecution             bool    `json:"block_tool_execution"               yaml:"block_tool_execution"`
	BlockReinforcement             bool    `json:"block_reinforcement"                yaml:"block_reinforcement"`
	BlockNewImpacts                bool    `json:"block_new_impacts"                  yaml:"block_new_impacts"`
	RaiseSeedActivationThresholdBy float64 `json:"raise_seed_activation_threshold_by" yaml:"raise_seed_activation_threshold_by"`
}

// Globals holds policy-wide settings.
type Globals struct {
	Spiral SpiralPolicy `json:"spiral" yaml:"spiral"`
}

// Document is a complete versioned policy.
type Document struct {
	PolicyVersion string            `json:"policy_version" yaml:"policy_version"`
	Defaults      map[string]string `json:"defaults"       yaml:"defaults"`
	Globals       Globals           `json:"globals"        yaml:"globals"`
	Rules         []Rule            `json:"rules"          yaml:"rules"`
}

// DefaultDocument returns the compiled-in policy shipped with the service.
func DefaultDocument() *Document {
	sealed := StateSealed
	deny := false
	allow := true
	return &Document{
		PolicyVersion: "pol_2026_01_06_01",
		Defaults: map[string]string{
			ActionWrite:           "allow",
			ActionRead:            "deny",
			ActionIncludeInPrompt: "deny",
			ActionToolExecution:   "allow",
			ActionReinforcement:   "allow",
			ActionDeriveImpacts:   "allow",
			ActionDeriveSeeds:     "allow",
		},
		Globals: Globals{
			Spiral: SpiralPolicy{
				EnabledDefault:                 false,
				TTLMinutes:                     45,
				BlockToolExecution:             true,
				BlockReinforcement:             true,
				BlockNewImpacts:                true,
				RaiseSeedActivationThresholdBy: 0.15,
			},
		},
		Rules: []Rule{
			{
				ID: "seal_sensitive_events",
				When: map[string]interface{}{
					"memory.type":                   string(TypeEvent),
					"memory.sensitivity.categories": []interface{}{"trauma", "shame", "moral_injury"},
				},
				Then: RuleActions{
					SetState:        &sealed,
					AllowRead:       &deny,
					IncludeInPrompt: &deny,
					DeriveImpacts:   &allow,
				},
			},
			{
				ID: "allow_impacts_for_chat",
				When: map[string]interface{}{
					"memory.type":              string(TypeImpact),
					"request.purpose":          string(PurposeChatResponse),
					"memory.sensitivity.level": []interface{}{"low", "medium"},
				},
				Then: RuleActions{
					AllowRead:       &allow,
					IncludeInPrompt: &allow,
				},
			},
			{
				ID: "deny_disputed_facts_in_chat",
				When: map[string]interface{}{
					"memory.truth_mode":              string(TruthFactualClaim),
					"memory.ownership.dispute_state": []interface{}{"disputed", "contested"},
					"request.purpose":                string(PurposeChatResponse),
				},
				Then: RuleActions{
					AllowRead:       &deny,
					IncludeInPrompt: &deny,
				},
			},
			{
				ID: "deny_nonfactual_for_tools",
				When: map[string]interface{}{
					"memory.truth_mode": []interface{}{"counterfactual", "imagined", "socially_sourced"},
					"request.purpose":   string(PurposeTaskExecution),
				},
				Then: RuleActions{
					AllowRead:       &deny,
					IncludeInPrompt: &deny,
				},
			},
		},
	}
}

// LoadDir parses every .yaml/.yml file in dir as a policy document and
// returns the one with the greatest policy_version.
func LoadDir(dir string) (*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading policy dir: %w", err)
	}
	var docs []*Document
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var doc Document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing policy %s: %w", entry.Name(), err)
		}
		if doc.PolicyVersion == "" {
			return nil, fmt.Errorf("policy %s has no policy_version", entry.Name())
		}
		docs = append(docs, &doc)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no policy documents in %s", dir)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].PolicyVersion < docs[j].PolicyVersion })
	return docs[len(docs)-1], nil
}

// Trace records one policy evaluation for auditing and wire responses.
type Trace struct {
	PolicyVersion string   `json:"policy_version"`
	MatchedRules  []string `json:"matched_rules"`
	FinalDecision string   `json:"final_decision"`
	DeniedReasons []string `json:"denied_reasons,omitempty"`
}

// IngestDecision is the outcome of evaluating a write.
type IngestDecision struct {
	Allowed       bool
	State         MemoryState
	DeriveImpacts bool
	DeriveSeeds   bool
	Trace         Trace
}

// QueryDecision is the outcome of evaluating a read of a single memory.
type QueryDecision struct {
	AllowRead       bool
	IncludeInPrompt bool
	Trace           Trace
}

// Engine evaluates the active policy document. The document pointer is
// swapped atomically under a RWMutex; evaluation itself takes no locks beyond
// the read of that pointer.
type Engine struct {
	mu  sync.RWMutex
	doc *Document
}

// NewEngine returns an engine evaluating the given document.
func NewEngine(doc *Document) *Engine {
	return &Engine{doc: doc}
}

// Reload swaps in a new policy document.
func (e *Engine) Reload(doc *Document) {
	e.mu.Lock()
	e.doc = doc
	e.mu.Unlock()
}

func (e *Engine) document() *Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc
}

// Version returns the active policy version.
func (e *Engine) Version() string { return e.document().PolicyVersion }

// Spiral returns the active spiral sub-policy.
func (e *Engine) Spiral() SpiralPolicy { return e.document().Globals.Spiral }

func (d *Document) defaultAllows(action string) bool {
	return d.Defaults[action] == "allow"
}

// resolvePath maps a dotted condition path to the request/memory value it
// refers to. Unknown paths resolve to nothing, so their conditions never
// match.
func resolvePath(m *MemoryObject, purpose PurposeType, path string) (interface{}, bool) {
	switch path {
	case "memory.type":
		return string(m.Type), true
	case "memory.truth_mode":
		return string(m.TruthMode), true
	case "memory.state":
		return string(m.State), true
	case "memory.sensitivity.level":
		return string(m.Sensitivity.Level), true
	case "memory.sensitivity.categories":
		return m.Sensitivity.Categories, true
	case "memory.sensitivity.handling":
		return string(m.Sensitivity.Handling), true
	case "memory.ownership.dispute_state":
		return string(m.Ownership.DisputeState), true
	case "memory.ownership.visibility":
		return string(m.Ownership.Visibility), true
	case "memory.scope.scope_type":
		return string(m.Scope.Type), true
	case "request.purpose":
		return string(purpose), true
	default:
		return nil, false
	}
}

// matchCondition compares a resolved value against a rule condition. A list
// condition matches a scalar by membership and a list value by intersection;
// scalars compare by equality.
func matchCondition(actual interface{}, cond interface{}) bool {
	condList, condIsList := toStringList(cond)
	actualList, actualIsList := toStringList(actual)

	switch {
	case condIsList && actualIsList:
		set := make(map[string]bool, len(condList))
		for _, c := range condList {
			set[c] = true
		}
		for _, a := range actualList {
			if set[a] {
				return true
			}
		}
		return false
	case condIsList:
		s, ok := actual.(string)
		if !ok {
			return false
		}
		for _, c := range condList {
			if c == s {
				return true
			}
		}
		return false
	case actualIsList:
		s, ok := cond.(string)
		if !ok {
			return false
		}
		for _, a := range actualList {
			if a == s {
				return true
			}
		}
		return false
	default:
		return actual == cond
	}
}

func toStringList(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func ruleMatches(rule Rule, m *MemoryObject, purpose PurposeType) bool {
	if len(rule.When) == 0 {
		return false
	}
	for path, cond := range rule.When {
		actual, ok := resolvePath(m, purpose, path)
		if !ok || !matchCondition(actual, cond) {
			return false
		}
	}
	return true
}

// EvaluateIngest runs write-time policy: rules are applied top to bottom and
// later matches override earlier ones for state and derivation flags.
func (e *Engine) EvaluateIngest(m *MemoryObject) IngestDecision {
	doc := e.document()

	decision := IngestDecision{
		Allowed:       doc.defaultAllows(ActionWrite),
		State:         m.State,
		DeriveImpacts: doc.defaultAllows(ActionDeriveImpacts),
		DeriveSeeds:   doc.defaultAllows(ActionDeriveSeeds),
	}
	if decision.State == "" {
		decision.State = StateActive
	}

	trace := Trace{PolicyVersion: doc.PolicyVersion, MatchedRules: []string{}}
	for _, rule := range doc.Rules {
		if !ruleMatches(rule, m, "") {
			continue
		}
		trace.MatchedRules = append(trace.MatchedRules, rule.ID)
		if rule.Then.SetState != nil {
			decision.State = *rule.Then.SetState
		}
		if rule.Then.DeriveImpacts != nil {
			decision.DeriveImpacts = *rule.Then.DeriveImpacts
		}
		if rule.Then.DeriveSeeds != nil {
			decision.DeriveSeeds = *rule.Then.DeriveSeeds
		}
	}

	if decision.Allowed {
		trace.FinalDecision = "allow"
	} else {
		trace.FinalDecision = "deny"
		trace.DeniedReasons = append(trace.DeniedReasons, "default_deny_write")
	}
	decision.Trace = trace
	return decision
}

// EvaluateQuery runs read-time policy for one memory. All matching rules'
// opinions accumulate and the most restrictive wins: a final allow requires
// every rule that expressed an opinion to allow. With no opinions the
// defaults apply (fail-closed: read defaults to deny).
func (e *Engine) EvaluateQuery(m *MemoryObject, purpose PurposeType) QueryDecision {
	doc := e.document()
	trace := Trace{PolicyVersion: doc.PolicyVersion, MatchedRules: []string{}}

	var readOpinions, includeOpinions []bool
	for _, rule := range doc.Rules {
		if !ruleMatches(rule, m, purpose) {
			continue
		}
		trace.MatchedRules = append(trace.MatchedRules, rule.ID)
		if rule.Then.AllowRead != nil {
			readOpinions = append(readOpinions, *rule.Then.AllowRead)
			if !*rule.Then.AllowRead {
				trace.DeniedReasons = append(trace.DeniedReasons, "denied_by_rule:"+rule.ID)
			}
		}
		if rule.Then.IncludeInPrompt != nil {
			includeOpinions = append(includeOpinions, *rule.Then.IncludeInPrompt)
		}
	}

	decision := QueryDecision{
		AllowRead:       accumulate(readOpinions, doc.defaultAllows(ActionRead)),
		IncludeInPrompt: accumulate(includeOpinions, doc.defaultAllows(ActionIncludeInPrompt)),
	}
	if len(readOpinions) == 0 && !decision.AllowRead {
		trace.DeniedReasons = append(trace.DeniedReasons, "default_deny_read")
	}
	if decision.AllowRead {
		trace.FinalDecision = "allow"
	} else {
		trace.FinalDecision = "deny"
	}
	decision.Trace = trace
	return decision
}

func accumulate(opinions []bool, defaultAllow bool) bool {
	if len(opinions) == 0 {
		return defaultAllow
	}
	for _, allow := range opinions {
		if !allow {
			return false
		}
	}
	return true
}

// BlockedForTools reports whether a memory is categorically ineligible as
// evidence for task execution. This check is independent of the declared
// rules.
func BlockedForTools(m *MemoryObject, purpose PurposeType) bool {
	if purpose != PurposeTaskExecution {
		return false
	}
	switch m.TruthMode {
	case TruthCounterfactual, TruthImagined, TruthSociallySourced:
		return true
	default:
		return false
	}
}
