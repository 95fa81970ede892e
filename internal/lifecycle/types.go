// Package lifecycle implements the v2 memory substrate: typed memory objects
// with truth modes and lifecycle states, a declarative policy engine with full
// decision traces, policy-filtered retrieval, deterministic impact extraction,
// and context reconstruction that never surfaces sealed narrative.
package lifecycle

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies a memory object. Immutable after create.
type MemoryType string

const (
	TypeEvent  MemoryType = "event"
	TypeImpact MemoryType = "impact"
	TypeSeed   MemoryType = "seed"
)

// TruthMode is the epistemic status of a memory. Immutable after create and
// used to gate tool execution.
type TruthMode string

const (
	TruthFactualClaim         TruthMode = "factual_claim"
	TruthSubjectiveExperience TruthMode = "subjective_experience"
	TruthCounterfactual       TruthMode = "counterfactual"
	TruthImagined             TruthMode = "imagined"
	TruthSociallySourced      TruthMode = "socially_sourced"
	TruthProcedural           TruthMode = "procedural"
	TruthSomatic              TruthMode = "somatic"
	TruthIdentityRoleBound    TruthMode = "identity_role_bound"
)

// MemoryState is the mutable lifecycle position of a memory.
type MemoryState string

const (
	StateActive     MemoryState = "active"
	StateRestricted MemoryState = "restricted"
	StateSealed     MemoryState = "sealed"
	StateDormant    MemoryState = "dormant"
	StateRevoked    MemoryState = "revoked"
	StateTombstoned MemoryState = "tombstoned"
)

// DisputeState tracks ownership disagreement over a memory.
type DisputeState string

const (
	DisputeUndisputed DisputeState = "undisputed"
	DisputeUnverified DisputeState = "unverified"
	DisputeDisputed   DisputeState = "disputed"
	DisputeContested  DisputeState = "contested"
)

// OwnerType identifies what kind of principal owns a memory.
type OwnerType string

const (
	OwnerUser   OwnerType = "user"
	OwnerOrg    OwnerType = "org"
	OwnerSystem OwnerType = "system"
)

// Visibility controls who may see a memory.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

// SensitivityLevel grades how sensitive a memory is.
type SensitivityLevel string

const (
	SensitivityLow      SensitivityLevel = "low"
	SensitivityMedium   SensitivityLevel = "medium"
	SensitivityHigh     SensitivityLevel = "high"
	SensitivityCritical SensitivityLevel = "critical"
)

// SensitivityHandling directs how a sensitive memory may be used.
type SensitivityHandling string

const (
	HandlingNormal        SensitivityHandling = "normal"
	HandlingNoPrompt      SensitivityHandling = "no_prompt"
	HandlingNoSearch      SensitivityHandling = "no_search"
	HandlingSealedDefault SensitivityHandling = "sealed_default"
)

// TimePrecision qualifies how precisely a memory's time is known.
type TimePrecision string

const (
	PrecisionExact  TimePrecision = "exact"
	PrecisionHour   TimePrecision = "hour"
	PrecisionDay    TimePrecision = "day"
	PrecisionWeek   TimePrecision = "week"
	PrecisionMonth  TimePrecision = "month"
	PrecisionYear   TimePrecision = "year"
	PrecisionUnsure TimePrecision = "unsure"
)

// DecayModel selects how a memory's strength decays over time.
type DecayModel string

const (
	DecayExponential DecayModel = "exponential"
	DecayLinear      DecayModel = "linear"
	DecayNone        DecayModel = "none"
)

// ReconsolidationPolicy limits which fields of a memory may change after
// creation.
type ReconsolidationPolicy string

const (
	ReconsolidateNeverEditSource            ReconsolidationPolicy = "never_edit_source"
	ReconsolidateAppendOnly                 ReconsolidationPolicy = "append_only"
	ReconsolidateAllowRelabelAffectOnly     ReconsolidationPolicy = "allow_relabel_affect_only"
	ReconsolidateAllowUpdateClaimConfidence ReconsolidationPolicy = "allow_update_claim_confidence"
)

// SourceType identifies where a memory came from.
type SourceType string

const (
	SourceUser   SourceType = "user"
	SourceSystem SourceType = "system"
	SourceAgent  SourceType = "agent"
	SourceImport SourceType = "import"
)

// SurfaceType identifies the surface through which a memory was captured.
type SurfaceType string

const (
	SurfaceChat     SurfaceType = "chat"
	SurfaceAPI      SurfaceType = "api"
	SurfaceInternal SurfaceType = "internal"
)

// ScopeType classifies the subject of a v2 scope.
type ScopeType string

const (
	ScopeUser    ScopeType = "user"
	ScopeOrg     ScopeType = "org"
	ScopeApp     ScopeType = "app"
	ScopeSession ScopeType = "session"
	ScopeProject ScopeType = "project"
	ScopeCase    ScopeType = "case"
	ScopeRole    ScopeType = "role"
)

// PurposeType is the declared intent of a v2 access.
type PurposeType string

const (
	PurposeChatResponse    PurposeType = "chat_response"
	PurposeTaskExecution   PurposeType = "task_execution"
	PurposeSafetyFiltering PurposeType = "safety_filtering"
	PurposeReflection      PurposeType = "reflection_requested_by_user"
	PurposeSupportReview   PurposeType = "support_agent_review"
	PurposeComplianceAudit PurposeType = "compliance_audit"
	PurposeDebuggingReplay PurposeType = "debugging_replay"
)

// ConstraintKind classifies an atomic directive.
type ConstraintKind string

const (
	KindAvoid         ConstraintKind = "avoid"
	KindPrefer        ConstraintKind = "prefer"
	KindRequire       ConstraintKind = "require"
	KindTone          ConstraintKind = "tone"
	KindStyle         ConstraintKind = "style"
	KindBoundary      ConstraintKind = "boundary"
	KindSafety        ConstraintKind = "safety"
	KindClarifyFirst  ConstraintKind = "clarify_first"
	KindAskPermission ConstraintKind = "ask_permission"
)

// ConstraintTarget is what a constraint applies to.
type ConstraintTarget string

const (
	TargetResponse      ConstraintTarget = "response"
	TargetPromptContext ConstraintTarget = "prompt_context"
	TargetToolExecution ConstraintTarget = "tool_execution"
	TargetMemoryOps     ConstraintTarget = "memory_ops"
)

// MergeStrategy resolves collisions between constraints sharing a merge slot.
type MergeStrategy string

const (
	MergeLatestWins   MergeStrategy = "latest_wins"
	MergeMaxWeight    MergeStrategy = "max_weight"
	MergeMinWeight    MergeStrategy = "min_weight"
	MergeUnion        MergeStrategy = "union"
	MergeIntersection MergeStrategy = "intersection"
	MergeAppendOnly   MergeStrategy = "append_only"
)

// PatternType labels a detected thought pattern.
type PatternType string

const (
	PatternCatastrophicProjection PatternType = "catastrophic_projection"
	PatternRunawayCounterfactual  PatternType = "runaway_counterfactual"
	PatternCertaintyInflation     PatternType = "certainty_inflation"
	PatternFutureCollapse         PatternType = "future_collapse"
	PatternNegativeFeedbackLoop   PatternType = "negative_feedback_loop"
)

// Scope locates memories within a tenant.
type Scope struct {
	Type  ScopeType `json:"scope_type"`
	ID    string    `json:"scope_id"`
	Flags []string  `json:"flags,omitempty"`
}

// Sensitivity grades a memory and directs its handling.
type Sensitivity struct {
	Level      SensitivityLevel    `json:"level"`
	Categories []string            `json:"categories,omitempty"`
	Handling   SensitivityHandling `json:"handling"`
}

// Ownership records who owns, claims and is subject to a memory.
type Ownership struct {
	OwnerType    OwnerType    `json:"owner_type"`
	Owners       []string     `json:"owners,omitempty"`
	Claimant     string       `json:"claimant,omitempty"`
	Subjects     []string     `json:"subjects,omitempty"`
	DisputeState DisputeState `json:"dispute_state"`
	Visibility   Visibility   `json:"visibility"`
}

// TimeRange bounds an imprecise occurrence time.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Temporal anchors a memory in time.
type Temporal struct {
	OccurredAtObserved  time.Time     `json:"occurred_at_observed"`
	OccurredAtClaimed   *time.Time    `json:"occurred_at_claimed,omitempty"`
	Precision           TimePrecision `json:"precision,omitempty"`
	Confidence          float64       `json:"confidence,omitempty"`
	Range               *TimeRange    `json:"range,omitempty"`
	OrderingUncertainty float64       `json:"ordering_uncertainty,omitempty"`
}

// Content carries the memory payload as text or structured JSON.
type Content struct {
	Format   string                 `json:"format"`
	Language string                 `json:"language,omitempty"`
	Text     string                 `json:"text,omitempty"`
	JSON     map[string]interface{} `json:"json,omitempty"`
}

// AffectSample is one historical affect observation.
type AffectSample struct {
	Time    time.Time `json:"time"`
	Valence float64   `json:"valence"`
	Arousal float64   `json:"arousal"`
	Labels  []string  `json:"labels,omitempty"`
}

// Affect records the emotional charge attached to a memory.
type Affect struct {
	Valence    float64        `json:"valence"`
	Arousal    float64        `json:"arousal"`
	Labels     []string       `json:"labels,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	History    []AffectSample `json:"history,omitempty"`
}

// Strength models how firmly a memory is held and how it decays.
type Strength struct {
	Initial          float64    `json:"initial"`
	Current          float64    `json:"current"`
	DecayModel       DecayModel `json:"decay_model,omitempty"`
	HalfLifeDays     float64    `json:"half_life_days,omitempty"`
	LastReinforcedAt *time.Time `json:"last_reinforced_at,omitempty"`
}

// Provenance tracks where a memory came from and how it was produced.
type Provenance struct {
	Source         SourceType  `json:"source"`
	Surface        SurfaceType `json:"surface,omitempty"`
	TransformChain []string    `json:"transform_chain,omitempty"`
	DerivedFrom    []string    `json:"derived_from,omitempty"`
	PolicyVersion  string      `json:"policy_version,omitempty"`
	Confidence     float64     `json:"confidence,omitempty"`
}

// ConstraintMerge directs how constraints sharing a slot combine.
type ConstraintMerge struct {
	Slot        string        `json:"slot"`
	Strategy    MergeStrategy `json:"strategy"`
	TieBreakers []string      `json:"tie_breakers,omitempty"`
}

// Constraint is an atomic, narrative-free directive carried inside an impact.
type Constraint struct {
	ConstraintID string                 `json:"constraint_id"`
	Kind         ConstraintKind         `json:"kind"`
	Topic        string                 `json:"topic,omitempty"`
	Target       ConstraintTarget       `json:"target"`
	Rule         string                 `json:"rule"`
	Params       map[string]interface{} `json:"params,omitempty"`
	Weight       float64                `json:"weight"`
	Priority     int                    `json:"priority"`
	Confidence   float64                `json:"confidence"`
	CreatedAt    time.Time              `json:"created_at"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	SourceRefs   []string               `json:"source_refs,omitempty"`
	Merge        ConstraintMerge        `json:"merge"`
}

// ImpactPayload is the type-specific payload of an impact memory.
type ImpactPayload struct {
	Constraints []Constraint `json:"constraints"`
}

// SeedActivation thresholds when a seed's cues may fire.
type SeedActivation struct {
	MinConfidence   float64 `json:"min_confidence"`
	CooldownSeconds int     `json:"cooldown_seconds"`
}

// SeedPayload is the type-specific payload of a seed memory.
type SeedPayload struct {
	Cues       []string       `json:"cues"`
	Activation SeedActivation `json:"activation"`
}

// MemoryObject is the canonical v2 memory. The stored JSON document is this
// struct; indexed store columns are a denormalized projection of it.
type MemoryObject struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	Scope     Scope       `json:"scope"`
	Type      MemoryType  `json:"type"`
	TruthMode TruthMode   `json:"truth_mode"`
	State     MemoryState `json:"state"`

	Sensitivity Sensitivity `json:"sensitivity"`
	Ownership   Ownership   `json:"ownership"`
	Temporal    Temporal    `json:"temporal"`
	Content     Content     `json:"content"`
	Affect      *Affect     `json:"affect,omitempty"`
	Strength    Strength    `json:"strength"`
	Provenance  Provenance  `json:"provenance"`

	ReconsolidationPolicy ReconsolidationPolicy `json:"reconsolidation_policy"`

	ImpactPayload     *ImpactPayload         `json:"impact_payload,omitempty"`
	SeedPayload       *SeedPayload           `json:"seed_payload,omitempty"`
	ProceduralPayload map[string]interface{} `json:"procedural_payload,omitempty"`
	SomaticPayload    map[string]interface{} `json:"somatic_payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkRelationship tags a directed edge between memories.
type LinkRelationship string

const (
	RelDerivedImpact LinkRelationship = "derived_impact"
	RelDerivedSeed   LinkRelationship = "derived_seed"
	RelSummaryOf     LinkRelationship = "summary_of"
	RelSupersedes    LinkRelationship = "supersedes"
)

// AccessOp labels the operation recorded in an access log entry.
type AccessOp string

const (
	OpIngest      AccessOp = "ingest"
	OpQuery       AccessOp = "query"
	OpReconstruct AccessOp = "reconstruct"
	OpToolGate    AccessOp = "tool_gate"
	OpReinforce   AccessOp = "reinforce"
	OpRecall      AccessOp = "recall"
	OpRevoke      AccessOp = "revoke"
)

// AccessCaller identifies who made an access.
type AccessCaller struct {
	ClientID string `json:"client_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// AccessQuery is the query half of an access log entry.
type AccessQuery struct {
	Text string   `json:"text,omitempty"`
	Op   AccessOp `json:"op"`
}

// AccessDecision is the outcome half of an access log entry.
type AccessDecision struct {
	Allowed      bool     `json:"allowed"`
	ReturnedIDs  []string `json:"returned_ids,omitempty"`
	DeniedIDs    []string `json:"denied_ids,omitempty"`
	MatchedRules []string `json:"matched_rules,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
}

// AccessLogEntry is the canonical immutable record of one access.
type AccessLogEntry struct {
	LogID    string         `json:"log_id"`
	Time     time.Time      `json:"time"`
	TenantID string         `json:"tenant_id"`
	Caller   AccessCaller   `json:"caller"`
	Scope    Scope          `json:"scope"`
	Purpose  PurposeType    `json:"purpose"`
	Query    AccessQuery    `json:"query"`
	Decision AccessDecision `json:"decision"`
}

func hex16() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewMemoryID mints a mem_<16-hex> identifier.
func NewMemoryID() string { return "mem_" + hex16() }

// NewConstraintID mints a con_<16-hex> identifier.
func NewConstraintID() string { return "con_" + hex16() }

// NewLogID mints a log_<16-hex> identifier.
func NewLogID() string { return "log_" + hex16() }

// NewArtifactID mints a tpa_<16-hex> identifier.
func NewArtifactID() string { return "tpa_" + hex16() }
