package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/memoryscope/memoryscope/internal/lifecycle"
)

// MemoryRecord is a v2 memory row. The Document column holds the canonical
// MemoryObject; the remaining columns are a denormalized projection kept
// consistent by the ingest transaction.
type MemoryRecord struct {
	ID                    string                 `json:"id"                    gorm:"primaryKey"`
	TenantID              string                 `json:"tenantId"              gorm:"not null;index:idx_memories_v2_scope,priority:1"`
	ScopeType             string                 `json:"scopeType"             gorm:"not null;index:idx_memories_v2_scope,priority:2"`
	ScopeID               string                 `json:"scopeId"               gorm:"not null;index:idx_memories_v2_scope,priority:3"`
	Type                  string                 `json:"type"                  gorm:"not null;index:idx_memories_v2_state,priority:2"`
	TruthMode             string                 `json:"truthMode"             gorm:"not null"`
	State                 string                 `json:"state"                 gorm:"not null;index:idx_memories_v2_state,priority:1"`
	SensitivityLevel      string                 `json:"sensitivityLevel"      gorm:"not null"`
	SensitivityCategories []string               `json:"sensitivityCategories" gorm:"type:jsonb;serializer:json"`
	DisputeState          string                 `json:"disputeState"          gorm:"not null"`
	OccurredAtObserved    time.Time              `json:"occurredAtObserved"    gorm:"not null;index"`
	StrengthCurrent       float64                `json:"strengthCurrent"       gorm:"not null"`
	LastReinforcedAt      *time.Time             `json:"lastReinforcedAt,omitempty"`
	Document              lifecycle.MemoryObject `json:"document"              gorm:"type:jsonb;serializer:json;not null"`
	AppID                 uuid.UUID              `json:"-"                     gorm:"not null;type:uuid;index"`
	CreatedAt             time.Time              `json:"createdAt"             gorm:"not null"`
	UpdatedAt             time.Time              `json:"updatedAt"             gorm:"not null"`
}

func (MemoryRecord) TableName() string { return "memories_v2" }

// NewMemoryRecord projects a MemoryObject into its indexed row form.
func NewMemoryRecord(obj lifecycle.MemoryObject, appID uuid.UUID) *MemoryRecord {
	return &MemoryRecord{
		ID:                    obj.ID,
		TenantID:              obj.TenantID,
		ScopeType:             string(obj.Scope.Type),
		ScopeID:               obj.Scope.ID,
		Type:                  string(obj.Type),
		TruthMode:             string(obj.TruthMode),
		State:                 string(obj.State),
		SensitivityLevel:      string(obj.Sensitivity.Level),
		SensitivityCategories: obj.Sensitivity.Categories,
		DisputeState:          string(obj.Ownership.DisputeState),
		OccurredAtObserved:    obj.Temporal.OccurredAtObserved,
		StrengthCurrent:       obj.Strength.Current,
		LastReinforcedAt:      obj.Strength.LastReinforcedAt,
		Document:              obj,
		AppID:                 appID,
		CreatedAt:             obj.CreatedAt,
		UpdatedAt:             obj.UpdatedAt,
	}
}

// Reproject refreshes the indexed columns from the Document after a mutation.
func (r *MemoryRecord) Reproject() {
	r.State = string(r.Document.State)
	r.DisputeState = string(r.Document.Ownership.DisputeState)
	r.StrengthCurrent = r.Document.Strength.Current
	r.LastReinforcedAt = r.Document.Strength.LastReinforcedAt
	r.UpdatedAt = r.Document.UpdatedAt
}

// MemoryLink is a directed edge between a parent memory and an object derived
// from it.
type MemoryLink struct {
	ID               uuid.UUID `json:"id"               gorm:"primaryKey;type:uuid"`
	ParentID         string    `json:"parentId"         gorm:"not null;index"`
	ChildID          string    `json:"childId"          gorm:"not null;index"`
	Relationship     string    `json:"relationship"     gorm:"not null"`
	Rule             string    `json:"rule"             gorm:"not null"`
	StrengthTransfer float64   `json:"strengthTransfer" gorm:"not null"`
	CreatedAt        time.Time `json:"createdAt"        gorm:"not null"`
}

func (MemoryLink) TableName() string { return "memory_links_v2" }

// AccessRecord is an immutable v2 access log row. The Document column holds
// the canonical AccessLogEntry.
type AccessRecord struct {
	ID              uuid.UUID                `json:"id"              gorm:"primaryKey;type:uuid"`
	LogID           string                   `json:"logId"           gorm:"uniqueIndex;not null"`
	Time            time.Time                `json:"time"            gorm:"not null;index:idx_access_logs_tenant,priority:2"`
	TenantID        string                   `json:"tenantId"        gorm:"not null;index:idx_access_logs_tenant,priority:1"`
	CallerClientID  string                   `json:"callerClientId"`
	CallerUserID    string                   `json:"callerUserId"`
	CallerIP        string                   `json:"callerIp"`
	ScopeType       string                   `json:"scopeType"       gorm:"not null"`
	ScopeID         string                   `json:"scopeId"         gorm:"not null"`
	Purpose         string                   `json:"purpose"         gorm:"not null"`
	QueryText       string                   `json:"queryText"`
	QueryOp         string                   `json:"queryOp"         gorm:"not null"`
	DecisionAllowed bool                     `json:"decisionAllowed" gorm:"not null"`
	ReturnedIDs     []string                 `json:"returnedIds"     gorm:"type:jsonb;serializer:json"`
	DeniedIDs       []string                 `json:"deniedIds"       gorm:"type:jsonb;serializer:json"`
	MatchedRules    []string                 `json:"matchedRules"    gorm:"type:jsonb;serializer:json"`
	Explanation     string                   `json:"explanation"`
	Document        lifecycle.AccessLogEntry `json:"document"        gorm:"type:jsonb;serializer:json;not null"`
	AppID           uuid.UUID                `json:"-"               gorm:"not null;type:uuid;index"`
}

func (AccessRecord) TableName() string { return "access_logs_v2" }

// NewAccessRecord projects an AccessLogEntry into its indexed row form.
func NewAccessRecord(entry lifecycle.AccessLogEntry, appID uuid.UUID) *AccessRecord {
	return &AccessRecord{
		ID:              uuid.New(),
		LogID:           entry.LogID,
		Time:            entry.Time,
		TenantID:        entry.TenantID,
		CallerClientID:  entry.Caller.ClientID,
		CallerUserID:    entry.Caller.UserID,
		CallerIP:        entry.Caller.IP,
		ScopeType:       string(entry.Scope.Type),
		ScopeID:         entry.Scope.ID,
		Purpose:         string(entry.Purpose),
		QueryText:       entry.Query.Text,
		QueryOp:         string(entry.Query.Op),
		DecisionAllowed: entry.Decision.Allowed,
		ReturnedIDs:     entry.Decision.ReturnedIDs,
		DeniedIDs:       entry.Decision.DeniedIDs,
		MatchedRules:    entry.Decision.MatchedRules,
		Explanation:     entry.Decision.Explanation,
		Document:        entry,
		AppID:           appID,
	}
}

// SpiralArtifact is a persisted thought-pattern artifact row. The live copy
// consulted by policy lives in the TTL cache; this row is the durable trace.
type SpiralArtifact struct {
	ID          uuid.UUID              `json:"id"          gorm:"primaryKey;type:uuid"`
	ArtifactID  string                 `json:"artifactId"  gorm:"uniqueIndex;not null"`
	TenantID    string                 `json:"tenantId"    gorm:"not null;index:idx_spiral_scope,priority:1"`
	ScopeType   string                 `json:"scopeType"   gorm:"not null;index:idx_spiral_scope,priority:2"`
	ScopeID     string                 `json:"scopeId"     gorm:"not null;index:idx_spiral_scope,priority:3"`
	PatternType string                 `json:"patternType" gorm:"not null"`
	Confidence  float64                `json:"confidence"  gorm:"not null"`
	WindowStart *time.Time             `json:"windowStart,omitempty"`
	WindowEnd   *time.Time             `json:"windowEnd,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"   gorm:"not null"`
	ExpiresAt   time.Time              `json:"expiresAt"   gorm:"not null;index"`
	Document    map[string]interface{} `json:"document"    gorm:"type:jsonb;serializer:json"`
	AppID       uuid.UUID              `json:"-"           gorm:"not null;type:uuid;index"`
}

func (SpiralArtifact) TableName() string { return "spiral_artifacts_v2" }
