package model

import (
	"time"

	"github.com/google/uuid"
)

// Scope is one of the six fixed v1 memory categories.
type Scope string

const (
	ScopePreferences   Scope = "preferences"
	ScopeConstraints   Scope = "constraints"
	ScopeCommunication Scope = "communication"
	ScopeAccessibility Scope = "accessibility"
	ScopeSchedule      Scope = "schedule"
	ScopeAttention     Scope = "attention"
)

// Scopes lists every valid v1 scope.
var Scopes = []Scope{
	ScopePreferences,
	ScopeConstraints,
	ScopeCommunication,
	ScopeAccessibility,
	ScopeSchedule,
	ScopeAttention,
}

// ValidScope reports whether s is one of the six v1 scopes.
func ValidScope(s string) bool {
	for _, scope := range Scopes {
		if string(scope) == s {
			return true
		}
	}
	return false
}

// ValueShape classifies the structure of a v1 memory payload.
type ValueShape string

const (
	ShapeKvMap             ValueShape = "kv_map"
	ShapeLikesDislikes     ValueShape = "likes_dislikes"
	ShapeRulesList         ValueShape = "rules_list"
	ShapeScheduleWindows   ValueShape = "schedule_windows"
	ShapeBooleanFlags      ValueShape = "boolean_flags"
	ShapeAttentionSettings ValueShape = "attention_settings"
)

// AuditEventType classifies audit log entries.
type AuditEventType string

const (
	AuditMemoryWrite  AuditEventType = "MEMORY_WRITE"
	AuditMemoryRead   AuditEventType = "MEMORY_READ"
	AuditMemoryRevoke AuditEventType = "MEMORY_REVOKE"
	AuditPolicyDenied AuditEventType = "POLICY_DENIED"
)

// App is a tenant principal. Created once by onboarding; owns all memories
// and grants transitively.
type App struct {
	ID         uuid.UUID `json:"id"         gorm:"primaryKey;type:uuid"`
	Name       string    `json:"name"       gorm:"not null"`
	APIKeyHash string    `json:"-"          gorm:"uniqueIndex;not null"`
	UserID     string    `json:"userId"     gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt"  gorm:"not null"`
}

func (App) TableName() string { return "apps" }

// Memory is a v1 memory row. Created once, never updated; rows past
// expires_at are filtered out at read time.
type Memory struct {
	ID         uuid.UUID   `json:"id"               gorm:"primaryKey;type:uuid"`
	UserID     string      `json:"userId"           gorm:"not null;index:idx_memories_lookup,priority:1"`
	Scope      Scope       `json:"scope"            gorm:"not null;index:idx_memories_lookup,priority:2"`
	Domain     *string     `json:"domain,omitempty" gorm:"index:idx_memories_lookup,priority:3"`
	Value      interface{} `json:"value"            gorm:"type:jsonb;serializer:json;not null"`
	ValueShape ValueShape  `json:"valueShape"       gorm:"not null"`
	Source     string      `json:"source"           gorm:"not null"`
	TTLDays    int         `json:"ttlDays"          gorm:"not null"`
	CreatedAt  time.Time   `json:"createdAt"        gorm:"not null;index:idx_memories_lookup,priority:4"`
	ExpiresAt  time.Time   `json:"expiresAt"        gorm:"not null;index"`
	AppID      uuid.UUID   `json:"-"                gorm:"not null;type:uuid;index"`
}

func (Memory) TableName() string { return "memories" }

// ReadGrant authorizes repeated reads under fixed parameters for 24 hours.
// Only the SHA-256 hash of the bearer token is stored; the clear token is
// returned exactly once at creation.
type ReadGrant struct {
	ID           uuid.UUID  `json:"id"                     gorm:"primaryKey;type:uuid"`
	TokenHash    string     `json:"-"                      gorm:"uniqueIndex;not null"`
	UserID       string     `json:"userId"                 gorm:"not null"`
	AppID        uuid.UUID  `json:"-"                      gorm:"not null;type:uuid;index"`
	Scope        Scope      `json:"scope"                  gorm:"not null"`
	Domain       *string    `json:"domain,omitempty"`
	Purpose      string     `json:"purpose"                gorm:"not null"`
	PurposeClass string     `json:"purposeClass"           gorm:"not null"`
	MaxAgeDays   *int       `json:"maxAgeDays,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"              gorm:"not null"`
	ExpiresAt    time.Time  `json:"expiresAt"              gorm:"not null;index"`
	RevokedAt    *time.Time `json:"revokedAt,omitempty"`
	RevokeReason *string    `json:"revokeReason,omitempty"`
}

func (ReadGrant) TableName() string { return "read_grants" }

// Active reports whether the grant is usable at the given instant.
func (g *ReadGrant) Active(now time.Time) bool {
	return g.RevokedAt == nil && g.ExpiresAt.After(now)
}

// AuditEvent is an append-only record of every write, read, continue, revoke
// and policy denial.
type AuditEvent struct {
	ID           uuid.UUID              `json:"id"                     gorm:"primaryKey;type:uuid"`
	Timestamp    time.Time              `json:"timestamp"              gorm:"not null;index:idx_audit_user,priority:2;index:idx_audit_app,priority:2;index:idx_audit_type,priority:2"`
	EventType    AuditEventType         `json:"eventType"              gorm:"not null;index:idx_audit_type,priority:1"`
	UserID       string                 `json:"userId"                 gorm:"not null;index:idx_audit_user,priority:1"`
	AppID        uuid.UUID              `json:"-"                      gorm:"not null;type:uuid;index:idx_audit_app,priority:1"`
	Scope        *Scope                 `json:"scope,omitempty"`
	Domain       *string                `json:"domain,omitempty"`
	Purpose      *string                `json:"purpose,omitempty"`
	PurposeClass *string                `json:"purposeClass,omitempty"`
	MemoryIDs    []string               `json:"memoryIds"              gorm:"type:jsonb;serializer:json"`
	GrantID      *uuid.UUID             `json:"grantId,omitempty"      gorm:"type:uuid"`
	ReasonCode   *string                `json:"reasonCode,omitempty"`
	Meta         map[string]interface{} `json:"meta,omitempty"         gorm:"type:jsonb;serializer:json"`
}

func (AuditEvent) TableName() string { return "audit_events" }
