package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memoryscope/memoryscope/internal/lifecycle"
	"github.com/memoryscope/memoryscope/internal/model"
)

// MemoryFilter selects v1 memories for a merge. Domain nil matches only rows
// with no domain.
type MemoryFilter struct {
	AppID      uuid.UUID
	UserID     string
	Scope      model.Scope
	Domain     *string
	MaxAgeDays *int
	Now        time.Time
	Limit      int
}

// AccessLogFilter selects v2 access log entries.
type AccessLogFilter struct {
	TenantID string
	Op       string
	Since    *time.Time
	Limit    int
}

// MemoryStore defines the primary data access interface for the service.
type MemoryStore interface {
	// Apps
	CreateApp(ctx context.Context, app *model.App) error
	GetAppByKeyHash(ctx context.Context, apiKeyHash string) (*model.App, error)

	// V1 memories
	CreateMemory(ctx context.Context, memory *model.Memory) error
	QueryMemories(ctx context.Context, filter MemoryFilter) ([]model.Memory, error)
	DeleteExpiredMemories(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	// Read grants
	CreateReadGrant(ctx context.Context, grant *model.ReadGrant) error
	GetReadGrantByTokenHash(ctx context.Context, appID uuid.UUID, tokenHash string) (*model.ReadGrant, error)
	RevokeReadGrant(ctx context.Context, grantID uuid.UUID, revokedAt time.Time, reason string) error
	DeleteStaleGrants(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	// Audit log (append-only)
	AppendAuditEvent(ctx context.Context, event *model.AuditEvent) error

	// V2 memory objects. IngestMemory persists the memory, any derived impact
	// and its link, and the ingest access record in one transaction: a memory
	// is never committed without its audit trail.
	IngestMemory(ctx context.Context, rec *model.MemoryRecord, derived *model.MemoryRecord, link *model.MemoryLink, access *model.AccessRecord) error
	GetMemoryRecord(ctx context.Context, tenantID, memoryID string) (*model.MemoryRecord, error)
	UpdateMemoryRecord(ctx context.Context, rec *model.MemoryRecord) error
	QueryMemoryObjects(ctx context.Context, q lifecycle.MemoryQuery) ([]lifecycle.MemoryObject, error)
	ListChildLinks(ctx context.Context, parentID string, relationship lifecycle.LinkRelationship) ([]model.MemoryLink, error)

	// V2 access logs (append-only)
	AppendAccessRecord(ctx context.Context, rec *model.AccessRecord) error
	GetAccessRecord(ctx context.Context, tenantID, logID string) (*model.AccessRecord, error)
	ListAccessRecords(ctx context.Context, filter AccessLogFilter) ([]model.AccessRecord, error)

	// Spiral artifacts
	PutSpiralArtifact(ctx context.Context, artifact *model.SpiralArtifact) error
	GetActiveSpiralArtifact(ctx context.Context, tenantID string, scopeType, scopeID string, now time.Time) (*model.SpiralArtifact, error)
}

// Loader creates a MemoryStore from config.
type Loader func(ctx context.Context) (MemoryStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
