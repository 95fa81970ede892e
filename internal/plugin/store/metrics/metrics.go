// Package metrics decorates a MemoryStore with per-operation latency
// observations.
package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/memoryscope/memoryscope/internal/lifecycle"
	"github.com/memoryscope/memoryscope/internal/model"
	"github.com/memoryscope/memoryscope/internal/registry/store"
	"github.com/memoryscope/memoryscope/internal/security"
)

// Wrap returns a MemoryStore that records StoreLatency for every operation.
func Wrap(inner store.MemoryStore) store.MemoryStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MemoryStore
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreateApp(ctx context.Context, app *model.App) error {
	defer observe("create_app", time.Now())
	return m.inner.CreateApp(ctx, app)
}

func (m *metricsStore) GetAppByKeyHash(ctx context.Context, apiKeyHash string) (*model.App, error) {
	defer observe("get_app_by_key_hash", time.Now())
	return m.inner.GetAppByKeyHash(ctx, apiKeyHash)
}

func (m *metricsStore) CreateMemory(ctx context.Context, memory *model.Memory) error {
	defer observe("create_memory", time.Now())
	return m.inner.CreateMemory(ctx, memory)
}

func (m *metricsStore) QueryMemories(ctx context.Context, filter store.MemoryFilter) ([]model.Memory, error) {
	defer observe("query_memories", time.Now())
	return m.inner.QueryMemories(ctx, filter)
}

func (m *metricsStore) DeleteExpiredMemories(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	defer observe("delete_expired_memories", time.Now())
	return m.inner.DeleteExpiredMemories(ctx, cutoff, limit)
}

func (m *metricsStore) CreateReadGrant(ctx context.Context, grant *model.ReadGrant) error {
	defer observe("create_read_grant", time.Now())
	return m.inner.CreateReadGrant(ctx, grant)
}

func (m *metricsStore) GetReadGrantByTokenHash(ctx context.Context, appID uuid.UUID, tokenHash string) (*model.ReadGrant, error) {
	defer observe("get_read_grant", time.Now())
	return m.inner.GetReadGrantByTokenHash(ctx, appID, tokenHash)
}

func (m *metricsStore) RevokeReadGrant(ctx context.Context, grantID uuid.UUID, revokedAt time.Time, reason string) error {
	defer observe("revoke_read_grant", time.Now())
	return m.inner.RevokeReadGrant(ctx, grantID, revokedAt, reason)
}

func (m *metricsStore) DeleteStaleGrants(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	defer observe("delete_stale_grants", time.Now())
	return m.inner.DeleteStaleGrants(ctx, cutoff, limit)
}

func (m *metricsStore) AppendAuditEvent(ctx context.Context, event *model.AuditEvent) error {
	defer observe("append_audit_event", time.Now())
	return m.inner.AppendAuditEvent(ctx, event)
}

func (m *metricsStore) IngestMemory(ctx context.Context, rec *model.MemoryRecord, derived *model.MemoryRecord, link *model.MemoryLink, access *model.AccessRecord) error {
	defer observe("ingest_memory", time.Now())
	return m.inner.IngestMemory(ctx, rec, derived, link, access)
}

func (m *metricsStore) GetMemoryRecord(ctx context.Context, tenantID, memoryID string) (*model.MemoryRecord, error) {
	defer observe("get_memory_record", time.Now())
	return m.inner.GetMemoryRecord(ctx, tenantID, memoryID)
}

func (m *metricsStore) UpdateMemoryRecord(ctx context.Context, rec *model.MemoryRecord) error {
	defer observe("update_memory_record", time.Now())
	return m.inner.UpdateMemoryRecord(ctx, rec)
}

func (m *metricsStore) QueryMemoryObjects(ctx context.Context, q lifecycle.MemoryQuery) ([]lifecycle.MemoryObject, error) {
	defer observe("query_memory_objects", time.Now())
	return m.inner.QueryMemoryObjects(ctx, q)
}

func (m *metricsStore) ListChildLinks(ctx context.Context, parentID string, relationship lifecycle.LinkRelationship) ([]model.MemoryLink, error) {
	defer observe("list_child_links", time.Now())
	return m.inner.ListChildLinks(ctx, parentID, relationship)
}

func (m *metricsStore) AppendAccessRecord(ctx context.Context, rec *model.AccessRecord) error {
	defer observe("append_access_record", time.Now())
	return m.inner.AppendAccessRecord(ctx, rec)
}

func (m *metricsStore) GetAccessRecord(ctx context.Context, tenantID, logID string) (*model.AccessRecord, error) {
	defer observe("get_access_record", time.Now())
	return m.inner.GetAccessRecord(ctx, tenantID, logID)
}

func (m *metricsStore) ListAccessRecords(ctx context.Context, filter store.AccessLogFilter) ([]model.AccessRecord, error) {
	defer observe("list_access_records", time.Now())
	return m.inner.ListAccessRecords(ctx, filter)
}

func (m *metricsStore) PutSpiralArtifact(ctx context.Context, artifact *model.SpiralArtifact) error {
	defer observe("put_spiral_artifact", time.Now())
	return m.inner.PutSpiralArtifact(ctx, artifact)
}

func (m *metricsStore) GetActiveSpiralArtifact(ctx context.Context, tenantID string, scopeType, scopeID string, now time.Time) (*model.SpiralArtifact, error) {
	defer observe("get_active_spiral_artifact", time.Now())
	return m.inner.GetActiveSpiralArtifact(ctx, tenantID, scopeType, scopeID, now)
}
