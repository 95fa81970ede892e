// Package gormstore is the GORM-backed MemoryStore shared by the postgres and
// sqlite plugins. The plugins differ only in dialect, connection setup and
// migration; every query lives here.
package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/memoryscope/memoryscope/internal/lifecycle"
	"github.com/memoryscope/memoryscope/internal/model"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
)

const defaultQueryLimit = 50

// Store implements registrystore.MemoryStore over a gorm DB.
type Store struct {
	db *gorm.DB
}

// New wraps a connected gorm DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Models lists every persisted model, in migration order.
func Models() []interface{} {
	return []interface{}{
		&model.App{},
		&model.Memory{},
		&model.ReadGrant{},
		&model.AuditEvent{},
		&model.MemoryRecord{},
		&model.MemoryLink{},
		&model.AccessRecord{},
		&model.SpiralArtifact{},
	}
}

// translateError maps driver-level uniqueness violations onto ConflictError
// so handlers never match on dialect-specific error types.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &registrystore.ConflictError{Message: "duplicate key", Code: pgErr.ConstraintName}
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return &registrystore.ConflictError{Message: "duplicate key"}
	}
	return err
}

func (s *Store) CreateApp(ctx context.Context, app *model.App) error {
	return translateError(s.db.WithContext(ctx).Create(app).Error)
}

func (s *Store) GetAppByKeyHash(ctx context.Context, apiKeyHash string) (*model.App, error) {
	var app model.App
	err := s.db.WithContext(ctx).Where("api_key_hash = ?", apiKeyHash).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "app", ID: "api-key"}
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *Store) CreateMemory(ctx context.Context, memory *model.Memory) error {
	return s.db.WithContext(ctx).Create(memory).Error
}

func (s *Store) QueryMemories(ctx context.Context, filter registrystore.MemoryFilter) ([]model.Memory, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	q := s.db.WithContext(ctx).
		Where("app_id = ? AND user_id = ? AND scope = ? AND expires_at > ?",
			filter.AppID, filter.UserID, filter.Scope, filter.Now)
	if filter.Domain != nil {
		q = q.Where("domain = ?", *filter.Domain)
	} else {
		q = q.Where("domain IS NULL")
	}
	if filter.MaxAgeDays != nil {
		cutoff := filter.Now.AddDate(0, 0, -*filter.MaxAgeDays)
		q = q.Where("created_at >= ?", cutoff)
	}
	var memories []model.Memory
	if err := q.Order("created_at DESC").Limit(limit).Find(&memories).Error; err != nil {
		return nil, err
	}
	return memories, nil
}

func (s *Store) DeleteExpiredMemories(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	sub := s.db.Model(&model.Memory{}).Select("id").
		Where("expires_at <= ?", cutoff).Limit(limit)
	res := s.db.WithContext(ctx).Where("id IN (?)", sub).Delete(&model.Memory{})
	return res.RowsAffected, res.Error
}

func (s *Store) CreateReadGrant(ctx context.Context, grant *model.ReadGrant) error {
	return translateError(s.db.WithContext(ctx).Create(grant).Error)
}

func (s *Store) GetReadGrantByTokenHash(ctx context.Context, appID uuid.UUID, tokenHash string) (*model.ReadGrant, error) {
	var grant model.ReadGrant
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND app_id = ?", tokenHash, appID).
		First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "read_grant", ID: "token"}
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (s *Store) RevokeReadGrant(ctx context.Context, grantID uuid.UUID, revokedAt time.Time, reason string) error {
	res := s.db.WithContext(ctx).Model(&model.ReadGrant{}).
		Where("id = ? AND revoked_at IS NULL", grantID).
		Updates(map[string]interface{}{"revoked_at": revokedAt, "revoke_reason": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "read_grant", ID: grantID.String()}
	}
	return nil
}

func (s *Store) DeleteStaleGrants(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	sub := s.db.Model(&model.ReadGrant{}).Select("id").
		Where("expires_at <= ?", cutoff).Limit(limit)
	res := s.db.WithContext(ctx).Where("id IN (?)", sub).Delete(&model.ReadGrant{})
	return res.RowsAffected, res.Error
}

func (s *Store) AppendAuditEvent(ctx context.Context, event *model.AuditEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

// IngestMemory commits the memory row, its derived impact and link, and the
// ingest access record atomically. If the access record cannot be written the
// whole ingest rolls back.
func (s *Store) IngestMemory(ctx context.Context, rec *model.MemoryRecord, derived *model.MemoryRecord, link *model.MemoryLink, access *model.AccessRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		if derived != nil {
			if err := tx.Create(derived).Error; err != nil {
				return err
			}
		}
		if link != nil {
			if err := tx.Create(link).Error; err != nil {
				return err
			}
		}
		if access != nil {
			if err := tx.Create(access).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetMemoryRecord(ctx context.Context, tenantID, memoryID string) (*model.MemoryRecord, error) {
	var rec model.MemoryRecord
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", memoryID, tenantID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: memoryID}
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) UpdateMemoryRecord(ctx context.Context, rec *model.MemoryRecord) error {
	return s.db.WithContext(ctx).Save(rec).Error
}

// QueryMemoryObjects fetches candidate rows for retrieval. Revoked and
// tombstoned rows never come back; sealed and disputed rows do, so the policy
// layer can record their ids as denied rather than silently dropping them.
func (s *Store) QueryMemoryObjects(ctx context.Context, q lifecycle.MemoryQuery) ([]lifecycle.MemoryObject, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	var recs []model.MemoryRecord
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND scope_type = ? AND scope_id = ?", q.TenantID, string(q.Scope.Type), q.Scope.ID).
		Where("state NOT IN ?", []string{string(lifecycle.StateRevoked), string(lifecycle.StateTombstoned)}).
		Order("occurred_at_observed DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	objects := make([]lifecycle.MemoryObject, 0, len(recs))
	for _, rec := range recs {
		objects = append(objects, rec.Document)
	}
	return objects, nil
}

func (s *Store) ListChildLinks(ctx context.Context, parentID string, relationship lifecycle.LinkRelationship) ([]model.MemoryLink, error) {
	var links []model.MemoryLink
	err := s.db.WithContext(ctx).
		Where("parent_id = ? AND relationship = ?", parentID, string(relationship)).
		Order("created_at").
		Find(&links).Error
	return links, err
}

func (s *Store) AppendAccessRecord(ctx context.Context, rec *model.AccessRecord) error {
	return translateError(s.db.WithContext(ctx).Create(rec).Error)
}

func (s *Store) GetAccessRecord(ctx context.Context, tenantID, logID string) (*model.AccessRecord, error) {
	var rec model.AccessRecord
	err := s.db.WithContext(ctx).
		Where("log_id = ? AND tenant_id = ?", logID, tenantID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "access_log", ID: logID}
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListAccessRecords(ctx context.Context, filter registrystore.AccessLogFilter) ([]model.AccessRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	q := s.db.WithContext(ctx).Where("tenant_id = ?", filter.TenantID)
	if filter.Op != "" {
		q = q.Where("query_op = ?", filter.Op)
	}
	if filter.Since != nil {
		q = q.Where("time >= ?", *filter.Since)
	}
	var recs []model.AccessRecord
	err := q.Order("time DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

func (s *Store) PutSpiralArtifact(ctx context.Context, artifact *model.SpiralArtifact) error {
	return translateError(s.db.WithContext(ctx).Create(artifact).Error)
}

// GetActiveSpiralArtifact returns the newest unexpired artifact for the scope,
// or nil when none is active.
func (s *Store) GetActiveSpiralArtifact(ctx context.Context, tenantID string, scopeType, scopeID string, now time.Time) (*model.SpiralArtifact, error) {
	var artifact model.SpiralArtifact
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND scope_type = ? AND scope_id = ? AND expires_at > ?",
			tenantID, scopeType, scopeID, now).
		Order("created_at DESC").
		First(&artifact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}
