package gormstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/memoryscope/memoryscope/internal/lifecycle"
	"github.com/memoryscope/memoryscope/internal/model"
	"github.com/memoryscope/memoryscope/internal/plugin/store/gormstore"
	"github.com/memoryscope/memoryscope/internal/plugin/store/sqlite"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
)

func testStore(t *testing.T) *gormstore.Store {
	t.Helper()
	store, _ := testStoreDB(t)
	return store
}

func testStoreDB(t *testing.T) (*gormstore.Store, *gorm.DB) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	return gormstore.New(db), db
}

func v1Memory(appID uuid.UUID, userID string, scope model.Scope, domain *string, createdAt time.Time) *model.Memory {
	return &model.Memory{
		ID:         uuid.New(),
		UserID:     userID,
		Scope:      scope,
		Domain:     domain,
		Value:      map[string]interface{}{"theme": "dark"},
		ValueShape: model.ShapeKvMap,
		Source:     "explicit_user_input",
		TTLDays:    30,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.AddDate(0, 0, 30),
		AppID:      appID,
	}
}

func TestQueryMemories_DomainIsolation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appID := uuid.New()
	food := "food"

	require.NoError(t, store.CreateMemory(ctx, v1Memory(appID, "alice", model.ScopePreferences, nil, now)))
	require.NoError(t, store.CreateMemory(ctx, v1Memory(appID, "alice", model.ScopePreferences, &food, now)))

	global, err := store.QueryMemories(ctx, registrystore.MemoryFilter{
		AppID: appID, UserID: "alice", Scope: model.ScopePreferences, Now: now,
	})
	require.NoError(t, err)
	require.Len(t, global, 1)
	require.Nil(t, global[0].Domain)

	scoped, err := store.QueryMemories(ctx, registrystore.MemoryFilter{
		AppID: appID, UserID: "alice", Scope: model.ScopePreferences, Domain: &food, Now: now,
	})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	require.Equal(t, "food", *scoped[0].Domain)
}

func TestQueryMemories_MaxAgeAndExpiry(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appID := uuid.New()

	fresh := v1Memory(appID, "alice", model.ScopeSchedule, nil, now.AddDate(0, 0, -2))
	old := v1Memory(appID, "alice", model.ScopeSchedule, nil, now.AddDate(0, 0, -20))
	expired := v1Memory(appID, "alice", model.ScopeSchedule, nil, now.AddDate(0, 0, -40))
	require.NoError(t, store.CreateMemory(ctx, fresh))
	require.NoError(t, store.CreateMemory(ctx, old))
	require.NoError(t, store.CreateMemory(ctx, expired))

	all, err := store.QueryMemories(ctx, registrystore.MemoryFilter{
		AppID: appID, UserID: "alice", Scope: model.ScopeSchedule, Now: now,
	})
	require.NoError(t, err)
	require.Len(t, all, 2, "expired rows are invisible")
	require.Equal(t, fresh.ID, all[0].ID, "newest first")

	maxAge := 7
	recent, err := store.QueryMemories(ctx, registrystore.MemoryFilter{
		AppID: appID, UserID: "alice", Scope: model.ScopeSchedule, MaxAgeDays: &maxAge, Now: now,
	})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, fresh.ID, recent[0].ID)
}

func TestDeleteExpiredMemories(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appID := uuid.New()

	require.NoError(t, store.CreateMemory(ctx, v1Memory(appID, "alice", model.ScopePreferences, nil, now.AddDate(0, 0, -40))))
	require.NoError(t, store.CreateMemory(ctx, v1Memory(appID, "alice", model.ScopePreferences, nil, now)))

	deleted, err := store.DeleteExpiredMemories(ctx, now, 100)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	deleted, err = store.DeleteExpiredMemories(ctx, now, 100)
	require.NoError(t, err)
	require.Zero(t, deleted)
}

func TestGetAppByKeyHash(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	app := &model.App{ID: uuid.New(), Name: "test", APIKeyHash: "abc123", UserID: "alice", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateApp(ctx, app))

	got, err := store.GetAppByKeyHash(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, app.ID, got.ID)

	_, err = store.GetAppByKeyHash(ctx, "missing")
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestCreateApp_DuplicateKeyHash(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first := &model.App{ID: uuid.New(), Name: "a", APIKeyHash: "same", UserID: "alice", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.CreateApp(ctx, first))

	dup := &model.App{ID: uuid.New(), Name: "b", APIKeyHash: "same", UserID: "bob", CreatedAt: time.Now().UTC()}
	err := store.CreateApp(ctx, dup)
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func v2Event(tenantID string, state lifecycle.MemoryState, occurred time.Time) lifecycle.MemoryObject {
	return lifecycle.MemoryObject{
		ID:        lifecycle.NewMemoryID(),
		TenantID:  tenantID,
		Scope:     lifecycle.Scope{Type: lifecycle.ScopeUser, ID: tenantID},
		Type:      lifecycle.TypeEvent,
		TruthMode: lifecycle.TruthSubjectiveExperience,
		State:     state,
		Sensitivity: lifecycle.Sensitivity{
			Level:    lifecycle.SensitivityLow,
			Handling: lifecycle.HandlingNormal,
		},
		Ownership: lifecycle.Ownership{
			OwnerType:    lifecycle.OwnerUser,
			DisputeState: lifecycle.DisputeUnverified,
			Visibility:   lifecycle.VisibilityPrivate,
		},
		Temporal:              lifecycle.Temporal{OccurredAtObserved: occurred},
		Content:               lifecycle.Content{Format: "text", Text: "a quiet afternoon"},
		Strength:              lifecycle.Strength{Initial: 0.75, Current: 0.75},
		Provenance:            lifecycle.Provenance{Source: lifecycle.SourceUser},
		ReconsolidationPolicy: lifecycle.ReconsolidateNeverEditSource,
		CreatedAt:             occurred,
		UpdatedAt:             occurred,
	}
}

func TestIngestMemory_WithDerived(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appID := uuid.New()

	event := v2Event("alice", lifecycle.StateSealed, now)
	impact := v2Event("alice", lifecycle.StateActive, now)
	impact.Type = lifecycle.TypeImpact
	impact.ImpactPayload = &lifecycle.ImpactPayload{}

	link := &model.MemoryLink{
		ID:               uuid.New(),
		ParentID:         event.ID,
		ChildID:          impact.ID,
		Relationship:     string(lifecycle.RelDerivedImpact),
		Rule:             "tx",
		StrengthTransfer: 0.4,
		CreatedAt:        now,
	}
	entry := lifecycle.AccessLogEntry{
		LogID:    lifecycle.NewLogID(),
		Time:     now,
		TenantID: "alice",
		Scope:    event.Scope,
		Purpose:  lifecycle.PurposeChatResponse,
		Query:    lifecycle.AccessQuery{Op: lifecycle.OpIngest},
		Decision: lifecycle.AccessDecision{Allowed: true, ReturnedIDs: []string{event.ID}},
	}
	err := store.IngestMemory(ctx,
		model.NewMemoryRecord(event, appID),
		model.NewMemoryRecord(impact, appID),
		link,
		model.NewAccessRecord(entry, appID))
	require.NoError(t, err)

	got, err := store.GetMemoryRecord(ctx, "alice", event.ID)
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StateSealed), got.State)

	links, err := store.ListChildLinks(ctx, event.ID, lifecycle.RelDerivedImpact)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, impact.ID, links[0].ChildID)

	logged, err := store.GetAccessRecord(ctx, "alice", entry.LogID)
	require.NoError(t, err)
	require.Equal(t, []string{event.ID}, logged.Document.Decision.ReturnedIDs)
}

func TestIngestMemory_AuditFailureRollsBack(t *testing.T) {
	store, db := testStoreDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appID := uuid.New()

	// With the access-log table gone the audit insert fails, and the
	// memory row written in the same transaction must not survive.
	require.NoError(t, db.Migrator().DropTable(&model.AccessRecord{}))

	event := v2Event("alice", lifecycle.StateActive, now)
	entry := lifecycle.AccessLogEntry{
		LogID:    lifecycle.NewLogID(),
		Time:     now,
		TenantID: "alice",
		Scope:    event.Scope,
		Purpose:  lifecycle.PurposeChatResponse,
		Query:    lifecycle.AccessQuery{Op: lifecycle.OpIngest},
		Decision: lifecycle.AccessDecision{Allowed: true, ReturnedIDs: []string{event.ID}},
	}
	err := store.IngestMemory(ctx, model.NewMemoryRecord(event, appID), nil, nil, model.NewAccessRecord(entry, appID))
	require.Error(t, err)

	_, err = store.GetMemoryRecord(ctx, "alice", event.ID)
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf, "memory must roll back with its audit row")
}

func TestQueryMemoryObjects_StateFiltering(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appID := uuid.New()

	active := v2Event("alice", lifecycle.StateActive, now)
	sealed := v2Event("alice", lifecycle.StateSealed, now.Add(-time.Hour))
	revoked := v2Event("alice", lifecycle.StateRevoked, now.Add(-2*time.Hour))
	for _, obj := range []lifecycle.MemoryObject{active, sealed, revoked} {
		require.NoError(t, store.IngestMemory(ctx, model.NewMemoryRecord(obj, appID), nil, nil, nil))
	}

	rows, err := store.QueryMemoryObjects(ctx, lifecycle.MemoryQuery{
		TenantID: "alice",
		Scope:    lifecycle.Scope{Type: lifecycle.ScopeUser, ID: "alice"},
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2, "revoked rows never come back; sealed rows do")
	require.Equal(t, active.ID, rows[0].ID, "ordered by occurrence, newest first")
	require.Equal(t, sealed.ID, rows[1].ID)
}

func TestUpdateMemoryRecord_Reproject(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appID := uuid.New()

	event := v2Event("alice", lifecycle.StateActive, now)
	require.NoError(t, store.IngestMemory(ctx, model.NewMemoryRecord(event, appID), nil, nil, nil))

	rec, err := store.GetMemoryRecord(ctx, "alice", event.ID)
	require.NoError(t, err)
	rec.Document.State = lifecycle.StateSealed
	rec.Document.UpdatedAt = now.Add(time.Minute)
	rec.Reproject()
	require.NoError(t, store.UpdateMemoryRecord(ctx, rec))

	got, err := store.GetMemoryRecord(ctx, "alice", event.ID)
	require.NoError(t, err)
	require.Equal(t, string(lifecycle.StateSealed), got.State)
	require.Equal(t, lifecycle.StateSealed, got.Document.State)
}

func TestAccessRecords(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appID := uuid.New()

	entry := lifecycle.AccessLogEntry{
		LogID:    lifecycle.NewLogID(),
		Time:     now,
		TenantID: "alice",
		Scope:    lifecycle.Scope{Type: lifecycle.ScopeUser, ID: "alice"},
		Purpose:  lifecycle.PurposeChatResponse,
		Query:    lifecycle.AccessQuery{Text: "coffee", Op: lifecycle.OpQuery},
		Decision: lifecycle.AccessDecision{Allowed: true, ReturnedIDs: []string{"mem_1"}},
	}
	require.NoError(t, store.AppendAccessRecord(ctx, model.NewAccessRecord(entry, appID)))

	got, err := store.GetAccessRecord(ctx, "alice", entry.LogID)
	require.NoError(t, err)
	require.Equal(t, entry.LogID, got.Document.LogID)
	require.Equal(t, "coffee", got.QueryText)

	_, err = store.GetAccessRecord(ctx, "bob", entry.LogID)
	var nf *registrystore.NotFoundError
	require.ErrorAs(t, err, &nf, "access logs are tenant-scoped")

	listed, err := store.ListAccessRecords(ctx, registrystore.AccessLogFilter{TenantID: "alice", Op: string(lifecycle.OpQuery)})
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestSpiralArtifacts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	appID := uuid.New()

	artifact := &model.SpiralArtifact{
		ID:          uuid.New(),
		ArtifactID:  lifecycle.NewArtifactID(),
		TenantID:    "alice",
		ScopeType:   string(lifecycle.ScopeUser),
		ScopeID:     "alice",
		PatternType: string(lifecycle.PatternCatastrophicProjection),
		Confidence:  0.9,
		CreatedAt:   now,
		ExpiresAt:   now.Add(45 * time.Minute),
		AppID:       appID,
	}
	require.NoError(t, store.PutSpiralArtifact(ctx, artifact))

	got, err := store.GetActiveSpiralArtifact(ctx, "alice", string(lifecycle.ScopeUser), "alice", now.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, artifact.ArtifactID, got.ArtifactID)

	expired, err := store.GetActiveSpiralArtifact(ctx, "alice", string(lifecycle.ScopeUser), "alice", now.Add(time.Hour))
	require.NoError(t, err)
	require.Nil(t, expired)
}
