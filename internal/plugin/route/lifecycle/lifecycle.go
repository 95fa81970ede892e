// Package lifecycle mounts the /v2 memory lifecycle endpoints: typed ingest
// with policy-driven sealing and impact derivation, policy-filtered query and
// reconstruction, per-memory lifecycle operations, and the observability
// surface (explain, replay, access logs).
package lifecycle

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/memoryscope/memoryscope/internal/apierror"
	memory "github.com/memoryscope/memoryscope/internal/lifecycle"
	"github.com/memoryscope/memoryscope/internal/model"
	registrycache "github.com/memoryscope/memoryscope/internal/registry/cache"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
	"github.com/memoryscope/memoryscope/internal/sanitize"
	"github.com/memoryscope/memoryscope/internal/security"
)

// Deps carries everything the /v2 routes need.
type Deps struct {
	Store          registrystore.MemoryStore
	Policy         *memory.Engine
	Retrieval      *memory.RetrievalEngine
	Reconstruction *memory.ReconstructionEngine
	Extractor      *memory.Extractor
	Patterns       registrycache.PatternCache
}

// MountRoutes mounts the /v2 endpoint group behind auth.
func MountRoutes(r *gin.Engine, deps Deps, auth gin.HandlerFunc) {
	g := r.Group("/v2", auth)

	g.POST("/memories", func(c *gin.Context) { ingest(c, deps) })
	g.POST("/memories/query", func(c *gin.Context) { query(c, deps) })
	g.POST("/reconstruct", func(c *gin.Context) { reconstruct(c, deps) })

	g.POST("/memories/:id/seal", func(c *gin.Context) { seal(c, deps) })
	g.POST("/memories/:id/revoke", func(c *gin.Context) { revoke(c, deps) })
	g.POST("/memories/:id/reinforce", func(c *gin.Context) { reinforce(c, deps) })
	g.POST("/memories/:id/recall", func(c *gin.Context) { recall(c, deps) })
	g.POST("/memories/:id/dispute", func(c *gin.Context) { dispute(c, deps) })
	g.POST("/memories/:id/attest", func(c *gin.Context) { attest(c, deps) })

	g.POST("/explain", func(c *gin.Context) { explain(c, deps) })
	g.POST("/replay", func(c *gin.Context) { replay(c, deps) })
	g.POST("/spiral/artifacts", func(c *gin.Context) { createArtifact(c, deps) })
	g.GET("/access-logs", func(c *gin.Context) { listAccessLogs(c, deps) })
}

var validPurposes = map[memory.PurposeType]bool{
	memory.PurposeChatResponse:    true,
	memory.PurposeTaskExecution:   true,
	memory.PurposeSafetyFiltering: true,
	memory.PurposeReflection:      true,
	memory.PurposeSupportReview:   true,
	memory.PurposeComplianceAudit: true,
	memory.PurposeDebuggingReplay: true,
}

var validTruthModes = map[memory.TruthMode]bool{
	memory.TruthFactualClaim:         true,
	memory.TruthSubjectiveExperience: true,
	memory.TruthCounterfactual:       true,
	memory.TruthImagined:             true,
	memory.TruthSociallySourced:      true,
	memory.TruthProcedural:           true,
	memory.TruthSomatic:              true,
	memory.TruthIdentityRoleBound:    true,
}

var validTypes = map[memory.MemoryType]bool{
	memory.TypeEvent:  true,
	memory.TypeImpact: true,
	memory.TypeSeed:   true,
}

// tenant resolves the effective tenant: the request's when set, otherwise the
// authenticated app's user. An invalid requested tenant renders a 400 and
// returns false.
func tenant(c *gin.Context, requested string) (string, bool) {
	if requested != "" {
		id, err := sanitize.TenantID(requested)
		if err != nil {
			apierror.Validation(c, err.Error())
			return "", false
		}
		return id, true
	}
	if app := security.AppFromContext(c); app != nil {
		return app.UserID, true
	}
	return "", true
}

// activeArtifact consults the pattern cache first and falls back to the store,
// backfilling the cache on a store hit.
func activeArtifact(c *gin.Context, deps Deps, tenantID string, scope memory.Scope, now time.Time) *model.SpiralArtifact {
	ctx := c.Request.Context()
	if deps.Patterns != nil && deps.Patterns.Available() {
		artifact, err := deps.Patterns.Get(ctx, tenantID, string(scope.Type), scope.ID)
		if err != nil {
			log.Warn("pattern cache get failed", "error", err)
		} else if artifact != nil && artifact.ExpiresAt.After(now) {
			return artifact
		}
	}
	artifact, err := deps.Store.GetActiveSpiralArtifact(ctx, tenantID, string(scope.Type), scope.ID, now)
	if err != nil {
		log.Warn("spiral artifact lookup failed", "error", err)
		return nil
	}
	if artifact != nil && deps.Patterns != nil && deps.Patterns.Available() {
		if err := deps.Patterns.Set(ctx, tenantID, string(scope.Type), scope.ID, *artifact, time.Until(artifact.ExpiresAt)); err != nil {
			log.Warn("pattern cache set failed", "error", err)
		}
	}
	return artifact
}

// newAccessRecord stamps an entry with a fresh log id, the current time and
// the authenticated caller, and projects it into row form.
func newAccessRecord(c *gin.Context, entry memory.AccessLogEntry) *model.AccessRecord {
	app := security.AppFromContext(c)
	entry.LogID = memory.NewLogID()
	entry.Time = time.Now().UTC()
	entry.Caller = memory.AccessCaller{
		ClientID: app.ID.String(),
		UserID:   app.UserID,
		IP:       c.ClientIP(),
	}
	return model.NewAccessRecord(entry, app.ID)
}

// logAccess appends an immutable access record and returns its log id. Read
// paths tolerate an append failure; the ingest path instead commits its
// record inside the ingest transaction.
func logAccess(c *gin.Context, deps Deps, entry memory.AccessLogEntry) string {
	rec := newAccessRecord(c, entry)
	if err := deps.Store.AppendAccessRecord(c.Request.Context(), rec); err != nil {
		log.Error("append access record failed", "error", err, "op", entry.Query.Op)
	}
	return rec.LogID
}

type ingestRequest struct {
	TenantID              string                         `json:"tenant_id"`
	Scope                 memory.Scope                   `json:"scope"`
	Type                  memory.MemoryType              `json:"type"`
	TruthMode             memory.TruthMode               `json:"truth_mode"`
	Content               memory.Content                 `json:"content"`
	Sensitivity           *memory.Sensitivity            `json:"sensitivity,omitempty"`
	Ownership             *memory.Ownership              `json:"ownership,omitempty"`
	Temporal              *memory.Temporal               `json:"temporal,omitempty"`
	Affect                *memory.Affect                 `json:"affect,omitempty"`
	Strength              *memory.Strength               `json:"strength,omitempty"`
	Provenance            *memory.Provenance             `json:"provenance,omitempty"`
	ReconsolidationPolicy memory.ReconsolidationPolicy   `json:"reconsolidation_policy,omitempty"`
	ImpactPayload         *memory.ImpactPayload          `json:"impact_payload,omitempty"`
	SeedPayload           *memory.SeedPayload            `json:"seed_payload,omitempty"`
	ProceduralPayload     map[string]interface{}         `json:"procedural_payload,omitempty"`
	SomaticPayload        map[string]interface{}         `json:"somatic_payload,omitempty"`
}

type ingestResponse struct {
	ID              string       `json:"id"`
	TenantID        string       `json:"tenant_id"`
	State           string       `json:"state"`
	CreatedAt       time.Time    `json:"created_at"`
	DerivedImpactID string       `json:"derived_impact_id,omitempty"`
	PolicyTrace     memory.Trace `json:"policy_trace"`
}

// newMemoryObject applies creation defaults over the request.
func newMemoryObject(req *ingestRequest, tenantID string, now time.Time) *memory.MemoryObject {
	obj := &memory.MemoryObject{
		ID:        memory.NewMemoryID(),
		TenantID:  tenantID,
		Scope:     req.Scope,
		Type:      req.Type,
		TruthMode: req.TruthMode,
		State:     memory.StateActive,
		Sensitivity: memory.Sensitivity{
			Level:    memory.SensitivityLow,
			Handling: memory.HandlingNormal,
		},
		Ownership: memory.Ownership{
			OwnerType:    memory.OwnerUser,
			DisputeState: memory.DisputeUnverified,
			Visibility:   memory.VisibilityPrivate,
		},
		Temporal: memory.Temporal{OccurredAtObserved: now},
		Content:  req.Content,
		Strength: memory.Strength{Initial: 0.75, Current: 0.75, DecayModel: memory.DecayExponential},
		Provenance: memory.Provenance{
			Source:  memory.SourceUser,
			Surface: memory.SurfaceAPI,
		},
		ReconsolidationPolicy: memory.ReconsolidateNeverEditSource,
		ImpactPayload:         req.ImpactPayload,
		SeedPayload:           req.SeedPayload,
		ProceduralPayload:     req.ProceduralPayload,
		SomaticPayload:        req.SomaticPayload,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if req.Sensitivity != nil {
		obj.Sensitivity = *req.Sensitivity
		if obj.Sensitivity.Level == "" {
			obj.Sensitivity.Level = memory.SensitivityLow
		}
		if obj.Sensitivity.Handling == "" {
			obj.Sensitivity.Handling = memory.HandlingNormal
		}
	}
	if req.Ownership != nil {
		obj.Ownership = *req.Ownership
		if obj.Ownership.OwnerType == "" {
			obj.Ownership.OwnerType = memory.OwnerUser
		}
		if obj.Ownership.DisputeState == "" {
			obj.Ownership.DisputeState = memory.DisputeUnverified
		}
		if obj.Ownership.Visibility == "" {
			obj.Ownership.Visibility = memory.VisibilityPrivate
		}
	}
	if req.Temporal != nil {
		obj.Temporal = *req.Temporal
		if obj.Temporal.OccurredAtObserved.IsZero() {
			obj.Temporal.OccurredAtObserved = now
		}
	}
	if req.Affect != nil {
		obj.Affect = req.Affect
	}
	if req.Strength != nil {
		obj.Strength = *req.Strength
		if obj.Strength.Current == 0 {
			obj.Strength.Current = obj.Strength.Initial
		}
	}
	if req.Provenance != nil {
		obj.Provenance = *req.Provenance
		if obj.Provenance.Source == "" {
			obj.Provenance.Source = memory.SourceUser
		}
	}
	if req.ReconsolidationPolicy != "" {
		obj.ReconsolidationPolicy = req.ReconsolidationPolicy
	}
	return obj
}

func ingest(c *gin.Context, deps Deps) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	if !validTypes[req.Type] {
		apierror.Validation(c, fmt.Sprintf("type must be one of event, impact, seed; got %q", req.Type))
		return
	}
	if !validTruthModes[req.TruthMode] {
		apierror.Validation(c, fmt.Sprintf("unknown truth_mode %q", req.TruthMode))
		return
	}
	if req.Scope.Type == "" || req.Scope.ID == "" {
		apierror.Validation(c, "scope.scope_type and scope.scope_id are required")
		return
	}
	if req.Type == memory.TypeImpact && req.ImpactPayload == nil {
		apierror.Validation(c, "impact memories require impact_payload")
		return
	}
	if req.Type == memory.TypeSeed && req.SeedPayload == nil {
		apierror.Validation(c, "seed memories require seed_payload")
		return
	}

	now := time.Now().UTC()
	tenantID, ok := tenant(c, req.TenantID)
	if !ok {
		return
	}
	obj := newMemoryObject(&req, tenantID, now)

	decision := deps.Policy.EvaluateIngest(obj)
	if !decision.Allowed {
		apierror.Authorization(c, "policy denied write",
			apierror.WithDetails(map[string]interface{}{"policy_trace": decision.Trace}))
		return
	}

	deriveImpacts := decision.DeriveImpacts
	if deriveImpacts {
		if artifact := activeArtifact(c, deps, tenantID, obj.Scope, now); artifact != nil && deps.Policy.Spiral().BlockNewImpacts {
			deriveImpacts = false
		}
	}

	app := security.AppFromContext(c)

	// Extraction runs before the policy state lands, so an event being sealed
	// on write still leaves its derived impact behind.
	var derivedRec *model.MemoryRecord
	var linkRow *model.MemoryLink
	var derivedID string
	if obj.Type == memory.TypeEvent && deps.Extractor != nil {
		if impact := deps.Extractor.Extract(obj, deriveImpacts); impact != nil {
			link := deps.Extractor.Link(obj, impact)
			derivedRec = model.NewMemoryRecord(*impact, app.ID)
			linkRow = &model.MemoryLink{
				ID:               uuid.New(),
				ParentID:         link.ParentID,
				ChildID:          link.ChildID,
				Relationship:     string(link.Relationship),
				Rule:             link.Rule,
				StrengthTransfer: link.StrengthTransfer,
				CreatedAt:        link.CreatedAt,
			}
			derivedID = impact.ID
		}
	}

	obj.State = decision.State
	rec := model.NewMemoryRecord(*obj, app.ID)

	// The access record commits inside the ingest transaction: a memory is
	// never persisted without its audit trail, and a failed audit insert
	// rolls the whole write back.
	auditRec := newAccessRecord(c, memory.AccessLogEntry{
		TenantID: tenantID,
		Scope:    obj.Scope,
		Purpose:  memory.PurposeChatResponse,
		Query:    memory.AccessQuery{Op: memory.OpIngest},
		Decision: memory.AccessDecision{
			Allowed:      true,
			ReturnedIDs:  []string{obj.ID},
			MatchedRules: decision.Trace.MatchedRules,
			Explanation:  fmt.Sprintf("Ingested %s memory in state %s", obj.Type, obj.State),
		},
	})

	if err := deps.Store.IngestMemory(c.Request.Context(), rec, derivedRec, linkRow, auditRec); err != nil {
		log.Error("ingest memory failed", "error", err)
		apierror.Internal(c)
		return
	}

	c.JSON(http.StatusCreated, ingestResponse{
		ID:              obj.ID,
		TenantID:        tenantID,
		State:           string(obj.State),
		CreatedAt:       obj.CreatedAt,
		DerivedImpactID: derivedID,
		PolicyTrace:     decision.Trace,
	})
}

type queryRequest struct {
	TenantID  string             `json:"tenant_id"`
	Scope     memory.Scope       `json:"scope"`
	Purpose   memory.PurposeType `json:"purpose"`
	QueryText string             `json:"query_text"`
	Limit     int                `json:"limit"`
}

type queryResponse struct {
	*memory.RetrievalResult
	AccessLogID string `json:"access_log_id"`
}

func query(c *gin.Context, deps Deps) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	if !validPurposes[req.Purpose] {
		apierror.Validation(c, fmt.Sprintf("unknown purpose %q", req.Purpose))
		return
	}
	if req.Scope.Type == "" || req.Scope.ID == "" {
		apierror.Validation(c, "scope.scope_type and scope.scope_id are required")
		return
	}

	if sanitize.LooksLikeSQLInjection(req.QueryText) {
		apierror.Validation(c, "query_text contains disallowed patterns")
		return
	}

	tenantID, ok := tenant(c, req.TenantID)
	if !ok {
		return
	}
	result, err := deps.Retrieval.RetrieveForPurpose(c.Request.Context(), tenantID, req.Scope, req.Purpose, req.QueryText, req.Limit)
	if err != nil {
		log.Error("retrieval failed", "error", err)
		apierror.Internal(c)
		return
	}

	logID := logAccess(c, deps, memory.AccessLogEntry{
		TenantID: tenantID,
		Scope:    req.Scope,
		Purpose:  req.Purpose,
		Query:    memory.AccessQuery{Text: req.QueryText, Op: memory.OpQuery},
		Decision: memory.AccessDecision{
			Allowed:      len(result.MemoryIDs) > 0,
			ReturnedIDs:  result.MemoryIDs,
			DeniedIDs:    result.DeniedIDs,
			MatchedRules: result.Trace.MatchedRules,
			Explanation:  fmt.Sprintf("Retrieved %d memories, denied %d", len(result.MemoryIDs), len(result.DeniedIDs)),
		},
	})

	c.JSON(http.StatusOK, queryResponse{RetrievalResult: result, AccessLogID: logID})
}

type reconstructRequest struct {
	TenantID      string             `json:"tenant_id"`
	Scope         memory.Scope       `json:"scope"`
	Purpose       memory.PurposeType `json:"purpose"`
	QueryText     string             `json:"query_text"`
	IncludeEvents bool               `json:"include_events"`
}

type reconstructResponse struct {
	*memory.Reconstruction
	AccessLogID string `json:"access_log_id"`
}

func reconstruct(c *gin.Context, deps Deps) {
	var req reconstructRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	if !validPurposes[req.Purpose] {
		apierror.Validation(c, fmt.Sprintf("unknown purpose %q", req.Purpose))
		return
	}
	if req.Scope.Type == "" || req.Scope.ID == "" {
		apierror.Validation(c, "scope.scope_type and scope.scope_id are required")
		return
	}

	if sanitize.LooksLikeSQLInjection(req.QueryText) {
		apierror.Validation(c, "query_text contains disallowed patterns")
		return
	}

	tenantID, ok := tenant(c, req.TenantID)
	if !ok {
		return
	}
	recon, err := deps.Reconstruction.Reconstruct(c.Request.Context(), tenantID, req.Scope, req.Purpose, req.QueryText, req.IncludeEvents)
	if err != nil {
		log.Error("reconstruction failed", "error", err)
		apierror.Internal(c)
		return
	}

	logID := logAccess(c, deps, memory.AccessLogEntry{
		TenantID: tenantID,
		Scope:    req.Scope,
		Purpose:  req.Purpose,
		Query:    memory.AccessQuery{Text: req.QueryText, Op: memory.OpReconstruct},
		Decision: memory.AccessDecision{
			Allowed:      true,
			ReturnedIDs:  append(append([]string{}, recon.Sources.Impacts...), recon.Sources.Seeds...),
			MatchedRules: recon.Trace.MatchedRules,
			Explanation:  fmt.Sprintf("Reconstructed context with confidence %.2f", recon.Confidence),
		},
	})

	c.JSON(http.StatusOK, reconstructResponse{Reconstruction: recon, AccessLogID: logID})
}
