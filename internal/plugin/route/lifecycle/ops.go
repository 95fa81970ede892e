package lifecycle

import (
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/memoryscope/memoryscope/internal/apierror"
	memory "github.com/memoryscope/memoryscope/internal/lifecycle"
	"github.com/memoryscope/memoryscope/internal/model"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
)

// fetchRecord loads a memory for the caller's tenant, rendering 404/500
// itself. Returns nil when the response has been written.
func fetchRecord(c *gin.Context, deps Deps, tenantID string) *model.MemoryRecord {
	rec, err := deps.Store.GetMemoryRecord(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			apierror.NotFound(c, "memory not found")
			return nil
		}
		log.Error("get memory failed", "error", err)
		apierror.Internal(c)
		return nil
	}
	return rec
}

func saveRecord(c *gin.Context, deps Deps, rec *model.MemoryRecord) bool {
	rec.Reproject()
	if err := deps.Store.UpdateMemoryRecord(c.Request.Context(), rec); err != nil {
		log.Error("update memory failed", "error", err)
		apierror.Internal(c)
		return false
	}
	return true
}

type tenantRequest struct {
	TenantID string `json:"tenant_id"`
}

// bindTenant reads the optional tenant_id body. An empty body is fine.
func bindTenant(c *gin.Context) (string, bool) {
	var req tenantRequest
	_ = c.ShouldBindJSON(&req)
	return tenant(c, req.TenantID)
}

func seal(c *gin.Context, deps Deps) {
	tenantID, ok := bindTenant(c)
	if !ok {
		return
	}
	rec := fetchRecord(c, deps, tenantID)
	if rec == nil {
		return
	}

	now := time.Now().UTC()
	rec.Document.State = memory.StateSealed
	rec.Document.UpdatedAt = now
	if !saveRecord(c, deps, rec) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":         rec.ID,
		"state":      string(memory.StateSealed),
		"updated_at": now,
	})
}

func revoke(c *gin.Context, deps Deps) {
	tenantID, ok := bindTenant(c)
	if !ok {
		return
	}
	rec := fetchRecord(c, deps, tenantID)
	if rec == nil {
		return
	}

	now := time.Now().UTC()
	rec.Document.State = memory.StateRevoked
	rec.Document.UpdatedAt = now
	if !saveRecord(c, deps, rec) {
		return
	}

	// Revocation propagates to derived impacts so nothing extracted from a
	// revoked event keeps shaping behavior.
	propagated := []string{}
	links, err := deps.Store.ListChildLinks(c.Request.Context(), rec.ID, memory.RelDerivedImpact)
	if err != nil {
		log.Error("list derived links failed", "error", err, "memory", rec.ID)
	}
	for _, link := range links {
		child, err := deps.Store.GetMemoryRecord(c.Request.Context(), tenantID, link.ChildID)
		if err != nil {
			log.Warn("derived memory missing during revoke", "error", err, "child", link.ChildID)
			continue
		}
		child.Document.State = memory.StateRevoked
		child.Document.UpdatedAt = now
		child.Reproject()
		if err := deps.Store.UpdateMemoryRecord(c.Request.Context(), child); err != nil {
			log.Error("revoke derived memory failed", "error", err, "child", child.ID)
			continue
		}
		propagated = append(propagated, child.ID)
	}

	logAccess(c, deps, memory.AccessLogEntry{
		TenantID: tenantID,
		Scope:    rec.Document.Scope,
		Purpose:  memory.PurposeComplianceAudit,
		Query:    memory.AccessQuery{Op: memory.OpRevoke},
		Decision: memory.AccessDecision{
			Allowed:     true,
			ReturnedIDs: append([]string{rec.ID}, propagated...),
			Explanation: "Memory revoked by owner",
		},
	})

	c.JSON(http.StatusOK, gin.H{
		"id":            rec.ID,
		"state":         string(memory.StateRevoked),
		"propagated_to": propagated,
		"updated_at":    now,
	})
}

type reinforceRequest struct {
	TenantID string   `json:"tenant_id"`
	Delta    *float64 `json:"delta"`
}

func reinforce(c *gin.Context, deps Deps) {
	var req reinforceRequest
	_ = c.ShouldBindJSON(&req)
	delta := 0.1
	if req.Delta != nil {
		delta = *req.Delta
	}
	if delta < 0 || delta > 1 {
		apierror.Validation(c, "delta must be between 0 and 1")
		return
	}

	tenantID, ok := tenant(c, req.TenantID)
	if !ok {
		return
	}
	rec := fetchRecord(c, deps, tenantID)
	if rec == nil {
		return
	}

	now := time.Now().UTC()
	if artifact := activeArtifact(c, deps, tenantID, rec.Document.Scope, now); artifact != nil && deps.Policy.Spiral().BlockReinforcement {
		apierror.Authorization(c, "reinforcement blocked while a thought-pattern artifact is active",
			apierror.WithDetails(map[string]interface{}{"artifact_id": artifact.ArtifactID}))
		return
	}

	current := rec.Document.Strength.Current + delta
	if current > 1.0 {
		current = 1.0
	}
	rec.Document.Strength.Current = current
	rec.Document.Strength.LastReinforcedAt = &now
	rec.Document.UpdatedAt = now
	if !saveRecord(c, deps, rec) {
		return
	}

	logAccess(c, deps, memory.AccessLogEntry{
		TenantID: tenantID,
		Scope:    rec.Document.Scope,
		Purpose:  memory.PurposeChatResponse,
		Query:    memory.AccessQuery{Op: memory.OpReinforce},
		Decision: memory.AccessDecision{
			Allowed:     true,
			ReturnedIDs: []string{rec.ID},
			Explanation: "Memory reinforced",
		},
	})

	c.JSON(http.StatusOK, gin.H{
		"id":                 rec.ID,
		"strength_current":   current,
		"last_reinforced_at": now,
	})
}

type recallRequest struct {
	TenantID string             `json:"tenant_id"`
	Purpose  memory.PurposeType `json:"purpose"`
}

func recall(c *gin.Context, deps Deps) {
	var req recallRequest
	_ = c.ShouldBindJSON(&req)
	if req.Purpose == "" {
		req.Purpose = memory.PurposeReflection
	}
	if !validPurposes[req.Purpose] {
		apierror.Validation(c, "unknown purpose")
		return
	}

	tenantID, ok := tenant(c, req.TenantID)
	if !ok {
		return
	}
	rec := fetchRecord(c, deps, tenantID)
	if rec == nil {
		return
	}

	decision := deps.Policy.EvaluateQuery(&rec.Document, req.Purpose)
	entry := memory.AccessLogEntry{
		TenantID: tenantID,
		Scope:    rec.Document.Scope,
		Purpose:  req.Purpose,
		Query:    memory.AccessQuery{Op: memory.OpRecall},
		Decision: memory.AccessDecision{
			Allowed:      decision.AllowRead,
			MatchedRules: decision.Trace.MatchedRules,
		},
	}
	if !decision.AllowRead {
		entry.Decision.DeniedIDs = []string{rec.ID}
		entry.Decision.Explanation = "Recall denied by policy"
		logAccess(c, deps, entry)
		apierror.Authorization(c, "policy denied recall",
			apierror.WithDetails(map[string]interface{}{"policy_trace": decision.Trace}))
		return
	}

	entry.Decision.ReturnedIDs = []string{rec.ID}
	entry.Decision.Explanation = "Memory recalled by owner"
	logID := logAccess(c, deps, entry)

	c.JSON(http.StatusOK, gin.H{
		"memory":        rec.Document,
		"policy_trace":  decision.Trace,
		"access_log_id": logID,
	})
}

func setDisputeState(c *gin.Context, deps Deps, state memory.DisputeState) {
	tenantID, ok := bindTenant(c)
	if !ok {
		return
	}
	rec := fetchRecord(c, deps, tenantID)
	if rec == nil {
		return
	}

	now := time.Now().UTC()
	rec.Document.Ownership.DisputeState = state
	rec.Document.UpdatedAt = now
	if !saveRecord(c, deps, rec) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":            rec.ID,
		"dispute_state": string(state),
		"updated_at":    now,
	})
}

func dispute(c *gin.Context, deps Deps) {
	setDisputeState(c, deps, memory.DisputeDisputed)
}

func attest(c *gin.Context, deps Deps) {
	setDisputeState(c, deps, memory.DisputeUndisputed)
}
