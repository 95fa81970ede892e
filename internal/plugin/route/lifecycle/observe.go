package lifecycle

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/memoryscope/memoryscope/internal/apierror"
	memory "github.com/memoryscope/memoryscope/internal/lifecycle"
	"github.com/memoryscope/memoryscope/internal/model"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
	"github.com/memoryscope/memoryscope/internal/sanitize"
	"github.com/memoryscope/memoryscope/internal/security"
)

type explainRequest struct {
	TenantID    string   `json:"tenant_id"`
	AccessLogID string   `json:"access_log_id"`
	MemoryIDs   []string `json:"memory_ids"`
}

type appliedConstraint struct {
	ConstraintID string `json:"constraint_id"`
	Kind         string `json:"kind"`
	Rule         string `json:"rule"`
	MemoryID     string `json:"memory_id"`
}

type explainDenial struct {
	MemoryID string `json:"memory_id"`
	Reason   string `json:"reason"`
}

type explainResponse struct {
	Explanation        map[string]interface{} `json:"explanation"`
	MemoryIDsUsed      []string               `json:"memory_ids_used"`
	ConstraintsApplied []appliedConstraint    `json:"constraints_applied"`
	Denials            []explainDenial        `json:"denials"`
}

// explain answers "why did the system behave that way": it unpacks an access
// decision and the constraints carried by the memories involved.
func explain(c *gin.Context, deps Deps) {
	var req explainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	if req.AccessLogID == "" && len(req.MemoryIDs) == 0 {
		apierror.Validation(c, "access_log_id or memory_ids is required")
		return
	}

	tenantID, ok := tenant(c, req.TenantID)
	if !ok {
		return
	}
	resp := explainResponse{
		Explanation:        map[string]interface{}{},
		MemoryIDsUsed:      []string{},
		ConstraintsApplied: []appliedConstraint{},
		Denials:            []explainDenial{},
	}

	memoryIDs := append([]string{}, req.MemoryIDs...)
	if req.AccessLogID != "" {
		rec, err := deps.Store.GetAccessRecord(c.Request.Context(), tenantID, req.AccessLogID)
		if err != nil {
			var nf *registrystore.NotFoundError
			if errors.As(err, &nf) {
				apierror.NotFound(c, "access log entry not found")
				return
			}
			log.Error("get access record failed", "error", err)
			apierror.Internal(c)
			return
		}
		entry := rec.Document
		resp.Explanation = map[string]interface{}{
			"log_id":        entry.LogID,
			"time":          entry.Time,
			"op":            string(entry.Query.Op),
			"purpose":       string(entry.Purpose),
			"allowed":       entry.Decision.Allowed,
			"matched_rules": entry.Decision.MatchedRules,
			"summary":       entry.Decision.Explanation,
		}
		memoryIDs = append(memoryIDs, entry.Decision.ReturnedIDs...)
		for _, id := range entry.Decision.DeniedIDs {
			resp.Denials = append(resp.Denials, explainDenial{MemoryID: id, Reason: "Policy denied"})
		}
	}

	seen := map[string]bool{}
	for _, id := range memoryIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		rec, err := deps.Store.GetMemoryRecord(c.Request.Context(), tenantID, id)
		if err != nil {
			resp.Denials = append(resp.Denials, explainDenial{MemoryID: id, Reason: "Policy denied"})
			continue
		}
		resp.MemoryIDsUsed = append(resp.MemoryIDsUsed, id)
		if rec.Document.ImpactPayload != nil {
			for _, constraint := range rec.Document.ImpactPayload.Constraints {
				resp.ConstraintsApplied = append(resp.ConstraintsApplied, appliedConstraint{
					ConstraintID: constraint.ConstraintID,
					Kind:         string(constraint.Kind),
					Rule:         constraint.Rule,
					MemoryID:     id,
				})
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

type replayRequest struct {
	TenantID    string `json:"tenant_id"`
	AccessLogID string `json:"access_log_id"`
	Overrides   struct {
		Purpose   memory.PurposeType `json:"purpose"`
		QueryText *string            `json:"query_text"`
	} `json:"overrides"`
}

// replay re-runs a logged query under the current policy, so operators can
// see what the same request would return today.
func replay(c *gin.Context, deps Deps) {
	var req replayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	if req.AccessLogID == "" {
		apierror.Validation(c, "access_log_id is required")
		return
	}

	tenantID, ok := tenant(c, req.TenantID)
	if !ok {
		return
	}
	rec, err := deps.Store.GetAccessRecord(c.Request.Context(), tenantID, req.AccessLogID)
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			apierror.NotFound(c, "access log entry not found")
			return
		}
		log.Error("get access record failed", "error", err)
		apierror.Internal(c)
		return
	}

	entry := rec.Document
	purpose := entry.Purpose
	if req.Overrides.Purpose != "" {
		if !validPurposes[req.Overrides.Purpose] {
			apierror.Validation(c, "unknown purpose override")
			return
		}
		purpose = req.Overrides.Purpose
	}
	queryText := entry.Query.Text
	if req.Overrides.QueryText != nil {
		if sanitize.LooksLikeSQLInjection(*req.Overrides.QueryText) {
			apierror.Validation(c, "query_text contains disallowed patterns")
			return
		}
		queryText = *req.Overrides.QueryText
	}

	result, err := deps.Retrieval.RetrieveForPurpose(c.Request.Context(), entry.TenantID, entry.Scope, purpose, queryText, 0)
	if err != nil {
		log.Error("replay retrieval failed", "error", err)
		apierror.Internal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"original": gin.H{
			"log_id":         entry.LogID,
			"time":           entry.Time,
			"purpose":        string(entry.Purpose),
			"query_text":     entry.Query.Text,
			"returned_count": len(entry.Decision.ReturnedIDs),
			"denied_count":   len(entry.Decision.DeniedIDs),
		},
		"replay": gin.H{
			"purpose":      string(purpose),
			"memory_ids":   result.MemoryIDs,
			"impacts":      len(result.Impacts),
			"seeds":        len(result.Seeds),
			"events":       len(result.Events),
			"denied_ids":   result.DeniedIDs,
			"policy_trace": result.Trace,
		},
	})
}

var validPatternTypes = map[memory.PatternType]bool{
	memory.PatternCatastrophicProjection: true,
	memory.PatternRunawayCounterfactual:  true,
	memory.PatternCertaintyInflation:     true,
	memory.PatternFutureCollapse:         true,
	memory.PatternNegativeFeedbackLoop:   true,
}

type artifactRequest struct {
	TenantID    string                 `json:"tenant_id"`
	Scope       memory.Scope           `json:"scope"`
	PatternType memory.PatternType     `json:"pattern_type"`
	Confidence  float64                `json:"confidence"`
	WindowStart *time.Time             `json:"window_start,omitempty"`
	WindowEnd   *time.Time             `json:"window_end,omitempty"`
	Evidence    map[string]interface{} `json:"evidence,omitempty"`
}

// createArtifact registers a detected thought-pattern artifact. While active
// it tightens the spiral sub-policy for its scope.
func createArtifact(c *gin.Context, deps Deps) {
	var req artifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	if !validPatternTypes[req.PatternType] {
		apierror.Validation(c, "unknown pattern_type")
		return
	}
	if req.Scope.Type == "" || req.Scope.ID == "" {
		apierror.Validation(c, "scope.scope_type and scope.scope_id are required")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		apierror.Validation(c, "confidence must be between 0 and 1")
		return
	}

	now := time.Now().UTC()
	spiral := deps.Policy.Spiral()
	ttl := time.Duration(spiral.TTLMinutes) * time.Minute
	tenantID, ok := tenant(c, req.TenantID)
	if !ok {
		return
	}
	app := security.AppFromContext(c)

	artifact := &model.SpiralArtifact{
		ID:          uuid.New(),
		ArtifactID:  memory.NewArtifactID(),
		TenantID:    tenantID,
		ScopeType:   string(req.Scope.Type),
		ScopeID:     req.Scope.ID,
		PatternType: string(req.PatternType),
		Confidence:  req.Confidence,
		WindowStart: req.WindowStart,
		WindowEnd:   req.WindowEnd,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Document:    req.Evidence,
		AppID:       app.ID,
	}
	if err := deps.Store.PutSpiralArtifact(c.Request.Context(), artifact); err != nil {
		log.Error("put spiral artifact failed", "error", err)
		apierror.Internal(c)
		return
	}
	if deps.Patterns != nil && deps.Patterns.Available() {
		if err := deps.Patterns.Set(c.Request.Context(), tenantID, artifact.ScopeType, artifact.ScopeID, *artifact, ttl); err != nil {
			log.Warn("pattern cache set failed", "error", err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"artifact_id":  artifact.ArtifactID,
		"pattern_type": artifact.PatternType,
		"expires_at":   artifact.ExpiresAt,
	})
}

func listAccessLogs(c *gin.Context, deps Deps) {
	tenantID, ok := tenant(c, c.Query("tenant_id"))
	if !ok {
		return
	}
	filter := registrystore.AccessLogFilter{
		TenantID: tenantID,
		Op:       c.Query("op"),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			apierror.Validation(c, "since must be RFC 3339")
			return
		}
		filter.Since = &t
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apierror.Validation(c, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	recs, err := deps.Store.ListAccessRecords(c.Request.Context(), filter)
	if err != nil {
		log.Error("list access records failed", "error", err)
		apierror.Internal(c)
		return
	}

	entries := make([]memory.AccessLogEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, rec.Document)
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
