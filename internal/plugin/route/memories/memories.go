// Package memories mounts the v1 memory endpoints: scoped writes, policy
// checked merge reads, and grant continue/revoke.
package memories

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/memoryscope/memoryscope/internal/apierror"
	"github.com/memoryscope/memoryscope/internal/grants"
	"github.com/memoryscope/memoryscope/internal/memory"
	"github.com/memoryscope/memoryscope/internal/model"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
	"github.com/memoryscope/memoryscope/internal/sanitize"
	"github.com/memoryscope/memoryscope/internal/security"
)

// MountRoutes mounts the v1 memory REST endpoints on the given router.
func MountRoutes(r *gin.Engine, store registrystore.MemoryStore, auth gin.HandlerFunc) {
	g := r.Group("/memory", auth)

	g.POST("", func(c *gin.Context) { createMemory(c, store) })
	g.POST("/read", func(c *gin.Context) { readMemory(c, store) })
	g.POST("/read/continue", func(c *gin.Context) { continueRead(c, store) })
	g.POST("/revoke", func(c *gin.Context) { revokeGrant(c, store) })
}

type createRequest struct {
	UserID    string      `json:"user_id"`
	Scope     string      `json:"scope"`
	Domain    *string     `json:"domain,omitempty"`
	ValueJSON interface{} `json:"value_json"`
	Source    string      `json:"source"`
	TTLDays   int         `json:"ttl_days"`
}

type createResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Scope     string    `json:"scope"`
	Domain    *string   `json:"domain,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type readRequest struct {
	UserID     string  `json:"user_id"`
	Scope      string  `json:"scope"`
	Domain     *string `json:"domain,omitempty"`
	Purpose    string  `json:"purpose"`
	MaxAgeDays *int    `json:"max_age_days,omitempty"`
}

type readResponse struct {
	SummaryText     string                 `json:"summary_text"`
	SummaryStruct   map[string]interface{} `json:"summary_struct"`
	Confidence      float64                `json:"confidence"`
	RevocationToken string                 `json:"revocation_token"`
	ExpiresAt       time.Time              `json:"expires_at"`
}

type continueRequest struct {
	RevocationToken string `json:"revocation_token"`
	MaxAgeDays      *int   `json:"max_age_days,omitempty"`
}

type revokeRequest struct {
	RevocationToken string `json:"revocation_token"`
}

type revokeResponse struct {
	Revoked   bool      `json:"revoked"`
	RevokedAt time.Time `json:"revoked_at"`
}

func createMemory(c *gin.Context, store registrystore.MemoryStore) {
	app := security.AppFromContext(c)
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}

	userID, err := sanitize.UserID(req.UserID)
	if err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	scope, err := sanitize.Scope(req.Scope)
	if err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	domain, err := sanitize.Domain(req.Domain)
	if err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	source, err := sanitize.Source(req.Source)
	if err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	if !memory.ValidSource(source) {
		apierror.Validation(c, "source must be explicit_user_input or user_setting")
		return
	}
	if !memory.ValidTTLDays(req.TTLDays) {
		apierror.Validation(c, "ttl_days must be between 1 and 365")
		return
	}

	value := sanitize.JSONValue(req.ValueJSON)
	shape, err := memory.DetectShape(value)
	if err != nil {
		apierror.Validation(c, "value_json does not match any allowed shape")
		return
	}
	normalized := memory.Normalize(value, shape)

	now := time.Now().UTC()
	mem := &model.Memory{
		ID:         uuid.New(),
		UserID:     userID,
		Scope:      model.Scope(scope),
		Domain:     domain,
		Value:      normalized,
		ValueShape: shape,
		Source:     source,
		TTLDays:    req.TTLDays,
		CreatedAt:  now,
		ExpiresAt:  now.AddDate(0, 0, req.TTLDays),
		AppID:      app.ID,
	}
	if err := store.CreateMemory(c.Request.Context(), mem); err != nil {
		log.Error("create memory failed", "error", err)
		apierror.Internal(c)
		return
	}

	audit(c, store, &model.AuditEvent{
		EventType: model.AuditMemoryWrite,
		UserID:    userID,
		AppID:     app.ID,
		Scope:     &mem.Scope,
		Domain:    domain,
		MemoryIDs: []string{mem.ID.String()},
	})

	c.JSON(http.StatusCreated, createResponse{
		ID:        mem.ID,
		UserID:    mem.UserID,
		Scope:     string(mem.Scope),
		Domain:    mem.Domain,
		CreatedAt: mem.CreatedAt,
		ExpiresAt: mem.ExpiresAt,
	})
}

func readMemory(c *gin.Context, store registrystore.MemoryStore) {
	app := security.AppFromContext(c)
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}

	userID, err := sanitize.UserID(req.UserID)
	if err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	scope, err := sanitize.Scope(req.Scope)
	if err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	domain, err := sanitize.Domain(req.Domain)
	if err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	purpose, err := sanitize.Purpose(req.Purpose)
	if err != nil {
		apierror.Validation(c, err.Error())
		return
	}

	purposeClass := memory.NormalizePurpose(purpose)
	memScope := model.Scope(scope)
	if !memory.CheckPolicy(memScope, purposeClass) {
		reason := "POLICY_DENIED"
		// A denial without its audit row would be invisible to compliance
		// review, so the denial response depends on the row landing.
		if err := audit(c, store, &model.AuditEvent{
			EventType:    model.AuditPolicyDenied,
			UserID:       userID,
			AppID:        app.ID,
			Scope:        &memScope,
			Domain:       domain,
			Purpose:      &purpose,
			PurposeClass: &purposeClass,
			ReasonCode:   &reason,
		}); err != nil {
			apierror.Internal(c)
			return
		}
		apierror.Authorization(c, "purpose class '"+purposeClass+"' not allowed for scope '"+scope+"'")
		return
	}

	now := time.Now().UTC()
	summary, memoryIDs, err := queryAndMerge(c, store, app.ID, userID, memScope, domain, req.MaxAgeDays, now)
	if err != nil {
		log.Error("query memories failed", "error", err)
		apierror.Internal(c)
		return
	}

	grant, token, err := grants.Issue(c.Request.Context(), store, grants.Params{
		UserID:       userID,
		AppID:        app.ID,
		Scope:        memScope,
		Domain:       domain,
		Purpose:      purpose,
		PurposeClass: purposeClass,
		MaxAgeDays:   req.MaxAgeDays,
	}, now)
	if err != nil {
		log.Error("issue read grant failed", "error", err)
		apierror.Internal(c)
		return
	}

	audit(c, store, &model.AuditEvent{
		EventType:    model.AuditMemoryRead,
		UserID:       userID,
		AppID:        app.ID,
		Scope:        &memScope,
		Domain:       domain,
		Purpose:      &purpose,
		PurposeClass: &purposeClass,
		MemoryIDs:    memoryIDs,
		GrantID:      &grant.ID,
	})

	c.JSON(http.StatusOK, readResponse{
		SummaryText:     summary.Text,
		SummaryStruct:   summary.Struct,
		Confidence:      summary.Confidence,
		RevocationToken: token,
		ExpiresAt:       grant.ExpiresAt,
	})
}

func continueRead(c *gin.Context, store registrystore.MemoryStore) {
	app := security.AppFromContext(c)
	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	if req.RevocationToken == "" {
		apierror.Validation(c, "revocation_token is required")
		return
	}

	now := time.Now().UTC()
	grant, status, err := grants.Lookup(c.Request.Context(), store, app.ID, req.RevocationToken, now)
	if err != nil {
		log.Error("grant lookup failed", "error", err)
		apierror.Internal(c)
		return
	}
	switch status {
	case grants.StatusNotFound:
		apierror.NotFound(c, "revocation token not found")
		return
	case grants.StatusRevoked, grants.StatusExpired:
		apierror.Authorization(c, "REVOKED")
		return
	}

	maxAgeDays := grant.MaxAgeDays
	if req.MaxAgeDays != nil {
		maxAgeDays = req.MaxAgeDays
	}
	summary, _, err := queryAndMerge(c, store, app.ID, grant.UserID, grant.Scope, grant.Domain, maxAgeDays, now)
	if err != nil {
		log.Error("query memories failed", "error", err)
		apierror.Internal(c)
		return
	}

	reason := "CONTINUE"
	audit(c, store, &model.AuditEvent{
		EventType:    model.AuditMemoryRead,
		UserID:       grant.UserID,
		AppID:        app.ID,
		Scope:        &grant.Scope,
		Domain:       grant.Domain,
		Purpose:      &grant.Purpose,
		PurposeClass: &grant.PurposeClass,
		GrantID:      &grant.ID,
		ReasonCode:   &reason,
	})

	c.JSON(http.StatusOK, readResponse{
		SummaryText:     summary.Text,
		SummaryStruct:   summary.Struct,
		Confidence:      summary.Confidence,
		RevocationToken: req.RevocationToken,
		ExpiresAt:       grant.ExpiresAt,
	})
}

func revokeGrant(c *gin.Context, store registrystore.MemoryStore) {
	app := security.AppFromContext(c)
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	if req.RevocationToken == "" {
		apierror.Validation(c, "revocation_token is required")
		return
	}

	now := time.Now().UTC()
	grant, status, err := grants.Lookup(c.Request.Context(), store, app.ID, req.RevocationToken, now)
	if err != nil {
		log.Error("grant lookup failed", "error", err)
		apierror.Internal(c)
		return
	}
	// Revoked tokens look absent so revocation state does not leak.
	if status == grants.StatusNotFound || status == grants.StatusRevoked {
		apierror.NotFound(c, "revocation token not found")
		return
	}

	if err := grants.Revoke(c.Request.Context(), store, grant, now); err != nil {
		log.Error("revoke grant failed", "error", err)
		apierror.Internal(c)
		return
	}

	audit(c, store, &model.AuditEvent{
		EventType: model.AuditMemoryRevoke,
		UserID:    grant.UserID,
		AppID:     app.ID,
		Scope:     &grant.Scope,
		Domain:    grant.Domain,
		GrantID:   &grant.ID,
	})

	c.JSON(http.StatusOK, revokeResponse{Revoked: true, RevokedAt: now})
}

func queryAndMerge(c *gin.Context, store registrystore.MemoryStore, appID uuid.UUID, userID string, scope model.Scope, domain *string, maxAgeDays *int, now time.Time) (memory.Summary, []string, error) {
	memories, err := store.QueryMemories(c.Request.Context(), registrystore.MemoryFilter{
		AppID:      appID,
		UserID:     userID,
		Scope:      scope,
		Domain:     domain,
		MaxAgeDays: maxAgeDays,
		Now:        now,
		Limit:      50,
	})
	if err != nil {
		return memory.Summary{}, nil, err
	}
	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		ids = append(ids, m.ID.String())
	}
	return memory.Merge(memories, scope), ids, nil
}

// audit appends an audit event, logging failures. Paths that must not
// complete without the row check the returned error.
func audit(c *gin.Context, store registrystore.MemoryStore, event *model.AuditEvent) error {
	event.ID = uuid.New()
	event.Timestamp = time.Now().UTC()
	if err := store.AppendAuditEvent(c.Request.Context(), event); err != nil {
		log.Error("audit append failed", "error", err, "eventType", event.EventType)
		return err
	}
	return nil
}
