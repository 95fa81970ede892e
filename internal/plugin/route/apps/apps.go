// Package apps mounts app onboarding. Registering an app returns its API key
// exactly once; only the SHA-256 hash is persisted.
package apps

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/memoryscope/memoryscope/internal/apierror"
	"github.com/memoryscope/memoryscope/internal/model"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
	"github.com/memoryscope/memoryscope/internal/sanitize"
	"github.com/memoryscope/memoryscope/internal/security"
)

// MountRoutes mounts the app onboarding endpoint. It is unauthenticated:
// possession of the returned key is the credential.
func MountRoutes(r *gin.Engine, store registrystore.MemoryStore) {
	r.POST("/apps", func(c *gin.Context) { createApp(c, store) })
}

type createRequest struct {
	Name   string `json:"name"`
	UserID string `json:"user_id"`
}

type createResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	UserID    string    `json:"user_id"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
}

func createApp(c *gin.Context, store registrystore.MemoryStore) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Validation(c, err.Error())
		return
	}
	if req.Name == "" || len(req.Name) > 255 {
		apierror.Validation(c, "name must be non-empty and at most 255 bytes")
		return
	}
	userID, err := sanitize.UserID(req.UserID)
	if err != nil {
		apierror.Validation(c, err.Error())
		return
	}

	key, err := security.NewAPIKey()
	if err != nil {
		log.Error("api key generation failed", "error", err)
		apierror.Internal(c)
		return
	}

	app := &model.App{
		ID:         uuid.New(),
		Name:       req.Name,
		APIKeyHash: security.HashAPIKey(key),
		UserID:     userID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.CreateApp(c.Request.Context(), app); err != nil {
		log.Error("create app failed", "error", err)
		apierror.Internal(c)
		return
	}

	c.JSON(http.StatusCreated, createResponse{
		ID:        app.ID,
		Name:      app.Name,
		UserID:    app.UserID,
		APIKey:    key,
		CreatedAt: app.CreatedAt,
	})
}
