package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/memoryscope/memoryscope/internal/apierror"
	"github.com/memoryscope/memoryscope/internal/config"
	"github.com/memoryscope/memoryscope/internal/model"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
)

const (
	// ContextKeyApp is the gin context key for the authenticated App.
	ContextKeyApp = "app"
	// APIKeyHeader carries the caller's API key.
	APIKeyHeader = "X-API-Key"
	// RequestIDHeader carries the request ID, inbound and outbound.
	RequestIDHeader = "X-Request-ID"
)

// testingAppID is the fixed App identity used when the configured testing key
// authenticates. Stable across restarts so audit rows stay attributable.
var testingAppID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// HashAPIKey returns the hex SHA-256 of a clear API key. Keys are stored and
// looked up by this hash only.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewAPIKey mints a 256-bit random key, hex encoded.
func NewAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RequestIDMiddleware assigns every request an ID, echoing the caller's
// X-Request-ID when present.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(apierror.ContextKeyRequestID, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// AuthMiddleware authenticates requests by X-API-Key against the apps table.
// In testing mode, the configured key authenticates as a synthetic app without
// touching the store.
func AuthMiddleware(cfg *config.Config, store registrystore.MemoryStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			apierror.Authentication(c, "missing "+APIKeyHeader+" header")
			return
		}
		if cfg.Mode == config.ModeTesting && cfg.TestingAPIKey != "" && key == cfg.TestingAPIKey {
			c.Set(ContextKeyApp, &model.App{ID: testingAppID, Name: "testing", UserID: "testing"})
			c.Next()
			return
		}
		app, err := store.GetAppByKeyHash(c.Request.Context(), HashAPIKey(key))
		if err != nil {
			var nf *registrystore.NotFoundError
			if errors.As(err, &nf) {
				apierror.Authentication(c, "invalid API key")
				return
			}
			apierror.Internal(c)
			return
		}
		c.Set(ContextKeyApp, app)
		c.Next()
	}
}

// AppFromContext returns the authenticated App, or nil outside the auth
// middleware.
func AppFromContext(c *gin.Context) *model.App {
	v, ok := c.Get(ContextKeyApp)
	if !ok {
		return nil
	}
	app, _ := v.(*model.App)
	return app
}
