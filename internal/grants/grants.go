// Package grants manages v1 read grants: time-boxed bearer tokens that let a
// caller repeat a policy-checked read or revoke it early. Only the SHA-256
// hash of a token is ever stored.
package grants

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/memoryscope/memoryscope/internal/model"
	registrystore "github.com/memoryscope/memoryscope/internal/registry/store"
)

// TTL is the fixed lifetime of a read grant.
const TTL = 24 * time.Hour

// RevokeReasonUserRequested is recorded on caller-initiated revocation.
const RevokeReasonUserRequested = "user_requested"

// Status classifies a token lookup.
type Status int

const (
	StatusActive Status = iota
	StatusNotFound
	StatusRevoked
	StatusExpired
)

// HashToken returns the hex SHA-256 of a clear revocation token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewToken mints a fresh revocation token.
func NewToken() string {
	return uuid.NewString()
}

// Params fixes the read parameters a grant authorizes.
type Params struct {
	UserID       string
	AppID        uuid.UUID
	Scope        model.Scope
	Domain       *string
	Purpose      string
	PurposeClass string
	MaxAgeDays   *int
}

// Issue creates a grant and returns it with the clear token. The token is not
// recoverable afterwards.
func Issue(ctx context.Context, store registrystore.MemoryStore, p Params, now time.Time) (*model.ReadGrant, string, error) {
	token := NewToken()
	grant := &model.ReadGrant{
		ID:           uuid.New(),
		TokenHash:    HashToken(token),
		UserID:       p.UserID,
		AppID:        p.AppID,
		Scope:        p.Scope,
		Domain:       p.Domain,
		Purpose:      p.Purpose,
		PurposeClass: p.PurposeClass,
		MaxAgeDays:   p.MaxAgeDays,
		CreatedAt:    now,
		ExpiresAt:    now.Add(TTL),
	}
	if err := store.CreateReadGrant(ctx, grant); err != nil {
		return nil, "", err
	}
	return grant, token, nil
}

// Lookup resolves a clear token to its grant and classifies its state.
// The grant is returned for every status except StatusNotFound.
func Lookup(ctx context.Context, store registrystore.MemoryStore, appID uuid.UUID, token string, now time.Time) (*model.ReadGrant, Status, error) {
	grant, err := store.GetReadGrantByTokenHash(ctx, appID, HashToken(token))
	if err != nil {
		var nf *registrystore.NotFoundError
		if errors.As(err, &nf) {
			return nil, StatusNotFound, nil
		}
		return nil, StatusNotFound, err
	}
	switch {
	case grant.RevokedAt != nil:
		return grant, StatusRevoked, nil
	case !grant.ExpiresAt.After(now):
		return grant, StatusExpired, nil
	default:
		return grant, StatusActive, nil
	}
}

// Revoke marks an active grant revoked at the caller's request.
func Revoke(ctx context.Context, store registrystore.MemoryStore, grant *model.ReadGrant, now time.Time) error {
	return store.RevokeReadGrant(ctx, grant.ID, now, RevokeReasonUserRequested)
}
