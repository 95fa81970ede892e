// Package sanitize validates and canonicalizes caller-supplied fields before
// any of them reach the policy engine or the store.
package sanitize

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Maximum lengths for caller-supplied fields.
const (
	MaxUserIDLength  = 255
	MaxScopeLength   = 50
	MaxDomainLength  = 500
	MaxPurposeLength = 1000
	MaxSourceLength  = 50
)

var (
	userIDPattern    = regexp.MustCompile(`^[a-zA-Z0-9_\-.@]+$`)
	scopePattern     = regexp.MustCompile(`^[a-z_]+$`)
	domainPattern    = regexp.MustCompile(`^[a-zA-Z0-9_\-./\s]+$`)
	tenantIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_\-.@]+$`)
	sqlKeywords      = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|EXECUTE)\b`)
	sqlComments      = regexp.MustCompile(`(--|#|/\*|\*/)`)
	sqlBooleanProbes = regexp.MustCompile(`(?i)\b(UNION|OR|AND)\s+\d+`)
	sqlQuoteChars    = regexp.MustCompile(`('|;|\\)`)
)

// UserID validates a user identifier. Allows alphanumerics, underscore,
// hyphen, dot and @ so email-shaped IDs pass.
func UserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("user_id cannot be empty")
	}
	if len(userID) > MaxUserIDLength {
		return "", fmt.Errorf("user_id exceeds maximum length of %d", MaxUserIDLength)
	}
	if !userIDPattern.MatchString(userID) {
		return "", fmt.Errorf("user_id contains invalid characters")
	}
	return userID, nil
}

// Scope validates and lowercases a scope value.
func Scope(scope string) (string, error) {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		return "", fmt.Errorf("scope cannot be empty")
	}
	if len(scope) > MaxScopeLength {
		return "", fmt.Errorf("scope exceeds maximum length of %d", MaxScopeLength)
	}
	if !scopePattern.MatchString(scope) {
		return "", fmt.Errorf("scope contains invalid characters")
	}
	return scope, nil
}

// Domain validates an optional domain value. An empty or whitespace-only
// domain resolves to nil.
func Domain(domain *string) (*string, error) {
	if domain == nil {
		return nil, nil
	}
	d := strings.TrimSpace(*domain)
	if d == "" {
		return nil, nil
	}
	if len(d) > MaxDomainLength {
		return nil, fmt.Errorf("domain exceeds maximum length of %d", MaxDomainLength)
	}
	if !domainPattern.MatchString(d) {
		return nil, fmt.Errorf("domain contains invalid characters")
	}
	return &d, nil
}

// Purpose validates and HTML-escapes a free-text purpose.
func Purpose(purpose string) (string, error) {
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return "", fmt.Errorf("purpose cannot be empty")
	}
	if len(purpose) > MaxPurposeLength {
		return "", fmt.Errorf("purpose exceeds maximum length of %d", MaxPurposeLength)
	}
	return html.EscapeString(purpose), nil
}

// Source validates and lowercases a source value.
func Source(source string) (string, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return "", fmt.Errorf("source cannot be empty")
	}
	if len(source) > MaxSourceLength {
		return "", fmt.Errorf("source exceeds maximum length of %d", MaxSourceLength)
	}
	if !scopePattern.MatchString(source) {
		return "", fmt.Errorf("source contains invalid characters")
	}
	return source, nil
}

// TenantID validates a v2 tenant identifier.
func TenantID(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", fmt.Errorf("tenant_id cannot be empty")
	}
	if len(tenantID) > MaxUserIDLength {
		return "", fmt.Errorf("tenant_id exceeds maximum length of %d", MaxUserIDLength)
	}
	if !tenantIDPattern.MatchString(tenantID) {
		return "", fmt.Errorf("tenant_id contains invalid characters")
	}
	return tenantID, nil
}

// LooksLikeSQLInjection reports whether a free-text value contains common SQL
// injection patterns. Parameterized queries are the real protection; this is
// an extra screen applied to free-text fields before they are stored.
func LooksLikeSQLInjection(value string) bool {
	return sqlKeywords.MatchString(value) ||
		sqlComments.MatchString(value) ||
		sqlBooleanProbes.MatchString(value) ||
		sqlQuoteChars.MatchString(value)
}

// JSONValue recursively HTML-escapes every string leaf of a decoded JSON
// value. Numbers, booleans and nulls pass through unchanged.
func JSONValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = JSONValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = JSONValue(item)
		}
		return out
	case string:
		return html.EscapeString(v)
	default:
		return value
	}
}
