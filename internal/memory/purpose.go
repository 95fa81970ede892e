package memory

import (
	"strings"

	"github.com/memoryscope/memoryscope/internal/model"
)

// Purpose classes derived from free-text purposes.
const (
	PurposeContentGeneration    = "content_generation"
	PurposeRecommendation       = "recommendation"
	PurposeScheduling           = "scheduling"
	PurposeUIRendering          = "ui_rendering"
	PurposeNotificationDelivery = "notification_delivery"
	PurposeTaskExecution        = "task_execution"
)

// purposeKeywords maps classes to the keywords that select them. Checked in
// order; the first class with a matching keyword wins.
var purposeKeywords = []struct {
	class    string
	keywords []string
}{
	{PurposeContentGeneration, []string{"content", "generate", "create", "write"}},
	{PurposeRecommendation, []string{"recommend", "suggest", "recommendation"}},
	{PurposeScheduling, []string{"scheduling", "schedule", "calendar", "time"}},
	{PurposeUIRendering, []string{"ui", "render", "display", "show"}},
	{PurposeNotificationDelivery, []string{"notify", "notification", "alert"}},
	{PurposeTaskExecution, []string{"task", "execute", "action", "run"}},
}

// NormalizePurpose derives a purpose class from a free-text purpose by
// keyword matching. Idempotent: normalizing a class name returns itself.
func NormalizePurpose(purpose string) string {
	lower := strings.ToLower(purpose)
	for _, entry := range purposeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.class
			}
		}
	}
	return PurposeContentGeneration
}

// PolicyMatrix maps each scope to the purpose classes allowed to read it.
var PolicyMatrix = map[model.Scope][]string{
	model.ScopePreferences:   {PurposeContentGeneration, PurposeRecommendation},
	model.ScopeConstraints:   {PurposeRecommendation, PurposeScheduling, PurposeTaskExecution},
	model.ScopeCommunication: {PurposeContentGeneration, PurposeNotificationDelivery, PurposeUIRendering},
	model.ScopeAccessibility: {PurposeUIRendering, PurposeContentGeneration, PurposeNotificationDelivery},
	model.ScopeSchedule:      {PurposeScheduling, PurposeTaskExecution},
	model.ScopeAttention:     {PurposeNotificationDelivery, PurposeUIRendering},
}

// CheckPolicy reports whether the purpose class may read the scope.
func CheckPolicy(scope model.Scope, purposeClass string) bool {
	for _, allowed := range PolicyMatrix[scope] {
		if allowed == purposeClass {
			return true
		}
	}
	return false
}

// AllowedSources are the only accepted values for a v1 write's source field.
var AllowedSources = []string{"explicit_user_input", "user_setting"}

// ValidSource reports whether the source is accepted for writes.
func ValidSource(source string) bool {
	for _, s := range AllowedSources {
		if s == source {
			return true
		}
	}
	return false
}

// TTL bounds for v1 memories, in days.
const (
	MinTTLDays = 1
	MaxTTLDays = 365
)

// ValidTTLDays reports whether ttl_days is within bounds.
func ValidTTLDays(days int) bool {
	return days >= MinTTLDays && days <= MaxTTLDays
}
