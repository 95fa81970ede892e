package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memoryscope/memoryscope/internal/model"
)

func TestNormalizePurpose(t *testing.T) {
	cases := []struct {
		purpose string
		want    string
	}{
		{"generate a personalized newsletter", PurposeContentGeneration},
		{"suggest restaurants nearby", PurposeRecommendation},
		{"plan my calendar for next week", PurposeScheduling},
		{"display user settings", PurposeUIRendering},
		{"send an alert about the outage", PurposeNotificationDelivery},
		{"execute the cleanup job", PurposeTaskExecution},
		{"something unrelated entirely", PurposeContentGeneration},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizePurpose(tc.purpose), "purpose %q", tc.purpose)
	}
}

func TestNormalizePurpose_Idempotent(t *testing.T) {
	classes := []string{
		PurposeContentGeneration,
		PurposeRecommendation,
		PurposeScheduling,
		PurposeUIRendering,
		PurposeNotificationDelivery,
		PurposeTaskExecution,
	}
	for _, class := range classes {
		require.Equal(t, class, NormalizePurpose(class))
	}
}

func TestCheckPolicy(t *testing.T) {
	require.True(t, CheckPolicy(model.ScopePreferences, PurposeContentGeneration))
	require.True(t, CheckPolicy(model.ScopeSchedule, PurposeTaskExecution))
	require.True(t, CheckPolicy(model.ScopeAttention, PurposeNotificationDelivery))

	require.False(t, CheckPolicy(model.ScopePreferences, PurposeScheduling))
	require.False(t, CheckPolicy(model.ScopeSchedule, PurposeContentGeneration))
	require.False(t, CheckPolicy(model.ScopeAttention, PurposeTaskExecution))
}

func TestValidSource(t *testing.T) {
	require.True(t, ValidSource("explicit_user_input"))
	require.True(t, ValidSource("user_setting"))
	require.False(t, ValidSource("inferred"))
	require.False(t, ValidSource(""))
}

func TestValidTTLDays(t *testing.T) {
	require.False(t, ValidTTLDays(0))
	require.True(t, ValidTTLDays(1))
	require.True(t, ValidTTLDays(365))
	require.False(t, ValidTTLDays(366))
}
