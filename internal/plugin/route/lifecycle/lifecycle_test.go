package lifecycle_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/memoryscope/memoryscope/internal/config"
	memory "github.com/memoryscope/memoryscope/internal/lifecycle"
	"github.com/memoryscope/memoryscope/internal/model"
	routelifecycle "github.com/memoryscope/memoryscope/internal/plugin/route/lifecycle"
	"github.com/memoryscope/memoryscope/internal/plugin/store/gormstore"
	"github.com/memoryscope/memoryscope/internal/plugin/store/sqlite"
	"github.com/memoryscope/memoryscope/internal/security"
)

const testAPIKey = "test-key"

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	r, _ := testRouterDB(t)
	return r
}

func testRouterDB(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	store := gormstore.New(db)

	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeTesting
	cfg.TestingAPIKey = testAPIKey

	policy := memory.NewEngine(memory.DefaultDocument())
	retrieval := memory.NewRetrievalEngine(store, policy)

	r := gin.New()
	r.Use(security.RequestIDMiddleware())
	routelifecycle.MountRoutes(r, routelifecycle.Deps{
		Store:          store,
		Policy:         policy,
		Retrieval:      retrieval,
		Reconstruction: memory.NewReconstructionEngine(retrieval),
		Extractor:      memory.NewExtractor(nil),
	}, security.AuthMiddleware(&cfg, store))
	return r, db
}

func post(t *testing.T, r *gin.Engine, path string, body map[string]interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.APIKeyHeader, testAPIKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func userScope(id string) map[string]interface{} {
	return map[string]interface{}{"scope_type": "user", "scope_id": id}
}

// ingestTraumaEvent writes a high-sensitivity trauma event and returns the
// event id and the derived impact id.
func ingestTraumaEvent(t *testing.T, r *gin.Engine) (string, string) {
	t.Helper()
	w, body := post(t, r, "/v2/memories", map[string]interface{}{
		"tenant_id":  "alice",
		"scope":      userScope("alice"),
		"type":       "event",
		"truth_mode": "subjective_experience",
		"content":    map[string]interface{}{"format": "text", "text": "the accident last winter"},
		"sensitivity": map[string]interface{}{
			"level":      "high",
			"categories": []string{"trauma"},
			"handling":   "normal",
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return body["id"].(string), body["derived_impact_id"].(string)
}

// ingestToneImpact writes a low-sensitivity impact carrying a tone constraint.
func ingestToneImpact(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w, body := post(t, r, "/v2/memories", map[string]interface{}{
		"tenant_id":  "alice",
		"scope":      userScope("alice"),
		"type":       "impact",
		"truth_mode": "procedural",
		"content":    map[string]interface{}{"format": "text", "text": "prefers a reassuring tone"},
		"impact_payload": map[string]interface{}{
			"constraints": []map[string]interface{}{{
				"constraint_id": "con_test0000000001",
				"kind":          "tone",
				"target":        "response",
				"rule":          "user_stated_preference",
				"params":        map[string]interface{}{"tone_profile": "reassuring"},
				"weight":        0.7,
				"priority":      5,
				"confidence":    0.8,
				"merge":         map[string]interface{}{"slot": "tone", "strategy": "latest_wins"},
			}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "active", body["state"])
	return body["id"].(string)
}

func TestIngest_SealsSensitiveEventAndDerivesImpact(t *testing.T) {
	r := testRouter(t)
	w, body := post(t, r, "/v2/memories", map[string]interface{}{
		"tenant_id":  "alice",
		"scope":      userScope("alice"),
		"type":       "event",
		"truth_mode": "subjective_experience",
		"content":    map[string]interface{}{"format": "text", "text": "the accident last winter"},
		"sensitivity": map[string]interface{}{
			"level":      "high",
			"categories": []string{"trauma"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "sealed", body["state"])
	require.NotEmpty(t, body["derived_impact_id"], "sealing must not suppress impact derivation")

	trace := body["policy_trace"].(map[string]interface{})
	require.Contains(t, trace["matched_rules"], "seal_sensitive_events")
}

func TestIngest_ValidatesPayloads(t *testing.T) {
	r := testRouter(t)

	w, _ := post(t, r, "/v2/memories", map[string]interface{}{
		"tenant_id":  "alice",
		"scope":      userScope("alice"),
		"type":       "impact",
		"truth_mode": "procedural",
		"content":    map[string]interface{}{"format": "text", "text": "x"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code, "impact without impact_payload")

	w, _ = post(t, r, "/v2/memories", map[string]interface{}{
		"tenant_id":  "alice",
		"scope":      userScope("alice"),
		"type":       "hunch",
		"truth_mode": "procedural",
		"content":    map[string]interface{}{"format": "text", "text": "x"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code, "unknown type")

	w, _ = post(t, r, "/v2/memories", map[string]interface{}{
		"tenant_id":  "alice",
		"type":       "event",
		"truth_mode": "subjective_experience",
		"content":    map[string]interface{}{"format": "text", "text": "x"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code, "missing scope")
}

func TestIngest_AuditFailureRollsBack(t *testing.T) {
	r, db := testRouterDB(t)

	// With the access-log table gone the audit insert fails, so the ingest
	// must report an error and leave no memory behind.
	require.NoError(t, db.Migrator().DropTable(&model.AccessRecord{}))

	w, _ := post(t, r, "/v2/memories", map[string]interface{}{
		"tenant_id":  "alice",
		"scope":      userScope("alice"),
		"type":       "event",
		"truth_mode": "subjective_experience",
		"content":    map[string]interface{}{"format": "text", "text": "a quiet afternoon"},
	})
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())

	w, query := post(t, r, "/v2/memories/query", map[string]interface{}{
		"tenant_id": "alice",
		"scope":     userScope("alice"),
		"purpose":   "chat_response",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, query["memory_ids"], "nothing committed without its audit row")
	require.Empty(t, query["denied_ids"])
}

func TestIngest_RejectsMalformedTenantID(t *testing.T) {
	r := testRouter(t)
	w, body := post(t, r, "/v2/memories", map[string]interface{}{
		"tenant_id":  "alice; DROP TABLE memories_v2",
		"scope":      userScope("alice"),
		"type":       "event",
		"truth_mode": "subjective_experience",
		"content":    map[string]interface{}{"format": "text", "text": "x"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	env := body["error"].(map[string]interface{})
	require.Equal(t, "VALIDATION_ERROR", env["code"])
}

func TestQuery_RejectsSuspiciousQueryText(t *testing.T) {
	r := testRouter(t)
	ingestToneImpact(t, r)

	w, body := post(t, r, "/v2/memories/query", map[string]interface{}{
		"tenant_id":  "alice",
		"scope":      userScope("alice"),
		"purpose":    "chat_response",
		"query_text": "' OR 1=1 --",
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	env := body["error"].(map[string]interface{})
	require.Equal(t, "VALIDATION_ERROR", env["code"])
}

func TestQuery_SealedDeniedImpactsSurfaced(t *testing.T) {
	r := testRouter(t)
	eventID, derivedID := ingestTraumaEvent(t, r)
	impactID := ingestToneImpact(t, r)

	w, body := post(t, r, "/v2/memories/query", map[string]interface{}{
		"tenant_id": "alice",
		"scope":     userScope("alice"),
		"purpose":   "chat_response",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Contains(t, body["memory_ids"], impactID)
	require.Contains(t, body["denied_ids"], eventID, "sealed events are denied, not dropped")
	require.Contains(t, body["denied_ids"], derivedID, "a high-sensitivity impact never reaches chat")
	require.NotContains(t, body["memory_ids"], eventID)

	impacts := body["impacts"].([]interface{})
	require.Len(t, impacts, 1)
	constraint := impacts[0].(map[string]interface{})
	require.Equal(t, "tone", constraint["kind"])

	require.NotEmpty(t, body["access_log_id"])
}

func TestReconstruct_NeverIncludesSealedNarrative(t *testing.T) {
	r := testRouter(t)
	ingestTraumaEvent(t, r)
	ingestToneImpact(t, r)

	w, body := post(t, r, "/v2/reconstruct", map[string]interface{}{
		"tenant_id": "alice",
		"scope":     userScope("alice"),
		"purpose":   "chat_response",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	context := body["reconstructed_context"].(string)
	require.Contains(t, context, "Tone: reassuring")
	require.NotContains(t, context, "accident", "event narrative must never be reconstructed")
	require.GreaterOrEqual(t, body["confidence"].(float64), 0.5)
	require.NotEmpty(t, body["access_log_id"])
}

func TestSealAndRecall(t *testing.T) {
	r := testRouter(t)
	impactID := ingestToneImpact(t, r)

	// Recall for chat succeeds while the impact is readable.
	w, body := post(t, r, fmt.Sprintf("/v2/memories/%s/recall", impactID), map[string]interface{}{
		"tenant_id": "alice",
		"purpose":   "chat_response",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEmpty(t, body["access_log_id"])
	recalled := body["memory"].(map[string]interface{})
	require.Equal(t, impactID, recalled["id"])

	w, body = post(t, r, fmt.Sprintf("/v2/memories/%s/seal", impactID), map[string]interface{}{
		"tenant_id": "alice",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "sealed", body["state"])
}

func TestRecall_DefaultDenyPurpose(t *testing.T) {
	r := testRouter(t)
	impactID := ingestToneImpact(t, r)

	// No rule speaks for reflection, and read defaults to deny.
	w, body := post(t, r, fmt.Sprintf("/v2/memories/%s/recall", impactID), map[string]interface{}{
		"tenant_id": "alice",
	})
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	env := body["error"].(map[string]interface{})
	require.Equal(t, "AUTHORIZATION_ERROR", env["code"])
	details := env["details"].(map[string]interface{})
	require.NotEmpty(t, details["policy_trace"])
}

func TestRevoke_PropagatesToDerivedImpacts(t *testing.T) {
	r := testRouter(t)
	eventID, derivedID := ingestTraumaEvent(t, r)

	w, body := post(t, r, fmt.Sprintf("/v2/memories/%s/revoke", eventID), map[string]interface{}{
		"tenant_id": "alice",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "revoked", body["state"])
	require.Equal(t, []interface{}{derivedID}, body["propagated_to"])

	// Neither row is retrievable afterwards.
	w, query := post(t, r, "/v2/memories/query", map[string]interface{}{
		"tenant_id": "alice",
		"scope":     userScope("alice"),
		"purpose":   "chat_response",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, query["memory_ids"], eventID)
	require.NotContains(t, query["memory_ids"], derivedID)
	require.NotContains(t, query["denied_ids"], eventID)
}

func TestReinforce(t *testing.T) {
	r := testRouter(t)
	impactID := ingestToneImpact(t, r)

	w, body := post(t, r, fmt.Sprintf("/v2/memories/%s/reinforce", impactID), map[string]interface{}{
		"tenant_id": "alice",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.InDelta(t, 0.85, body["strength_current"].(float64), 1e-9)
	require.NotEmpty(t, body["last_reinforced_at"])

	w, _ = post(t, r, fmt.Sprintf("/v2/memories/%s/reinforce", impactID), map[string]interface{}{
		"tenant_id": "alice",
		"delta":     1.5,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisputeAndAttest(t *testing.T) {
	r := testRouter(t)
	impactID := ingestToneImpact(t, r)

	w, body := post(t, r, fmt.Sprintf("/v2/memories/%s/dispute", impactID), map[string]interface{}{
		"tenant_id": "alice",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "disputed", body["dispute_state"])

	w, body = post(t, r, fmt.Sprintf("/v2/memories/%s/attest", impactID), map[string]interface{}{
		"tenant_id": "alice",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "undisputed", body["dispute_state"])
}

func TestDisputedFactExcludedFromChat(t *testing.T) {
	r := testRouter(t)
	w, body := post(t, r, "/v2/memories", map[string]interface{}{
		"tenant_id":  "alice",
		"scope":      userScope("alice"),
		"type":       "event",
		"truth_mode": "factual_claim",
		"content":    map[string]interface{}{"format": "text", "text": "moved to Lisbon in May"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	id := body["id"].(string)

	w, _ = post(t, r, fmt.Sprintf("/v2/memories/%s/dispute", id), map[string]interface{}{"tenant_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)

	w, query := post(t, r, "/v2/memories/query", map[string]interface{}{
		"tenant_id": "alice",
		"scope":     userScope("alice"),
		"purpose":   "chat_response",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, query["denied_ids"], id)
}

func TestExplain_ByAccessLog(t *testing.T) {
	r := testRouter(t)
	eventID, _ := ingestTraumaEvent(t, r)
	impactID := ingestToneImpact(t, r)

	_, query := post(t, r, "/v2/memories/query", map[string]interface{}{
		"tenant_id": "alice",
		"scope":     userScope("alice"),
		"purpose":   "chat_response",
	})
	logID := query["access_log_id"].(string)

	w, body := post(t, r, "/v2/explain", map[string]interface{}{
		"tenant_id":     "alice",
		"access_log_id": logID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	explanation := body["explanation"].(map[string]interface{})
	require.Equal(t, logID, explanation["log_id"])
	require.Equal(t, "query", explanation["op"])
	require.Contains(t, body["memory_ids_used"], impactID)

	constraints := body["constraints_applied"].([]interface{})
	require.NotEmpty(t, constraints)
	require.Equal(t, "tone", constraints[0].(map[string]interface{})["kind"])

	denials := body["denials"].([]interface{})
	var deniedIDs []string
	for _, d := range denials {
		deniedIDs = append(deniedIDs, d.(map[string]interface{})["memory_id"].(string))
	}
	require.Contains(t, deniedIDs, eventID)
}

func TestExplain_UnknownAccessLog(t *testing.T) {
	r := testRouter(t)
	w, _ := post(t, r, "/v2/explain", map[string]interface{}{
		"tenant_id":     "alice",
		"access_log_id": "log_0000000000000000",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplay(t *testing.T) {
	r := testRouter(t)
	impactID := ingestToneImpact(t, r)

	_, query := post(t, r, "/v2/memories/query", map[string]interface{}{
		"tenant_id": "alice",
		"scope":     userScope("alice"),
		"purpose":   "chat_response",
	})
	logID := query["access_log_id"].(string)

	w, body := post(t, r, "/v2/replay", map[string]interface{}{
		"tenant_id":     "alice",
		"access_log_id": logID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	original := body["original"].(map[string]interface{})
	require.Equal(t, logID, original["log_id"])
	require.Equal(t, "chat_response", original["purpose"])
	require.EqualValues(t, 1, original["returned_count"])

	replayed := body["replay"].(map[string]interface{})
	require.Contains(t, replayed["memory_ids"], impactID)

	// Overriding the purpose re-evaluates under the current rules.
	w, body = post(t, r, "/v2/replay", map[string]interface{}{
		"tenant_id":     "alice",
		"access_log_id": logID,
		"overrides":     map[string]interface{}{"purpose": "task_execution"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	replayed = body["replay"].(map[string]interface{})
	require.Equal(t, "task_execution", replayed["purpose"])
}

func TestSpiralArtifact_BlocksReinforcement(t *testing.T) {
	r := testRouter(t)
	impactID := ingestToneImpact(t, r)

	w, body := post(t, r, "/v2/spiral/artifacts", map[string]interface{}{
		"tenant_id":    "alice",
		"scope":        userScope("alice"),
		"pattern_type": "catastrophic_projection",
		"confidence":   0.9,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	artifactID := body["artifact_id"].(string)
	require.NotEmpty(t, body["expires_at"])

	w, body = post(t, r, fmt.Sprintf("/v2/memories/%s/reinforce", impactID), map[string]interface{}{
		"tenant_id": "alice",
	})
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	env := body["error"].(map[string]interface{})
	details := env["details"].(map[string]interface{})
	require.Equal(t, artifactID, details["artifact_id"])
}

func TestSpiralArtifact_RejectsUnknownPattern(t *testing.T) {
	r := testRouter(t)
	w, _ := post(t, r, "/v2/spiral/artifacts", map[string]interface{}{
		"tenant_id":    "alice",
		"scope":        userScope("alice"),
		"pattern_type": "doom_scrolling",
		"confidence":   0.9,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAccessLogs(t *testing.T) {
	r := testRouter(t)
	ingestToneImpact(t, r)
	post(t, r, "/v2/memories/query", map[string]interface{}{
		"tenant_id": "alice",
		"scope":     userScope("alice"),
		"purpose":   "chat_response",
	})

	req := httptest.NewRequest(http.MethodGet, "/v2/access-logs?tenant_id=alice&op=query", nil)
	req.Header.Set(security.APIKeyHeader, testAPIKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]interface{})
	require.Equal(t, "alice", entry["tenant_id"])
	require.Equal(t, "query", entry["query"].(map[string]interface{})["op"])
}

func TestListAccessLogs_Limit(t *testing.T) {
	r := testRouter(t)
	ingestToneImpact(t, r)
	for i := 0; i < 3; i++ {
		post(t, r, "/v2/memories/query", map[string]interface{}{
			"tenant_id": "alice",
			"scope":     userScope("alice"),
			"purpose":   "chat_response",
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/v2/access-logs?tenant_id=alice&op=query&limit=1", nil)
	req.Header.Set(security.APIKeyHeader, testAPIKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body["entries"], 1)

	req = httptest.NewRequest(http.MethodGet, "/v2/access-logs?tenant_id=alice&limit=zero", nil)
	req.Header.Set(security.APIKeyHeader, testAPIKey)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
