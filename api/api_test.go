package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"warden/config"
	"warden/core"
	"warden/monitor"
	"warden/policy"
	"warden/provenance"
	"warden/quarantine"
	"warden/storage"
	"warden/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	api     *API
	monitor *monitor.Service
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()

	events := storage.NewMemoryEventStore(10000, logger)
	registry := policy.NewRegistry(logger)
	for _, p := range policy.Defaults() {
		require.NoError(t, registry.Apply(p))
	}
	engine := policy.NewEngine(registry, events, logger)
	bus := stream.NewBus(logger)
	t.Cleanup(bus.Close)

	manager := quarantine.NewManager(storage.NewMemoryQuarantineStore(), bus, logger)
	svc := monitor.NewService(events, registry, engine, manager, bus, logger)
	t.Cleanup(svc.Stop)

	keys, err := provenance.NewKeyPair()
	require.NoError(t, err)
	provStore, err := storage.NewMemoryProvenanceStore(128)
	require.NoError(t, err)
	prov := provenance.NewService(keys, provStore, events, logger)

	cfg := &config.Config{}
	cfg.API.RateLimit.RequestsPerSecond = 1000
	cfg.API.RateLimit.Burst = 1000
	if mutate != nil {
		mutate(cfg)
	}

	return &testEnv{
		api:     NewAPI(svc, manager, prov, bus, cfg, logger),
		monitor: svc,
	}
}

func (env *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.api.Handler().ServeHTTP(rec, req)
	return rec
}

func testEvent(sandboxID string) *core.SecurityEvent {
	event := core.NewSecurityEvent()
	event.Type = core.EventNetworkActivity
	event.Severity = core.SeverityLow
	event.SandboxID = sandboxID
	event.Message = "outbound connection"
	return event
}

func TestCaptureAndListEvents(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodPost, "/api/v1/events", testEvent("sb-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var outcome core.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, core.ActionAllow, outcome.Action)
	assert.Empty(t, outcome.MatchedRules)

	rec = env.request(t, http.MethodGet, "/api/v1/events?sandbox_id=sb-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []core.SecurityEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 1)

	rec = env.request(t, http.MethodGet, "/api/v1/events?sandbox_id=sb-other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Empty(t, events)
}

func TestCaptureEventRejectsInvalid(t *testing.T) {
	env := newTestEnv(t, nil)

	event := testEvent("")
	rec := env.request(t, http.MethodPost, "/api/v1/events", event)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []core.SecurityEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Empty(t, events)
}

func TestCaptureEventQuarantines(t *testing.T) {
	env := newTestEnv(t, nil)

	event := testEvent("sb-q")
	event.Type = core.EventFileAccess
	event.Severity = core.SeverityCritical
	event.Message = "read /etc/shadow"
	rec := env.request(t, http.MethodPost, "/api/v1/events", event)
	require.Equal(t, http.StatusCreated, rec.Code)

	var outcome core.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, core.ActionQuarantine, outcome.Action)

	rec = env.request(t, http.MethodGet, "/api/v1/sandboxes/sb-q/quarantined", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status["quarantined"])
}

func TestQuarantineReleaseLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	event := testEvent("sb-r")
	event.Severity = core.SeverityCritical
	rec := env.request(t, http.MethodPost, "/api/v1/events", event)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/quarantines", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []core.QuarantineRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)

	rec = env.request(t, http.MethodPost, "/api/v1/quarantines/"+records[0].ID+"/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var released core.QuarantineRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &released))
	assert.NotNil(t, released.EndTime)

	// Releasing twice conflicts.
	rec = env.request(t, http.MethodPost, "/api/v1/quarantines/"+records[0].ID+"/release", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/quarantines/nope/release", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPolicyEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodGet, "/api/v1/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var policies []core.SecurityPolicy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policies))
	baseline := len(policies)

	custom := core.SecurityPolicy{
		ID:      "policy_net",
		Name:    "Deny curl pipes",
		Enabled: true,
		Tier:    core.TierBasic,
		Rules: []core.SecurityRule{{
			ID:        "rule_curl_pipe",
			Name:      "Deny curl piped to shell",
			Condition: core.RuleCondition{Type: core.EventProcessSpawn, Pattern: `curl[^|]*\|`},
			Action:    core.ActionDeny,
		}},
	}
	rec = env.request(t, http.MethodPost, "/api/v1/policies", custom)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/policies/policy_net", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/policies", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policies))
	assert.Len(t, policies, baseline+1)

	rec = env.request(t, http.MethodDelete, "/api/v1/policies/policy_net", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/policies/policy_net", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPolicyValidationRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	bad := core.SecurityPolicy{ID: "policy_bad", Name: "no rules", Enabled: true, Tier: core.TierBasic}
	rec := env.request(t, http.MethodPost, "/api/v1/policies", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProvenanceEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodPost, "/api/v1/events", testEvent("sb-p"))
	require.Equal(t, http.StatusCreated, rec.Code)

	result := core.SandboxResult{
		SandboxID:  "sb-p",
		Provider:   "e2b",
		Stdout:     "hello",
		ExitCode:   0,
		DurationMS: 1200,
	}
	rec = env.request(t, http.MethodPost, "/api/v1/provenance", result)
	require.Equal(t, http.StatusCreated, rec.Code)
	var record core.SignedProvenance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.NotEmpty(t, record.Signature)
	assert.Len(t, record.SecurityEvents, 1)

	rec = env.request(t, http.MethodGet, "/api/v1/provenance/sb-p", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/provenance/sb-p/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verdict map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verdict))
	assert.True(t, verdict["valid"])

	rec = env.request(t, http.MethodGet, "/api/v1/provenance/sb-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/provenance/sb-p/anchor", anchorRequest{ChainID: "unknown"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAggregateAndStats(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 4; i++ {
		event := testEvent(fmt.Sprintf("sb-%d", i))
		rec := env.request(t, http.MethodPost, "/api/v1/events", event)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.request(t, http.MethodGet, "/api/v1/aggregate?window=600000", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/aggregate?window=-5", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/correlations", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats monitor.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(4), stats.TotalEvents)
}

func TestHealthAndUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/v1/nonsense", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthMiddleware(t *testing.T) {
	hashed, err := bcrypt.GenerateFromPassword([]byte("operator-pass-1"), bcrypt.MinCost)
	require.NoError(t, err)

	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
		cfg.Auth.TokenTTL = time.Hour
		cfg.Auth.AdminUser = "operator"
		cfg.Auth.HashedPassword = string(hashed)
	})

	// Protected without a token.
	rec := env.request(t, http.MethodGet, "/api/v1/events", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Exempt paths stay open.
	rec = env.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "operator", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "operator", Password: "operator-pass-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var login map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login["token"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.Header.Set("Authorization", "Bearer "+login["token"])
	recorder := httptest.NewRecorder()
	env.api.Handler().ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)

	req.Header.Set("Authorization", "Bearer not-a-token")
	recorder = httptest.NewRecorder()
	env.api.Handler().ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.API.RateLimit.RequestsPerSecond = 1
		cfg.API.RateLimit.Burst = 2
	})

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		rec := env.request(t, http.MethodGet, "/health", nil)
		codes[rec.Code]++
	}
	assert.Positive(t, codes[http.StatusTooManyRequests])
}
