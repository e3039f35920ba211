package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/tokenquota/internal/config"
	"github.com/router-for-me/tokenquota/internal/quota"
	"github.com/router-for-me/tokenquota/internal/security"
	"github.com/router-for-me/tokenquota/internal/usage"
)

type testServer struct {
	engine *gin.Engine
	store  *quota.GormStore
}

func newTestServer(t *testing.T, auth config.AuthConfig) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	increase := int64(5)
	cfg := config.QuotaHandlersConfig{
		SQLite: &config.SQLiteConfig{DBPath: filepath.Join(t.TempDir(), "quota.db")},
		Limiters: []config.LimiterConfig{
			{Name: "user_daily", Type: config.UserLimiterType, InitialQuota: 100, QuotaIncrease: &increase, Period: "1 day"},
			{Name: "cluster_daily", Type: config.ClusterLimiterType, InitialQuota: 1000, Period: "1 day"},
		},
	}
	var store *quota.GormStore
	limiters, errLimiters := quota.NewLimiters(cfg, func(storage config.StorageConfig) (quota.Store, error) {
		opened, errOpen := quota.OpenGormStore(storage)
		if errOpen != nil {
			return nil, errOpen
		}
		store = opened.(*quota.GormStore)
		return opened, nil
	})
	if errLimiters != nil {
		t.Fatalf("new limiters: %v", errLimiters)
	}
	t.Cleanup(func() { _ = store.Close() })

	history, errHistory := usage.NewTokenUsageHistory(store.DB())
	if errHistory != nil {
		t.Fatalf("new history: %v", errHistory)
	}
	if auth.UserIDHeader == "" {
		auth.UserIDHeader = "X-User-ID"
	}
	engine := NewRouter(RouterDeps{
		Auth:     auth,
		Limiters: limiters,
		Store:    store,
		History:  history,
		DB:       store.DB(),
	})
	return testServer{engine: engine, store: store}
}

func (s testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	responseRecorder := httptest.NewRecorder()
	s.engine.ServeHTTP(responseRecorder, req)
	return responseRecorder
}

type quotasResponse struct {
	UserID    string           `json:"user_id"`
	Available map[string]int64 `json:"available"`
}

func decodeQuotas(t *testing.T, responseRecorder *httptest.ResponseRecorder) quotasResponse {
	t.Helper()
	var out quotasResponse
	if errDecode := json.Unmarshal(responseRecorder.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode response: %v (%s)", errDecode, responseRecorder.Body.String())
	}
	return out
}

func TestRouterRequiresSubjectHeader(t *testing.T) {
	server := newTestServer(t, config.AuthConfig{})

	responseRecorder := server.do(t, http.MethodGet, "/v1/quotas", "", nil)

	if responseRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", responseRecorder.Code)
	}
}

func TestRouterConsumeAndReadQuotas(t *testing.T) {
	server := newTestServer(t, config.AuthConfig{})
	alice := map[string]string{"X-User-ID": "alice"}

	responseRecorder := server.do(t, http.MethodGet, "/v1/quotas", "", alice)
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", responseRecorder.Code)
	}
	quotas := decodeQuotas(t, responseRecorder)
	if quotas.UserID != "alice" || quotas.Available["user_daily"] != 100 || quotas.Available["cluster_daily"] != 1000 {
		t.Fatalf("unexpected initial quotas: %+v", quotas)
	}

	responseRecorder = server.do(t, http.MethodPost, "/v1/usage",
		`{"input_tokens":30,"output_tokens":20,"provider":"openai","model":"gpt-4o"}`, alice)
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", responseRecorder.Code, responseRecorder.Body.String())
	}
	quotas = decodeQuotas(t, responseRecorder)
	if quotas.Available["user_daily"] != 50 || quotas.Available["cluster_daily"] != 950 {
		t.Fatalf("unexpected quotas after consumption: %+v", quotas)
	}

	responseRecorder = server.do(t, http.MethodGet, "/v1/quotas", "", map[string]string{"X-User-ID": "bob"})
	quotas = decodeQuotas(t, responseRecorder)
	if quotas.Available["user_daily"] != 100 || quotas.Available["cluster_daily"] != 950 {
		t.Fatalf("expected bob to share only the cluster quota, got %+v", quotas)
	}

	responseRecorder = server.do(t, http.MethodGet, "/v1/usage", "", alice)
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", responseRecorder.Code)
	}
	if !strings.Contains(responseRecorder.Body.String(), `"input_tokens":30`) {
		t.Fatalf("expected recorded history, got %s", responseRecorder.Body.String())
	}
}

func TestRouterRejectsNegativeUsage(t *testing.T) {
	server := newTestServer(t, config.AuthConfig{})

	responseRecorder := server.do(t, http.MethodPost, "/v1/usage", `{"input_tokens":-1}`, map[string]string{"X-User-ID": "alice"})

	if responseRecorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", responseRecorder.Code)
	}
}

func TestRouterQuotaCheckRejectsExhaustedUser(t *testing.T) {
	server := newTestServer(t, config.AuthConfig{})
	alice := map[string]string{"X-User-ID": "alice"}

	if responseRecorder := server.do(t, http.MethodGet, "/v1/quotas/check", "", alice); responseRecorder.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", responseRecorder.Code)
	}
	if responseRecorder := server.do(t, http.MethodPost, "/v1/usage", `{"input_tokens":100}`, alice); responseRecorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", responseRecorder.Code)
	}
	responseRecorder := server.do(t, http.MethodGet, "/v1/quotas/check", "", alice)
	if responseRecorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", responseRecorder.Code)
	}
	if !strings.Contains(responseRecorder.Body.String(), "user alice has no available tokens") {
		t.Fatalf("unexpected rejection body: %s", responseRecorder.Body.String())
	}
}

func TestRouterResolvesSubjectFromJWT(t *testing.T) {
	server := newTestServer(t, config.AuthConfig{JWTSecret: "secret"})
	token, errToken := security.GenerateSubjectToken("secret", "carol", time.Hour)
	if errToken != nil {
		t.Fatalf("generate token: %v", errToken)
	}

	responseRecorder := server.do(t, http.MethodGet, "/v1/quotas", "", map[string]string{"Authorization": "Bearer " + token})
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", responseRecorder.Code)
	}
	if quotas := decodeQuotas(t, responseRecorder); quotas.UserID != "carol" {
		t.Fatalf("expected carol, got %q", quotas.UserID)
	}

	responseRecorder = server.do(t, http.MethodGet, "/v1/quotas", "", map[string]string{"X-User-ID": "carol"})
	if responseRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected header fallback to be ignored with a secret, got %d", responseRecorder.Code)
	}
}

func TestRouterAdminListRequiresAdminToken(t *testing.T) {
	server := newTestServer(t, config.AuthConfig{JWTSecret: "secret"})
	subjectToken, errToken := security.GenerateSubjectToken("secret", "alice", time.Hour)
	if errToken != nil {
		t.Fatalf("generate token: %v", errToken)
	}
	if responseRecorder := server.do(t, http.MethodGet, "/v1/quotas", "", map[string]string{"Authorization": "Bearer " + subjectToken}); responseRecorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", responseRecorder.Code)
	}

	if responseRecorder := server.do(t, http.MethodGet, "/v0/admin/quotas", "", map[string]string{"Authorization": "Bearer " + subjectToken}); responseRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for subject token, got %d", responseRecorder.Code)
	}

	adminToken, errAdmin := security.GenerateAdminToken("secret", "ops", time.Hour)
	if errAdmin != nil {
		t.Fatalf("generate admin token: %v", errAdmin)
	}
	responseRecorder := server.do(t, http.MethodGet, "/v0/admin/quotas", "", map[string]string{"Authorization": "Bearer " + adminToken})
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", responseRecorder.Code)
	}
	var out struct {
		Quotas []struct {
			ID        string `json:"id"`
			Subject   string `json:"subject"`
			Available int64  `json:"available"`
		} `json:"quotas"`
	}
	if errDecode := json.Unmarshal(responseRecorder.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if len(out.Quotas) != 2 {
		t.Fatalf("expected user and cluster rows, got %+v", out.Quotas)
	}
	if out.Quotas[0].Subject != "c" || out.Quotas[1].ID != "alice" || out.Quotas[1].Available != 100 {
		t.Fatalf("unexpected rows: %+v", out.Quotas)
	}
}

func TestRouterHealthAndMetrics(t *testing.T) {
	server := newTestServer(t, config.AuthConfig{})

	if responseRecorder := server.do(t, http.MethodGet, "/healthz", "", nil); responseRecorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", responseRecorder.Code)
	}
	server.do(t, http.MethodPost, "/v1/usage", `{"input_tokens":1}`, map[string]string{"X-User-ID": "alice"})

	responseRecorder := server.do(t, http.MethodGet, "/metrics", "", nil)
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", responseRecorder.Code)
	}
	if !strings.Contains(responseRecorder.Body.String(), "quota_consumed_tokens_total") {
		t.Fatal("expected quota metrics to be exported")
	}
}
