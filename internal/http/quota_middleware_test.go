package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/tokenquota/internal/http/handlers"
	"github.com/router-for-me/tokenquota/internal/quota"
)

type stubLimiter struct {
	name      string
	subject   quota.SubjectType
	available int64
	err       error
	seen      []string
}

func (s *stubLimiter) Name() string                   { return s.name }
func (s *stubLimiter) SubjectType() quota.SubjectType { return s.subject }

func (s *stubLimiter) AvailableQuota(_ context.Context, subjectID string) (int64, error) {
	s.seen = append(s.seen, subjectID)
	return s.available, s.err
}

func (s *stubLimiter) EnsureAvailableQuota(ctx context.Context, subjectID string) error {
	available, err := s.AvailableQuota(ctx, subjectID)
	if err != nil {
		return err
	}
	if available <= 0 {
		return &quota.QuotaExceededError{SubjectID: subjectID, SubjectType: s.subject, Available: available}
	}
	return nil
}

func (s *stubLimiter) ConsumeTokens(context.Context, int64, int64, string) error { return s.err }
func (s *stubLimiter) IncreaseQuota(context.Context, string) error               { return s.err }
func (s *stubLimiter) RevokeQuota(context.Context, string) error                 { return s.err }

func runRequestWithMiddleware(t *testing.T, middleware gin.HandlerFunc, subjectID string) *httptest.ResponseRecorder {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(handlers.SubjectIDKey, subjectID)
		c.Next()
	})
	router.Use(middleware)
	router.GET("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	responseRecorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	router.ServeHTTP(responseRecorder, req)

	return responseRecorder
}

func TestQuotaMiddlewarePassesWithoutLimiters(t *testing.T) {
	responseRecorder := runRequestWithMiddleware(t, QuotaMiddleware(nil), "alice")

	if responseRecorder.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", responseRecorder.Code)
	}
}

func TestQuotaMiddlewareAdmitsWithAvailableQuota(t *testing.T) {
	limiter := &stubLimiter{name: "user", subject: quota.SubjectUser, available: 10}

	responseRecorder := runRequestWithMiddleware(t, QuotaMiddleware([]quota.Limiter{limiter}), "alice")

	if responseRecorder.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", responseRecorder.Code)
	}
	if len(limiter.seen) != 1 || limiter.seen[0] != "alice" {
		t.Fatalf("expected limiter to see alice, got %v", limiter.seen)
	}
}

func TestQuotaMiddlewareMapsExhaustedQuotaToTooManyRequests(t *testing.T) {
	user := &stubLimiter{name: "user", subject: quota.SubjectUser, available: 10}
	cluster := &stubLimiter{name: "cluster", subject: quota.SubjectCluster, available: 0}

	responseRecorder := runRequestWithMiddleware(t, QuotaMiddleware([]quota.Limiter{user, cluster}), "alice")

	if responseRecorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", responseRecorder.Code)
	}
	if !strings.Contains(responseRecorder.Body.String(), "cluster has no available tokens") {
		t.Fatalf("expected cluster rejection message, got %s", responseRecorder.Body.String())
	}
}

func TestQuotaMiddlewareStopsAtFirstRejection(t *testing.T) {
	first := &stubLimiter{name: "first", subject: quota.SubjectUser, available: -1}
	second := &stubLimiter{name: "second", subject: quota.SubjectCluster, available: 10}

	responseRecorder := runRequestWithMiddleware(t, QuotaMiddleware([]quota.Limiter{first, second}), "bob")

	if responseRecorder.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", responseRecorder.Code)
	}
	if len(second.seen) != 0 {
		t.Fatalf("expected second limiter not to be consulted, got %v", second.seen)
	}
}

func TestQuotaMiddlewareMapsStoreErrorToInternalServerError(t *testing.T) {
	limiter := &stubLimiter{name: "user", subject: quota.SubjectUser, err: errors.New("connection reset")}

	responseRecorder := runRequestWithMiddleware(t, QuotaMiddleware([]quota.Limiter{limiter}), "alice")

	if responseRecorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", responseRecorder.Code)
	}
}
