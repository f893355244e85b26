package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"marketplace-finance-service/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": GetActor(c), "request_id": c.GetString("request_id")})
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func get(r http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuth(t *testing.T) {
	r := newRouter(AdminAuth("s3cret"))

	assert.Equal(t, http.StatusUnauthorized, get(r, "/ping", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/ping", map[string]string{"Authorization": "Bearer nope"}).Code)

	w := get(r, "/ping", map[string]string{"Authorization": "Bearer s3cret", "X-User-ID": "ops-1"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"actor":"ops-1"`)

	disabled := newRouter(AdminAuth(""))
	assert.Equal(t, http.StatusForbidden, get(disabled, "/ping", map[string]string{"Authorization": "Bearer "}).Code)
}

func TestRequestID(t *testing.T) {
	r := newRouter(RequestID())

	w := get(r, "/ping", map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), "req-123")

	generated := get(r, "/ping", nil).Header().Get("X-Request-ID")
	assert.Len(t, generated, 36)
}

func TestRecovery(t *testing.T) {
	r := newRouter(Recovery(testutil.NewTestLogger()), Logger(testutil.NewTestLogger()), Metrics())

	w := get(r, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	r := newRouter(RateLimit(limiter))

	assert.Equal(t, http.StatusOK, get(r, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/ping", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/ping", nil).Code)

	assert.True(t, limiter.Allow("10.0.0.9"))
}

func TestSetupCORS(t *testing.T) {
	r := newRouter(SetupCORS([]string{"https://admin.example.com"}))

	w := get(r, "/ping", map[string]string{"Origin": "https://admin.example.com"})
	assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	blocked := get(r, "/ping", map[string]string{"Origin": "https://evil.example.com"})
	assert.Equal(t, http.StatusForbidden, blocked.Code)
}
