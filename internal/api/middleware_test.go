package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"site-forms/internal/security"
)

func TestClientIDExtractionOrder(t *testing.T) {
	cases := []struct {
		name       string
		forwarded  string
		clientIP   string
		remoteAddr string
		want       string
	}{
		{"forwarded first entry", " 203.0.113.1 , 10.0.0.1", "198.51.100.9", "192.0.2.1:1234", "203.0.113.1"},
		{"client-ip header", "", " 198.51.100.9 ", "192.0.2.1:1234", "198.51.100.9"},
		{"empty forwarded entry", " , 10.0.0.1", "198.51.100.9", "192.0.2.1:1234", "198.51.100.9"},
		{"remote address", "", "", "192.0.2.1:1234", "192.0.2.1"},
		{"remote address without port", "", "", "192.0.2.1", "192.0.2.1"},
		{"unknown", "", "", "", "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.clientIP != "" {
				req.Header.Set("Client-IP", tc.clientIP)
			}
			assert.Equal(t, tc.want, ClientID(req))
		})
	}
}

func newLimitedEngine(limiter RateLimiter, max int, handler gin.HandlerFunc) *gin.Engine {
	engine := gin.New()
	engine.POST("/submit", RateLimit(limiter, "submit", max), handler)
	return engine
}

func TestRateLimitQuotaHeadersOverrideHandler(t *testing.T) {
	limiter := security.NewFixedWindowLimiter(time.Hour, nil)
	engine := newLimitedEngine(limiter, 5, func(c *gin.Context) {
		c.Header(security.HeaderLimit, "9999")
		c.Header("X-Handler", "yes")
		c.String(http.StatusCreated, "ok")
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Handler"))
	assert.Equal(t, "5", rec.Header().Get(security.HeaderLimit))
	assert.Equal(t, "4", rec.Header().Get(security.HeaderRemaining))
}

func TestRateLimitHeadersWhenHandlerWritesNothing(t *testing.T) {
	limiter := security.NewFixedWindowLimiter(time.Hour, nil)
	engine := newLimitedEngine(limiter, 5, func(c *gin.Context) {})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get(security.HeaderRemaining))
}

func TestRateLimitRejectsWithoutCallingHandler(t *testing.T) {
	limiter := security.NewFixedWindowLimiter(time.Hour, nil)
	calls := 0
	engine := newLimitedEngine(limiter, 1, func(c *gin.Context) {
		calls++
		c.Status(http.StatusNoContent)
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.Header.Set("Client-IP", "198.51.100.20")
		engine.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 1, calls)

	// the key is namespaced by action
	decision := limiter.CheckLimit("submit:198.51.100.20", 1)
	assert.Equal(t, 4, decision.Count)
}

func TestRateLimitSharesUnknownBucket(t *testing.T) {
	limiter := security.NewFixedWindowLimiter(time.Hour, nil)
	engine := newLimitedEngine(limiter, 1, func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.RemoteAddr = ""
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusTooManyRequests}, codes)
}
