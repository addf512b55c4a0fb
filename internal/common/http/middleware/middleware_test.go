package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"redlight/internal/common/cache"
	commonmw "redlight/internal/common/http/middleware"
	"redlight/pkg/utils/contextkey"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type traceResponse struct {
	TraceID      string `json:"trace_id"`
	RequestID    string `json:"request_id"`
	CtxTraceID   string `json:"ctx_trace_id"`
	CtxRequestID string `json:"ctx_request_id"`
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func TestTraceContextMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(commonmw.TraceContextMiddleware())
	router.GET("/trace", func(c *gin.Context) {
		traceID, _ := c.Get("trace_id")
		requestID, _ := c.Get("request_id")
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, traceResponse{
			TraceID:      toString(traceID),
			RequestID:    toString(requestID),
			CtxTraceID:   toString(ctx.Value(contextkey.TraceID)),
			CtxRequestID: toString(ctx.Value(contextkey.RequestID)),
		})
	})

	cases := []struct {
		name              string
		headers           map[string]string
		expectedTraceID   string
		expectedRequestID string
	}{
		{name: "generate trace and request id"},
		{
			name: "preserve trace and request id",
			headers: map[string]string{
				"X-Trace-Id":   "trace-123",
				"X-Request-Id": "req-123",
			},
			expectedTraceID:   "trace-123",
			expectedRequestID: "req-123",
		},
		{
			name:              "replace oversized trace id",
			headers:           map[string]string{"X-Trace-Id": strings.Repeat("x", 200), "X-Request-Id": "req-9"},
			expectedRequestID: "req-9",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			var resp traceResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if resp.TraceID == "" || resp.RequestID == "" {
				t.Fatalf("expected trace and request id, got %+v", resp)
			}
			if resp.CtxTraceID != resp.TraceID || resp.CtxRequestID != resp.RequestID {
				t.Fatalf("context ids do not match gin ids: %+v", resp)
			}
			if tc.expectedTraceID != "" && resp.TraceID != tc.expectedTraceID {
				t.Fatalf("expected trace id %s, got %s", tc.expectedTraceID, resp.TraceID)
			}
			if tc.expectedRequestID != "" && resp.RequestID != tc.expectedRequestID {
				t.Fatalf("expected request id %s, got %s", tc.expectedRequestID, resp.RequestID)
			}
			if len(resp.TraceID) > 128 {
				t.Fatalf("oversized trace id was propagated")
			}
			if rec.Header().Get("X-Trace-Id") != resp.TraceID {
				t.Fatalf("expected trace id header")
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(commonmw.CORSMiddleware(commonmw.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"http://localhost:3000"},
	}))
	router.POST("/api/v1/scores", func(c *gin.Context) { c.Status(http.StatusOK) })

	preflight := httptest.NewRequest(http.MethodOptions, "/api/v1/scores", nil)
	preflight.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, preflight)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got == "" {
		t.Fatalf("expected allow headers")
	}

	foreign := httptest.NewRequest(http.MethodOptions, "/api/v1/scores", nil)
	foreign.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, foreign)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign preflight, got %d", rec.Code)
	}

	plain := httptest.NewRequest(http.MethodPost, "/api/v1/scores", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, plain)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("request without origin should pass untouched")
	}
}

func newLimiter(t *testing.T) (*commonmw.RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return commonmw.NewRateLimiter(c, "rate", time.Second), mr
}

func TestRateLimitPerCaller(t *testing.T) {
	limiter, mr := newLimiter(t)
	router := gin.New()
	policy := commonmw.RateLimitPolicy{Window: time.Minute, CallerMax: 2}
	caller := func(c *gin.Context) string { return c.GetHeader("X-Caller") }
	router.POST("/scores", commonmw.RateLimit(limiter, "scores", policy, caller), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func(who string) int {
		req := httptest.NewRequest(http.MethodPost, "/scores", nil)
		req.Header.Set("X-Caller", who)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("p1"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("p1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", code)
	}
	if code := send("p2"); code != http.StatusOK {
		t.Fatalf("other caller should not be limited, got %d", code)
	}

	mr.FastForward(time.Minute + time.Second)
	if code := send("p1"); code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", code)
	}
}

func TestRateLimiterZeroMaxAllows(t *testing.T) {
	limiter, _ := newLimiter(t)
	for i := 0; i < 5; i++ {
		if err := limiter.Allow(t.Context(), "k", 0, time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}
