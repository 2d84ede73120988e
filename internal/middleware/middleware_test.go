package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-reservation-pipeline/internal/config"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// serve runs one request through mws and a handler echoing identity.
func serve(t *testing.T, authz string, mws ...echo.MiddlewareFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/x", func(c echo.Context) error {
		return c.String(http.StatusOK, UserID(c)+"|"+Role(c))
	}, mws...)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthOptional(t *testing.T) {
	rec := serve(t, "", JWTAuth(secret, false))
	if rec.Code != http.StatusOK || rec.Body.String() != "|" {
		t.Fatalf("anonymous = %d %q", rec.Code, rec.Body.String())
	}

	tok := sign(t, jwt.MapClaims{"sub": "u-1", "role": "OWNER", "exp": time.Now().Add(time.Minute).Unix()}, secret)
	rec = serve(t, "Bearer "+tok, JWTAuth(secret, false))
	if rec.Code != http.StatusOK || rec.Body.String() != "u-1|OWNER" {
		t.Fatalf("authenticated = %d %q", rec.Code, rec.Body.String())
	}
}

func TestJWTAuthRejects(t *testing.T) {
	wrongKey := sign(t, jwt.MapClaims{"sub": "u-1"}, "other")
	expired := sign(t, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(-time.Minute).Unix()}, secret)
	noSub := sign(t, jwt.MapClaims{"role": "OWNER"}, secret)
	cases := map[string]struct {
		authz    string
		required bool
	}{
		"missing when required": {"", true},
		"not bearer":            {"Basic abc", false},
		"wrong key":             {"Bearer " + wrongKey, false},
		"expired":               {"Bearer " + expired, false},
		"no subject":            {"Bearer " + noSub, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if rec := serve(t, tc.authz, JWTAuth(secret, tc.required)); rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestJWTAuthDisabledWithoutSecret(t *testing.T) {
	if rec := serve(t, "Bearer garbage", JWTAuth("", true)); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	owner := sign(t, jwt.MapClaims{"sub": "o", "role": "OWNER"}, secret)
	customer := sign(t, jwt.MapClaims{"sub": "c", "role": "CUSTOMER"}, secret)
	if rec := serve(t, "Bearer "+owner, JWTAuth(secret, true), RequireRole("OWNER")); rec.Code != http.StatusOK {
		t.Fatalf("owner status = %d", rec.Code)
	}
	if rec := serve(t, "Bearer "+customer, JWTAuth(secret, true), RequireRole("OWNER")); rec.Code != http.StatusForbidden {
		t.Fatalf("customer status = %d", rec.Code)
	}
}

func TestTokenBucketDisabledPassesThrough(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: false}
	if rec := serve(t, "", NewTokenBucket(cfg, nil)); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTokenBucketFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
	for i := 0; i < 3; i++ {
		if rec := serve(t, "", NewTokenBucket(cfg, rdb)); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/reservations", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.1.1.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/reservations")
	c.Set(ctxUserID, "u9")

	cases := map[string]string{
		"ip":            "rl:ip:10.1.1.1",
		"user":          "rl:user:u9",
		"ip_user":       "rl:ip:10.1.1.1:user:u9",
		"ip_user_route": "rl:ip:10.1.1.1:user:u9:route:POST /v1/reservations",
	}
	for strategy, want := range cases {
		if got := buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: strategy}, c); got != want {
			t.Fatalf("%s: key = %q, want %q", strategy, got, want)
		}
	}
}

func TestCacheKeyIncludesQuery(t *testing.T) {
	e := echo.New()
	key := func(strategy, target string) string {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		return cacheKeyFrom(config.CacheConfig{Prefix: "cache", KeyStrategy: strategy}, c)
	}
	if key("route_query", "/a?x=1") == key("route_query", "/a?x=2") {
		t.Fatalf("query ignored by route_query")
	}
	if key("route", "/a?x=1") != key("route", "/a?x=2") {
		t.Fatalf("query used by route")
	}
	if !strings.HasPrefix(key("route", "/a"), "cache:") {
		t.Fatalf("prefix missing")
	}
}

func TestCaptureWriterDropsOversizedBody(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 4}
	_, _ = cw.Write([]byte("abc"))
	_, _ = cw.Write([]byte("def"))
	if !cw.truncated || cw.buf.Len() != 0 {
		t.Fatalf("truncated=%v buffered=%d", cw.truncated, cw.buf.Len())
	}
	if rec.Body.String() != "abcdef" {
		t.Fatalf("client body = %q", rec.Body.String())
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}
	rec := serve(t, "", NewRedisCache(cfg, nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "" {
		t.Fatalf("status=%d x-cache=%q", rec.Code, rec.Header().Get("X-Cache"))
	}
}
