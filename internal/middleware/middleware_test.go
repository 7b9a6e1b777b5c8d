package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"safaripay/config"
	"safaripay/internal/auth"
	"safaripay/internal/cache"
	"safaripay/internal/domain"
	"safaripay/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var jwtCfg = &config.JWTConfig{AccessSecret: "test-secret", AccessExpiry: time.Minute, Issuer: "safaripay"}

func bearer(t *testing.T, userID uint, role string) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(jwtCfg, userID, role)
	require.NoError(t, err)
	return "Bearer " + tok
}

func do(r http.Handler, method, path, authz string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r := gin.New()
	r.GET("/me", AuthRequired(jwtCfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "role": GetRole(c)})
	})

	w := do(r, http.MethodGet, "/me", bearer(t, 7, domain.RoleTourist), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7,"role":"TOURIST"}`, w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "Basic abc", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "Bearer garbage", nil).Code)
}

func TestRoles(t *testing.T) {
	r := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }
	r.GET("/biz", AuthRequired(jwtCfg), RequireRole(domain.RoleBusiness), ok)
	r.GET("/admin", AuthRequired(jwtCfg), AdminRequired(), ok)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/biz", bearer(t, 1, domain.RoleBusiness), nil).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/biz", bearer(t, 1, domain.RoleTourist), nil).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/admin", bearer(t, 1, domain.RoleAdmin), nil).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin", bearer(t, 1, domain.RoleBusiness), nil).Code)
}

func TestRateLimit_PerUser(t *testing.T) {
	limiter := NewInMemoryRateLimiter(2, time.Minute)
	t.Cleanup(limiter.Stop)
	r := gin.New()
	r.GET("/x", AuthRequired(jwtCfg), RateLimit(limiter), func(c *gin.Context) { c.Status(http.StatusOK) })

	alice := bearer(t, 1, domain.RoleTourist)
	bob := bearer(t, 2, domain.RoleTourist)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/x", alice, nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/x", alice, nil).Code)
	w := do(r, http.MethodGet, "/x", alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/x", bob, nil).Code)
}

func TestIdempotency_ReplaysResponse(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	var calls atomic.Int32
	r := gin.New()
	r.POST("/pay", AuthRequired(jwtCfg), Idempotency(cache.NewMemoryIdempotencyStore(), time.Hour, m, zap.NewNop()), func(c *gin.Context) {
		n := calls.Add(1)
		c.JSON(http.StatusCreated, gin.H{"call": n})
	})
	alice := bearer(t, 1, domain.RoleTourist)
	key := map[string]string{IdempotencyHeader: "k-1"}

	first := do(r, http.MethodPost, "/pay", alice, key)
	require.Equal(t, http.StatusCreated, first.Code)
	second := do(r, http.MethodPost, "/pay", alice, key)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(1), calls.Load())

	// Keys are scoped per user.
	other := do(r, http.MethodPost, "/pay", bearer(t, 2, domain.RoleTourist), key)
	assert.Equal(t, http.StatusCreated, other.Code)
	assert.Equal(t, int32(2), calls.Load())

	// No key, no caching.
	do(r, http.MethodPost, "/pay", alice, nil)
	assert.Equal(t, int32(3), calls.Load())
}

func TestIdempotency_InFlightAndServerErrors(t *testing.T) {
	store := cache.NewMemoryIdempotencyStore()
	fail := true
	r := gin.New()
	r.POST("/pay", AuthRequired(jwtCfg), Idempotency(store, time.Hour, nil, zap.NewNop()), func(c *gin.Context) {
		if fail {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	alice := bearer(t, 1, domain.RoleTourist)
	key := map[string]string{IdempotencyHeader: "k-2"}

	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodPost, "/pay", alice, key).Code)
	fail = false
	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/pay", alice, key).Code)

	_, started, err := store.Begin(t.Context(), "1:/pay:k-3", time.Hour)
	require.NoError(t, err)
	require.True(t, started)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/pay", alice, map[string]string{IdempotencyHeader: "k-3"}).Code)
}

func TestIdempotency_ReleasesKeyWhenHandlerPanics(t *testing.T) {
	store := cache.NewMemoryIdempotencyStore()
	var calls atomic.Int32
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/pay", AuthRequired(jwtCfg), Idempotency(store, time.Hour, nil, zap.NewNop()), func(c *gin.Context) {
		if calls.Add(1) == 1 {
			panic("wallet store exploded")
		}
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	alice := bearer(t, 1, domain.RoleTourist)
	key := map[string]string{IdempotencyHeader: "k-panic"}

	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodPost, "/pay", alice, key).Code)
	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/pay", alice, key).Code)
	assert.Equal(t, int32(2), calls.Load())
}

// ctxStore fails when called with a cancelled context, like a network store would.
type ctxStore struct {
	*cache.MemoryIdempotencyStore
}

func (s ctxStore) Complete(ctx context.Context, key string, resp cache.Response, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryIdempotencyStore.Complete(ctx, key, resp, ttl)
}

func (s ctxStore) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryIdempotencyStore.Release(ctx, key)
}

func TestIdempotency_StoresResponseAfterClientDisconnects(t *testing.T) {
	store := ctxStore{cache.NewMemoryIdempotencyStore()}
	ctx, cancel := context.WithCancel(t.Context())
	var calls atomic.Int32
	r := gin.New()
	r.POST("/pay", AuthRequired(jwtCfg), Idempotency(store, time.Hour, nil, zap.NewNop()), func(c *gin.Context) {
		calls.Add(1)
		cancel()
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	alice := bearer(t, 1, domain.RoleTourist)
	key := map[string]string{IdempotencyHeader: "k-gone"}

	req := httptest.NewRequest(http.MethodPost, "/pay", strings.NewReader(`{}`)).WithContext(ctx)
	req.Header.Set("Authorization", alice)
	req.Header.Set(IdempotencyHeader, key[IdempotencyHeader])
	r.ServeHTTP(httptest.NewRecorder(), req)
	require.Error(t, ctx.Err())

	again := do(r, http.MethodPost, "/pay", alice, key)
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(1), calls.Load())
}
