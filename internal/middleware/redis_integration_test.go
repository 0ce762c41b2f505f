//go:build integration

package middleware

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/iliyamo/song-service/internal/config"
)

var rdb *redis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()
	ctr, err := tcredis.Run(ctx, "redis:7")
	if err != nil {
		log.Fatalf("failed to start redis container: %v", err)
	}
	uri, err := ctr.ConnectionString(ctx)
	if err != nil {
		log.Fatalf("failed to get redis URI: %v", err)
	}
	opts, err := redis.ParseURL(uri)
	if err != nil {
		log.Fatalf("failed to parse redis URI: %v", err)
	}
	rdb = redis.NewClient(opts)

	code := m.Run()

	_ = rdb.Close()
	_ = ctr.Terminate(ctx)
	os.Exit(code)
}

// cachedServer serves GET /song/:id through the cache and counts handler
// calls.  POST /song answers 302 when ?dup=1 is set and 201 otherwise.
func cachedServer(t *testing.T) (*echo.Echo, config.CacheConfig, *atomic.Int32) {
	t.Helper()
	cfg := config.CacheConfig{
		Enabled:     true,
		Methods:     map[string]bool{http.MethodGet: true},
		TTL:         time.Minute,
		KeyStrategy: "route_query",
		Prefix:      "test-" + strings.ReplaceAll(t.Name(), "/", "-"),
	}
	var calls atomic.Int32
	e := echo.New()
	e.Use(NewRedisCache(cfg, rdb))
	e.GET("/song/:id", func(c echo.Context) error {
		calls.Add(1)
		return c.JSON(http.StatusOK, echo.Map{"id": c.Param("id")})
	})
	e.POST("/song", func(c echo.Context) error {
		if c.QueryParam("dup") == "1" {
			return c.JSON(http.StatusFound, echo.Map{"message": "song with id 1 already present"})
		}
		return c.JSON(http.StatusCreated, echo.Map{"message": "Song created"})
	})
	return e, cfg, &calls
}

func serve(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestRedisCacheHitAfterMiss(t *testing.T) {
	e, _, calls := cachedServer(t)

	rec := serve(e, http.MethodGet, "/song/1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	rec = serve(e, http.MethodGet, "/song/1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"id": "1"}`, rec.Body.String())
	assert.EqualValues(t, 1, calls.Load())

	assert.Equal(t, "MISS", serve(e, http.MethodGet, "/song/2").Header().Get("X-Cache"))
}

func TestRedisCacheClearedBySuccessfulWrite(t *testing.T) {
	e, _, calls := cachedServer(t)

	serve(e, http.MethodGet, "/song/1")
	require.Equal(t, "HIT", serve(e, http.MethodGet, "/song/1").Header().Get("X-Cache"))

	require.Equal(t, http.StatusCreated, serve(e, http.MethodPost, "/song").Code)

	assert.Equal(t, "MISS", serve(e, http.MethodGet, "/song/1").Header().Get("X-Cache"))
	assert.EqualValues(t, 2, calls.Load())
}

func TestRedisCacheKeptOnDuplicateCreate(t *testing.T) {
	e, _, calls := cachedServer(t)

	serve(e, http.MethodGet, "/song/1")
	require.Equal(t, http.StatusFound, serve(e, http.MethodPost, "/song?dup=1").Code)

	assert.Equal(t, "HIT", serve(e, http.MethodGet, "/song/1").Header().Get("X-Cache"))
	assert.EqualValues(t, 1, calls.Load())
}

func TestClearCache(t *testing.T) {
	e, cfg, _ := cachedServer(t)
	ctx := context.Background()

	other := cfg.Prefix + "-other:key"
	require.NoError(t, rdb.Set(ctx, other, "v", time.Minute).Err())
	t.Cleanup(func() { _ = rdb.Del(ctx, other).Err() })

	serve(e, http.MethodGet, "/song/1")
	serve(e, http.MethodGet, "/song/2")
	keys, err := rdb.Keys(ctx, cfg.Prefix+":*").Result()
	require.NoError(t, err)
	require.Len(t, keys, 2)

	require.NoError(t, ClearCache(ctx, rdb, cfg.Prefix))

	keys, err = rdb.Keys(ctx, cfg.Prefix+":*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, "MISS", serve(e, http.MethodGet, "/song/1").Header().Get("X-Cache"))

	n, err := rdb.Exists(ctx, other).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "keys outside the prefix survive")

	assert.NoError(t, ClearCache(ctx, rdb, cfg.Prefix), "empty prefix clears cleanly")
}

func TestRedisTokenBucket(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            5 * time.Hour,
		KeyStrategy:    "ip_route",
		Prefix:         "test-" + t.Name(),
	}
	e := echo.New()
	e.Use(NewTokenBucket(cfg, rdb))
	e.GET("/song", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := serve(e, http.MethodGet, "/song")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/song").Code)

	rec = serve(e, http.MethodGet, "/song")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.NotEqual(t, "0", rec.Header().Get("Retry-After"))
}
