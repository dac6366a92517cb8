package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedRouter(t *testing.T, rdb *redis.Client, max int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(rdb, "test:", max, time.Minute))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doGet(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BlocksAfterLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	r := newLimitedRouter(t, rdb, 2)

	first := doGet(r)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, doGet(r).Code)

	blocked := doGet(r)
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "0", blocked.Header().Get("X-RateLimit-Remaining"))

	// 窗口过期后重新计数
	ttl := mr.TTL("test:ratelimit:10.0.0.1")
	require.True(t, ttl > 0, "计数键应带过期时间")
	mr.FastForward(time.Minute)
	assert.Equal(t, http.StatusOK, doGet(r).Code)
}

func TestRateLimit_FailsOpenWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()
	r := newLimitedRouter(t, rdb, 1)

	assert.Equal(t, http.StatusOK, doGet(r).Code)
	assert.Equal(t, http.StatusOK, doGet(r).Code)
}

func TestRateLimit_InvalidArgumentsPanic(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	assert.Panics(t, func() { RateLimit(nil, "", 1, time.Second) })
	assert.Panics(t, func() { RateLimit(rdb, "", 0, time.Second) })
	assert.Panics(t, func() { RateLimit(rdb, "", 1, 0) })
}
