package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collaborative-editor/internal/domain"
	httpHandler "collaborative-editor/internal/handler/http"
	gormpersistence "collaborative-editor/internal/infra/persistence/gorm"
	"collaborative-editor/internal/infra/setup"
	redisstate "collaborative-editor/internal/infra/state/redis"
	"collaborative-editor/internal/service"
)

type nopNotifier struct{}

func (nopNotifier) Broadcast(string, string, any, string) {}

type fixture struct {
	router    *gin.Engine
	members   *service.MembershipRegistry
	codeSync  *service.CodeSyncService
	lifecycle *service.LifecycleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	db, err := setup.InitDB(setup.DBOptions{
		Driver: setup.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	require.NoError(t, setup.MigrateDB(db))

	cache := redisstate.NewRedisCodeCache(rdb, "test:", 300*time.Second, false)
	repo := gormpersistence.NewGormRoomRepository(db, 0)
	flags := service.NewRoomFlagsStore(repo)
	autosave := service.NewAutosaveService(cache, repo, flags)
	f := &fixture{
		members:   service.NewMembershipRegistry(),
		codeSync:  service.NewCodeSyncService(cache, repo, flags, nopNotifier{}),
		lifecycle: service.NewLifecycleService(cache, repo, flags, autosave, nopNotifier{}, 0),
	}

	gin.SetMode(gin.TestMode)
	f.router = gin.New()
	h := httpHandler.NewRoomHandler(f.lifecycle, f.members)
	f.router.GET("/api/rooms/:roomId/status", h.GetStatus)
	f.router.GET("/api/rooms/:roomId/members", h.GetMembers)
	return f
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRoomHandler_GetStatus(t *testing.T) {
	f := newFixture(t)
	f.codeSync.LoadOrHydrate(context.Background(), "r1")

	w := f.get("/api/rooms/r1/status")

	assert.Equal(t, http.StatusOK, w.Code)
	var result domain.StatusResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.OK)
	assert.Equal(t, domain.RoomStatusActive, result.State)

	w = f.get("/api/rooms/unknown/status")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.OK)
	assert.Equal(t, "Room does not exist.", result.Message)
}

func TestRoomHandler_GetMembers(t *testing.T) {
	f := newFixture(t)
	f.members.Join("r1", domain.NewMember(domain.UserIdentity{UserID: "u1", Name: "Alice"}, "c1"))

	w := f.get("/api/rooms/r1/members")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp httpHandler.MembersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "r1", resp.RoomID)
	require.Len(t, resp.Members, 1)
	assert.Equal(t, "Alice", resp.Members[0].Name)

	w = f.get("/api/rooms/%20/members")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", service.ErrInvalidRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: redis", service.ErrCacheWriteFailed), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		httpHandler.HandleServiceError(c, tc.err)
		assert.Equal(t, tc.want, w.Code, tc.err.Error())
	}
}
