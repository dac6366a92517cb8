package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"collaborative-editor/internal/domain"
	gormpersistence "collaborative-editor/internal/infra/persistence/gorm"
	"collaborative-editor/internal/infra/setup"
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	mr := miniredis.RunT(t)
	return &Config{
		AutosaveInterval:  time.Hour, // 测试中只依赖 Stop 时的最终落库
		AutosaveDriver:    AutosaveDriverTicker,
		CacheTTL:          300 * time.Second,
		CacheCompression:  true,
		HistoryCap:        domain.DefaultHistoryCap,
		RedisAddr:         mr.Addr(),
		KeyPrefix:         "test:",
		LogLevel:          "warn",
		AppEnv:            "test",
		CORSAllowedOrigin: "*",
		RateLimitMax:      100,
		RateLimitWindow:   time.Second,
		DB: setup.DBOptions{
			Driver: setup.DriverSQLite,
			DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		},
	}
}

func TestNewApp_RejectsInvalidConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RedisAddr = ""

	_, err := NewApp(cfg)

	assert.Error(t, err)
}

func TestNewApp_ClosesDBWhenRedisIsUnreachable(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"

	var opened *gorm.DB
	original := initDB
	initDB = func(opts setup.DBOptions) (*gorm.DB, error) {
		db, err := original(opts)
		opened = db
		return db, err
	}
	defer func() { initDB = original }()

	_, err := NewApp(cfg)

	require.Error(t, err)
	require.NotNil(t, opened)
	sqlDB, err := opened.DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.Ping(), "启动失败时数据库连接应已关闭")
}

func TestApp_StartIsIdempotent(t *testing.T) {
	app, err := NewApp(newTestConfig(t))
	require.NoError(t, err)
	defer app.Shutdown()

	first, err := app.Start(0)
	require.NoError(t, err)
	require.NotZero(t, first.Port)

	second, err := app.Start(0)
	require.NoError(t, err)
	assert.Same(t, first, second)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", first.Port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/rooms/nope/status", first.Port))
	require.NoError(t, err)
	var status domain.StatusResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.False(t, status.OK)
	assert.Equal(t, "Room does not exist.", status.Message)
}

func TestApp_StopFlushesAndReleasesPort(t *testing.T) {
	app, err := NewApp(newTestConfig(t))
	require.NoError(t, err)
	defer app.Shutdown()

	handle, err := app.Start(0)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/ws", handle.Port), nil)
	require.NoError(t, err)
	defer conn.Close()

	send := func(v any) { require.NoError(t, conn.WriteJSON(v)) }
	send(map[string]any{"event": domain.EventJoinRoom, "data": map[string]any{
		"roomId": "r1", "user": map[string]any{"userId": "u1", "name": "U1"},
	}})
	send(map[string]any{"event": domain.EventCodeChange, "data": map[string]any{"roomId": "r1", "code": "final"}})
	send(map[string]any{"event": domain.EventCheckRoomStatus, "data": map[string]any{"roomId": "r1"}, "ack": 1})

	// 等到 ack，说明前面的事件都已处理
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var f domain.Envelope
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == domain.EventAck && f.Ack == 1 {
			break
		}
	}

	app.Stop()
	app.Stop()

	room, err := gormpersistence.NewGormRoomRepository(app.DB, 0).FindByRoomID(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "final", room.Code)
	assert.NotEmpty(t, room.History)

	_, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/ping", handle.Port))
	assert.Error(t, err, "端口应已释放")

	_, err = app.Start(0)
	assert.ErrorIs(t, err, ErrAppStopped)
}
