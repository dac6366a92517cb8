package service_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"collaborative-editor/internal/domain"
	gormpersistence "collaborative-editor/internal/infra/persistence/gorm"
	"collaborative-editor/internal/infra/setup"
	redisstate "collaborative-editor/internal/infra/state/redis"
	"collaborative-editor/internal/service"
)

// broadcast 记录一次 Notifier.Broadcast 调用
type broadcast struct {
	RoomID  string
	Event   string
	Payload any
	Except  string
}

// recordingNotifier 记录所有广播，供断言使用
type recordingNotifier struct {
	mu     sync.Mutex
	events []broadcast
}

func (n *recordingNotifier) Broadcast(roomID string, event string, payload any, exceptConnID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, broadcast{RoomID: roomID, Event: event, Payload: payload, Except: exceptConnID})
}

func (n *recordingNotifier) byEvent(event string) []broadcast {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []broadcast
	for _, b := range n.events {
		if b.Event == event {
			out = append(out, b)
		}
	}
	return out
}

// harness 使用 miniredis + 内存 SQLite 组装完整的服务层
type harness struct {
	mr        *miniredis.Miniredis
	db        *gorm.DB
	cache     *redisstate.RedisCodeCache
	repo      *gormpersistence.GormRoomRepository
	flags     *service.RoomFlagsStore
	autosave  *service.AutosaveService
	codeSync  *service.CodeSyncService
	lifecycle *service.LifecycleService
	notifier  *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := newTestDB(t)
	h := &harness{
		mr:       mr,
		db:       db,
		cache:    redisstate.NewRedisCodeCache(client, "test:", 300*time.Second, true),
		repo:     gormpersistence.NewGormRoomRepository(db, domain.DefaultHistoryCap),
		notifier: &recordingNotifier{},
	}
	h.flags = service.NewRoomFlagsStore(h.repo)
	h.autosave = service.NewAutosaveService(h.cache, h.repo, h.flags)
	h.codeSync = service.NewCodeSyncService(h.cache, h.repo, h.flags, h.notifier)
	h.lifecycle = service.NewLifecycleService(h.cache, h.repo, h.flags, h.autosave, h.notifier, domain.DefaultHistoryCap)
	return h
}

// restart 模拟进程重启：缓存与数据库保留，内存状态全部丢弃
func (h *harness) restart() {
	h.notifier = &recordingNotifier{}
	h.flags = service.NewRoomFlagsStore(h.repo)
	h.autosave = service.NewAutosaveService(h.cache, h.repo, h.flags)
	h.codeSync = service.NewCodeSyncService(h.cache, h.repo, h.flags, h.notifier)
	h.lifecycle = service.NewLifecycleService(h.cache, h.repo, h.flags, h.autosave, h.notifier, domain.DefaultHistoryCap)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := setup.InitDB(setup.DBOptions{
		Driver: setup.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	require.NoError(t, setup.MigrateDB(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}
