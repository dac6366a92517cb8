package service

import (
	"context"
	"fmt"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/metrics"
	"collaborative-editor/internal/repository"

	"github.com/sirupsen/logrus"
)

// CodeSyncService 负责房间代码的加载与实时同步。
// 调用方需要持有对应房间的 RoomLocker，保证同一房间的变更按到达顺序处理。
type CodeSyncService struct {
	cache    repository.CodeCache
	roomRepo repository.RoomRepository
	flags    FlagReader
	notifier Notifier
}

// NewCodeSyncService 创建 CodeSyncService 实例
func NewCodeSyncService(
	cache repository.CodeCache,
	roomRepo repository.RoomRepository,
	flags FlagReader,
	notifier Notifier,
) *CodeSyncService {
	if cache == nil || roomRepo == nil || flags == nil || notifier == nil {
		panic("cache, roomRepo, flags and notifier must be non-nil for CodeSyncService")
	}
	return &CodeSyncService{
		cache:    cache,
		roomRepo: roomRepo,
		flags:    flags,
		notifier: notifier,
	}
}

// LoadOrHydrate 返回房间当前代码：优先读缓存，未命中时从数据库加载 (不存在则创建) 并回填缓存。
// 任何基础设施错误都只记录日志，退化为空字符串，不会中断 join 流程。
func (s *CodeSyncService) LoadOrHydrate(ctx context.Context, roomID string) string {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "LoadOrHydrate"})

	code, ok, err := s.cache.Get(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to read code from cache, falling back to store")
	} else if ok {
		metrics.HydrationsTotal.WithLabelValues("cache").Inc()
		return code
	}

	room, created, err := s.roomRepo.FindOrCreate(ctx, roomID)
	if err != nil {
		// 不回填缓存，否则下一轮自动保存会用空代码覆盖数据库
		logCtx.WithError(err).Error("Failed to load room from store, serving empty snapshot")
		metrics.HydrationsTotal.WithLabelValues("empty").Inc()
		return ""
	}
	if created {
		logCtx.Info("Created new room record on first join")
	}
	metrics.HydrationsTotal.WithLabelValues("store").Inc()

	// 已禁用或已归档的房间不再回填缓存，避免自动保存和状态查询把它当成活跃房间
	if !room.IsLive() {
		logCtx.WithField("status", room.Status).Debug("Room is not live, skipping cache hydration")
		return room.Code
	}
	if err := s.cache.Set(ctx, roomID, room.Code); err != nil {
		logCtx.WithError(err).Warn("Failed to hydrate cache from store")
	}
	return room.Code
}

// ApplyChange 处理一次整文档替换。
// 房间处于只读状态时静默丢弃 (applied=false, err=nil)；缓存写入失败时返回错误且不广播。
// 成功时把新代码广播给房间内除发送者外的所有连接。
func (s *CodeSyncService) ApplyChange(ctx context.Context, roomID, senderConnID, code string) (bool, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "conn_id": senderConnID, "operation": "ApplyChange"})

	flags := s.flags.Flags(ctx, roomID)
	if flags.ReadOnly() {
		logCtx.WithField("state", flags.State()).Debug("Dropping code change for read-only room")
		metrics.CodeChangesTotal.WithLabelValues("rejected").Inc()
		return false, nil
	}

	if err := s.cache.Set(ctx, roomID, code); err != nil {
		logCtx.WithError(err).Error("Failed to store code change in cache")
		metrics.CodeChangesTotal.WithLabelValues("failed").Inc()
		return false, fmt.Errorf("%w: %v", ErrCacheWriteFailed, err)
	}

	s.notifier.Broadcast(roomID, domain.EventCodeUpdate, code, senderConnID)
	metrics.CodeChangesTotal.WithLabelValues("applied").Inc()
	return true, nil
}
