package service

import (
	"context"
	"errors"
	"sync"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/repository"

	"github.com/sirupsen/logrus"
)

// FlagReader 只读访问房间运行时标记。写入只发生在 LifecycleService 内部。
type FlagReader interface {
	Flags(ctx context.Context, roomID string) domain.RoomFlags
}

// RoomFlagsStore 保存每个房间的 paused / disabled 标记。
// 进程重启后，首次访问某个房间时从持久化记录的 status 懒加载一次。
type RoomFlagsStore struct {
	mu    sync.RWMutex
	flags map[string]domain.RoomFlags
	repo  repository.RoomRepository
}

// NewRoomFlagsStore 创建标记存储，repo 用于重启后的状态恢复
func NewRoomFlagsStore(repo repository.RoomRepository) *RoomFlagsStore {
	if repo == nil {
		panic("RoomRepository cannot be nil for RoomFlagsStore")
	}
	return &RoomFlagsStore{
		flags: make(map[string]domain.RoomFlags),
		repo:  repo,
	}
}

// Flags 返回房间当前的运行时标记
func (s *RoomFlagsStore) Flags(ctx context.Context, roomID string) domain.RoomFlags {
	s.mu.RLock()
	f, ok := s.flags[roomID]
	s.mu.RUnlock()
	if ok {
		return f
	}
	return s.recover(ctx, roomID)
}

// Len 当前在内存中保存标记的房间数
func (s *RoomFlagsStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flags)
}

// recover 从数据库状态推导标记。archived 房间视为只读，按 paused 处理。
// 房间不存在或查询失败时按 active 返回且不记忆，任意房间 ID 都不会在内存中常驻。
func (s *RoomFlagsStore) recover(ctx context.Context, roomID string) domain.RoomFlags {
	var f domain.RoomFlags
	room, err := s.repo.FindByRoomID(ctx, roomID)
	switch {
	case err == nil:
		switch room.Status {
		case domain.RoomStatusDisabled:
			f.Disabled = true
		case domain.RoomStatusPaused, domain.RoomStatusArchived:
			f.Paused = true
		}
	case errors.Is(err, repository.ErrRoomNotFound):
		return f
	default:
		logrus.WithError(err).WithField("room_id", roomID).Warn("FlagsStore: failed to recover room flags from store, assuming active")
		return f
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 恢复期间可能已有生命周期操作写入，以已有值为准
	if existing, ok := s.flags[roomID]; ok {
		return existing
	}
	s.flags[roomID] = f
	return f
}

func (s *RoomFlagsStore) setPaused(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flags[roomID]
	f.Paused = true
	s.flags[roomID] = f
}

func (s *RoomFlagsStore) setActive(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[roomID] = domain.RoomFlags{}
}

// setDisabled 禁用是终态，paused 标记保留不变
func (s *RoomFlagsStore) setDisabled(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flags[roomID]
	f.Disabled = true
	s.flags[roomID] = f
}
