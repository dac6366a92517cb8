package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/metrics"
	"collaborative-editor/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	msgRoomResumed      = "Room resumed with new ID."
	msgRoomNotFound     = "Room not found."
	msgRoomDisabled     = "Room is disabled."
	msgRoomArchived     = "Room has already been resumed."
	msgResumeFailed     = "Server error resuming room."
	msgMissingRoomID    = "Missing room ID."
	msgRoomDoesNotExist = "Room does not exist."
	msgStatusFailed     = "Server error checking room status."
)

// LifecycleService 负责房间的暂停、恢复、禁用与状态查询。
// 它是 RoomFlagsStore 唯一的写入者。
type LifecycleService struct {
	cache    repository.CodeCache
	roomRepo repository.RoomRepository
	flags    *RoomFlagsStore
	autosave *AutosaveService
	notifier Notifier

	historyCap int
	newRoomID  func() string
	now        func() time.Time
}

// NewLifecycleService 创建 LifecycleService 实例
func NewLifecycleService(
	cache repository.CodeCache,
	roomRepo repository.RoomRepository,
	flags *RoomFlagsStore,
	autosave *AutosaveService,
	notifier Notifier,
	historyCap int,
) *LifecycleService {
	if cache == nil || roomRepo == nil || flags == nil || autosave == nil || notifier == nil {
		panic("all dependencies must be non-nil for LifecycleService")
	}
	if historyCap <= 0 {
		historyCap = domain.DefaultHistoryCap
	}
	return &LifecycleService{
		cache:      cache,
		roomRepo:   roomRepo,
		flags:      flags,
		autosave:   autosave,
		notifier:   notifier,
		historyCap: historyCap,
		newRoomID:  uuid.NewString,
		now:        time.Now,
	}
}

// Pause 立即把缓存中的代码落库，然后把房间置为只读并广播 room-paused。
// 已禁用的房间保持 disabled，只向调用方返回当前状态。
func (s *LifecycleService) Pause(ctx context.Context, roomID string) domain.LifecycleResult {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "Pause"})

	if f := s.flags.Flags(ctx, roomID); f.Disabled {
		metrics.LifecycleTransitionsTotal.WithLabelValues("pause", "noop").Inc()
		return domain.LifecycleResult{OK: false, State: domain.RoomStatusDisabled, Message: msgRoomDisabled}
	}

	// 先以当前 (active) 状态落库，再切换标记
	code, ok, err := s.cache.Peek(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to read cached code before pause")
	} else if ok {
		if err := s.autosave.Persist(ctx, roomID, code); err != nil {
			logCtx.WithError(err).Error("Failed to flush code before pause")
		}
	}

	s.flags.setPaused(roomID)

	if err := s.roomRepo.MarkStatus(ctx, roomID, domain.RoomStatusPaused, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			err = s.roomRepo.Upsert(ctx, roomID, repository.RoomUpsert{Code: code, Status: domain.RoomStatusPaused})
		}
		if err != nil {
			logCtx.WithError(err).Error("Failed to persist paused status")
		}
	}

	result := domain.LifecycleResult{OK: true, State: domain.RoomStatusPaused}
	s.notifier.Broadcast(roomID, domain.EventRoomPaused, result, "")
	metrics.LifecycleTransitionsTotal.WithLabelValues("pause", "ok").Inc()
	logCtx.Info("Room paused")
	return result
}

// Resume 以新的房间 ID 继续编辑：复制代码和最近的历史，旧记录标记为 archived，
// 并向旧房间广播 room-resumed (携带 newRoomId)。
// 失败时不广播，只把结果返回给调用方。
func (s *LifecycleService) Resume(ctx context.Context, roomID string) domain.LifecycleResult {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "Resume"})

	old, err := s.roomRepo.FindByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			metrics.LifecycleTransitionsTotal.WithLabelValues("resume", "not_found").Inc()
			return domain.LifecycleResult{OK: false, Message: msgRoomNotFound}
		}
		logCtx.WithError(err).Error("Failed to load room for resume")
		metrics.LifecycleTransitionsTotal.WithLabelValues("resume", "error").Inc()
		return domain.LifecycleResult{OK: false, Message: msgResumeFailed}
	}

	// 内存标记优先于数据库状态
	flags := s.flags.Flags(ctx, roomID)
	switch {
	case flags.Disabled || old.Status == domain.RoomStatusDisabled:
		metrics.LifecycleTransitionsTotal.WithLabelValues("resume", "rejected").Inc()
		return domain.LifecycleResult{OK: false, State: domain.RoomStatusDisabled, Message: msgRoomDisabled}
	case old.Status == domain.RoomStatusArchived:
		metrics.LifecycleTransitionsTotal.WithLabelValues("resume", "rejected").Inc()
		return domain.LifecycleResult{OK: false, State: domain.RoomStatusArchived, Message: msgRoomArchived}
	}

	// 缓存中的代码比数据库更新 (房间未暂停就直接恢复时)
	code := old.Code
	if cached, ok, err := s.cache.Peek(ctx, roomID); err != nil {
		logCtx.WithError(err).Warn("Failed to read cached code, using stored code for resume")
	} else if ok {
		code = cached
	}

	newID := s.newRoomID()
	from := roomID
	fresh := &domain.Room{
		RoomID:      newID,
		Code:        code,
		Status:      domain.RoomStatusActive,
		ResumedFrom: &from,
		History:     s.copyHistory(old, newID),
	}
	if err := s.roomRepo.Create(ctx, fresh); err != nil {
		logCtx.WithError(err).WithField("new_room_id", newID).Error("Failed to create resumed room")
		metrics.LifecycleTransitionsTotal.WithLabelValues("resume", "error").Inc()
		return domain.LifecycleResult{OK: false, Message: msgResumeFailed}
	}
	logCtx = logCtx.WithField("new_room_id", newID)

	// 旧房间从此只读，与重启后 archived -> paused 的恢复规则一致
	s.flags.setPaused(roomID)
	if err := s.roomRepo.MarkStatus(ctx, roomID, domain.RoomStatusArchived, s.now().UTC()); err != nil {
		logCtx.WithError(err).Error("Failed to archive old room")
	}
	if err := s.cache.Set(ctx, newID, code); err != nil {
		logCtx.WithError(err).Warn("Failed to seed cache for resumed room")
	}
	// 旧房间不再参与自动保存和缓存命中的状态查询
	if err := s.cache.Delete(ctx, roomID); err != nil {
		logCtx.WithError(err).Warn("Failed to drop cache of archived room")
	}
	s.flags.setActive(newID)

	result := domain.LifecycleResult{
		OK:        true,
		State:     domain.RoomStatusActive,
		NewRoomID: newID,
		Message:   msgRoomResumed,
	}
	s.notifier.Broadcast(roomID, domain.EventRoomResumed, result, "")
	metrics.LifecycleTransitionsTotal.WithLabelValues("resume", "ok").Inc()
	logCtx.Info("Room resumed under new ID")
	return result
}

func (s *LifecycleService) copyHistory(old *domain.Room, newID string) []domain.HistoryEntry {
	entries := old.LastHistory(s.historyCap)
	for i := range entries {
		entries[i].ID = 0
		entries[i].RoomID = newID
	}
	return entries
}

// Disable 永久禁用房间：删除缓存、持久化 disabled 状态并广播 room-disabled。
// 可重复调用；数据库中不存在的房间会以 disabled 状态创建。
func (s *LifecycleService) Disable(ctx context.Context, roomID string) domain.LifecycleResult {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "Disable"})
	now := s.now().UTC()

	if err := s.cache.Delete(ctx, roomID); err != nil {
		logCtx.WithError(err).Error("Failed to delete cached code")
	}
	s.flags.setDisabled(roomID)

	if err := s.roomRepo.MarkStatus(ctx, roomID, domain.RoomStatusDisabled, now); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			err = s.roomRepo.Create(ctx, &domain.Room{
				RoomID:     roomID,
				Status:     domain.RoomStatusDisabled,
				DisabledAt: &now,
			})
			if errors.Is(err, repository.ErrDuplicateEntry) {
				err = s.roomRepo.MarkStatus(ctx, roomID, domain.RoomStatusDisabled, now)
			}
		}
		if err != nil {
			logCtx.WithError(err).Error("Failed to persist disabled status")
		}
	}

	result := domain.LifecycleResult{OK: true, State: domain.RoomStatusDisabled}
	s.notifier.Broadcast(roomID, domain.EventRoomDisabled, result, "")
	metrics.LifecycleTransitionsTotal.WithLabelValues("disable", "ok").Inc()
	logCtx.Info("Room disabled")
	return result
}

// QueryStatus 查询房间状态，不修改任何状态 (包括缓存 TTL)。
// 缓存命中时以运行时标记为准；否则读取数据库记录，disabled 与 archived 报告 ok=false。
func (s *LifecycleService) QueryStatus(ctx context.Context, roomID string) domain.StatusResult {
	if roomID == "" {
		return domain.StatusResult{OK: false, State: domain.RoomStatusUnknown, Message: msgMissingRoomID}
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "QueryStatus"})

	_, cached, err := s.cache.Peek(ctx, roomID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to check cache, falling back to store")
	}
	if cached {
		state := s.flags.Flags(ctx, roomID).State()
		return domain.StatusResult{OK: true, State: state, Message: statusMessage(roomID, state)}
	}

	room, err := s.roomRepo.FindByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return domain.StatusResult{OK: false, State: domain.RoomStatusUnknown, Message: msgRoomDoesNotExist}
		}
		logCtx.WithError(err).Error("Failed to load room status from store")
		return domain.StatusResult{OK: false, State: domain.RoomStatusUnknown, Message: msgStatusFailed}
	}
	state := room.Status
	// 内存中的禁用标记先于数据库写入生效
	if s.flags.Flags(ctx, roomID).Disabled {
		state = domain.RoomStatusDisabled
	}
	live := state != domain.RoomStatusDisabled && state != domain.RoomStatusArchived
	return domain.StatusResult{OK: live, State: state, Message: statusMessage(roomID, state)}
}

func statusMessage(roomID string, state domain.RoomStatus) string {
	return fmt.Sprintf("Room %s is %s", roomID, state)
}
