package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db         *gorm.DB
	historyCap int
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB, historyCap int) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	if historyCap <= 0 {
		historyCap = domain.DefaultHistoryCap
	}
	return &GormRoomRepository{db: db, historyCap: historyCap}
}

// FindByRoomID 根据房间 ID 查找房间，历史记录按保存时间升序加载
func (r *GormRoomRepository) FindByRoomID(ctx context.Context, roomID string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("saved_at ASC, id ASC")
		}).
		Where("room_id = ?", roomID).
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by room_id '%s': %w", roomID, err)
	}
	return &room, nil
}

// FindOrCreate 查找房间，不存在则创建一个空的 active 房间
func (r *GormRoomRepository) FindOrCreate(ctx context.Context, roomID string) (*domain.Room, bool, error) {
	room, err := r.FindByRoomID(ctx, roomID)
	if err == nil {
		return room, false, nil
	}
	if !errors.Is(err, repository.ErrRoomNotFound) {
		return nil, false, err
	}

	newRoom := &domain.Room{RoomID: roomID, Code: "", Status: domain.RoomStatusActive}
	// 并发加入同一个新房间时，只有一个请求真正插入
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "room_id"}}, DoNothing: true}).
		Omit("History").
		Create(newRoom)
	if result.Error != nil {
		return nil, false, fmt.Errorf("gorm: create room '%s': %w", roomID, result.Error)
	}
	if result.RowsAffected == 0 {
		room, err = r.FindByRoomID(ctx, roomID)
		if err != nil {
			return nil, false, err
		}
		return room, false, nil
	}
	logrus.WithField("room_id", roomID).Info("gorm: room record created on first access")
	return newRoom, true, nil
}

// Create 创建房间记录以及其历史记录
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if len(room.History) > r.historyCap {
		room.History = room.History[len(room.History)-r.historyCap:]
	}
	for i := range room.History {
		room.History[i].ID = 0
		room.History[i].RoomID = room.RoomID
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("History").Create(room).Error; err != nil {
			return err
		}
		if len(room.History) == 0 {
			return nil
		}
		return tx.Create(&room.History).Error
	})
	if err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create room (room_id: %s): %w", room.RoomID, err)
	}
	return nil
}

// Upsert 写入代码与状态。已归档或已禁用的房间保持原有的终态，
// 避免自动保存把它们重新标记为 active/paused。
func (r *GormRoomRepository) Upsert(ctx context.Context, roomID string, fields repository.RoomUpsert) error {
	savedAt := fields.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	status := fields.Status
	if status == "" {
		status = domain.RoomStatusActive
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room domain.Room
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ?", roomID).
			First(&room).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			room = domain.Room{RoomID: roomID, Code: fields.Code, Status: status}
			if err := tx.Omit("History").Create(&room).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if room.Status == domain.RoomStatusArchived || room.Status == domain.RoomStatusDisabled {
				status = room.Status
			}
			if err := tx.Model(&room).Updates(map[string]interface{}{
				"code":       fields.Code,
				"status":     status,
				"updated_at": savedAt,
			}).Error; err != nil {
				return err
			}
		}

		if !fields.AppendHistory {
			return nil
		}
		entry := domain.HistoryEntry{RoomID: roomID, Code: fields.Code, SavedAt: savedAt}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return r.trimHistory(tx, roomID)
	})
	if err != nil {
		return fmt.Errorf("gorm: upsert room '%s': %w", roomID, err)
	}
	return nil
}

// trimHistory 只保留最新的 historyCap 条历史
func (r *GormRoomRepository) trimHistory(tx *gorm.DB, roomID string) error {
	var ids []uint
	if err := tx.Model(&domain.HistoryEntry{}).
		Where("room_id = ?", roomID).
		Order("saved_at DESC, id DESC").
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) <= r.historyCap {
		return nil
	}
	return tx.Where("id IN ?", ids[r.historyCap:]).Delete(&domain.HistoryEntry{}).Error
}

// MarkStatus 修改房间状态，disabled 时同时记录 DisabledAt。
// 已归档或已禁用的房间只能再被标记为 disabled，其他目标状态静默忽略。
func (r *GormRoomRepository) MarkStatus(ctx context.Context, roomID string, status domain.RoomStatus, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": at,
	}
	query := r.db.WithContext(ctx).Model(&domain.Room{}).Where("room_id = ?", roomID)
	if status == domain.RoomStatusDisabled {
		updates["disabled_at"] = at
	} else {
		query = query.Where("status NOT IN ?", []domain.RoomStatus{domain.RoomStatusArchived, domain.RoomStatusDisabled})
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("gorm: mark room '%s' as %s: %w", roomID, status, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// 0 行可能是记录不存在，也可能是终态保护或值未变化
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
		return fmt.Errorf("gorm: check room '%s' existence: %w", roomID, err)
	}
	if count == 0 {
		return repository.ErrRoomNotFound
	}
	return nil
}

// isDuplicateEntryError 识别唯一约束冲突 (MySQL 1062 或 GORM 翻译后的错误)
func isDuplicateEntryError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
