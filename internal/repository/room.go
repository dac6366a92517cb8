package repository

import (
	"context"
	"time"

	"collaborative-editor/internal/domain"
)

// RoomUpsert 描述一次 Upsert 写入的字段。
type RoomUpsert struct {
	Code   string
	Status domain.RoomStatus
	// AppendHistory 为 true 时追加一条历史快照，并裁剪到最新的 HistoryCap 条
	AppendHistory bool
	SavedAt       time.Time
}

// RoomRepository 定义了房间持久化记录的读写操作。
// 实现需要支持按 roomID 的并发 Upsert，不要求跨房间事务。
type RoomRepository interface {
	// FindByRoomID 根据房间 ID 查找房间 (包含按时间升序的历史记录)。
	// 房间不存在时返回 ErrRoomNotFound。
	FindByRoomID(ctx context.Context, roomID string) (*domain.Room, error)

	// FindOrCreate 查找房间，不存在时以空代码、active 状态创建。
	// created 表示本次调用是否新建了记录。
	FindOrCreate(ctx context.Context, roomID string) (room *domain.Room, created bool, err error)

	// Create 创建一条全新的房间记录 (连同 History)。
	// 房间 ID 已存在时返回 ErrDuplicateEntry。
	Create(ctx context.Context, room *domain.Room) error

	// Upsert 写入代码与状态，记录不存在时创建。
	Upsert(ctx context.Context, roomID string, fields RoomUpsert) error

	// MarkStatus 只修改状态 (以及 disabled 时的 DisabledAt)。
	// 房间不存在时返回 ErrRoomNotFound。
	MarkStatus(ctx context.Context, roomID string, status domain.RoomStatus, at time.Time) error
}
