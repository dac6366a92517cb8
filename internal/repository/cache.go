package repository

import "context"

// CodeCache 定义了房间代码快照的临时缓存 (通常由 Redis 实现)。
// 每次读写都会刷新 TTL；过期是静默的，Get 只会报告未命中。
type CodeCache interface {
	// Get 获取房间当前代码，ok=false 表示未命中。
	Get(ctx context.Context, roomID string) (code string, ok bool, err error)

	// Peek 与 Get 相同但不刷新 TTL，自动保存使用它，避免让缓存永不过期。
	Peek(ctx context.Context, roomID string) (code string, ok bool, err error)

	// Set 写入房间代码并重置 TTL。
	Set(ctx context.Context, roomID string, code string) error

	// Delete 删除房间的缓存。
	Delete(ctx context.Context, roomID string) error

	// ListRoomIDs 枚举当前仍有缓存的房间 ID，仅供自动保存使用。
	ListRoomIDs(ctx context.Context) ([]string, error)
}
