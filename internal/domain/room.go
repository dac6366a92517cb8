package domain

import "time"

// RoomStatus 表示房间在持久化存储中的生命周期状态。
type RoomStatus string

const (
	RoomStatusActive   RoomStatus = "active"
	RoomStatusPaused   RoomStatus = "paused"
	RoomStatusDisabled RoomStatus = "disabled"
	RoomStatusArchived RoomStatus = "archived"
	// RoomStatusUnknown 只出现在状态查询结果中，从不持久化
	RoomStatusUnknown RoomStatus = "unknown"
)

// DefaultHistoryCap 每个房间保留的历史快照条数上限
const DefaultHistoryCap = 50

// Room 表示一个协作编辑房间的持久化记录。
type Room struct {
	ID          uint           `gorm:"primaryKey" json:"-"`
	RoomID      string         `gorm:"uniqueIndex;size:191;not null" json:"roomId"` // 对外暴露的不透明房间 ID
	Code        string         `gorm:"type:longtext" json:"code"`                   // 当前代码文本
	Status      RoomStatus     `gorm:"size:20;not null;default:active;index" json:"status"`
	ResumedFrom *string        `gorm:"size:191;index" json:"resumedFrom,omitempty"` // 恢复时派生自哪个房间
	DisabledAt  *time.Time     `json:"disabledAt,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	History     []HistoryEntry `gorm:"foreignKey:RoomID;references:RoomID" json:"roomHistory,omitempty"`
}

// HistoryEntry 房间的一条历史快照，按 SavedAt 排序，最多保留 HistoryCap 条。
type HistoryEntry struct {
	ID      uint      `gorm:"primaryKey" json:"-"`
	RoomID  string    `gorm:"size:191;not null;index:idx_history_room_saved,priority:1" json:"-"`
	Code    string    `gorm:"type:longtext" json:"code"`
	SavedAt time.Time `gorm:"not null;index:idx_history_room_saved,priority:2" json:"savedAt"`
}

// TableName 固定历史表名
func (HistoryEntry) TableName() string { return "room_history" }

// IsLive 房间是否仍可被编辑 (既未禁用也未归档)
func (r *Room) IsLive() bool {
	return r.Status != RoomStatusDisabled && r.Status != RoomStatusArchived
}

// LastHistory 返回最近的 n 条历史记录 (假设 History 已按时间升序排列)。
func (r *Room) LastHistory(n int) []HistoryEntry {
	if n <= 0 || len(r.History) == 0 {
		return nil
	}
	start := len(r.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]HistoryEntry, len(r.History)-start)
	copy(out, r.History[start:])
	return out
}

// RoomFlags 进程内的房间运行时标记，对内存中的房间而言优先于数据库中的 status。
type RoomFlags struct {
	Paused   bool
	Disabled bool
}

// State 按 disabled > paused > active 的优先级推导状态
func (f RoomFlags) State() RoomStatus {
	switch {
	case f.Disabled:
		return RoomStatusDisabled
	case f.Paused:
		return RoomStatusPaused
	default:
		return RoomStatusActive
	}
}

// ReadOnly 暂停或禁用的房间不接受编辑
func (f RoomFlags) ReadOnly() bool { return f.Paused || f.Disabled }
