package service

import (
	"sync"

	"collaborative-editor/internal/domain"
)

// MembershipRegistry 维护 房间 -> 有序成员列表。
// 仅存在于进程内存中，重启后为空，由客户端重新加入时重建。
type MembershipRegistry struct {
	mu    sync.RWMutex
	rooms map[string][]domain.Member
}

// NewMembershipRegistry 创建成员注册表
func NewMembershipRegistry() *MembershipRegistry {
	return &MembershipRegistry{rooms: make(map[string][]domain.Member)}
}

// Join 加入房间。同一 userId 的旧条目被原地替换 (重连场景)，否则追加到末尾。
// 返回更新后的完整成员列表副本，供调用者广播。
func (r *MembershipRegistry) Join(roomID string, member domain.Member) []domain.Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	replaced := false
	for i := range members {
		if members[i].UserID == member.UserID {
			members[i] = member
			replaced = true
			break
		}
	}
	if !replaced {
		members = append(members, member)
	}
	r.rooms[roomID] = members
	return cloneMembers(members)
}

// Leave 移除 connectionID 对应的成员，成员不存在时为 no-op。
// 返回更新后的成员列表以及被移除的成员 (未移除时为 nil)。
func (r *MembershipRegistry) Leave(roomID, connectionID string) ([]domain.Member, *domain.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		return []domain.Member{}, nil
	}
	var removed *domain.Member
	kept := members[:0]
	for _, m := range members {
		if removed == nil && m.ConnectionID == connectionID {
			m := m
			removed = &m
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		delete(r.rooms, roomID)
	} else {
		r.rooms[roomID] = kept
	}
	return cloneMembers(kept), removed
}

// Members 返回房间当前成员列表的副本
func (r *MembershipRegistry) Members(roomID string) []domain.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneMembers(r.rooms[roomID])
}

// RoomCount 当前有成员的房间数
func (r *MembershipRegistry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func cloneMembers(members []domain.Member) []domain.Member {
	out := make([]domain.Member, len(members))
	copy(out, members)
	return out
}
