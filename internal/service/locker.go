package service

import "sync"

// RoomLocker 提供按房间 ID 划分的互斥锁：同一房间的操作串行执行，不同房间互不阻塞。
// 锁对象按引用计数回收，房间空闲后不会留在 map 中。
type RoomLocker struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// NewRoomLocker 创建 RoomLocker
func NewRoomLocker() *RoomLocker {
	return &RoomLocker{locks: make(map[string]*roomLock)}
}

// Lock 获取房间锁，返回的函数用于释放
func (l *RoomLocker) Lock(roomID string) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.locks[roomID]
	if !ok {
		rl = &roomLock{}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			rl.mu.Unlock()
			l.mu.Lock()
			rl.refs--
			if rl.refs == 0 {
				delete(l.locks, roomID)
			}
			l.mu.Unlock()
		})
	}
}

// Size 当前持有或等待中的房间锁数量
func (l *RoomLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
