package service

// Notifier 是服务层向房间成员推送事件的出口，由 hub.Hub 实现。
type Notifier interface {
	// Broadcast 把事件发送给房间内的所有连接，exceptConnID 非空时排除该连接。
	Broadcast(roomID string, event string, payload any, exceptConnID string)
}
