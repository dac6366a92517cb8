package domain

import "encoding/json"

// 客户端 -> 服务端 事件名
const (
	EventJoinRoom        = "join-room"
	EventLeaveRoom       = "leave-room"
	EventCodeChange      = "code-change"
	EventPauseRoom       = "pause-room"
	EventResumeRoom      = "resume-room"
	EventDisableRoom     = "disable-room"
	EventCheckRoomStatus = "check-room-status"
)

// 服务端 -> 客户端 事件名
const (
	EventLoadCode     = "load-code"
	EventCodeUpdate   = "code-update"
	EventUserJoined   = "user-joined"
	EventUserLeft     = "user-left"
	EventRoomMembers  = "room-members"
	EventRoomPaused   = "room-paused"
	EventRoomResumed  = "room-resumed"
	EventRoomDisabled = "room-disabled"
	EventAck          = "ack"
	EventError        = "error"
)

// Envelope 是 WebSocket 上传输的 JSON 帧。
// Ack 非零时表示客户端期待一个回调应答 (对应 check-room-status)。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
}

// OutboundEnvelope 服务端下发的帧
type OutboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   uint64 `json:"ack,omitempty"`
}

// JoinRoomPayload join-room 的数据
type JoinRoomPayload struct {
	RoomID string        `json:"roomId"`
	User   *UserIdentity `json:"user"`
}

// CodeChangePayload code-change 的数据
type CodeChangePayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

// RoomPayload 只携带房间 ID 的事件 (pause/resume/disable/check-room-status/leave)
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// StatusResult check-room-status 的应答
type StatusResult struct {
	OK      bool       `json:"ok"`
	State   RoomStatus `json:"state"`
	Message string     `json:"message"`
}

// LifecycleResult pause/resume/disable 的广播内容
type LifecycleResult struct {
	OK        bool       `json:"ok"`
	State     RoomStatus `json:"state,omitempty"`
	NewRoomID string     `json:"newRoomId,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// ErrorPayload 只发给触发者的错误信息
type ErrorPayload struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}
