package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/hub"
	"collaborative-editor/internal/metrics"
	"collaborative-editor/internal/service"

	"github.com/sirupsen/logrus"
)

const (
	msgMissingJoinArgs = "Missing roomId or user."
	msgMissingRoomID   = "Missing room ID."
	msgAlreadyBound    = "Connection already joined another room."
	msgUnknownEvent    = "Unknown event."
	msgInvalidPayload  = "Invalid payload."
	msgInternalError   = "Internal server error."
	msgChangeFailed    = "Failed to apply code change."
	msgNotInRoom       = "Connection has not joined this room."
)

// Gateway 把客户端事件路由到各个服务，并负责断开连接时的清理。
// 同一房间的所有操作都在 RoomLocker 下执行，因此房间内的广播顺序与加锁顺序一致。
type Gateway struct {
	hub       *hub.Hub
	locker    *service.RoomLocker
	members   *service.MembershipRegistry
	codeSync  *service.CodeSyncService
	lifecycle *service.LifecycleService
}

// NewGateway 创建 Gateway 实例
func NewGateway(
	h *hub.Hub,
	locker *service.RoomLocker,
	members *service.MembershipRegistry,
	codeSync *service.CodeSyncService,
	lifecycle *service.LifecycleService,
) *Gateway {
	if h == nil || locker == nil || members == nil || codeSync == nil || lifecycle == nil {
		panic("all dependencies must be non-nil for Gateway")
	}
	return &Gateway{
		hub:       h,
		locker:    locker,
		members:   members,
		codeSync:  codeSync,
		lifecycle: lifecycle,
	}
}

// HandleEvent 实现 hub.EventHandler。单个事件的 panic 不会影响连接上的后续事件。
func (g *Gateway) HandleEvent(ctx context.Context, c *hub.Client, env domain.Envelope) {
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": c.ID(), "event": env.Event})
	defer func() {
		if r := recover(); r != nil {
			logCtx.WithField("panic", fmt.Sprint(r)).Errorf("Recovered from panic in event handler\n%s", debug.Stack())
			c.Send(domain.EventError, domain.ErrorPayload{OK: false, Message: msgInternalError})
		}
	}()

	switch env.Event {
	case domain.EventJoinRoom:
		g.handleJoin(ctx, c, env.Data)
	case domain.EventLeaveRoom:
		g.handleLeave(ctx, c)
	case domain.EventCodeChange:
		g.handleCodeChange(ctx, c, env.Data)
	case domain.EventPauseRoom:
		g.handleLifecycle(ctx, c, env.Data, g.lifecycle.Pause)
	case domain.EventResumeRoom:
		g.handleLifecycle(ctx, c, env.Data, g.lifecycle.Resume)
	case domain.EventDisableRoom:
		g.handleLifecycle(ctx, c, env.Data, g.lifecycle.Disable)
	case domain.EventCheckRoomStatus:
		g.handleCheckStatus(ctx, c, env)
	default:
		metrics.ProtocolErrorsTotal.WithLabelValues("unknown_event").Inc()
		logCtx.Debug("Unknown event from client")
		c.Send(domain.EventError, domain.ErrorPayload{OK: false, Message: msgUnknownEvent})
	}
}

func (g *Gateway) handleJoin(ctx context.Context, c *hub.Client, data json.RawMessage) {
	var payload domain.JoinRoomPayload
	if err := decode(data, &payload); err != nil || payload.RoomID == "" || payload.User == nil || !payload.User.Valid() {
		metrics.ProtocolErrorsTotal.WithLabelValues("invalid_join").Inc()
		c.Send(domain.EventRoomDisabled, domain.ErrorPayload{OK: false, Message: msgMissingJoinArgs})
		return
	}
	roomID := payload.RoomID
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": c.ID(), "room_id": roomID, "user_id": payload.User.UserID})

	unlock := g.locker.Lock(roomID)
	defer unlock()

	if err := g.hub.Bind(c, roomID); err != nil {
		if errors.Is(err, hub.ErrAlreadyBound) {
			logCtx.WithField("bound_room_id", c.RoomID()).Warn("Rejected join to a second room")
			c.Send(domain.EventError, domain.ErrorPayload{OK: false, Message: msgAlreadyBound})
			return
		}
		logCtx.WithError(err).Error("Failed to bind connection to room")
		c.Send(domain.EventError, domain.ErrorPayload{OK: false, Message: msgInternalError})
		return
	}

	code := g.codeSync.LoadOrHydrate(ctx, roomID)
	c.Send(domain.EventLoadCode, code)

	member := domain.NewMember(*payload.User, c.ID())
	list := g.members.Join(roomID, member)
	g.hub.Broadcast(roomID, domain.EventUserJoined, member.Identity(), "")
	g.hub.Broadcast(roomID, domain.EventRoomMembers, list, "")
	logCtx.WithField("members", len(list)).Info("User joined room")
}

func (g *Gateway) handleLeave(ctx context.Context, c *hub.Client) {
	roomID := c.RoomID()
	if roomID == "" {
		return
	}
	unlock := g.locker.Lock(roomID)
	defer unlock()

	g.hub.Detach(c)
	g.leaveLocked(roomID, c.ID())
}

// HandleDisconnect 实现 hub.EventHandler：移除成员并通知房间内其余连接
func (g *Gateway) HandleDisconnect(ctx context.Context, c *hub.Client) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("conn_id", c.ID()).Errorf("Recovered from panic in disconnect handler: %v", r)
		}
	}()
	roomID := c.RoomID()
	if roomID == "" {
		return
	}
	unlock := g.locker.Lock(roomID)
	defer unlock()

	g.hub.Detach(c)
	g.leaveLocked(roomID, c.ID())
}

// leaveLocked 调用方需持有房间锁，且连接已经移出广播集合
func (g *Gateway) leaveLocked(roomID, connID string) {
	list, removed := g.members.Leave(roomID, connID)
	if removed == nil {
		return
	}
	g.hub.Broadcast(roomID, domain.EventUserLeft, removed.Identity(), "")
	g.hub.Broadcast(roomID, domain.EventRoomMembers, list, "")
	logrus.WithFields(logrus.Fields{"conn_id": connID, "room_id": roomID, "user_id": removed.UserID}).Info("User left room")
}

func (g *Gateway) handleCodeChange(ctx context.Context, c *hub.Client, data json.RawMessage) {
	var payload domain.CodeChangePayload
	if err := decode(data, &payload); err != nil || payload.RoomID == "" {
		metrics.ProtocolErrorsTotal.WithLabelValues("invalid_payload").Inc()
		c.Send(domain.EventError, domain.ErrorPayload{OK: false, Message: msgInvalidPayload})
		return
	}

	unlock := g.locker.Lock(payload.RoomID)
	defer unlock()

	if !g.hub.InRoom(c, payload.RoomID) {
		metrics.ProtocolErrorsTotal.WithLabelValues("not_in_room").Inc()
		logrus.WithFields(logrus.Fields{"conn_id": c.ID(), "room_id": payload.RoomID, "bound_room_id": c.RoomID()}).
			Warn("Rejected code change for a room the connection has not joined")
		c.Send(domain.EventError, domain.ErrorPayload{OK: false, Message: msgNotInRoom})
		return
	}
	if _, err := g.codeSync.ApplyChange(ctx, payload.RoomID, c.ID(), payload.Code); err != nil {
		c.Send(domain.EventError, domain.ErrorPayload{OK: false, Message: msgChangeFailed})
	}
}

// handleLifecycle 处理 pause/resume/disable。成功的结果由服务广播给整个房间，
// 失败的结果只返回给发起者。
// 未加入任何房间的连接 (例如房间列表页) 可以操作任意房间；已绑定的连接只能操作自己的房间。
func (g *Gateway) handleLifecycle(ctx context.Context, c *hub.Client, data json.RawMessage, op func(context.Context, string) domain.LifecycleResult) {
	var payload domain.RoomPayload
	if err := decode(data, &payload); err != nil || payload.RoomID == "" {
		metrics.ProtocolErrorsTotal.WithLabelValues("invalid_payload").Inc()
		c.Send(domain.EventError, domain.ErrorPayload{OK: false, Message: msgMissingRoomID})
		return
	}
	if bound := c.RoomID(); bound != "" && bound != payload.RoomID {
		metrics.ProtocolErrorsTotal.WithLabelValues("foreign_room").Inc()
		c.Send(domain.EventError, domain.ErrorPayload{OK: false, Message: msgAlreadyBound})
		return
	}

	unlock := g.locker.Lock(payload.RoomID)
	defer unlock()

	result := op(ctx, payload.RoomID)
	if !result.OK {
		c.Send(failureEvent(result), result)
	}
}

// failureEvent 失败结果沿用与操作对应的事件名，未知状态时用 room-resumed (只有 resume 会不带状态失败)
func failureEvent(result domain.LifecycleResult) string {
	switch result.State {
	case domain.RoomStatusDisabled:
		return domain.EventRoomDisabled
	case domain.RoomStatusPaused:
		return domain.EventRoomPaused
	default:
		return domain.EventRoomResumed
	}
}

// handleCheckStatus 以 ack 帧应答，不加锁也不修改任何状态
func (g *Gateway) handleCheckStatus(ctx context.Context, c *hub.Client, env domain.Envelope) {
	var payload domain.RoomPayload
	if err := decode(env.Data, &payload); err != nil {
		payload.RoomID = ""
	}
	result := g.lifecycle.QueryStatus(ctx, payload.RoomID)
	c.Reply(env.Ack, result)
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return service.ErrInvalidRequest
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	return nil
}
