package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/metrics"

	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. 整文档同步，需要容纳完整的代码文本
	maxMessageSize = 1 << 20

	// 每个客户端发送队列的长度
	sendBufferSize = 256
)

// ErrAlreadyBound 连接已加入另一个房间
var ErrAlreadyBound = errors.New("connection already bound to a different room")

// EventHandler 处理客户端上行事件。同一连接的事件按到达顺序串行调用。
type EventHandler interface {
	HandleEvent(ctx context.Context, c *Client, env domain.Envelope)
	// HandleDisconnect 在连接关闭后、从 Hub 注销前调用一次
	HandleDisconnect(ctx context.Context, c *Client)
}

// HubMessage 定义了在 Hub 内部通道传递的消息类型
type HubMessage struct {
	Type   string // "register", "unregister", "shutdown"
	Client *Client
}

// Hub 维护活跃连接以及 房间 -> 连接 的映射，并负责向连接投递消息。
type Hub struct {
	messageChan chan HubMessage

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]bool

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub() *Hub {
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[*Client]bool),
		done:        make(chan struct{}),
	}
}

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行。
// 收到 shutdown 消息后关闭所有连接并返回。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	defer close(h.done)

	for msg := range h.messageChan {
		switch msg.Type {
		case "register":
			h.registerClient(msg.Client)
		case "unregister":
			h.unregisterClient(msg.Client)
		case "shutdown":
			h.closeAll()
			log.Info("Hub is shutting down...")
			return
		default:
			log.Warnf("Hub: Received unknown message type: %s", msg.Type)
		}
	}
}

// Stop 关闭所有连接并结束 Run 循环。可重复调用。
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		if h.QueueMessage(HubMessage{Type: "shutdown"}) {
			<-h.done
		}
	})
}

// QueueMessage 把消息放入 Hub 的处理队列，Hub 已停止时返回 false。
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.messageChan <- msg:
		return true
	case <-h.done:
		return false
	}
}

// Register 注册新连接。必须在启动读写泵之前调用。
func (h *Hub) Register(c *Client) bool {
	return h.QueueMessage(HubMessage{Type: "register", Client: c})
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	metrics.ConnectedClients.Inc()
	logrus.WithField("conn_id", client.id).Debug("Client registered to Hub")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to unregister a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"conn_id": client.id, "action": "unregisterClient"})

	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		metrics.ConnectedClients.Dec()
	}
	h.removeFromRoomLocked(client)
	h.closeSendLocked(client)
	h.mu.Unlock()
	logCtx.Debug("Client unregistered from Hub")
}

// closeAll 关闭全部连接，读泵随后会各自触发断开处理
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		h.closeSendLocked(c)
		_ = c.conn.Close()
		delete(h.clients, id)
		metrics.ConnectedClients.Dec()
	}
}

// closeSendLocked 关闭发送通道，调用方持有 h.mu 写锁
func (h *Hub) closeSendLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Bind 把连接加入房间的广播集合。连接的房间在首次 Bind 时确定，
// 之后只能重新加入同一房间，重复加入是 no-op。
func (h *Hub) Bind(c *Client, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.roomID != "" && c.roomID != roomID {
		return ErrAlreadyBound
	}
	c.roomID = roomID
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	return nil
}

// Detach 把连接移出房间的广播集合但保留绑定关系 (显式 leave-room)。
// 返回绑定的房间 ID，未绑定时为空。
func (h *Hub) Detach(c *Client) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(c)
	return c.roomID
}

// InRoom 连接是否已加入该房间且尚未离开
func (h *Hub) InRoom(c *Client, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID][c]
}

func (h *Hub) removeFromRoomLocked(c *Client) {
	if c.roomID == "" {
		return
	}
	if roomClients, ok := h.rooms[c.roomID]; ok {
		delete(roomClients, c)
		if len(roomClients) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
}

// Broadcast 实现 service.Notifier：向房间内所有连接发送事件，exceptConnID 对应的连接除外。
// 发送在读锁内以非阻塞方式完成，慢客户端的消息会被丢弃。
func (h *Hub) Broadcast(roomID string, event string, payload any, exceptConnID string) {
	message, err := json.Marshal(domain.OutboundEnvelope{Event: event, Data: payload})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "event": event}).Error("Failed to marshal broadcast message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	roomClients, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for client := range roomClients {
		if client.id == exceptConnID {
			continue
		}
		h.trySendLocked(client, message)
	}
}

// send 向单个连接发送事件
func (h *Hub) send(c *Client, env domain.OutboundEnvelope) bool {
	message, err := json.Marshal(env)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"conn_id": c.id, "event": env.Event}).Error("Failed to marshal message")
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.trySendLocked(c, message)
}

func (h *Hub) trySendLocked(c *Client, message []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		logrus.WithFields(logrus.Fields{"conn_id": c.id, "room_id": c.roomID}).Warn("Client send channel full, message dropped")
		return false
	}
}

// ConnectionCount 当前注册的连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomConnectionCount 房间内的连接数
func (h *Hub) RoomConnectionCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
