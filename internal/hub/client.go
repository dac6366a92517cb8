package hub

import (
	"context"
	"encoding/json"
	"time"

	"collaborative-editor/internal/domain"
	"collaborative-editor/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	handler EventHandler
	id      string      // 连接 ID，每次连接唯一
	send    chan []byte // 用于向此客户端发送消息的缓冲通道

	// 以下字段由 hub.mu 保护
	roomID string
	closed bool
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, handler EventHandler) *Client {
	if hub == nil || handler == nil {
		panic("hub and handler must be non-nil for Client")
	}
	return &Client{
		hub:     hub,
		conn:    conn,
		handler: handler,
		id:      uuid.NewString(),
		send:    make(chan []byte, sendBufferSize),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 读取客户端帧，解析后同步交给 EventHandler。
// 同一连接上的事件因此按到达顺序处理。
func (c *Client) ReadPump() {
	ctx := context.Background()
	defer func() {
		c.handler.HandleDisconnect(ctx, c)
		c.hub.QueueMessage(HubMessage{Type: "unregister", Client: c})
		c.conn.Close()
		logrus.WithField("conn_id", c.id).Debug("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithFields(logrus.Fields{"conn_id": c.id, "room_id": c.RoomID()})
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			logrus.WithField("conn_id", c.id).Debugf("Received non-text message type: %d", messageType)
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			metrics.ProtocolErrorsTotal.WithLabelValues("malformed").Inc()
			c.Send(domain.EventError, domain.ErrorPayload{OK: false, Message: "Malformed message."})
			continue
		}
		c.handler.HandleEvent(ctx, c, env)
	}
}

// WritePump 将消息从 send 通道写入 WebSocket 连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logrus.WithField("conn_id", c.id).Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithField("conn_id", c.id).WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.WithField("conn_id", c.id).WithError(err).Debug("Failed to send ping message")
				return
			}
		}
	}
}

// Send 只向本连接发送事件
func (c *Client) Send(event string, payload any) bool {
	return c.hub.send(c, domain.OutboundEnvelope{Event: event, Data: payload})
}

// Reply 以 ack 帧应答客户端的请求
func (c *Client) Reply(ack uint64, payload any) bool {
	return c.hub.send(c, domain.OutboundEnvelope{Event: domain.EventAck, Data: payload, Ack: ack})
}

// ID 连接 ID
func (c *Client) ID() string { return c.id }

// RoomID 连接当前所在的房间，未加入时为空
func (c *Client) RoomID() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.roomID
}

// CloseConn 主动断开连接
func (c *Client) CloseConn() { c.conn.Close() }
