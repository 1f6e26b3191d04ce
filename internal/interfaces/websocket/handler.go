package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ngoclaw/scenegate/internal/domain/service"
	"github.com/ngoclaw/scenegate/internal/infrastructure/eventbus"
	"github.com/ngoclaw/scenegate/pkg/safego"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源 (生产环境应限制)
	},
}

// MessageType 消息类型
type MessageType string

const (
	MessageTypeTask         MessageType = "task"         // generation task status change
	MessageTypeMessage      MessageType = "message"      // message appended to a conversation
	MessageTypeConversation MessageType = "conversation" // AI toggle or scenario update
	MessageTypeProfile      MessageType = "profile"      // active profile switched
	MessageTypeSend         MessageType = "send"         // client → server user message
	MessageTypeError        MessageType = "error"
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
)

// WSMessage WebSocket 消息
type WSMessage struct {
	Type           MessageType `json:"type"`
	Event          string      `json:"event,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Content        string      `json:"content,omitempty"`
	Tier           string      `json:"tier,omitempty"`
	Data           any         `json:"data,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

// Client WebSocket 客户端
// An empty ConversationID subscribes the client to every conversation.
type Client struct {
	ID             string
	ConversationID string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	logger         *zap.Logger
}

// Hub WebSocket 连接中心
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *zap.Logger
	mu         sync.RWMutex

	// 回调
	onMessage func(client *Client, msg *WSMessage)
}

// NewHub 创建连接中心
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With(zap.String("component", "ws_hub")),
	}
}

// SetMessageHandler 设置消息处理器
func (h *Hub) SetMessageHandler(handler func(client *Client, msg *WSMessage)) {
	h.onMessage = handler
}

// Run 运行连接中心
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Info("Client connected",
				zap.String("client_id", client.ID),
				zap.String("conversation_id", client.ConversationID),
			)
		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.ID]; ok && cur == client {
				delete(h.clients, client.ID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Client disconnected",
				zap.String("client_id", client.ID),
			)
		}
	}
}

// Attach forwards bus events to the subscribed clients.
func (h *Hub) Attach(bus eventbus.Bus) (detach func()) {
	return bus.Subscribe(eventbus.Wildcard, func(ctx context.Context, ev eventbus.Event) {
		if msg := ToWSMessage(ev); msg != nil {
			h.Deliver(msg)
		}
	})
}

// ToWSMessage maps a bus event onto the client wire format. It returns nil
// for events clients do not see.
func ToWSMessage(ev eventbus.Event) *WSMessage {
	msg := &WSMessage{Event: ev.Type(), Data: ev.Payload()}
	switch p := ev.Payload().(type) {
	case service.TaskEvent:
		msg.Type = MessageTypeTask
		msg.ConversationID = p.ConversationID
	case eventbus.MessagePayload:
		msg.Type = MessageTypeMessage
		msg.ConversationID = p.ConversationID
	case eventbus.ConversationPayload:
		msg.Type = MessageTypeConversation
		msg.ConversationID = p.ConversationID
	case eventbus.ProfilePayload:
		msg.Type = MessageTypeProfile
	default:
		return nil
	}
	return msg
}

// Deliver sends msg to every client watching its conversation. Messages
// without a conversation go to everyone. Slow clients are dropped.
func (h *Hub) Deliver(msg *WSMessage) {
	msg.Timestamp = time.Now().Unix()
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode ws message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		if msg.ConversationID != "" && client.ConversationID != "" && client.ConversationID != msg.ConversationID {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Warn("Client send buffer full, disconnecting", zap.String("client_id", id))
			close(client.send)
			delete(h.clients, id)
		}
	}
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler WebSocket 处理器
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger,
	}
}

// ServeWS 处理 WebSocket 连接
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:             uuid.NewString(),
		ConversationID: r.URL.Query().Get("conversation_id"),
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            h.hub,
		logger:         h.logger,
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	// 启动读写协程
	safego.Go(h.logger, "ws-write", client.writePump)
	safego.Go(h.logger, "ws-read", client.readPump)
}

// readPump 读取消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.SendMessage(&WSMessage{Type: MessageTypeError, Content: "malformed message"})
			continue
		}

		// 处理 ping
		if msg.Type == MessageTypePing {
			c.SendMessage(&WSMessage{Type: MessageTypePong})
			continue
		}

		if msg.ConversationID == "" {
			msg.ConversationID = c.ConversationID
		}

		// 调用消息处理器
		if c.hub.onMessage != nil {
			c.hub.onMessage(c, &msg)
		}
	}
}

// writePump 写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 发送消息给客户端，缓冲区满时丢弃
func (c *Client) SendMessage(msg *WSMessage) {
	msg.Timestamp = time.Now().Unix()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.ID]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
