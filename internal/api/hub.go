package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/betbot/botfleet/internal/fleet"
	"github.com/betbot/botfleet/internal/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
	clientBuffer = 256
)

// Frame /ws 推送帧
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub 把集群事件以 {event,data} 帧广播给所有 /ws 客户端。
// 慢客户端的发送缓冲满了会被直接断开，不会阻塞事件分发。
type Hub struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	clients     map[*wsClient]struct{}
	closed      bool
	unsubscribe func()
}

// NewHub 创建广播中心
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// Attach 订阅集群事件；chatObserved 只给指令解释器用，不推送
func (h *Hub) Attach(m *fleet.Manager) {
	unsub := m.Subscribe(func(ev fleet.Event) {
		switch ev.Kind {
		case fleet.EventBotConnected, fleet.EventBotDisconnected, fleet.EventBotUpdated:
			if ev.Bot != nil {
				h.Broadcast(string(ev.Kind), ev.Bot)
			}
		case fleet.EventNewLog:
			if ev.Log != nil {
				h.Broadcast(string(ev.Kind), ev.Log)
			}
		}
	})
	h.mu.Lock()
	h.unsubscribe = unsub
	h.mu.Unlock()
}

// Broadcast 推送一帧给所有客户端
func (h *Hub) Broadcast(event string, data any) {
	msg, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		log.Warnf("序列化推送帧失败: event=%s err=%v", event, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Warn("ws 客户端发送缓冲已满，断开")
			h.removeLocked(c)
		}
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP 升级为 websocket 并注册客户端，阻塞到连接断开
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("ws 升级失败: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.WSClients.Add(1)
	log.Debugf("ws 客户端已连接: %s", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)

	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	log.Debugf("ws 客户端已断开: %s", r.RemoteAddr)
}

// readPump 客户端不发业务消息，只用来感知断开和处理 pong
func (h *Hub) readPump(c *wsClient) {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.close()
	metrics.WSClients.Add(-1)
}

// Close 取消订阅并断开所有客户端
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	for c := range h.clients {
		h.removeLocked(c)
	}
}
