// FILE: internal/service/web/hub.go
package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sendcode_nexus/internal/shared/logger"
	"sendcode_nexus/proxypool"
	"sendcode_nexus/proxypool/model"
	"sendcode_nexus/proxypool/trial"
)

const broadcastBuffer = 256

// writeWait bounds a single write to a websocket client.
var writeWait = 10 * time.Second

// BatchStartEvent 在批次开始时广播
type BatchStartEvent struct {
	BatchID   string    `json:"batch_id"`
	Target    string    `json:"target"`
	Endpoints int       `json:"endpoints"`
	Timestamp time.Time `json:"timestamp"`
}

// TrialStatusEvent 广播单条试验状态行
type TrialStatusEvent struct {
	BatchID string       `json:"batch_id"`
	Status  trial.Status `json:"status"`
}

// WebSocketMessage 定义了 WebSocket 消息的通用格式
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts batch progress to
// them. It implements manager.Listener.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

var _ manager.Listener = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client registered.")
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebSocket client unregistered.")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("Error writing to websocket client.")
					// the read pump unregisters disconnected clients
				}
			}
			h.mu.Unlock()
		case <-h.quit:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and closes every client connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// ClientCount returns the number of registered websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) OnBatchStart(batchID, target string, endpoints int) {
	h.publish("batch_start", &BatchStartEvent{
		BatchID:   batchID,
		Target:    target,
		Endpoints: endpoints,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Hub) OnTrialStatus(batchID string, status trial.Status) {
	h.publish("trial_status", &TrialStatusEvent{BatchID: batchID, Status: status})
}

func (h *Hub) OnBatchFinish(result *model.AggregateResult) {
	h.publish("batch_finish", result)
}

func (h *Hub) publish(msgType string, data interface{}) {
	jsonMsg, err := json.Marshal(WebSocketMessage{Type: msgType, Data: data})
	if err != nil {
		logger.Error().Err(err).Str("type", msgType).Msg("Hub: Failed to marshal message")
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	default:
		logger.Debug().Str("type", msgType).Msg("Hub: Broadcast channel is full, dropping message.")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade websocket")
		return
	}
	select {
	case hub.register <- conn:
	case <-hub.quit:
		conn.Close()
		return
	}

	// Read pump, needed to notice when the client goes away.
	go func() {
		defer func() {
			select {
			case hub.unregister <- conn:
			case <-hub.quit:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("Unexpected websocket close error")
				}
				break
			}
		}
	}()
}
