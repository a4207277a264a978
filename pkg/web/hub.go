package web

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dbehnke/dvbs2-tablegen/pkg/logger"
	"github.com/dbehnke/dvbs2-tablegen/pkg/metrics"
)

// WebSocketHub fans progress messages out to connected clients
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

// WebSocketMessage is the envelope of every websocket message
type WebSocketMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func newHub(log *logger.Logger, m *metrics.Metrics) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     log,
		metrics:    m,
	}
}

func (hub *WebSocketHub) run() {
	for {
		select {
		case <-hub.done:
			hub.mu.Lock()
			for client := range hub.clients {
				hub.drop(client)
			}
			hub.mu.Unlock()
			return

		case client := <-hub.register:
			hub.mu.Lock()
			hub.clients[client] = true
			hub.mu.Unlock()
			hub.metrics.ClientConnected()

		case client := <-hub.unregister:
			hub.mu.Lock()
			if hub.clients[client] {
				hub.drop(client)
			}
			hub.mu.Unlock()

		case message := <-hub.broadcast:
			hub.mu.Lock()
			for client := range hub.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					hub.drop(client)
				}
			}
			hub.mu.Unlock()
		}
	}
}

// drop must be called with hub.mu held
func (hub *WebSocketHub) drop(client *websocket.Conn) {
	delete(hub.clients, client)
	hub.metrics.ClientDisconnected()
	if err := client.Close(); err != nil {
		hub.logger.Debug("failed to close websocket client", logger.Error(err))
	}
}

// join registers client unless the hub has stopped
func (hub *WebSocketHub) join(client *websocket.Conn) bool {
	select {
	case hub.register <- client:
		return true
	case <-hub.done:
		return false
	}
}

func (hub *WebSocketHub) leave(client *websocket.Conn) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

// Publish queues a message for every client. Messages are dropped rather
// than blocking when the queue is full.
func (hub *WebSocketHub) Publish(messageType string, data interface{}) {
	payload, err := json.Marshal(WebSocketMessage{Type: messageType, Data: data})
	if err != nil {
		hub.logger.Error("Failed to marshal WebSocket message", logger.Error(err))
		return
	}

	select {
	case hub.broadcast <- payload:
	case <-hub.done:
	default:
		hub.logger.Warn("WebSocket broadcast channel full, dropping message",
			logger.String("message_type", messageType))
	}
}

// ClientCount returns the number of connected clients
func (hub *WebSocketHub) ClientCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

func (hub *WebSocketHub) close() {
	hub.closeOnce.Do(func() { close(hub.done) })
}
