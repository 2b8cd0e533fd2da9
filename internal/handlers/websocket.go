package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/credsync/internal/interfaces"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the server middleware enforces the origin allow-list
	},
}

// WSMessage is a server push
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // serialises writes
}

func (c *wsClient) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// WebSocketHandler serves the message contract over /ws and pushes bus events
// to every connected client
type WebSocketHandler struct {
	logger           arbor.ILogger
	messages         *MessageHandler
	mu               sync.RWMutex
	clients          map[string]*wsClient
	captureThrottler *rate.Limiter // credentials_captured fires on every matching request
	serverInstanceID string        // clients use it to detect a server restart
}

// NewWebSocketHandler creates the handler and subscribes it to the event bus (events may be nil)
func NewWebSocketHandler(messages *MessageHandler, eventService interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		messages:         messages,
		clients:          make(map[string]*wsClient),
		captureThrottler: rate.NewLimiter(rate.Every(time.Second), 1),
		serverInstanceID: uuid.New().String(),
	}

	if eventService != nil {
		if err := eventService.SubscribeAll(h.onEvent); err != nil {
			logger.Warn().Err(err).Msg("Failed to subscribe WebSocket handler to events")
		}
	}

	logger.Debug().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h
}

// HandleWebSocket upgrades the connection and answers messages until the client leaves
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{id: uuid.New().String(), conn: conn}

	h.mu.Lock()
	h.clients[client.id] = client
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", client.id).Int("clients", count).Msg("WebSocket client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, client.id)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Str("client_id", client.id).Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	if err := client.write(WSMessage{Type: "hello", Payload: map[string]string{
		"client_id":          client.id,
		"server_instance_id": h.serverInstanceID,
	}}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = client.write(Reply{Error: "invalid message: " + err.Error()})
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}

		// Replies go out in arrival order per connection
		reply := h.messages.Dispatch(r.Context(), msg)
		if err := client.write(reply); err != nil {
			h.logger.Warn().Err(err).Str("client_id", client.id).Msg("Failed to send reply")
			return
		}
	}
}

func (h *WebSocketHandler) onEvent(ctx context.Context, event interfaces.Event) error {
	if event.Type == interfaces.EventCredentialsCaptured && !h.captureThrottler.Allow() {
		return nil
	}
	h.Broadcast(WSMessage{Type: string(event.Type), Payload: event.Payload})
	return nil
}

// Broadcast sends msg to all connected clients
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(msg); err != nil {
			h.logger.Warn().Err(err).Str("client_id", c.id).Msg("Failed to push event to client")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
