package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"studytrack-backend/internal/middleware"
	"studytrack-backend/internal/models"
	"studytrack-backend/internal/monitor"
	"studytrack-backend/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub has two jobs. Outbound, it relays Redis pub/sub study updates to
// every connected client. Inbound, it parses telemetry frames from
// clients and forwards them to the activity monitor, acting as the
// monitor's input-capture Source.
type Hub struct {
	mu           sync.RWMutex
	connections  []*websocket.Conn
	handler      monitor.Handler
	redisClient  *redis.Client
	jwtAuth      *middleware.JWTAuth
	authRequired bool
	cancelSub    context.CancelFunc
}

func NewHub(redisClient *redis.Client, jwtAuth *middleware.JWTAuth, authRequired bool) *Hub {
	return &Hub{
		redisClient:  redisClient,
		jwtAuth:      jwtAuth,
		authRequired: authRequired,
	}
}

// Start implements monitor.Source. The hub is always able to accept
// telemetry, so this never fails; it just attaches the handler events
// get forwarded to.
func (h *Hub) Start(handler monitor.Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
	return nil
}

// Stop implements monitor.Source.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = nil
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.authRequired {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := h.jwtAuth.ValidateToken(tokenStr); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.registerConnection(conn)

	go func() {
		defer h.unregisterConnection(conn)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.handleTelemetry(data)
		}
	}()
}

func (h *Hub) handleTelemetry(data []byte) {
	var msg models.TelemetryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	if handler == nil {
		return
	}

	switch msg.Type {
	case "keyboard":
		handler.KeyPress(msg.Key)
	case "mouse_move":
		handler.MouseMove(msg.X, msg.Y)
	case "mouse_click":
		handler.MouseClick(msg.X, msg.Y)
	}
}

func (h *Hub) registerConnection(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections = append(h.connections, conn)

	// First connection opens the pub/sub subscription
	if len(h.connections) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelSub = cancel
		go h.subscribeToPubSub(ctx)
	}

	log.Printf("WebSocket connected (total: %d)", len(h.connections))
}

func (h *Hub) unregisterConnection(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()

	for i, c := range h.connections {
		if c == conn {
			h.connections = append(h.connections[:i], h.connections[i+1:]...)
			break
		}
	}

	if len(h.connections) == 0 && h.cancelSub != nil {
		h.cancelSub()
		h.cancelSub = nil
	}

	log.Printf("WebSocket disconnected (total: %d)", len(h.connections))
}

func (h *Hub) subscribeToPubSub(ctx context.Context) {
	pubsub := h.redisClient.Subscribe(ctx, services.UpdatesChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast([]byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections {
		conn.WriteMessage(websocket.TextMessage, data)
	}
}
