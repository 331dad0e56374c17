package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// Hub fans progress events out to connected websocket clients. Broadcast
// never blocks the sync loop: when the channel is full the event is
// dropped, since progress events are advisory and the next one supersedes
// the last.
type Hub struct {
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex
	broadcast chan []byte
	logger    zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan []byte, 256),
		logger:    logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Run delivers broadcast messages until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.clientsMu.RLock()
			for conn := range h.clients {
				writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
				if err := conn.Write(writeCtx, websocket.MessageText, msg); err != nil {
					h.logger.Debug().Err(err).Msg("websocket write failed")
				}
				cancel()
			}
			h.clientsMu.RUnlock()
		}
	}
}

// Broadcast queues a JSON-encoded message for all clients, dropping it if
// the queue is full.
func (h *Hub) Broadcast(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to encode broadcast message")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug().Msg("broadcast queue full, dropping event")
	}
}

// ServeWS upgrades the connection and parks it in the client set. The
// read loop exists only to detect disconnects; clients never send data.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Debug().Int("clients", count).Msg("websocket client connected")

	defer func() {
		h.clientsMu.Lock()
		delete(h.clients, conn)
		h.clientsMu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug().Msg("websocket client disconnected")
	}()

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for conn := range h.clients {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
}
