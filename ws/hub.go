// Package ws is the in-browser live notification channel: one websocket
// hub keyed by user id, with any number of open sockets per user (tabs).
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

var _ notify.PushChannel = (*Hub)(nil)

// ErrNoConnection reports that a push found no open socket for the user.
// The notification row stays unread and the client catches up over HTTP.
var ErrNoConnection = errors.New("no websocket connection for user")

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks open sockets per user and fans notifications out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[*client]struct{}
	log     *zap.SugaredLogger

	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: map[uint]map[*client]struct{}{},
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// cross-origin is enforced by the CORS layer in front
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// pushPayload is the wire shape of a pushed notification.
type pushPayload struct {
	Message string `json:"message"`
	notify.Metadata
}

// Send implements notify.PushChannel: it serializes the notification and
// writes it to every open socket of the user. Reports ErrNoConnection when
// the user has no sockets, so the sent flag stays unset.
func (h *Hub) Send(ctx context.Context, userID uint, message string, meta notify.Metadata) error {
	raw, err := json.Marshal(pushPayload{Message: message, Metadata: meta})
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNoConnection
	}

	delivered := 0
	for _, c := range conns {
		select {
		case c.send <- raw:
			delivered++
		case <-ctx.Done():
			return ctx.Err()
		default:
			// the socket's write pump is saturated; drop rather than block
			h.log.Warnf("dropping push for user %d: slow websocket", userID)
		}
	}
	if delivered == 0 {
		return ErrNoConnection
	}
	return nil
}

// Online reports whether the user has at least one open socket.
func (h *Hub) Online(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Serve upgrades an authenticated HTTP request and pumps notifications to
// it until the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID uint) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade for user %d: %v", userID, err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(userID, c)

	go h.writePump(userID, c)
	h.readPump(userID, c)
}

func (h *Hub) register(userID uint, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = map[*client]struct{}{}
	}
	h.clients[userID][c] = struct{}{}
}

func (h *Hub) unregister(userID uint, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			if len(set) == 0 {
				delete(h.clients, userID)
			}
		}
	}
}

// readPump drains inbound frames (the client sends nothing meaningful)
// and keeps the pong deadline fresh. Returning unregisters the socket.
func (h *Hub) readPump(userID uint, c *client) {
	defer func() {
		h.unregister(userID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debugf("websocket for user %d closed: %v", userID, err)
			}
			return
		}
	}
}

func (h *Hub) writePump(userID uint, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
