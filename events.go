package main

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"dirbrowse/listing"
	"dirbrowse/session"
)

// wsWriteTimeout bounds one frame write, so a stalled client cannot hold up
// the operation that is broadcasting.
var wsWriteTimeout = 5 * time.Second

// entriesChunk is how many listing items go into one websocket frame.
const entriesChunk = 10

// wsRequest asks for the current listing.
type wsRequest struct {
	RequestID int `json:"requestId"`
}

// wsMessage is every frame the server sends. Type is one of state,
// notification or entries; an entries frame with no items ends a listing.
type wsMessage struct {
	Type         string                `json:"type"`
	RequestID    int                   `json:"requestId,omitempty"`
	State        *session.State        `json:"state,omitempty"`
	Notification *session.Notification `json:"notification,omitempty"`
	Items        []listing.Item        `json:"items,omitempty"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

// hub fans notifications and state changes out to every connected
// client. It is the session's Notifier.
type hub struct {
	logger  *zap.Logger
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(logger *zap.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*client]struct{})}
}

func (h *hub) Notify(n session.Notification) {
	h.logger.Info("notification",
		zap.String("severity", string(n.Severity)),
		zap.String("title", n.Title),
		zap.String("description", n.Description))
	h.broadcast(wsMessage{Type: "notification", Notification: &n})
}

func (h *hub) broadcastState(st session.State) {
	h.broadcast(wsMessage{Type: "state", State: &st})
}

func (h *hub) broadcast(msg wsMessage) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(msg); err != nil {
			h.logger.Debug("dropping websocket client", zap.Error(err))
			h.remove(c)
		}
	}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	targets := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range targets {
		_ = c.conn.Close()
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// handleEvents sends the current state on connect, then answers listing
// requests in chunks until the client goes away.
func (a *application) handleEvents(conn *websocket.Conn) {
	cl := &client{conn: conn}
	a.hub.add(cl)
	defer a.hub.remove(cl)
	a.logger.Debug("websocket connected", zap.Int("clients", a.hub.count()))

	st := a.ctrl.State()
	if err := cl.send(wsMessage{Type: "state", State: &st}); err != nil {
		return
	}

	for {
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			a.logger.Debug("websocket closed", zap.Error(err))
			return
		}
		entries := a.ctrl.State().Entries
		for i := 0; i < len(entries); i += entriesChunk {
			end := min(i+entriesChunk, len(entries))
			if err := cl.send(wsMessage{Type: "entries", RequestID: req.RequestID, Items: entries[i:end]}); err != nil {
				return
			}
		}
		if err := cl.send(wsMessage{Type: "entries", RequestID: req.RequestID}); err != nil {
			return
		}
	}
}
