package invoice

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bnpl/invoice-engine/internal/metrics"
	"github.com/bnpl/invoice-engine/internal/signing"
)

// StatusMessage is pushed to checkout subscribers when an invoice is
// created or observed settled. AmountDueOutstanding is base units and
// empty when unknown.
type StatusMessage struct {
	Type                 string  `json:"type"`
	InvoiceID            string  `json:"invoice_id"`
	CorrelationID        string  `json:"correlation_id"`
	Status               string  `json:"status"`
	SettlementType       *string `json:"settlement_type,omitempty"`
	AmountDueOutstanding string  `json:"amount_due_outstanding,omitempty"`
}

type statusClient struct {
	conn *websocket.Conn
	send chan StatusMessage

	// correlationID filters delivery to one invoice; empty means all.
	correlationID string
}

// StatusHub fans invoice status transitions out to WebSocket
// subscribers. Checkout pages subscribe with ?correlation_id= to watch
// a single invoice; ops dashboards subscribe unfiltered.
type StatusHub struct {
	mu      sync.RWMutex
	clients map[*statusClient]struct{}

	register   chan *statusClient
	unregister chan *statusClient
	broadcast  chan StatusMessage

	// lastStatus suppresses duplicate notifications when repeated
	// status polls observe the same settled invoice.
	lastMu     sync.Mutex
	lastStatus map[string]string
}

// NewStatusHub creates a hub. Call Run in a goroutine before serving.
func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients:    make(map[*statusClient]struct{}),
		register:   make(chan *statusClient),
		unregister: make(chan *statusClient),
		broadcast:  make(chan StatusMessage, 64),
		lastStatus: make(map[string]string),
	}
}

// Run processes hub events until the process exits.
func (h *StatusHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.correlationID != "" && c.correlationID != msg.CorrelationID {
					continue
				}
				select {
				case c.send <- msg:
				default:
					// Slow consumer; drop the message rather than block the hub.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues a status message for delivery, suppressing repeats
// of the same type for the same correlation id.
func (h *StatusHub) Broadcast(msg StatusMessage) {
	h.lastMu.Lock()
	if h.lastStatus[msg.CorrelationID] == msg.Type {
		h.lastMu.Unlock()
		return
	}
	h.lastStatus[msg.CorrelationID] = msg.Type
	h.lastMu.Unlock()

	select {
	case h.broadcast <- msg:
	default:
		slog.Warn("status hub broadcast buffer full, dropping message",
			"correlation_id", msg.CorrelationID, "type", msg.Type)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Checkout pages are served from arbitrary merchant origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// HandleWS upgrades GET /api/public/ws. An optional correlation_id
// query parameter restricts delivery to one invoice.
func (h *StatusHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("correlation_id")
	if filter != "" {
		id, err := signing.ParseCorrelationID(filter)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid correlation_id (bytes32 hex)")
			return
		}
		filter = id.Hex()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}

	c := &statusClient{conn: conn, send: make(chan StatusMessage, 16), correlationID: filter}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

func (h *StatusHub) writePump(c *statusClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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

// readPump discards inbound frames; the protocol is push-only. It keeps
// the connection alive and detects client disconnects.
func (h *StatusHub) readPump(c *statusClient) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
