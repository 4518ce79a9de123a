// Package notify broadcasts extraction events to websocket subscribers. The
// parent dashboard connects to the event feed to show knowledge graph updates
// as they happen; the feed is observability only and nothing in the pipeline
// depends on a subscriber being connected.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket"

	"github.com/lunalabs/luna-relay/internal/kg"
)

const (
	clientBuffer  = 64
	writeTimeout  = 10 * time.Second
	broadcastSize = 256
)

// Hub fans extraction events out to connected websocket clients. Slow clients
// are disconnected rather than allowed to back-pressure the pipeline.
type Hub struct {
	log       *log.Logger
	broadcast chan kg.Event

	mu      sync.Mutex
	clients map[*client]bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub(logger *log.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		log:       logger.With("component", "notify"),
		broadcast: make(chan kg.Event, broadcastSize),
		clients:   make(map[*client]bool),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

// ExtractionCompleted implements kg.EventSink. It never blocks: when the
// broadcast channel is full the event is dropped.
func (h *Hub) ExtractionCompleted(ev kg.Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("broadcast channel full, dropping event", "conversation", ev.ConversationID)
	}
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Error("failed to marshal event", "error", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Slow client; drop it.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Info("event feed client connected", "total", total)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")
	for data := range c.send {
		ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.drop(c)
			return
		}
	}
}

// readPump drains the connection to detect disconnects; clients have nothing
// to say to the feed.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close(websocket.StatusNormalClosure, "")
	for {
		if _, _, err := c.conn.Read(h.ctx); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close stops the broadcast loop and disconnects all clients.
func (h *Hub) Close() {
	h.cancel()
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
	h.clients = make(map[*client]bool)
}
