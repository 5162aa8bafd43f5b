package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"turtle-monitor/internal/metrics"
	"turtle-monitor/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// Message сообщение клиенту: снимок при подключении, затем отдельные показания
type Message struct {
	Type     string             `json:"type"`
	Snapshot *models.Snapshot   `json:"snapshot,omitempty"`
	Reading  *models.SensorView `json:"reading,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub рассылает свежие показания подключенным киоскам
type Hub struct {
	upgrader websocket.Upgrader
	snapshot func() models.Snapshot

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub создает hub; snapshot отдается каждому новому клиенту
func NewHub(snapshot func() models.Snapshot) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		snapshot: snapshot,
		clients:  make(map[*client]struct{}),
	}
}

// ServeHTTP обрабатывает GET /stream
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Print("upgrade failure:", err)
		return
	}

	snap := h.snapshot()
	data, err := json.Marshal(Message{Type: "snapshot", Snapshot: &snap})
	if err != nil {
		conn.Close()
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	c.send <- data
	if !h.add(c) {
		conn.Close()
		return
	}

	go h.writeLoop(c)
	go h.readLoop(c)
}

// PublishReading отправляет показание всем клиентам; медленные клиенты отключаются
func (h *Hub) PublishReading(view models.SensorView) {
	data, err := json.Marshal(Message{Type: "reading", Reading: &view})
	if err != nil {
		log.Printf("stream: marshal reading %s: %v\n", view.SensorID, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.removeLocked(c)
		}
	}
}

// Clients количество подключенных клиентов
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close отключает всех клиентов
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	metrics.StreamClients.Set(float64(len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.StreamClients.Set(float64(len(h.clients)))
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop читает только control-кадры, чтобы заметить отключение клиента
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
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
