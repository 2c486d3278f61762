package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/pagesmith/orchestrator/internal/model"
)

// Client represents a WebSocket subscriber watching one job.
type Client struct {
	JobID string
	Conn  *websocket.Conn
	Send  chan []byte
}

// Hub fans job status snapshots out to WebSocket subscribers, grouped by
// job id.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu  sync.RWMutex
	log *zap.Logger
}

// BroadcastMessage carries a payload to one job's subscribers.
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// JobSnapshot is the message pushed on every state transition.
type JobSnapshot struct {
	Type            string          `json:"type"`
	JobID           string          `json:"job_id"`
	Status          model.JobStatus `json:"status"`
	CompletedStages []model.Stage   `json:"completed_stages"`
	Progress        int             `json:"progress"`
	Error           *string         `json:"error,omitempty"`
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		log:        log,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.log.Debug("ws client registered", zap.String("job_id", client.JobID))

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.JobID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.JobID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.JobID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NotifyJob pushes a snapshot of the job to its subscribers. Implements
// service.StatusNotifier.
func (h *Hub) NotifyJob(job model.Job) {
	snap := JobSnapshot{
		Type:            "job_status",
		JobID:           job.ID,
		Status:          job.Status,
		CompletedStages: job.CompletedStages,
		Progress:        job.Progress(),
		Error:           job.Error,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		h.log.Warn("marshal job snapshot failed", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: job.ID, Message: data}:
	default:
		// With the hub's broadcast buffer full the snapshot is dropped;
		// subscribers can re-sync from the status API.
	}
}

// HandleConnection serves one WebSocket subscriber until it disconnects.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string) {
	client := &Client{
		JobID: jobID,
		Conn:  c,
		Send:  make(chan []byte, 256),
	}

	h.register <- client
	defer func() { h.unregister <- client }()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop: we never expect client messages, but reading drains
	// control frames and detects disconnects.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
