package websocket

import (
	"encoding/json"
	"sync"

	"maskserver/internal/logger"
	"maskserver/internal/metrics"
	"maskserver/internal/models"
)

// Outbound event kinds.
const (
	EventDetectionUpdate       = "detection_update"
	EventStatisticsUpdate      = "statistics_update"
	EventAlertTriggered        = "alert_triggered"
	EventConnectionEstablished = "connection_established"
	EventPong                  = "pong"

	// inboundPing is the only inbound message type recognized.
	inboundPing = "ping"
)

// Event is the JSON envelope pushed to subscribers. Connection-established
// events carry Message instead of Data.
type Event struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// AlertPayload is the data of an alert_triggered event.
type AlertPayload struct {
	Message   string           `json:"message"`
	Detection models.Detection `json:"detection"`
}

const clientQueueSize = 32

// Client is one hub subscriber: a buffered outbound queue plus liveness
// state. Clients are owned by the hub and never shared between hubs.
type Client struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient() *Client {
	return &Client{
		send: make(chan []byte, clientQueueSize),
		done: make(chan struct{}),
	}
}

// Receive returns the outbound message queue for this client.
func (c *Client) Receive() <-chan []byte {
	return c.send
}

// Done is closed when the client is no longer live.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close marks the client dead. The hub prunes dead clients on the next
// delivery; closing twice is safe.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue attempts a non-blocking delivery. It reports false for a dead
// client or a saturated queue; the caller treats either as a send failure.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// HubService fans structured events out to every live subscriber. All
// mutation of the subscriber set happens on the Run goroutine, so Publish is
// safe to call concurrently with Subscribe/Unsubscribe and a disconnecting
// subscriber never contends on a lock the broadcast iteration holds.
type HubService struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewHubService(logger *logger.Logger, metrics *metrics.Metrics) *HubService {
	return &HubService{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    metrics,
	}
}

// Run processes registrations, removals and broadcasts until Stop. Exactly
// one Run goroutine per hub.
func (h *HubService) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.Close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()

			h.metrics.ActiveClients.Add(1)
			welcome, _ := json.Marshal(Event{
				Type:    EventConnectionEstablished,
				Message: "Connected to Face Mask Detection System",
			})
			client.enqueue(welcome)
			h.logger.Info("Client connected. Total: %d", total)

		case client := <-h.unregister:
			h.remove(client, "Client disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.enqueue(message) {
					delete(h.clients, client)
					client.Close()
					h.metrics.ActiveClients.Add(-1)
					h.logger.Warning("Dropped unresponsive client. Total: %d", len(h.clients))
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *HubService) remove(client *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	total := len(h.clients)
	h.mu.Unlock()

	client.Close()
	if ok {
		h.metrics.ActiveClients.Add(-1)
		h.logger.Info("%s. Total: %d", reason, total)
	}
}

// Stop shuts the hub down and closes every subscriber.
func (h *HubService) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Subscribe registers a new client. The connection-established event is
// queued for it immediately.
func (h *HubService) Subscribe() *Client {
	client := newClient()
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
	return client
}

// Unsubscribe removes a client. Idempotent.
func (h *HubService) Unsubscribe(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Publish fans an event out to every live subscriber. Send failures prune
// the failing subscriber and never abort delivery to the rest.
func (h *HubService) Publish(event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal %s event: %v", event.Type, err)
		return
	}
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// BroadcastDetections publishes a detection_update event.
func (h *HubService) BroadcastDetections(batch []models.Detection) {
	h.Publish(Event{Type: EventDetectionUpdate, Data: batch})
}

// BroadcastStatistics publishes a statistics_update event.
func (h *HubService) BroadcastStatistics(stats models.Statistics) {
	h.Publish(Event{Type: EventStatisticsUpdate, Data: stats})
}

// BroadcastAlert publishes an alert_triggered event.
func (h *HubService) BroadcastAlert(message string, det models.Detection) {
	h.Publish(Event{Type: EventAlertTriggered, Data: AlertPayload{Message: message, Detection: det}})
}

// HandleInbound processes one message received from a subscriber. Only ping
// is recognized (answered with a pong on that subscriber's queue);
// everything else is ignored.
func (h *HubService) HandleInbound(client *Client, raw []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != inboundPing {
		return
	}

	pong, _ := json.Marshal(Event{Type: EventPong})
	client.enqueue(pong)
}

// ConnectionCount returns the number of live subscribers.
func (h *HubService) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
