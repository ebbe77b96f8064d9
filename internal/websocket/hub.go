// Package websocket pushes archive events to browser clients. Clients
// subscribe to mailboxes to hear about newly archived emails and may watch
// the health feed, which carries every stored health transition.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/welldanyogia/mailarchive/internal/health"
	"github.com/welldanyogia/mailarchive/internal/logger"
)

// MessageType represents the type of WebSocket message
type MessageType string

const (
	MessageTypeSubscribe     MessageType = "subscribe"
	MessageTypeUnsubscribe   MessageType = "unsubscribe"
	MessageTypeWatchHealth   MessageType = "watch_health"
	MessageTypeUnwatchHealth MessageType = "unwatch_health"
	MessageTypeEmailArchived MessageType = "email_archived"
	MessageTypeHealthChanged MessageType = "health_changed"
	MessageTypeError         MessageType = "error"
)

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      MessageType `json:"type"`
	MailboxID uint        `json:"mailbox_id,omitempty"`
	Message   interface{} `json:"message,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// EmailArchivedPayload announces a committed email
type EmailArchivedPayload struct {
	ID         uint   `json:"id"`
	MessageID  string `json:"message_id"`
	Subject    string `json:"subject,omitempty"`
	ArchivedAt string `json:"archived_at"`
}

// HealthChangedPayload mirrors health.Change on the wire
type HealthChangedPayload struct {
	Kind     string `json:"kind"`
	ID       uint   `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Error    string `json:"error,omitempty"`
	At       string `json:"at"`
	Cascaded bool   `json:"cascaded,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	clients map[*Client]bool

	// mailboxID -> set of clients
	subscriptions map[uint]map[*Client]bool

	// clients receiving health_changed
	watchers map[*Client]bool

	register           chan *Client
	unregister         chan *Client
	subscribe          chan *subscriptionRequest
	unsubscribeMailbox chan *subscriptionRequest
	watch              chan *watchRequest
	broadcast          chan *broadcastMessage
	done               chan struct{}
	stopOnce           sync.Once

	mu     sync.RWMutex
	logger *slog.Logger
	now    func() time.Time
}

type subscriptionRequest struct {
	client    *Client
	mailboxID uint
}

type watchRequest struct {
	client *Client
	on     bool
}

type broadcastMessage struct {
	mailboxID uint
	health    bool
	message   []byte
}

// NewHub creates a new Hub instance
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:            make(map[*Client]bool),
		subscriptions:      make(map[uint]map[*Client]bool),
		watchers:           make(map[*Client]bool),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
		subscribe:          make(chan *subscriptionRequest),
		unsubscribeMailbox: make(chan *subscriptionRequest),
		watch:              make(chan *watchRequest),
		broadcast:          make(chan *broadcastMessage, 256),
		done:               make(chan struct{}),
		logger:             logger.OrDefault(log),
		now:                time.Now,
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered")

		case req := <-h.subscribe:
			h.mu.Lock()
			if h.subscriptions[req.mailboxID] == nil {
				h.subscriptions[req.mailboxID] = make(map[*Client]bool)
			}
			h.subscriptions[req.mailboxID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed to mailbox", slog.Uint64("mailbox_id", uint64(req.mailboxID)))

		case req := <-h.unsubscribeMailbox:
			h.mu.Lock()
			if subscribers, ok := h.subscriptions[req.mailboxID]; ok {
				delete(subscribers, req.client)
				if len(subscribers) == 0 {
					delete(h.subscriptions, req.mailboxID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed from mailbox", slog.Uint64("mailbox_id", uint64(req.mailboxID)))

		case req := <-h.watch:
			h.mu.Lock()
			if req.on {
				h.watchers[req.client] = true
			} else {
				delete(h.watchers, req.client)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			targets := h.subscriptions[msg.mailboxID]
			if msg.health {
				targets = h.watchers
			}
			for client := range targets {
				select {
				case client.send <- msg.message:
				default:
					// Client buffer full, skip
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop ends Run and closes every client's send channel
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// remove must be called with mu held
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	delete(h.watchers, client)
	close(client.send)
	for mailboxID, subscribers := range h.subscriptions {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.subscriptions, mailboxID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.remove(client)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe subscribes a client to a mailbox
func (h *Hub) Subscribe(client *Client, mailboxID uint) {
	select {
	case h.subscribe <- &subscriptionRequest{client: client, mailboxID: mailboxID}:
	case <-h.done:
	}
}

// Unsubscribe unsubscribes a client from a mailbox
func (h *Hub) Unsubscribe(client *Client, mailboxID uint) {
	select {
	case h.unsubscribeMailbox <- &subscriptionRequest{client: client, mailboxID: mailboxID}:
	case <-h.done:
	}
}

// WatchHealth turns the health feed on or off for a client
func (h *Hub) WatchHealth(client *Client, on bool) {
	select {
	case h.watch <- &watchRequest{client: client, on: on}:
	case <-h.done:
	}
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// EmailArchived broadcasts a newly committed email to the mailbox's subscribers
func (h *Hub) EmailArchived(mailboxID, emailID uint, messageID, subject string) {
	h.enqueue(&broadcastMessage{mailboxID: mailboxID}, WSMessage{
		Type:      MessageTypeEmailArchived,
		MailboxID: mailboxID,
		Message: &EmailArchivedPayload{
			ID:         emailID,
			MessageID:  messageID,
			Subject:    subject,
			ArchivedAt: h.now().UTC().Format(time.RFC3339),
		},
	})
}

// HealthChanged broadcasts a health transition to every watcher. Registered
// last on the chain it sees cascaded changes before their cause.
func (h *Hub) HealthChanged(_ context.Context, _ *health.Chain, change health.Change) error {
	msg := WSMessage{
		Type: MessageTypeHealthChanged,
		Message: &HealthChangedPayload{
			Kind:     string(change.Kind),
			ID:       change.ID,
			From:     string(change.From),
			To:       string(change.To),
			Error:    change.Error,
			At:       change.At.UTC().Format(time.RFC3339),
			Cascaded: change.Cascaded,
		},
	}
	if change.Kind == health.KindMailbox {
		msg.MailboxID = change.ID
	}
	h.enqueue(&broadcastMessage{health: true}, msg)
	return nil
}

// enqueue never blocks the caller; events are dropped when the hub lags
func (h *Hub) enqueue(target *broadcastMessage, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", slog.Any("error", err))
		return
	}
	target.message = data

	select {
	case h.broadcast <- target:
	default:
		h.logger.Warn("broadcast queue full, event dropped", slog.String("type", string(msg.Type)))
	}
}
