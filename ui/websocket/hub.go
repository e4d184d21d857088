package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/AzielCF/az-wap-broadcast/infrastructure/valkey"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	"github.com/sirupsen/logrus"
)

const (
	defaultBuffer  = 256
	publishTimeout = 3 * time.Second
	wsChannel      = "ws_broadcast"
)

type BroadcastMessage struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Owner     string         `json:"owner,omitempty"`
	Status    session.Status `json:"status,omitempty"`
	CanRetry  bool           `json:"can_retry"`
	Result    any            `json:"result"`
	SenderID  string         `json:"sender_id,omitempty"`
	At        time.Time      `json:"at"`
}

// conn is the subset of a websocket connection the hub writes to.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type registration struct {
	conn  conn
	owner string
}

// Hub fans notifications out to connected UIs. Delivery is at most once: when
// the buffer is full the notification is dropped.
type Hub struct {
	clients    map[conn]string // only touched by Run
	register   chan registration
	unregister chan conn
	broadcast  chan BroadcastMessage
	done       chan struct{}

	vk       *valkey.Client
	channel  string
	serverID string

	dropped int64
}

// NewHub builds a hub. vk may be nil; when set, messages are mirrored to other
// processes over Valkey pub/sub.
func NewHub(vk *valkey.Client, serverID string, buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	h := &Hub{
		clients:    make(map[conn]string),
		register:   make(chan registration),
		unregister: make(chan conn),
		broadcast:  make(chan BroadcastMessage, buffer),
		done:       make(chan struct{}),
		vk:         vk,
		channel:    wsChannel,
		serverID:   serverID,
	}
	return h
}

// Notify implements session.Notifier. It never blocks.
func (h *Hub) Notify(n session.Notification) {
	h.enqueue(BroadcastMessage{
		Code:      string(n.Code),
		Message:   n.Message,
		SessionID: n.SessionID,
		Owner:     n.Owner,
		Status:    n.Status,
		CanRetry:  n.CanRetry,
		Result:    n.Data,
		At:        n.At,
	})
}

func (h *Hub) enqueue(msg BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	default:
		atomic.AddInt64(&h.dropped, 1)
		logrus.Warnf("[WS] Buffer full, dropping %s notification", msg.Code)
	}
}

func (h *Hub) add(c conn, owner string) {
	select {
	case h.register <- registration{conn: c, owner: owner}:
	case <-h.done:
	}
}

func (h *Hub) remove(c conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dropped returns how many notifications were discarded.
func (h *Hub) Dropped() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// Run owns the client set until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.vk != nil {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.Close()
			}
			h.clients = map[conn]string{}
			logrus.Info("[WS] Hub stopped")
			return

		case reg := <-h.register:
			h.clients[reg.conn] = reg.owner
			logrus.Debugf("[WS] Connection registered for %s", reg.owner)

		case c := <-h.unregister:
			delete(h.clients, c)
			logrus.Debug("[WS] Connection unregistered")

		case msg := <-h.broadcast:
			h.deliverLocal(msg)
			if h.vk != nil && msg.SenderID == "" {
				h.publish(ctx, msg)
			}
		}
	}
}

// deliverLocal writes msg to every connection of its owner. Messages without an
// owner go to everyone.
func (h *Hub) deliverLocal(msg BroadcastMessage) {
	msg.SenderID = ""
	data, err := json.Marshal(msg)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}

	for c, owner := range h.clients {
		if msg.Owner != "" && owner != msg.Owner {
			continue
		}
		if err := c.WriteMessage(textMessage, data); err != nil {
			logrus.Errorf("[WS] Write error: %v", err)
			_ = c.Close()
			delete(h.clients, c)
		}
	}
}

func (h *Hub) publish(ctx context.Context, msg BroadcastMessage) {
	msg.SenderID = h.serverID
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := h.vk.Publish(pctx, h.channel, string(data)); err != nil {
		logrus.Errorf("[WS] Failed to publish to Valkey: %v", err)
	}
}

func (h *Hub) subscribe(ctx context.Context) {
	logrus.Info("[WS] Starting Valkey Pub/Sub subscriber for distributed events")
	err := h.vk.Subscribe(ctx, h.channel, func(payload string) {
		var msg BroadcastMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return
		}
		// Our own messages come back through the channel too.
		if msg.SenderID == "" || msg.SenderID == h.serverID {
			return
		}
		h.enqueue(msg)
	})
	if err != nil && ctx.Err() == nil {
		logrus.Errorf("[WS] Valkey subscriber failed: %v", err)
	}
}
