package realtime

import (
	"log/slog"
	"sync"
	"time"

	"gatehouse/cmd/internal/metrics"
)

// Hub tracks live connections per user and pushes session revocations to
// them. It satisfies protocol.Notifier.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	users map[string]map[string]*Client
}

// NewHub constructs a Hub. m may be nil.
func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		users:   make(map[string]map[string]*Client),
	}
}

func (h *Hub) Register(c *Client) {
	if c == nil || c.UserID == "" || c.ID == "" {
		return
	}
	h.mu.Lock()
	set := h.users[c.UserID]
	if set == nil {
		set = make(map[string]*Client)
		h.users[c.UserID] = set
	}
	set[c.ID] = c
	h.mu.Unlock()

	h.metrics.WSClients(1)
	h.log.Info("ws.client.register", "user_id", c.UserID, "connection_id", c.ID)
}

// Unregister removes c and then signals it to stop.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}
	h.mu.Lock()
	set := h.users[c.UserID]
	_, ok := set[c.ID]
	if ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(h.users, c.UserID)
		}
	}
	h.mu.Unlock()

	c.Close()
	if ok {
		h.metrics.WSClients(-1)
		h.log.Info("ws.client.unregister", "user_id", c.UserID, "connection_id", c.ID)
	}
}

// Connected returns how many connections userID has open.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// SessionRevoked tells every connection of userID that sessionID is gone.
// The connection that authenticated with that session is closed after the
// event is delivered.
func (h *Hub) SessionRevoked(userID, sessionID string) {
	now := h.now()
	h.fanout(userID, TypeSessionRevoked, func(c *Client) outbound {
		current := c.SessionID != "" && c.SessionID == sessionID
		return outbound{
			env:        newEnvelope(TypeSessionRevoked, SessionRevokedPayload{SessionID: sessionID, Current: current}, now),
			closeAfter: current,
		}
	})
}

// AllSessionsRevoked tells every connection of userID how many sessions were
// removed and closes them all.
func (h *Hub) AllSessionsRevoked(userID string, removed int64) {
	env := newEnvelope(TypeSessionsRevoked, SessionsRevokedPayload{Removed: removed}, h.now())
	h.fanout(userID, TypeSessionsRevoked, func(*Client) outbound {
		return outbound{env: env, closeAfter: true}
	})
}

// fanout never blocks. A client whose queue is full is closed instead, since
// a missed revocation must not leave it connected.
func (h *Hub) fanout(userID, typ string, build func(*Client) outbound) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[userID]))
	for _, c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		m := build(c)
		if !c.offer(m) {
			h.log.Warn("ws.push.drop", "user_id", userID, "connection_id", c.ID, "type", typ)
			c.Close()
			continue
		}
		h.metrics.WSPush(typ)
	}
	if len(targets) > 0 {
		h.log.Info("ws.push", "type", typ, "user_id", userID, "connections", len(targets))
	}
}
