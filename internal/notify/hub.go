// Package notify fans lifecycle events out to connected client sessions.
package notify

import (
	"log/slog"
	"sync"

	"cmdgate/internal/domain"
	"cmdgate/internal/metrics"
)

const defaultBufferSize = 16

// Hub tracks subscribed sessions and delivers events best-effort,
// at-most-once per connection, in publish order per recipient. A slow
// subscriber never blocks publishing: when its buffer is full the event is
// dropped and counted. Clients reconcile through the REST read operations,
// never through the stream alone.
type Hub struct {
	logger  *slog.Logger
	buffer  int
	metrics *metrics.Collector

	mu       sync.RWMutex
	sessions map[string]*session

	// forwarders receive every admin-directed event in addition to admin
	// sessions (e.g. the Telegram bridge).
	forwarders []func(domain.Event)
}

type session struct {
	userID string
	role   domain.Role
	ch     chan domain.Event
}

type HubConfig struct {
	BufferSize int
	Logger     *slog.Logger
	Metrics    *metrics.Collector
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	return &Hub{
		logger:   cfg.Logger,
		buffer:   cfg.BufferSize,
		metrics:  cfg.Metrics,
		sessions: make(map[string]*session),
	}
}

// Subscribe registers a session and returns its event stream. A second
// subscribe with the same session id replaces the first.
func (h *Hub) Subscribe(sessionID, userID string, role domain.Role) <-chan domain.Event {
	s := &session{userID: userID, role: role, ch: make(chan domain.Event, h.buffer)}

	h.mu.Lock()
	if old, ok := h.sessions[sessionID]; ok {
		close(old.ch)
	}
	h.sessions[sessionID] = s
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.Subscribers.Set(float64(n))
	h.logger.Info("session subscribed", "session_id", sessionID, "user_id", userID, "role", role)
	return s.ch
}

// Unsubscribe removes a session and closes its stream.
func (h *Hub) Unsubscribe(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	n := len(h.sessions)
	h.mu.Unlock()

	if ok {
		close(s.ch)
		h.metrics.Subscribers.Set(float64(n))
		h.logger.Info("session unsubscribed", "session_id", sessionID)
	}
}

// AddForwarder registers an out-of-band receiver for admin events.
// Must be called before the hub starts receiving publishes.
func (h *Hub) AddForwarder(fn func(domain.Event)) {
	h.forwarders = append(h.forwarders, fn)
}

// PublishToUser delivers ev to every active session of userID.
func (h *Hub) PublishToUser(userID string, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, s := range h.sessions {
		if s.userID == userID {
			h.deliver(id, s, ev)
		}
	}
}

// PublishToAdmins delivers ev to every session with the admin role and to
// all registered forwarders.
func (h *Hub) PublishToAdmins(ev domain.Event) {
	h.mu.RLock()
	for id, s := range h.sessions {
		if s.role == domain.RoleAdmin {
			h.deliver(id, s, ev)
		}
	}
	h.mu.RUnlock()

	for _, fn := range h.forwarders {
		fn(ev)
	}
}

func (h *Hub) deliver(sessionID string, s *session, ev domain.Event) {
	select {
	case s.ch <- ev:
		h.metrics.EventsPublished.Inc()
	default:
		h.metrics.EventsDropped.Inc()
		h.logger.Warn("event dropped: subscriber buffer full",
			"session_id", sessionID,
			"event", ev.Type,
		)
	}
}
