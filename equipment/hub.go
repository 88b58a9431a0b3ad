package equipment

import (
	"sort"
	"sync"

	"github.com/younglifestyle/equiplink/common"
	"github.com/younglifestyle/equiplink/link"
)

// Hub is the registry of live sessions and fans frames out to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*link.Session

	logger  common.Logger
	metrics *Metrics
}

func NewHub(logger common.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = common.NopLogger()
	}
	return &Hub{
		sessions: make(map[string]*link.Session),
		logger:   logger,
		metrics:  metrics,
	}
}

// Register adds session. Registering the same session twice is a no-op.
func (h *Hub) Register(session *link.Session) {
	h.mu.Lock()
	h.sessions[session.ID()] = session
	n := len(h.sessions)
	h.mu.Unlock()

	h.metrics.sessions(n)
	h.logger.Info("session registered", "session", session.ID(), "remote", session.RemoteAddr(), "sessions", n)
}

// Unregister removes and closes the session. It reports whether the session
// was still registered; later calls for the same id do nothing.
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	session, ok := h.sessions[id]
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return false
	}
	if err := session.Close(); err != nil {
		h.logger.Debug("close session", "session", id, "error", err)
	}
	h.metrics.sessions(n)
	h.logger.Info("session removed", "session", id, "sessions", n)
	return true
}

// Broadcast sends body to every registered session and returns how many
// accepted it. Sessions whose write fails are unregistered.
func (h *Hub) Broadcast(body string) int {
	h.mu.RLock()
	snapshot := make([]*link.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range snapshot {
		if err := s.Send(body); err != nil {
			h.logger.Warn("broadcast failed, dropping session", "session", s.ID(), "error", err)
			h.Unregister(s.ID())
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// IDs returns the registered session ids in sorted order.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// CloseAll unregisters every session.
func (h *Hub) CloseAll() {
	for _, id := range h.IDs() {
		h.Unregister(id)
	}
}
