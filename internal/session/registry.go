package session

import (
	"fmt"
	"sync"

	"ladder/internal/engine"
	"ladder/internal/exchange"
	"ladder/internal/metrics"
	"ladder/internal/plan"
	"ladder/internal/position"
)

// Session bundles everything a live trade needs: the venue client, the
// order manager, its monitor, and the runtime position state. One
// session per trade_id.
type Session struct {
	TradeID string
	Client  exchange.Client
	Plan    *plan.TradePlan
	State   *position.State
	Manager *engine.OrderManager
	Monitor *engine.Monitor
}

// Registry is the in-memory index of live sessions. It only stores and
// hands out sessions; starting and stopping them is the TradingService's
// job.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session; a second registration for the same trade is
// an error, the caller holds a stale or duplicate start.
func (r *Registry) Add(s *Session) error {
	if s == nil || s.TradeID == "" {
		return fmt.Errorf("session 不完整")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.TradeID]; ok {
		return fmt.Errorf("交易 %s 已在监控中", s.TradeID)
	}
	r.sessions[s.TradeID] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return nil
}

func (r *Registry) Get(tradeID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tradeID]
	return s, ok
}

// Remove drops the session from the index. The monitor goroutine is not
// touched here.
func (r *Registry) Remove(tradeID string) {
	r.mu.Lock()
	delete(r.sessions, tradeID)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
}

func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
