package checkout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Factory builds a fresh session for a customer.
type Factory func(customerID string) *Session

// Registry keeps one in-memory session per customer and drops idle ones.
type Registry struct {
	factory Factory
	idle    time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(factory Factory, idle time.Duration, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		factory:  factory,
		idle:     idle,
		log:      log.Named("checkout_registry"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the customer's session, creating and loading it on first use.
// A session whose order has been placed is replaced by a fresh one.
func (r *Registry) Get(ctx context.Context, customerID string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[customerID]
	if ok && s.Completed() {
		ok = false
	}
	if !ok {
		s = r.factory(customerID)
		r.sessions[customerID] = s
	}
	r.mu.Unlock()

	if !ok {
		if err := s.Load(ctx); err != nil {
			r.Remove(customerID)
			return nil, err
		}
	}
	return s, nil
}

func (r *Registry) Remove(customerID string) {
	r.mu.Lock()
	delete(r.sessions, customerID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts sessions idle for longer than the registry's idle period.
// An idle session holding a captured payment without an order is kept and
// settled instead: its order is placed, or its payment refunded if the
// order is rejected. Settled sessions are evicted by a later sweep.
func (r *Registry) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	evicted := 0
	var unsettled []*Session
	for id, s := range r.sessions {
		last, evictable, pending := s.idleSince()
		if !last.Before(cutoff) {
			continue
		}
		switch {
		case evictable:
			delete(r.sessions, id)
			evicted++
		case pending:
			unsettled = append(unsettled, s)
		}
	}
	r.mu.Unlock()

	if evicted > 0 {
		r.log.Debug("evicted idle checkout sessions", zap.Int("count", evicted))
	}
	for _, s := range unsettled {
		_, err := s.RetryPlacement(ctx)
		if _, _, pending := s.idleSince(); pending {
			r.log.Warn("settling abandoned payment failed",
				zap.String("customer_id", s.CustomerID()),
				zap.Error(err))
			continue
		}
		r.log.Info("abandoned payment settled",
			zap.String("customer_id", s.CustomerID()),
			zap.Bool("order_placed", err == nil))
	}
	return evicted
}

func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}
