// Package ratelimit implements per-domain politeness pacing and the
// concurrency caps. Each domain gets a token bucket with capacity 1 (strict
// pacing, no bursting) whose refill interval is the larger of the configured
// delay and the robots-declared crawl delay, plus a small random jitter so
// domains sharing a schedule do not align into a thundering herd.
package ratelimit

import (
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config configures a Governor.
type Config struct {
	// Delay is the configured minimum interval between requests to one domain.
	Delay time.Duration
	// JitterMin and JitterMax bound the random jitter added to each admit.
	JitterMin time.Duration
	JitterMax time.Duration
	// GlobalConcurrency caps total in-flight fetches.
	GlobalConcurrency int64
	// DomainConcurrency caps in-flight fetches per domain.
	DomainConcurrency int64
}

// Governor hands out dispatch times and in-flight slots.
type Governor struct {
	cfg    Config
	global *semaphore.Weighted

	mu      sync.Mutex
	domains map[string]*domainState
}

// domainState is the pacing state for one domain.
type domainState struct {
	limiter     *rate.Limiter
	slots       *semaphore.Weighted
	minInterval time.Duration
	lastAdmit   time.Time
	nextAllowed time.Time
	inflight    int
}

// NewGovernor creates a Governor. Zero concurrency values default to 1.
func NewGovernor(cfg Config) *Governor {
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 1
	}

	if cfg.DomainConcurrency <= 0 {
		cfg.DomainConcurrency = 1
	}

	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin
	}

	return &Governor{
		cfg:     cfg,
		global:  semaphore.NewWeighted(cfg.GlobalConcurrency),
		domains: make(map[string]*domainState),
	}
}

// Admit reserves the domain's next pacing token and returns the earliest
// time a request to it may be dispatched. The caller must not dispatch
// before the returned time. Reservations are ordered by call order, so the
// inter-request interval holds no matter how many workers are idle.
func (g *Governor) Admit(domain string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.state(domain)

	reservation := state.limiter.Reserve()

	// The previous jittered admit time is the pacing floor: the minimum
	// interval is measured from it, so jitter can only stretch the gap
	// between consecutive dispatches, never shrink it.
	admitAt := time.Now().Add(reservation.Delay())
	if floor := state.lastAdmit.Add(state.minInterval); !state.lastAdmit.IsZero() && admitAt.Before(floor) {
		admitAt = floor
	}
	admitAt = admitAt.Add(g.jitter())

	state.lastAdmit = admitAt
	state.nextAllowed = admitAt.Add(state.minInterval)

	return admitAt
}

// NextAllowedAt returns the earliest time the next Admit for the domain
// could allow dispatch. Unknown domains are ready immediately.
func (g *Governor) NextAllowedAt(domain string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.domains[domain]
	if !ok {
		return time.Time{}
	}

	return state.nextAllowed
}

// SetMinInterval raises the domain's pacing interval floor, typically from a
// robots.txt crawl-delay. Intervals never shrink below the configured delay.
func (g *Governor) SetMinInterval(domain string, interval time.Duration) {
	if interval < g.cfg.Delay {
		interval = g.cfg.Delay
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.state(domain)

	if interval == state.minInterval {
		return
	}

	state.minInterval = interval
	state.limiter.SetLimit(intervalLimit(interval))
}

// TryAcquire claims one global and one per-domain in-flight slot. Returns
// false, claiming nothing, when either cap is saturated.
func (g *Governor) TryAcquire(domain string) bool {
	if !g.global.TryAcquire(1) {
		return false
	}

	g.mu.Lock()
	state := g.state(domain)
	g.mu.Unlock()

	if !state.slots.TryAcquire(1) {
		g.global.Release(1)
		return false
	}

	g.mu.Lock()
	state.inflight++
	g.mu.Unlock()

	return true
}

// Release returns the slots claimed by TryAcquire.
func (g *Governor) Release(domain string) {
	g.mu.Lock()
	state := g.state(domain)
	state.inflight--
	g.mu.Unlock()

	state.slots.Release(1)
	g.global.Release(1)
}

// Inflight returns the domain's current in-flight fetch count.
func (g *Governor) Inflight(domain string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.domains[domain]
	if !ok {
		return 0
	}

	return state.inflight
}

// HasDomainSlot reports whether the domain could accept another in-flight
// fetch right now, without claiming anything.
func (g *Governor) HasDomainSlot(domain string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.domains[domain]
	if !ok {
		return true
	}

	return int64(state.inflight) < g.cfg.DomainConcurrency
}

// state returns the domain's pacing state, creating it lazily.
// Caller holds g.mu.
func (g *Governor) state(domain string) *domainState {
	state, ok := g.domains[domain]
	if !ok {
		state = &domainState{
			limiter:     rate.NewLimiter(intervalLimit(g.cfg.Delay), 1),
			slots:       semaphore.NewWeighted(g.cfg.DomainConcurrency),
			minInterval: g.cfg.Delay,
		}
		g.domains[domain] = state
	}

	return state
}

// jitter returns a random duration within the configured bounds.
func (g *Governor) jitter() time.Duration {
	spread := g.cfg.JitterMax - g.cfg.JitterMin
	if spread <= 0 {
		return g.cfg.JitterMin
	}

	return g.cfg.JitterMin + time.Duration(rand.Int63n(int64(spread)))
}

// intervalLimit converts a minimum interval to a rate limit. A zero or
// negative interval means unpaced.
func intervalLimit(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}

	return rate.Every(interval)
}
