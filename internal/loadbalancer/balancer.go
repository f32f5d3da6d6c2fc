package loadbalancer

import (
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
)

// Upstream is one proxy backend with runtime health and traffic counters.
type Upstream struct {
	Name        string
	URL         *url.URL
	Weight      int
	HealthCheck string // health probe path, empty = no probe

	healthy  atomic.Bool
	requests atomic.Uint64
	failures atomic.Uint64
	inflight atomic.Int64
}

// NewUpstream creates an upstream that starts healthy.
func NewUpstream(name string, u *url.URL, weight int, healthCheck string) *Upstream {
	up := &Upstream{
		Name:        name,
		URL:         u,
		Weight:      weight,
		HealthCheck: healthCheck,
	}
	if up.Weight <= 0 {
		up.Weight = 1
	}
	up.healthy.Store(true)
	return up
}

// Healthy reports whether the upstream is eligible for selection.
func (u *Upstream) Healthy() bool { return u.healthy.Load() }

// SetHealthy updates the upstream's health flag.
func (u *Upstream) SetHealthy(healthy bool) { u.healthy.Store(healthy) }

// RecordRequest counts a request routed to this upstream.
func (u *Upstream) RecordRequest() { u.requests.Add(1) }

// RecordFailure counts a failed request to this upstream.
func (u *Upstream) RecordFailure() { u.failures.Add(1) }

// Acquire marks a request in flight; call Release when it completes.
func (u *Upstream) Acquire() { u.inflight.Add(1) }

// Release marks an in-flight request as completed.
func (u *Upstream) Release() { u.inflight.Add(-1) }

// Requests returns the total number of requests routed here.
func (u *Upstream) Requests() uint64 { return u.requests.Load() }

// Failures returns the total number of failed requests.
func (u *Upstream) Failures() uint64 { return u.failures.Load() }

// Inflight returns the number of requests currently in flight.
func (u *Upstream) Inflight() int64 { return u.inflight.Load() }

// Strategy selects an upstream from the healthy candidates. Candidates is
// never empty when Select is called.
type Strategy interface {
	Name() string
	Select(candidates []*Upstream) *Upstream
}

// NewStrategy builds a strategy by config name. Unknown names fall back to
// round robin.
func NewStrategy(name string) Strategy {
	switch name {
	case "least_connections":
		return &LeastConnections{}
	case "weighted_round_robin":
		return &WeightedRoundRobin{}
	case "random":
		return &Random{}
	default:
		return &RoundRobin{}
	}
}

// RoundRobin cycles through the healthy upstreams with a shared counter.
// The counter wraps naturally on overflow.
type RoundRobin struct {
	counter atomic.Uint64
}

func (*RoundRobin) Name() string { return "round_robin" }

func (rr *RoundRobin) Select(candidates []*Upstream) *Upstream {
	n := rr.counter.Add(1) - 1
	return candidates[n%uint64(len(candidates))]
}

// LeastConnections picks the upstream with the fewest in-flight requests.
type LeastConnections struct{}

func (*LeastConnections) Name() string { return "least_connections" }

func (*LeastConnections) Select(candidates []*Upstream) *Upstream {
	best := candidates[0]
	min := best.Inflight()
	for _, c := range candidates[1:] {
		if n := c.Inflight(); n < min {
			best, min = c, n
		}
	}
	return best
}

// WeightedRoundRobin distributes selections proportionally to weight,
// using a shared position counter over the expanded weight space.
type WeightedRoundRobin struct {
	counter atomic.Uint64
}

func (*WeightedRoundRobin) Name() string { return "weighted_round_robin" }

func (w *WeightedRoundRobin) Select(candidates []*Upstream) *Upstream {
	total := 0
	for _, c := range candidates {
		total += c.Weight
	}
	if total <= 0 {
		return candidates[0]
	}

	pos := int((w.counter.Add(1) - 1) % uint64(total))
	for _, c := range candidates {
		pos -= c.Weight
		if pos < 0 {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// Random picks a healthy upstream uniformly at random.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (*Random) Name() string { return "random" }

func (r *Random) Select(candidates []*Upstream) *Upstream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return candidates[r.rng.Intn(len(candidates))]
}

// Pool holds the configured upstreams and applies the strategy over the
// healthy subset.
type Pool struct {
	upstreams []*Upstream
	strategy  Strategy
}

// NewPool creates a pool with the given strategy.
func NewPool(upstreams []*Upstream, strategy Strategy) *Pool {
	return &Pool{upstreams: upstreams, strategy: strategy}
}

// Upstreams returns all configured upstreams.
func (p *Pool) Upstreams() []*Upstream { return p.upstreams }

// Strategy returns the active selection strategy.
func (p *Pool) Strategy() Strategy { return p.strategy }

// Pick selects a healthy upstream, or nil if none are healthy.
func (p *Pool) Pick() *Upstream {
	healthy := make([]*Upstream, 0, len(p.upstreams))
	for _, u := range p.upstreams {
		if u.Healthy() {
			healthy = append(healthy, u)
		}
	}
	if len(healthy) == 0 {
		return nil
	}
	return p.strategy.Select(healthy)
}
