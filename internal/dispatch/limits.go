package dispatch

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/giantswarm/mcp-gateway/internal/mcperr"
)

// limiterPoolMax caps the number of tracked keys. When reached the pool
// resets wholesale; affected keys get a fresh burst, which is acceptable
// for a coarse protection limit.
const limiterPoolMax = 10000

// limiterPool holds one token bucket per key. A nil pool admits
// everything, which is how a zero-RPS configuration disables the limit.
type limiterPool struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiterPool{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// take consumes one token for the key. When denied it returns a wait
// estimate suitable for a Retry-After hint.
func (p *limiterPool) take(key string) (time.Duration, bool) {
	if p == nil {
		return 0, true
	}
	p.mu.Lock()
	lim := p.limiters[key]
	if lim == nil {
		if len(p.limiters) >= limiterPoolMax {
			p.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(p.limit, p.burst)
		p.limiters[key] = lim
	}
	p.mu.Unlock()

	if lim.Allow() {
		return 0, true
	}
	r := lim.Reserve()
	wait := r.Delay()
	r.Cancel()
	if wait <= 0 {
		wait = time.Second
	}
	return wait, false
}

// hostGate bounds concurrent upstream calls per host. A nil gate admits
// everything.
type hostGate struct {
	capacity int64

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func newHostGate(capacity int) *hostGate {
	if capacity <= 0 {
		return nil
	}
	return &hostGate{
		capacity: int64(capacity),
		sems:     make(map[string]*semaphore.Weighted),
	}
}

// acquire claims a slot for the host, failing immediately when the host
// is saturated. The returned release must be called exactly once.
func (g *hostGate) acquire(host string) (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	g.mu.Lock()
	sem := g.sems[host]
	if sem == nil {
		sem = semaphore.NewWeighted(g.capacity)
		g.sems[host] = sem
	}
	g.mu.Unlock()

	if !sem.TryAcquire(1) {
		return nil, mcperr.Newf(mcperr.KindRateLimited,
			"connection limit reached for %s", host).
			WithRetryAfter(time.Second)
	}
	return func() { sem.Release(1) }, nil
}
