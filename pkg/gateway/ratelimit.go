package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// agentLimiters hands out one token-bucket rate.Limiter per agent ID,
// lazily created on first use. This is deliberately distinct from the
// MCP Tool Dispatcher's per-connection semaphore: that one caps
// concurrent in-flight tool calls on a single connection, this one caps
// the rate of new chat requests a single agent may issue against the
// HTTP ingress.
type agentLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	onCreate func(n int)
}

func newAgentLimiters(rps float64, burst int, onCreate func(n int)) *agentLimiters {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &agentLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		onCreate: onCreate,
	}
}

// Allow reports whether agentID may proceed right now, creating its
// limiter on first use.
func (a *agentLimiters) Allow(agentID string) bool {
	a.mu.Lock()
	l, ok := a.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(a.rps, a.burst)
		a.limiters[agentID] = l
		if a.onCreate != nil {
			a.onCreate(len(a.limiters))
		}
	}
	a.mu.Unlock()
	return l.Allow()
}
