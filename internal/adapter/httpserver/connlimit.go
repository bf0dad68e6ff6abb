package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// limitReason is the metric label of a rejected handshake.
type limitReason string

const (
	limitTotal limitReason = "total"
	limitPerIP limitReason = "per_ip"
	limitRate  limitReason = "rate"
)

const (
	idleLimiterTTL   = 10 * time.Minute
	limiterSweepTick = 5 * time.Minute
)

// connectionLimits caps concurrent sockets per instance and per address and
// throttles how fast one address may open new ones. A zero limit disables
// that check.
type connectionLimits struct {
	maxTotal int64
	total    atomic.Int64

	mu       sync.Mutex
	maxPerIP int
	perIP    map[string]int

	clock     clockwork.Clock
	rate      rate.Limit
	burst     int
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newConnectionLimits(maxTotal int64, maxPerIP int, perSecond float64, clock clockwork.Clock) *connectionLimits {
	return &connectionLimits{
		maxTotal:  maxTotal,
		maxPerIP:  maxPerIP,
		perIP:     make(map[string]int),
		clock:     clock,
		rate:      rate.Limit(perSecond),
		burst:     max(1, int(perSecond*2)),
		buckets:   make(map[string]*bucket),
		nextSweep: clock.Now().Add(limiterSweepTick),
	}
}

// acquire reserves a slot for ip. On success the caller must release it.
func (l *connectionLimits) acquire(ip string) (bool, limitReason) {
	if !l.allow(ip) {
		return false, limitRate
	}
	if !l.acquireTotal() {
		return false, limitTotal
	}
	if !l.acquireIP(ip) {
		l.total.Add(-1)
		return false, limitPerIP
	}
	return true, ""
}

func (l *connectionLimits) release(ip string) {
	l.mu.Lock()
	if n := l.perIP[ip]; n > 1 {
		l.perIP[ip] = n - 1
	} else {
		delete(l.perIP, ip)
	}
	l.mu.Unlock()

	l.total.Add(-1)
}

// open returns the number of sockets currently holding a slot.
func (l *connectionLimits) open() int64 {
	return l.total.Load()
}

func (l *connectionLimits) acquireTotal() bool {
	for {
		cur := l.total.Load()
		if l.maxTotal > 0 && cur >= l.maxTotal {
			return false
		}
		if l.total.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (l *connectionLimits) acquireIP(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxPerIP > 0 && l.perIP[ip] >= l.maxPerIP {
		return false
	}
	l.perIP[ip]++
	return true
}

func (l *connectionLimits) allow(ip string) bool {
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.nextSweep) {
		cutoff := now.Add(-idleLimiterTTL)
		for addr, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, addr)
			}
		}
		l.nextSweep = now.Add(limiterSweepTick)
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}
