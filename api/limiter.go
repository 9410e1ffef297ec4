package api

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyunkyoun/moira/scope"
)

// minIdle is the shortest time an owner's bucket is kept after its last
// request.
const minIdle = time.Minute

// ownerLimiter holds one token bucket per owner. Buckets idle long enough
// to have refilled are swept, since a fresh bucket behaves the same.
type ownerLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newOwnerLimiter(perSecond float64, burst int) *ownerLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	refill := time.Duration(float64(burst) / perSecond * float64(time.Second))
	return &ownerLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    max(refill, minIdle),
		buckets: make(map[string]*bucket),
	}
}

// reserve takes a token for owner. It returns zero when the request may
// proceed, or how long the caller should wait.
func (l *ownerLimiter) reserve(owner string) time.Duration {
	return l.reserveAt(owner, time.Now())
}

func (l *ownerLimiter) reserveAt(owner string, now time.Time) time.Duration {
	l.mu.Lock()
	if !now.Before(l.nextSweep) {
		l.sweep(now)
	}
	b, ok := l.buckets[owner]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[owner] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		// Give the token back; the request is rejected, not delayed.
		res.CancelAt(now)
	}
	return delay
}

// sweep drops idle buckets. l.mu must be held.
func (l *ownerLimiter) sweep(now time.Time) {
	for owner, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idle {
			delete(l.buckets, owner)
		}
	}
	l.nextSweep = now.Add(l.idle)
}

// limitSubmissions rejects submissions over the owner's rate with 429.
func (a *API) limitSubmissions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		owner, _ := scope.Owner(r.Context())
		if wait := a.limiter.reserve(owner); wait > 0 {
			secs := int(math.Ceil(wait.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many submissions, retry later", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
