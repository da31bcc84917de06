package rate

import (
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// Config holds the token-bucket parameters shared by every key.
type Config struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// Limiter is an in-process token bucket per key. It throttles request
// volume on one instance and complements the cache-backed lockout, which
// counts failures across instances.
type Limiter struct {
	limiters sync.Map // map[string]*xrate.Limiter
	rate     xrate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
	idleAfter   time.Duration
}

// New creates a Limiter from cfg.
func New(cfg Config) (*Limiter, error) {
	if cfg.RequestsPerWindow <= 0 || cfg.Window <= 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerWindow
	}
	return &Limiter{
		rate:        xrate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:       cfg.Burst,
		lastCleanup: time.Now(),
		idleAfter:   5 * time.Minute,
	}, nil
}

func (l *Limiter) get(key string) *xrate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*xrate.Limiter)
	}
	actual, _ := l.limiters.LoadOrStore(key, xrate.NewLimiter(l.rate, l.burst))
	l.maybeCleanup()
	return actual.(*xrate.Limiter)
}

// Allow consumes one token for key. When it refuses, retryAfter is the wait
// until the next token, rounded up to a whole second.
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	lim := l.get(key)
	if lim.Allow() {
		return true, 0
	}

	r := lim.Reserve()
	delay := r.Delay()
	r.Cancel()

	secs := (delay + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return false, secs * time.Second
}

// maybeCleanup drops limiters whose bucket has refilled, which means the key
// has been idle.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < l.idleAfter {
		return
	}
	l.lastCleanup = time.Now()

	l.limiters.Range(func(key, value any) bool {
		if value.(*xrate.Limiter).Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}
