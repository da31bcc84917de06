package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the failed-login lockout limiter.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
	Prefix    string
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// Decision is the result of a lockout check.
type Decision struct {
	Locked    bool
	Remaining time.Duration
	Attempts  int
}

// LockoutLimiter counts consecutive failed logins per (identity, origin)
// and reports a lockout once the threshold is reached. Every failure
// refreshes the window, so the lock lifts Window after the last failure.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutLimiter creates a new lockout limiter.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "ac"
	}
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func (l *LockoutLimiter) key(identity, origin string) string {
	identity = strings.ToLower(strings.TrimSpace(identity))
	return l.config.Prefix + ":lk:" + internal.Fingerprint(identity, origin)
}

// Check reports whether (identity, origin) is locked. It never resets the
// counter.
func (l *LockoutLimiter) Check(ctx context.Context, identity, origin string) (Decision, error) {
	if l == nil || !l.config.Enabled {
		return Decision{}, nil
	}

	key := l.key(identity, origin)
	var getCmd *redis.StringCmd
	var ttlCmd *redis.DurationCmd
	_, err := l.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, key)
		ttlCmd = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	attempts, err := getCmd.Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Decision{}, nil
		}
		return Decision{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	d := Decision{Attempts: attempts}
	if attempts < l.config.Threshold {
		return d, nil
	}

	d.Locked = true
	d.Remaining = roundUpSeconds(ttlCmd.Val())
	if d.Remaining <= 0 {
		d.Remaining = time.Second
	}
	return d, nil
}

// RecordFailure increments the counter and refreshes its window. It returns
// the new attempt count.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, identity, origin string) (int, error) {
	if l == nil || !l.config.Enabled {
		return 0, nil
	}

	key := l.key(identity, origin)
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, l.config.Window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(incr.Val()), nil
}

// RecordSuccess clears the counter.
func (l *LockoutLimiter) RecordSuccess(ctx context.Context, identity, origin string) error {
	if l == nil || !l.config.Enabled {
		return nil
	}

	if err := l.redis.Del(ctx, l.key(identity, origin)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func roundUpSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}
