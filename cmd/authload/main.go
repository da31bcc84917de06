// Command authload drives an embedded engine through login, authorize and
// refresh loops and reports latency percentiles per phase.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	mrand "math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logx"
	"github.com/MrEthical07/authcore/internal/userdir"
	"github.com/MrEthical07/authcore/password"
)

type sessionState struct {
	mu   sync.Mutex
	pair *authcore.TokenPair
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to open in the login phase")
		users       = flag.Int("users", 1000, "number of distinct users")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per authorize and refresh phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "acload", "cache key prefix")
		useArgon2   = flag.Bool("argon2", false, "verify credentials with argon2 instead of a constant-time stub")
		localCache  = flag.Int64("local-cache", 0, "denylist local cache size, 0 disables")
	)
	flag.Parse()

	logger := logx.New(logx.Config{Service: "authload", Format: "text", Output: os.Stderr})

	if *sessions <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var cleanup func()
	var client redis.UniversalClient
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			logger.Error("failed to start miniredis", "error", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		logger.Info("using miniredis", "addr", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		logger.Info("using redis", "addr", addr)
	}
	defer cleanup()

	verifier, err := buildVerifier(*users, *useArgon2)
	if err != nil {
		logger.Error("building verifier", "error", err)
		os.Exit(1)
	}

	cfg := authcore.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.AccessPrivateKey = randomKey()
	cfg.Token.RefreshPrivateKey = randomKey()
	cfg.Session.KeyPrefix = *prefix
	cfg.Cache.OperationTimeout = time.Second
	cfg.Cache.DenylistLocalCacheSize = *localCache
	cfg.Metrics.Enabled = true

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialVerifier(verifier).
		WithLogger(logger).
		Build()
	if err != nil {
		logger.Error("building engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]sessionState, *sessions)
	loginStats := runPhase(*sessions, *concurrency, func(_ *mrand.Rand, i int) error {
		lctx := authcore.WithClientIP(ctx, fmt.Sprintf("10.0.%d.%d", (i/250)%250, i%250))
		pair, err := engine.Login(lctx, userName(i%*users), "load-secret")
		if err != nil {
			return err
		}
		states[i].pair = pair
		return nil
	})

	live := make([]*sessionState, 0, len(states))
	for i := range states {
		if states[i].pair != nil {
			live = append(live, &states[i])
		}
	}
	if len(live) == 0 {
		logger.Error("login phase produced no sessions")
		os.Exit(1)
	}

	authorizeStats := runPhase(*ops, *concurrency, func(r *mrand.Rand, _ int) error {
		st := live[r.Intn(len(live))]
		st.mu.Lock()
		access := st.pair.AccessToken
		st.mu.Unlock()
		_, err := engine.Authorize(ctx, access)
		return err
	})

	refreshStats := runPhase(*ops, *concurrency, func(r *mrand.Rand, _ int) error {
		st := live[r.Intn(len(live))]
		st.mu.Lock()
		defer st.mu.Unlock()
		pair, err := engine.Refresh(ctx, st.pair.RefreshToken)
		if err != nil {
			return err
		}
		st.pair = pair
		return nil
	})

	fmt.Println("---- results ----")
	printStats("login", loginStats)
	printStats("authorize", authorizeStats)
	printStats("refresh", refreshStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("replay_detected=%d limiter_fail_open=%d\n",
		snap.Counters[authcore.MetricReplayDetected],
		snap.Counters[authcore.MetricLimiterFailOpen])
}

func userName(i int) string {
	return fmt.Sprintf("user-%d@load.test", i)
}

func randomKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return key
}

func buildVerifier(n int, useArgon2 bool) (authcore.CredentialVerifier, error) {
	if !useArgon2 {
		return authcore.CredentialVerifierFunc(func(_ context.Context, identifier, secret string) (authcore.Principal, error) {
			if secret != "load-secret" {
				return authcore.Principal{}, authcore.ErrInvalidCredentials
			}
			return authcore.Principal{UserID: identifier, Scope: []string{"read"}}, nil
		}), nil
	}

	params := password.DefaultParams()
	params.Memory = 8 * 1024
	params.Time = 1
	hasher, err := password.NewHasher(params)
	if err != nil {
		return nil, err
	}
	hash, err := hasher.Hash("load-secret")
	if err != nil {
		return nil, err
	}
	seed := make([]userdir.User, n)
	for i := range seed {
		seed[i] = userdir.User{
			ID:           fmt.Sprintf("u-%d", i),
			Identifier:   userName(i),
			PasswordHash: hash,
			Scope:        []string{"read"},
		}
	}
	return userdir.New(hasher, seed)
}

func runPhase(ops, concurrency int, op func(r *mrand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
