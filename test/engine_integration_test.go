//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/redis/rueidis"

	"github.com/MrEthical07/authcore"
)

func TestLoginAuthorizeRefreshLogout(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine, _ := newEngine(t, b, nil)
			pair := login(t, engine, "alice")

			res, err := engine.Authorize(ctx, pair.AccessToken)
			if err != nil {
				t.Fatalf("authorize: %v", err)
			}
			if res.UserID != "u-alice" || res.SessionScope != pair.SessionScope {
				t.Fatalf("unexpected auth result %+v", res)
			}

			next, err := engine.Refresh(ctx, pair.RefreshToken)
			if err != nil {
				t.Fatalf("refresh: %v", err)
			}
			eventually(t, 2*time.Second, func() bool {
				_, err := engine.Authorize(ctx, pair.AccessToken)
				return errors.Is(err, authcore.ErrUnauthorized)
			})
			if _, err := engine.Authorize(ctx, next.AccessToken); err != nil {
				t.Fatalf("authorize rotated token: %v", err)
			}

			if err := engine.Logout(ctx, res.UserID, next.SessionScope); err != nil {
				t.Fatalf("logout: %v", err)
			}
			eventually(t, 2*time.Second, func() bool {
				_, err := engine.Authorize(ctx, next.AccessToken)
				return err != nil
			})
			if _, err := engine.Refresh(ctx, next.RefreshToken); !errors.Is(err, authcore.ErrRefreshRejected) {
				t.Fatalf("expected refresh rejection after logout, got %v", err)
			}
			if err := engine.Logout(ctx, res.UserID, next.SessionScope); err != nil {
				t.Fatalf("second logout must succeed: %v", err)
			}
		})
	}
}

func TestReplayEndsSession(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine, _ := newEngine(t, b, nil)
			pair := login(t, engine, "alice")
			other := login(t, engine, "alice")

			next, err := engine.Refresh(ctx, pair.RefreshToken)
			if err != nil {
				t.Fatalf("refresh: %v", err)
			}
			if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, authcore.ErrStaleToken) {
				t.Fatalf("expected stale token, got %v", err)
			}
			if _, err := engine.Refresh(ctx, next.RefreshToken); !errors.Is(err, authcore.ErrRefreshRejected) {
				t.Fatalf("replay must end the session, got %v", err)
			}

			// RevokeSession leaves other devices alone.
			if _, err := engine.Refresh(ctx, other.RefreshToken); err != nil {
				t.Fatalf("other session refresh: %v", err)
			}
		})
	}
}

func TestReplayRevokesAllSessions(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine, _ := newEngine(t, b, func(cfg *authcore.Config) {
				cfg.Session.ReplayPolicy = authcore.RevokeAllSessions
			})
			pair := login(t, engine, "alice")
			other := login(t, engine, "alice")

			if _, err := engine.Refresh(ctx, pair.RefreshToken); err != nil {
				t.Fatalf("refresh: %v", err)
			}
			if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, authcore.ErrStaleToken) {
				t.Fatalf("expected stale token, got %v", err)
			}
			if _, err := engine.Refresh(ctx, other.RefreshToken); !errors.Is(err, authcore.ErrRefreshRejected) {
				t.Fatalf("replay must end every session, got %v", err)
			}
			eventually(t, 2*time.Second, func() bool {
				_, err := engine.Authorize(ctx, other.AccessToken)
				return err != nil
			})
		})
	}
}

func TestRefreshRaceSingleWinner(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine, _ := newEngine(t, b, nil)
			pair := login(t, engine, "alice")

			const workers = 16
			start := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(workers)

			results := make(chan error, workers)
			for i := 0; i < workers; i++ {
				go func() {
					defer wg.Done()
					<-start
					_, err := engine.Refresh(ctx, pair.RefreshToken)
					results <- err
				}()
			}

			close(start)
			wg.Wait()
			close(results)

			success := 0
			for err := range results {
				switch {
				case err == nil:
					success++
				case errors.Is(err, authcore.ErrRefreshRejected):
				default:
					t.Fatalf("unexpected refresh error: %v", err)
				}
			}
			if success != 1 {
				t.Fatalf("expected exactly one winner, got %d", success)
			}
		})
	}
}

func TestBanRevokesEverything(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine, dir := newEngine(t, b, nil)
			first := login(t, engine, "alice")
			second := login(t, engine, "alice")
			bob := login(t, engine, "bob")

			n, err := engine.SessionCount(ctx, "u-alice")
			if err != nil || n != 2 {
				t.Fatalf("expected 2 sessions, got %d (%v)", n, err)
			}

			dir.ban("u-alice")
			if err := engine.Ban(ctx, "u-alice"); err != nil {
				t.Fatalf("ban: %v", err)
			}

			for _, pair := range []*authcore.TokenPair{first, second} {
				eventually(t, 2*time.Second, func() bool {
					_, err := engine.Authorize(ctx, pair.AccessToken)
					return err != nil
				})
				if _, err := engine.Refresh(ctx, pair.RefreshToken); err == nil {
					t.Fatal("refresh must fail after ban")
				}
			}
			if _, err := engine.Login(ctx, "alice", "pw-alice"); !errors.Is(err, authcore.ErrAccountBanned) {
				t.Fatalf("expected banned login, got %v", err)
			}
			if n, _ := engine.SessionCount(ctx, "u-alice"); n != 0 {
				t.Fatalf("expected no sessions after ban, got %d", n)
			}

			if _, err := engine.Authorize(ctx, bob.AccessToken); err != nil {
				t.Fatalf("other users are unaffected: %v", err)
			}
		})
	}
}

func TestLogoutAllThenRelogin(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			engine, _ := newEngine(t, b, nil)
			pair := login(t, engine, "alice")

			if err := engine.LogoutAll(ctx, "u-alice"); err != nil {
				t.Fatalf("logout all: %v", err)
			}
			eventually(t, 2*time.Second, func() bool {
				_, err := engine.Authorize(ctx, pair.AccessToken)
				return err != nil
			})

			// jti timestamps have millisecond resolution; the cutoff covers
			// everything minted up to and including its own millisecond.
			time.Sleep(5 * time.Millisecond)
			fresh := login(t, engine, "alice")
			eventually(t, 2*time.Second, func() bool {
				_, err := engine.Authorize(ctx, fresh.AccessToken)
				return err == nil
			})
		})
	}
}

func TestLockoutAcrossEngines(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			rdb, rc := b.setup(t)
			shared := backend{name: b.name, setup: func(*testing.T) (redis.UniversalClient, rueidis.Client) { return rdb, rc }}

			first, _ := newEngine(t, shared, nil)
			second, _ := newEngine(t, shared, nil)
			ctx := authcore.WithClientIP(context.Background(), "203.0.113.7")

			for i := 0; i < 5; i++ {
				engine := first
				if i%2 == 1 {
					engine = second
				}
				if _, err := engine.Login(ctx, "alice", "wrong"); !errors.Is(err, authcore.ErrInvalidCredentials) {
					t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
				}
			}

			_, err := second.Login(ctx, "alice", "pw-alice")
			var locked *authcore.LockedOutError
			if !errors.As(err, &locked) {
				t.Fatalf("expected lockout shared across instances, got %v", err)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			engine, _ := newEngine(t, b, nil)
			h := engine.Health(context.Background())
			if !h.SessionStoreOK || !h.DenylistOK || h.Err != nil {
				t.Fatalf("expected healthy backend, got %+v", h)
			}
		})
	}
}
