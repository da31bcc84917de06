package denylist

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/dgraph-io/ristretto"
)

// Verdict is the outcome of a denylist lookup.
type Verdict int

const (
	Allowed Verdict = iota
	TokenRevoked
	UserRevoked
)

func (v Verdict) String() string {
	switch v {
	case TokenRevoked:
		return "token_revoked"
	case UserRevoked:
		return "user_revoked"
	default:
		return "allowed"
	}
}

// Options configures a Denylist.
type Options struct {
	// Prefix namespaces keys. Defaults to "ac".
	Prefix string
	// ClockSkew is added to every TTL so entries outlive the verifier's
	// leeway.
	ClockSkew time.Duration
	// UserTTL bounds user cutoff entries. It must be at least the access
	// token lifetime.
	UserTTL time.Duration
	// LocalCacheSize enables an in-process cache of revoked jtis holding up
	// to this many entries. Only positive hits are cached.
	LocalCacheSize int64
}

// Denylist records and checks revocations.
type Denylist struct {
	backend   Backend
	prefix    string
	clockSkew time.Duration
	userTTL   time.Duration
	local     *ristretto.Cache
}

// New creates a Denylist over backend.
func New(backend Backend, opts Options) (*Denylist, error) {
	if opts.Prefix == "" {
		opts.Prefix = "ac"
	}
	if opts.UserTTL <= 0 {
		opts.UserTTL = 15 * time.Minute
	}

	d := &Denylist{
		backend:   backend,
		prefix:    opts.Prefix,
		clockSkew: opts.ClockSkew,
		userTTL:   opts.UserTTL,
	}
	if opts.LocalCacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: opts.LocalCacheSize * 10,
			MaxCost:     opts.LocalCacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		d.local = cache
	}
	return d, nil
}

func (d *Denylist) tokenKey(jti string) string {
	return d.prefix + ":dl:j:" + jti
}

func (d *Denylist) userKey(tenantID, userID string) string {
	if tenantID == "" {
		tenantID = "0"
	}
	return d.prefix + ":dl:u:" + internal.KeyPart(tenantID) + ":" + internal.KeyPart(userID)
}

// DenyToken revokes jti for the remaining lifetime of its token. A token
// that has already expired needs no entry.
func (d *Denylist) DenyToken(ctx context.Context, jti string, remaining time.Duration) error {
	if jti == "" || remaining <= 0 {
		return nil
	}
	ttl := remaining + d.clockSkew
	if err := d.backend.Set(ctx, d.tokenKey(jti), "1", ttl); err != nil {
		return err
	}
	if d.local != nil {
		d.local.SetWithTTL(jti, struct{}{}, 1, ttl)
		d.local.Wait()
	}
	return nil
}

// DenyUser revokes every token of the user minted at or before cutoff.
func (d *Denylist) DenyUser(ctx context.Context, tenantID, userID string, cutoff time.Time) error {
	value := strconv.FormatInt(cutoff.UnixMilli(), 10)
	return d.backend.Set(ctx, d.userKey(tenantID, userID), value, d.userTTL+d.clockSkew)
}

// UserCutoff returns the user's current revocation cutoff, or the zero time
// when none is set. Tokens for the user must be minted after it to pass
// Check.
func (d *Denylist) UserCutoff(ctx context.Context, tenantID, userID string) (time.Time, error) {
	vals, err := d.backend.GetMulti(ctx, d.userKey(tenantID, userID))
	if err != nil {
		return time.Time{}, err
	}
	if len(vals) == 0 || vals[0] == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(vals[0], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: malformed user cutoff %q", ErrCacheUnavailable, vals[0])
	}
	return time.UnixMilli(ms), nil
}

// Check reports whether the token identified by jti, belonging to the
// user, has been revoked. Both keys are read in one round trip. Any error
// must be treated as a denial by the caller.
func (d *Denylist) Check(ctx context.Context, tenantID, userID, jti string) (Verdict, error) {
	if d.local != nil {
		if _, ok := d.local.Get(jti); ok {
			return TokenRevoked, nil
		}
	}

	vals, err := d.backend.GetMulti(ctx, d.tokenKey(jti), d.userKey(tenantID, userID))
	if err != nil {
		return TokenRevoked, err
	}
	if vals[0] != "" {
		return TokenRevoked, nil
	}
	if vals[1] == "" {
		return Allowed, nil
	}

	cutoffMS, err := strconv.ParseInt(vals[1], 10, 64)
	if err != nil {
		return UserRevoked, nil
	}
	minted, err := internal.JTITime(jti)
	if err != nil {
		return UserRevoked, nil
	}
	if minted.UnixMilli() <= cutoffMS {
		return UserRevoked, nil
	}
	return Allowed, nil
}

// Ping checks backend reachability.
func (d *Denylist) Ping(ctx context.Context) error {
	return d.backend.Ping(ctx)
}

// Close releases the local cache.
func (d *Denylist) Close() {
	if d.local != nil {
		d.local.Close()
	}
}
