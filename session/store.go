package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNoSession is returned when no record exists for the scope.
	ErrNoSession = errors.New("no session")
	// ErrStaleToken is returned when the presented refresh jti is not the current one.
	ErrStaleToken = errors.New("stale refresh token")
	// ErrSessionExpired is returned when the record outlived its refresh or absolute lifetime.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionLimit is returned by Start when the per-user session cap is reached.
	ErrSessionLimit = errors.New("session limit reached")
	// ErrCacheUnavailable wraps every Redis failure.
	ErrCacheUnavailable = errors.New("session cache unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

// KEYS: session, index. ARGV: scope, rj, aj, iat, exp, cat, ae, ttl ms, max sessions, key prefix.
const startSessionScript = `
local function keypart(s)
  return (string.gsub(string.gsub(s, "%%", "%%25"), ":", "%%3A"))
end
local max = tonumber(ARGV[9])
if max > 0 and redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 0 then
  local members = redis.call("SMEMBERS", KEYS[2])
  local live = 0
  for _, scope in ipairs(members) do
    if redis.call("EXISTS", ARGV[10] .. keypart(scope)) == 1 then
      live = live + 1
    else
      redis.call("SREM", KEYS[2], scope)
    end
  end
  if live >= max then
    return 0
  end
end
local ttl = tonumber(ARGV[8])
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "rj", ARGV[2], "aj", ARGV[3], "iat", ARGV[4], "exp", ARGV[5], "cat", ARGV[6], "ae", ARGV[7])
redis.call("PEXPIRE", KEYS[1], ttl)
redis.call("SADD", KEYS[2], ARGV[1])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

// KEYS: session, index. ARGV: presented rj, next rj, next aj, iat, exp, ae, now ms, absolute ms, scope.
const rotateRefreshScript = `
local flat = redis.call("HGETALL", KEYS[1])
if #flat == 0 then
  return {0}
end
local h = {}
for i = 1, #flat, 2 do
  h[flat[i]] = flat[i + 1]
end
local now = tonumber(ARGV[7])
local abs = tonumber(ARGV[8])
local exp = tonumber(h["exp"] or "0")
local cat = tonumber(h["cat"] or "0")
if exp <= now or (abs > 0 and cat + abs <= now) then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[2], ARGV[9])
  return {1}
end
if h["rj"] ~= ARGV[1] then
  return {2}
end
local nextExp = tonumber(ARGV[5])
if abs > 0 and cat + abs < nextExp then
  nextExp = cat + abs
end
local ttl = nextExp - now
redis.call("HSET", KEYS[1], "rj", ARGV[2], "aj", ARGV[3], "iat", ARGV[4], "exp", string.format("%d", nextExp), "ae", ARGV[6])
redis.call("PEXPIRE", KEYS[1], ttl)
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return {3, string.format("%d", nextExp), unpack(flat)}
`

// KEYS: session, index. ARGV: scope.
const endSessionScript = `
local flat = redis.call("HGETALL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if #flat == 0 then
  return {}
end
redis.call("DEL", KEYS[1])
return flat
`

var (
	startSessionLua  = redis.NewScript(startSessionScript)
	rotateRefreshLua = redis.NewScript(rotateRefreshScript)
	endSessionLua    = redis.NewScript(endSessionScript)
)

// Options configures a Store.
type Options struct {
	// Prefix namespaces every key. Defaults to "ac".
	Prefix string
	// AbsoluteLifetime caps a session from its creation regardless of
	// rotation. Zero disables the cap.
	AbsoluteLifetime time.Duration
	// MaxSessionsPerUser rejects new scopes beyond this many. Zero disables it.
	MaxSessionsPerUser int
	Now                func() time.Time
}

// Store is the session registry. It holds no process-local session state.
type Store struct {
	redis            redis.UniversalClient
	prefix           string
	absoluteLifetime time.Duration
	maxSessions      int
	now              func() time.Time
}

// NewStore creates a registry backed by rdb.
func NewStore(rdb redis.UniversalClient, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "ac"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		redis:            rdb,
		prefix:           opts.Prefix,
		absoluteLifetime: opts.AbsoluteLifetime,
		maxSessions:      opts.MaxSessionsPerUser,
		now:              opts.Now,
	}
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// Key components are escaped with internal.KeyPart; the Lua scripts apply
// the same escaping to scopes read from the user index.
func (s *Store) keyPrefix(tenantID, userID string) string {
	return s.prefix + ":s:" + internal.KeyPart(normalizeTenantID(tenantID)) + ":" + internal.KeyPart(userID) + ":"
}

func (s *Store) key(tenantID, userID, scope string) string {
	return s.keyPrefix(tenantID, userID) + internal.KeyPart(scope)
}

func (s *Store) userKey(tenantID, userID string) string {
	return s.prefix + ":u:" + internal.KeyPart(normalizeTenantID(tenantID)) + ":" + internal.KeyPart(userID)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
}

// Start writes the record for rec's scope, replacing any previous one. The
// record lives until rec.ExpiresAt, capped by the absolute lifetime.
func (s *Store) Start(ctx context.Context, rec *Record) error {
	if rec == nil || rec.UserID == "" || rec.Scope == "" || rec.RefreshJTI == "" {
		return errors.New("session record requires user, scope and refresh jti")
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = now
	}
	if s.absoluteLifetime > 0 {
		if limit := rec.CreatedAt.Add(s.absoluteLifetime); limit.Before(rec.ExpiresAt) {
			rec.ExpiresAt = limit
		}
	}
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return ErrSessionExpired
	}
	rec.TenantID = normalizeTenantID(rec.TenantID)

	res, err := startSessionLua.Run(ctx, s.redis,
		[]string{s.key(rec.TenantID, rec.UserID, rec.Scope), s.userKey(rec.TenantID, rec.UserID)},
		rec.Scope,
		rec.RefreshJTI,
		rec.AccessJTI,
		msString(rec.IssuedAt),
		msString(rec.ExpiresAt),
		msString(rec.CreatedAt),
		msString(rec.AccessExpiresAt),
		ttl.Milliseconds(),
		s.maxSessions,
		s.keyPrefix(rec.TenantID, rec.UserID),
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	if res == 0 {
		return ErrSessionLimit
	}
	return nil
}

// ValidateAndRotate swaps the current refresh jti for next.RefreshJTI if and
// only if presentedJTI is the current one. It returns the record as it was
// before the swap, with ExpiresAt set to the new expiry.
//
// A stale presentation leaves the record in place so the caller decides how
// far to revoke. An expired record is deleted.
func (s *Store) ValidateAndRotate(ctx context.Context, tenantID, userID, scope, presentedJTI string, next Rotation) (*Record, error) {
	tenantID = normalizeTenantID(tenantID)
	result, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.key(tenantID, userID, scope), s.userKey(tenantID, userID)},
		presentedJTI,
		next.RefreshJTI,
		next.AccessJTI,
		msString(next.IssuedAt),
		msString(next.ExpiresAt),
		msString(next.AccessExpiresAt),
		s.now().UnixMilli(),
		s.absoluteLifetime.Milliseconds(),
		scope,
	).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, unavailable(errors.New("invalid rotate script response"))
	}
	code, ok := parts[0].(int64)
	if !ok {
		return nil, unavailable(errors.New("invalid rotate script status"))
	}

	switch code {
	case rotateStatusNotFound:
		return nil, ErrNoSession
	case rotateStatusExpired:
		return nil, ErrSessionExpired
	case rotateStatusMismatch:
		return nil, ErrStaleToken
	case rotateStatusRotated:
		if len(parts) < 2 {
			return nil, unavailable(errors.New("missing rotated session payload"))
		}
		nextExp, _ := parts[1].(string)
		prev := recordFromFlat(tenantID, userID, scope, parts[2:])
		prev.ExpiresAt = msTime(nextExp)
		return prev, nil
	default:
		return nil, unavailable(errors.New("unknown rotate script status"))
	}
}

// End deletes the record for scope and returns it. Ending an absent scope
// returns nil, nil.
func (s *Store) End(ctx context.Context, tenantID, userID, scope string) (*Record, error) {
	tenantID = normalizeTenantID(tenantID)
	result, err := endSessionLua.Run(ctx, s.redis,
		[]string{s.key(tenantID, userID, scope), s.userKey(tenantID, userID)},
		scope,
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	flat, _ := result.([]interface{})
	if len(flat) == 0 {
		return nil, nil
	}
	return recordFromFlat(tenantID, userID, scope, flat), nil
}

// EndAll ends every scope listed in the user's index and returns the records
// that still existed.
//
// This is not atomic across scopes: a session started while EndAll runs may
// survive. Callers that need a hard cut also write a user denylist cutoff.
func (s *Store) EndAll(ctx context.Context, tenantID, userID string) ([]Record, error) {
	tenantID = normalizeTenantID(tenantID)
	scopes, err := s.redis.SMembers(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	ended := make([]Record, 0, len(scopes))
	for _, scope := range scopes {
		rec, err := s.End(ctx, tenantID, userID, scope)
		if err != nil {
			return ended, err
		}
		if rec != nil {
			ended = append(ended, *rec)
		}
	}
	return ended, nil
}

// Get returns the current record for scope.
func (s *Store) Get(ctx context.Context, tenantID, userID, scope string) (*Record, error) {
	tenantID = normalizeTenantID(tenantID)
	fields, err := s.redis.HGetAll(ctx, s.key(tenantID, userID, scope)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, ErrNoSession
	}
	return recordFromFields(tenantID, userID, scope, fields), nil
}

// List returns every live record for the user. Index entries whose record
// has expired are pruned.
func (s *Store) List(ctx context.Context, tenantID, userID string) ([]Record, error) {
	tenantID = normalizeTenantID(tenantID)
	userKey := s.userKey(tenantID, userID)

	scopes, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}
	if len(scopes) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(scopes))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, scope := range scopes {
			cmds[i] = pipe.HGetAll(ctx, s.key(tenantID, userID, scope))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]Record, 0, len(scopes))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, scopes[i])
			continue
		}
		out = append(out, *recordFromFields(tenantID, userID, scopes[i], fields))
	}
	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return out, unavailable(err)
		}
	}
	return out, nil
}

// Count returns the number of live sessions for the user.
func (s *Store) Count(ctx context.Context, tenantID, userID string) (int, error) {
	recs, err := s.List(ctx, tenantID, userID)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}
