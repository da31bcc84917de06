// Package csrf issues and validates stateless double-submit CSRF tokens.
//
// A token is bound to a session scope by an HMAC, so it cannot be minted
// without the server secret, and it is never stored server side. The client
// receives it in a readable cookie and echoes it in a request header.
package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
)

const (
	// HeaderName carries the echoed token.
	HeaderName = "X-CSRF-Token"
	// CookieName carries the issued token. It must not be HttpOnly.
	CookieName = "csrf_token"

	version   = "v1"
	nonceSize = 32
)

var (
	// ErrMismatch is the single error surfaced for any validation failure.
	ErrMismatch = errors.New("csrf token mismatch")

	errMissing  = errors.New("csrf token missing")
	errNotEqual = errors.New("csrf header and cookie differ")
	errFormat   = errors.New("csrf token malformed")
	errMAC      = errors.New("csrf token signature invalid")
	errExpired  = errors.New("csrf token expired")
)

// Guard issues and validates tokens with one secret.
type Guard struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// New creates a Guard. The secret must be at least 32 bytes.
func New(secret []byte, ttl time.Duration) (*Guard, error) {
	if len(secret) < 32 {
		return nil, errors.New("csrf secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("csrf ttl must be > 0")
	}
	return &Guard{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock returns a copy of g reading time from now.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	cp := *g
	cp.now = now
	return &cp
}

// Issue returns a fresh token bound to scope.
func (g *Guard) Issue(scope string) (string, error) {
	nonce, err := internal.RandomToken(nonceSize)
	if err != nil {
		return "", err
	}
	exp := strconv.FormatInt(g.now().Add(g.ttl).Unix(), 10)
	return version + "." + nonce + "." + exp + "." + g.mac(scope, nonce, exp), nil
}

// Validate checks a double-submitted token. Every failure is ErrMismatch;
// the cause is wrapped for logging.
func (g *Guard) Validate(scope, header, cookie string) error {
	if header == "" || cookie == "" {
		return fmt.Errorf("%w: %w", ErrMismatch, errMissing)
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) != 1 {
		return fmt.Errorf("%w: %w", ErrMismatch, errNotEqual)
	}

	parts := strings.Split(header, ".")
	if len(parts) != 4 || parts[0] != version {
		return fmt.Errorf("%w: %w", ErrMismatch, errFormat)
	}
	nonce, exp, sig := parts[1], parts[2], parts[3]

	want := g.mac(scope, nonce, exp)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return fmt.Errorf("%w: %w", ErrMismatch, errMAC)
	}

	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMismatch, errFormat)
	}
	if !g.now().Before(time.Unix(expUnix, 0)) {
		return fmt.Errorf("%w: %w", ErrMismatch, errExpired)
	}
	return nil
}

func (g *Guard) mac(scope, nonce, exp string) string {
	m := hmac.New(sha256.New, g.secret)
	m.Write([]byte(version + "|" + scope + "|" + nonce + "|" + exp))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}
