package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrInvalidJTI reports a token identifier that is not a canonical ULID.
var ErrInvalidJTI = errors.New("invalid jti")

var (
	entropyOnce sync.Once
	entropyMu   sync.Mutex
	entropy     *ulid.MonotonicEntropy
)

// NewJTI returns a ULID stamped with t. Identifiers minted within the same
// millisecond stay strictly increasing.
func NewJTI(t time.Time) (string, error) {
	entropyOnce.Do(func() {
		entropy = ulid.Monotonic(rand.Reader, 0)
	})

	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// JTITime extracts the millisecond timestamp embedded in a ULID jti.
func JTITime(jti string) (time.Time, error) {
	id, err := ulid.ParseStrict(strings.TrimSpace(jti))
	if err != nil {
		return time.Time{}, ErrInvalidJTI
	}
	return ulid.Time(id.Time()), nil
}

// NewScopeID returns an opaque device/session scope identifier.
func NewScopeID() string {
	return uuid.NewString()
}

// RandomToken returns size random bytes encoded as unpadded base64url.
func RandomToken(size int) (string, error) {
	if size <= 0 {
		return "", errors.New("token size must be > 0")
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint hashes the joined parts so caller-supplied identities never
// appear verbatim in cache keys.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

var keyPartEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// KeyPart escapes one component of a colon-delimited cache key so that
// distinct component tuples never produce the same key. Components without
// '%' or ':' are returned unchanged.
func KeyPart(s string) string {
	if !strings.ContainsAny(s, "%:") {
		return s
	}
	return keyPartEscaper.Replace(s)
}
