package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// KeySet is the key material for one token kind. For HS256 PrivateKey holds
// the shared secret. For Ed25519 keys may be raw or PEM encoded.
type KeySet struct {
	PrivateKey []byte
	PublicKey  []byte
	KeyID      string
	VerifyKeys map[string][]byte
}

func (k KeySet) empty() bool {
	return len(k.PrivateKey) == 0 && len(k.PublicKey) == 0 && len(k.VerifyKeys) == 0
}

// Config configures a Codec. When Refresh is empty the access keys sign
// both kinds.
type Config struct {
	SigningMethod SigningMethod
	Access        KeySet
	Refresh       KeySet
	Issuer        string
	Audience      string
	ClockSkew     time.Duration
	MaxFutureIAT  time.Duration
	Now           func() time.Time
}

type keyMaterial struct {
	keyID      string
	signKey    any
	verifyKey  any
	verifyKeys map[string]any
}

// Codec mints and verifies tokens. It is immutable after construction and
// safe for concurrent use.
type Codec struct {
	method       jwt.SigningMethod
	issuer       string
	audience     string
	clockSkew    time.Duration
	maxFutureIAT time.Duration
	now          func() time.Time
	keys         map[Kind]*keyMaterial
}

// NewCodec validates cfg, parses keys and runs a mint/verify probe for each
// kind that has a signing key. Every failure wraps ErrSigning.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.ClockSkew < 0 || cfg.ClockSkew > 5*time.Minute {
		return nil, fmt.Errorf("%w: clock skew must be within [0, 5m]", ErrSigning)
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, fmt.Errorf("%w: invalid MaxFutureIAT", ErrSigning)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Codec{
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		clockSkew:    cfg.ClockSkew,
		maxFutureIAT: cfg.MaxFutureIAT,
		now:          cfg.Now,
		keys:         make(map[Kind]*keyMaterial, 2),
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		c.method = jwt.SigningMethodHS256
	case MethodEd25519:
		c.method = jwt.SigningMethodEdDSA
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrSigning, cfg.SigningMethod)
	}

	access, err := c.loadKeys(cfg.Access)
	if err != nil {
		return nil, fmt.Errorf("%w: access keys: %v", ErrSigning, err)
	}
	refresh := access
	if !cfg.Refresh.empty() {
		refresh, err = c.loadKeys(cfg.Refresh)
		if err != nil {
			return nil, fmt.Errorf("%w: refresh keys: %v", ErrSigning, err)
		}
	}
	c.keys[KindAccess] = access
	c.keys[KindRefresh] = refresh

	for _, kind := range []Kind{KindAccess, KindRefresh} {
		if c.keys[kind].signKey == nil {
			continue
		}
		probe, err := c.Mint("probe", kind, time.Minute)
		if err != nil {
			return nil, err
		}
		if _, err := c.Verify(probe.Raw, kind); err != nil {
			return nil, fmt.Errorf("%w: %s probe failed: %v", ErrSigning, kind, err)
		}
	}
	return c, nil
}

func (c *Codec) loadKeys(ks KeySet) (*keyMaterial, error) {
	km := &keyMaterial{keyID: strings.TrimSpace(ks.KeyID)}

	switch c.method {
	case jwt.SigningMethodHS256:
		if len(ks.PrivateKey) < 32 {
			return nil, errors.New("hs256 secret must be at least 32 bytes")
		}
		km.signKey = ks.PrivateKey
		km.verifyKey = ks.PrivateKey
	default:
		if len(ks.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(ks.PrivateKey)
			if err != nil {
				return nil, err
			}
			km.signKey = priv
			km.verifyKey = priv.Public()
		}
		if len(ks.PublicKey) > 0 {
			pub, err := parseEdPublicKey(ks.PublicKey)
			if err != nil {
				return nil, err
			}
			km.verifyKey = pub
		}
	}

	if len(ks.VerifyKeys) > 0 {
		km.verifyKeys = make(map[string]any, len(ks.VerifyKeys))
		for kid, raw := range ks.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			key, err := c.verifyKeyFromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid verify key for kid %q: %w", kid, err)
			}
			km.verifyKeys[kid] = key
		}
		if km.keyID != "" && km.signKey != nil {
			if _, ok := km.verifyKeys[km.keyID]; !ok {
				return nil, errors.New("KeyID is not present in VerifyKeys")
			}
		}
	}
	if km.verifyKey == nil && len(km.verifyKeys) == 0 {
		return nil, errors.New("no verification key configured")
	}
	return km, nil
}

func (c *Codec) verifyKeyFromBytes(raw []byte) (any, error) {
	if c.method == jwt.SigningMethodHS256 {
		if len(raw) < 32 {
			return nil, errors.New("hs256 secret must be at least 32 bytes")
		}
		return raw, nil
	}
	return parseEdPublicKey(raw)
}

// Mint signs a new token for subject. It only fails on misconfiguration or
// unusable arguments, and every failure wraps ErrSigning.
func (c *Codec) Mint(subject string, kind Kind, ttl time.Duration, opts ...MintOption) (*Token, error) {
	return c.mintAt(c.now(), subject, kind, ttl, opts...)
}

// MintAfter is Mint with a lower bound on the issue time: when the local
// clock has not passed floor, the token is issued 1ms after it. The jti
// timestamp is then strictly later than floor at millisecond precision.
func (c *Codec) MintAfter(floor time.Time, subject string, kind Kind, ttl time.Duration, opts ...MintOption) (*Token, error) {
	now := c.now()
	if !floor.IsZero() && now.UnixMilli() <= floor.UnixMilli() {
		now = time.UnixMilli(floor.UnixMilli() + 1)
	}
	return c.mintAt(now, subject, kind, ttl, opts...)
}

func (c *Codec) mintAt(now time.Time, subject string, kind Kind, ttl time.Duration, opts ...MintOption) (*Token, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrSigning)
	}
	if !kind.valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrSigning, kind)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be > 0", ErrSigning)
	}
	km := c.keys[kind]
	if km == nil || km.signKey == nil {
		return nil, fmt.Errorf("%w: no signing key for %s tokens", ErrSigning, kind)
	}

	jti, err := internal.NewJTI(now)
	if err != nil {
		return nil, fmt.Errorf("%w: jti: %v", ErrSigning, err)
	}

	claims := &Claims{
		Kind:    kind,
		Version: ClaimsVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if c.audience != "" {
		claims.Audience = jwt.ClaimStrings{c.audience}
	}
	for _, opt := range opts {
		opt(claims)
	}

	tok := jwt.NewWithClaims(c.method, claims)
	if km.keyID != "" {
		tok.Header["kid"] = km.keyID
	}
	raw, err := tok.SignedString(km.signKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return &Token{Raw: raw, Claims: claims}, nil
}

// Verify checks signature, structure and expiry of raw and that it carries
// expectedKind. The verification key is chosen by the embedded kind, so a
// refresh token can only verify as refresh if it was signed by the refresh
// key.
func (c *Codec) Verify(raw string, expectedKind Kind) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMalformed
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.clockSkew > 0 {
		options = append(options, jwt.WithLeeway(c.clockSkew))
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		options = append(options, jwt.WithAudience(c.audience))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(raw, &Claims{}, c.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	if claims.Subject == "" || claims.Version != ClaimsVersion {
		return nil, ErrMalformed
	}
	if _, err := internal.JTITime(claims.ID); err != nil {
		return nil, ErrMalformed
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(c.now().Add(c.maxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformed)
	}
	if claims.Kind != expectedKind {
		return nil, ErrWrongKind
	}
	return claims, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != c.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	claims, ok := t.Claims.(*Claims)
	if !ok || !claims.Kind.valid() {
		return nil, errors.New("missing or unknown token kind")
	}
	km := c.keys[claims.Kind]

	if len(km.verifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := km.verifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if km.keyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != km.keyID {
			return nil, errors.New("unknown kid")
		}
	}
	return km.verifyKey, nil
}

// ClockSkew returns the configured leeway.
func (c *Codec) ClockSkew() time.Duration { return c.clockSkew }

// JTITime returns the mint time encoded in a jti.
func JTITime(jti string) (time.Time, error) {
	t, err := internal.JTITime(jti)
	if err != nil {
		return time.Time{}, ErrMalformed
	}
	return t, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
