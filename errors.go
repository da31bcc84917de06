package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/csrf"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
)

var (
	// ErrMalformedToken is returned for bad signatures or structure.
	ErrMalformedToken = token.ErrMalformed
	// ErrExpiredToken is returned once a token is past expiry plus clock skew.
	ErrExpiredToken = token.ErrExpired
	// ErrWrongKind is returned when an access token is presented as a refresh token or vice versa.
	ErrWrongKind = token.ErrWrongKind
	// ErrSigning indicates misconfigured key material. Build fails with it.
	ErrSigning = token.ErrSigning

	// ErrNoSession means the session was never started or has ended.
	ErrNoSession = session.ErrNoSession
	// ErrStaleToken means the refresh token was already rotated or replayed.
	ErrStaleToken = session.ErrStaleToken
	// ErrSessionExpired means the session outlived its refresh or absolute lifetime.
	ErrSessionExpired = session.ErrSessionExpired

	// ErrCSRFMismatch is returned for any double-submit validation failure.
	ErrCSRFMismatch = csrf.ErrMismatch

	// ErrUnauthorized is the only error Authorize returns.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned for an unknown identifier or a wrong secret alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLockedOut is matched by *LockedOutError.
	ErrLockedOut = errors.New("login locked out")
	// ErrRefreshRejected wraps the registry reason for a refused rotation.
	ErrRefreshRejected = errors.New("refresh rejected")
	// ErrAccountBanned is returned by Login and Refresh for a banned user.
	ErrAccountBanned = errors.New("account banned")
	// ErrUserState is returned when the user-state collaborator fails.
	ErrUserState = errors.New("user state unavailable")
	// ErrCredentialUnavailable is returned when the credential verifier fails for a reason other than bad credentials.
	ErrCredentialUnavailable = errors.New("credential verifier unavailable")
	// ErrCacheUnavailable wraps every shared cache failure.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrSessionLimitExceeded is returned by Login when the per-user session cap is reached.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrCSRFDisabled is returned by the CSRF operations when CSRF is off.
	ErrCSRFDisabled = errors.New("csrf disabled")
	// ErrEngineNotReady is returned by a zero or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedOutError reports a temporary login lockout and how long it lasts.
type LockedOutError struct {
	Remaining time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("login locked out for %d seconds", e.RemainingSeconds())
}

// RemainingSeconds returns the lockout remainder rounded up to whole seconds.
func (e *LockedOutError) RemainingSeconds() int {
	secs := int((e.Remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (e *LockedOutError) Is(target error) bool {
	return target == ErrLockedOut
}
