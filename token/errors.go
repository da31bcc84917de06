package token

import "errors"

var (
	// ErrMalformed covers bad signatures, bad structure and failed claim checks.
	ErrMalformed = errors.New("malformed token")
	// ErrExpired is returned once now >= exp + clock skew.
	ErrExpired = errors.New("token expired")
	// ErrWrongKind is returned when an access token is presented as refresh or vice versa.
	ErrWrongKind = errors.New("wrong token kind")
	// ErrSigning indicates misconfigured key material and is fatal at startup.
	ErrSigning = errors.New("token signing misconfigured")
)
