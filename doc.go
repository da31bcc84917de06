// Package authcore is a stateless-verification authentication core: it mints
// short-lived signed access tokens and rotating refresh tokens, keeps a
// session registry and a revocation denylist in Redis, and locks out
// repeated failed logins.
//
// Any number of processes may serve the same users. They share nothing but
// the Redis deployment and the signing keys, and [Engine] methods are safe
// for concurrent use once [Builder.Build] returns.
//
// # Architecture boundaries
//
// The root package is the public surface: [Engine], [Builder], [Config] and
// value types. Flow orchestration lives in internal/flows; the token codec,
// session registry, denylist and CSRF guard are importable sub-packages.
//
// # Failure policy
//
// Authorize and Refresh fail closed when Redis is unreachable. The login
// lockout fails open: a limiter outage never blocks a correct password.
package authcore
