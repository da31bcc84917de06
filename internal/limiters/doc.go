// Package limiters holds Redis-backed login throttles.
//
// [LockoutLimiter] counts failed logins per (identity, origin) and reports a
// temporary lockout. Identities are hashed before they reach a cache key.
//
// All limiters are nil-safe: calling any method on a nil receiver is a no-op.
// Policy on backend failure (fail open for login) is decided by the caller.
package limiters
