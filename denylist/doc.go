// Package denylist records revoked token identifiers and per-user revocation
// cutoffs in the shared cache.
//
// Every entry carries a TTL bounded by the lifetime of the tokens it can
// affect, so nothing is stored indefinitely. A user cutoff denies every
// token whose jti was minted at or before the cutoff, which lets a user log
// in again after a ban is lifted without waiting for the entry to expire.
package denylist
