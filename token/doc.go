// Package token mints and verifies signed access and refresh tokens.
//
// Verification is pure: it checks signature, structure, kind and expiry
// without touching any cache. Revocation is layered on top by the denylist.
package token
