// Package session is the Redis-backed session registry.
//
// Each (tenant, user, device scope) has at most one record holding the jti
// of the only refresh token that may currently be exchanged. Rotation is a
// single Lua compare-and-swap so concurrent refreshes presenting the same
// token produce exactly one winner, across any number of service instances.
//
// This package does not interpret tokens or write denylist entries. The
// Engine does both around the registry calls.
package session
