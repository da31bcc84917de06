// Package middleware adapts authcore.Engine to net/http.
//
// # Guards
//
//   - [Guard] authorizes the access token from the Authorization header or
//     the access_token cookie and stores the result in the request context.
//   - [RequireScope] rejects requests whose token lacks a grant.
//   - [CSRF] enforces double-submit tokens on unsafe methods.
//   - [RateLimit] throttles request volume per client key.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It never parses
// tokens or touches Redis itself; every decision is delegated to the Engine.
package middleware
