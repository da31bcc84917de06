// Package rate provides an in-process keyed token-bucket limiter used by
// the HTTP adapters to throttle login and refresh request volume per client.
package rate
