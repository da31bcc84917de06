package rate

import "errors"

// ErrInvalidConfig is returned by New for a non-positive rate or window.
var ErrInvalidConfig = errors.New("rate limiter requires positive requests and window")
