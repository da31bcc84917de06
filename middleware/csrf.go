package middleware

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/csrf"
)

// CSRF validates the double-submitted token on unsafe methods against the
// session scope of the authorized request. It must run behind Guard. With
// CSRF disabled on the engine it passes everything through.
func CSRF(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			var cookie string
			if c, err := r.Cookie(csrf.CookieName); err == nil {
				cookie = c.Value
			}
			err := engine.ValidateCSRF(res.SessionScope, r.Header.Get(csrf.HeaderName), cookie)
			switch {
			case err == nil, errors.Is(err, authcore.ErrCSRFDisabled):
				next.ServeHTTP(w, r)
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
			}
		})
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
