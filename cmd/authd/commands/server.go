package commands

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/csrf"
	"github.com/MrEthical07/authcore/internal/logx"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/userdir"
	"github.com/MrEthical07/authcore/middleware"
)

const (
	refreshCookie     = "refresh_token"
	refreshCookiePath = "/refresh"
)

type serverOptions struct {
	SecureCookies bool
	TenantHeader  string
	// Proxies may report the client address in forwarding headers. Nil
	// means the TCP peer is the client.
	Proxies *middleware.TrustedProxies
}

// server holds the HTTP surface of authd.
type server struct {
	engine  *authcore.Engine
	users   *userdir.Directory
	limiter *rate.Limiter
	metrics http.Handler
	logger  *slog.Logger
	opts    serverOptions
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	throttle := middleware.RateLimit(s.limiter, s.opts.Proxies.ClientIP)
	guard := middleware.Guard(s.engine)
	csrfCheck := middleware.CSRF(s.engine)

	mux.Handle("POST /login", chain(http.HandlerFunc(s.handleLogin), throttle))
	mux.Handle("POST /refresh", chain(http.HandlerFunc(s.handleRefresh), throttle))
	mux.Handle("POST /logout", chain(http.HandlerFunc(s.handleLogout), guard, csrfCheck))
	mux.Handle("POST /logout/all", chain(http.HandlerFunc(s.handleLogoutAll), guard, csrfCheck))
	mux.Handle("GET /me", chain(http.HandlerFunc(s.handleMe), guard))
	mux.Handle("GET /me/sessions", chain(http.HandlerFunc(s.handleSessions), guard))
	mux.Handle("POST /admin/ban/{user}", chain(http.HandlerFunc(s.handleBan), guard, middleware.RequireScope("admin"), csrfCheck))
	mux.Handle("DELETE /admin/ban/{user}", chain(http.HandlerFunc(s.handleUnban), guard, middleware.RequireScope("admin"), csrfCheck))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return logx.HTTPMiddleware(s.logger)(mux)
}

// requestContext carries the request attributes the engine records.
func (s *server) requestContext(r *http.Request) *http.Request {
	ctx := authcore.WithClientIP(r.Context(), s.opts.Proxies.ClientIP(r))
	ctx = authcore.WithUserAgent(ctx, r.UserAgent())
	if s.opts.TenantHeader != "" {
		if tenant := r.Header.Get(s.opts.TenantHeader); tenant != "" {
			ctx = authcore.WithTenantID(ctx, tenant)
		}
	}
	return r.WithContext(ctx)
}

type loginRequest struct {
	Identifier  string `json:"identifier"`
	Password    string `json:"password"`
	DeviceScope string `json:"device_scope,omitempty"`
}

type tokenResponse struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	SessionScope    string    `json:"session_scope"`
	CSRFToken       string    `json:"csrf_token,omitempty"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	r = s.requestContext(r)
	ctx := r.Context()
	if req.DeviceScope != "" {
		ctx = authcore.WithDeviceScope(ctx, req.DeviceScope)
	}
	pair, err := s.engine.Login(ctx, req.Identifier, req.Password)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	s.writeTokens(w, pair)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookie)
	if err != nil || c.Value == "" {
		writeError(w, http.StatusUnauthorized, "missing_refresh_token")
		return
	}

	r = s.requestContext(r)
	pair, err := s.engine.Refresh(r.Context(), c.Value)
	if err != nil {
		if errors.Is(err, authcore.ErrRefreshRejected) || errors.Is(err, authcore.ErrAccountBanned) {
			s.clearCookies(w)
		}
		s.writeAuthError(w, r, err)
		return
	}
	s.writeTokens(w, pair)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := s.engine.Logout(r.Context(), res.UserID, res.SessionScope); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	s.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	if err := s.engine.LogoutAll(r.Context(), res.UserID); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	s.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       res.UserID,
		"tenant_id":     res.TenantID,
		"session_scope": res.SessionScope,
		"scope":         res.Scope,
		"expires_at":    res.ExpiresAt,
	})
}

type sessionView struct {
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	sessions, err := s.engine.Sessions(r.Context(), res.UserID)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, si := range sessions {
		out = append(out, sessionView{
			Scope:     si.Scope,
			CreatedAt: si.CreatedAt,
			ExpiresAt: si.ExpiresAt,
			Current:   si.Scope == res.SessionScope,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleBan(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	s.users.SetBanned(userID, true)
	if err := s.engine.Ban(r.Context(), userID); err != nil {
		s.writeAuthError(w, r, err)
		return
	}
	logx.FromContext(r.Context()).Info("user banned", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUnban(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	s.users.SetBanned(userID, false)
	logx.FromContext(r.Context()).Info("user unbanned", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health(r.Context())
	status := http.StatusOK
	body := map[string]any{
		"session_store": h.SessionStoreOK,
		"denylist":      h.DenylistOK,
		"latency_ms":    h.Latency.Milliseconds(),
	}
	if h.Err != nil {
		status = http.StatusServiceUnavailable
		body["error"] = h.Err.Error()
	}
	writeJSON(w, status, body)
}

func (s *server) writeTokens(w http.ResponseWriter, pair *authcore.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	if pair.CSRFToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     csrf.CookieName,
			Value:    pair.CSRFToken,
			Path:     "/",
			Expires:  pair.RefreshExpiresAt,
			Secure:   s.opts.SecureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
		SessionScope:    pair.SessionScope,
		CSRFToken:       pair.CSRFToken,
	})
}

func (s *server) clearCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     csrf.CookieName,
		Path:     "/",
		MaxAge:   -1,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// writeAuthError maps engine errors to statuses. Bodies carry a stable code
// and never the underlying cause.
func (s *server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *authcore.LockedOutError
	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", strconv.Itoa(locked.RemainingSeconds()))
		writeError(w, http.StatusTooManyRequests, "locked_out")
	case errors.Is(err, authcore.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
	case errors.Is(err, authcore.ErrRefreshRejected):
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
	case errors.Is(err, authcore.ErrAccountBanned):
		writeError(w, http.StatusForbidden, "account_banned")
	case errors.Is(err, authcore.ErrSessionLimitExceeded):
		writeError(w, http.StatusConflict, "session_limit_exceeded")
	case errors.Is(err, authcore.ErrCacheUnavailable),
		errors.Is(err, authcore.ErrCredentialUnavailable),
		errors.Is(err, authcore.ErrUserState):
		logx.FromContext(r.Context()).Error("auth backend unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily_unavailable")
	default:
		logx.FromContext(r.Context()).Error("auth request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
