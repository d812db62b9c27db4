package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/celluloid/internal/adapter/http/middleware"
	"github.com/bnema/celluloid/internal/adapter/http/ratelimit"
	"github.com/bnema/celluloid/internal/infrastructure/logger"
)

const (
	CookieName     = "celluloid_session"
	CookieMaxAge   = 7 * 24 * 60 * 60
	CookiePath     = "/"
	CookieSameSite = http.SameSiteStrictMode
)

type AuthService interface {
	Enabled() bool
	ValidateKey(key string) error
	GenerateToken() string
	ValidateToken(token string) error
}

// Authenticator guards the API with the API key and the dashboard with a
// session cookie obtained by logging in with that same key. Failed attempts
// are counted per client address.
type Authenticator struct {
	auth        AuthService
	limiter     *ratelimit.Limiter
	backoff     *ratelimit.Backoff
	behindProxy bool
	sleep       func(ctx context.Context, d time.Duration)
}

func NewAuthenticator(auth AuthService, limiter *ratelimit.Limiter, backoff *ratelimit.Backoff, behindProxy bool) *Authenticator {
	return &Authenticator{
		auth:        auth,
		limiter:     limiter,
		backoff:     backoff,
		behindProxy: behindProxy,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RequireKey accepts X-API-Key or a bearer token. A dashboard session only
// authorizes read-only requests.
func (a *Authenticator) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.auth.Enabled() || (isReadOnly(r.Method) && a.hasSession(r)) {
			next.ServeHTTP(w, r)
			return
		}

		client := clientIP(r, a.behindProxy)
		if ok, wait := a.limiter.Allow(client); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			writeErrorStatus(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many failed authentication attempts")
			return
		}

		key := apiKey(r)
		if key == "" {
			writeErrorStatus(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing API key")
			return
		}
		if err := a.auth.ValidateKey(key); err != nil {
			failures := a.limiter.Fail(client)
			logger.Warn.Printf("rejected API key from %s (%d recent failures)", client, failures)
			writeErrorStatus(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
			return
		}

		a.limiter.Succeed(client)
		next.ServeHTTP(w, r)
	})
}

// RequireSession redirects to the login page when no valid session exists.
func (a *Authenticator) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.auth.Enabled() || a.hasSession(r) {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	})
}

func (a *Authenticator) hasSession(r *http.Request) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return a.auth.ValidateToken(cookie.Value) == nil
}

func (a *Authenticator) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.auth.Enabled() {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}

		csrf := middleware.CSRFToken(r.Context())
		if r.Method == http.MethodGet {
			msg := ""
			if r.URL.Query().Get("error") == "1" {
				msg = "Invalid API key"
			}
			renderHTML(w, r, http.StatusOK, LoginPage(msg, csrf))
			return
		}

		client := clientIP(r, a.behindProxy)
		if ok, wait := a.limiter.Allow(client); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			renderHTML(w, r, http.StatusTooManyRequests, LoginPage("Too many attempts, try again later", csrf))
			return
		}

		if err := a.auth.ValidateKey(r.PostFormValue("api_key")); err != nil {
			failures := a.limiter.Fail(client)
			logger.Warn.Printf("failed dashboard login from %s (%d recent failures)", client, failures)
			a.sleep(r.Context(), a.backoff.Delay(failures))
			http.Redirect(w, r, "/login?error=1", http.StatusSeeOther)
			return
		}

		a.limiter.Succeed(client)
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    a.auth.GenerateToken(),
			MaxAge:   CookieMaxAge,
			Path:     CookiePath,
			Secure:   middleware.IsTLS(r),
			HttpOnly: true,
			SameSite: CookieSameSite,
		})
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	}
}

func (a *Authenticator) Logout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    "",
			MaxAge:   -1,
			Path:     CookiePath,
			Secure:   middleware.IsTLS(r),
			HttpOnly: true,
			SameSite: CookieSameSite,
		})
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func apiKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// clientIP trusts X-Forwarded-For and X-Real-IP only behind a proxy.
func clientIP(r *http.Request, behindProxy bool) string {
	if behindProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
