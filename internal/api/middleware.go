package api

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"

	"github.com/gouthamgo/privascan/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// AuthMiddleware accepts an API key (Bearer token, X-API-Key header or
// api_key query parameter) or HTTP basic auth checked against a bcrypt hash.
func AuthMiddleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}

	validKey := func(candidate string) bool {
		if candidate == "" {
			return false
		}
		ok := false
		for _, k := range keys {
			if subtle.ConstantTimeCompare(k, []byte(candidate)) == 1 {
				ok = true
			}
		}
		return ok
	}

	validBasic := func(r *http.Request) bool {
		if cfg.BasicAuthUser == "" || cfg.BasicAuthPassHash == "" {
			return false
		}
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(cfg.BasicAuthUser)) != 1 {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(cfg.BasicAuthPassHash), []byte(pass)) == nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && validKey(token) {
				next.ServeHTTP(w, r)
				return
			}

			if validKey(r.Header.Get("X-API-Key")) {
				next.ServeHTTP(w, r)
				return
			}

			// WebSocket clients cannot set headers from browsers.
			if validKey(r.URL.Query().Get("api_key")) {
				next.ServeHTTP(w, r)
				return
			}

			if validBasic(r) {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.BasicAuthUser != "" {
				w.Header().Set("WWW-Authenticate", `Basic realm="privascan"`)
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

// CORSMiddleware adds CORS headers for the configured origins. An empty
// list or "*" allows any origin.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	anyOrigin := len(origins) == 0 || slices.Contains(origins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case anyOrigin:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self'",
	"style-src 'self' 'unsafe-inline'",
	"font-src 'self'",
	"img-src 'self' data: blob:",
	"connect-src 'self'",
	"frame-ancestors 'none'",
	"base-uri 'self'",
	"form-action 'self'",
	"object-src 'none'",
}, "; ")

// SecurityHeaders sets the browser hardening headers on every response.
// HSTS is only sent when the server terminates TLS itself.
func SecurityHeaders(tls bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), interest-cohort=(), payment=(), usb=(), bluetooth=(), serial=(), hid=()")
			h.Set("Content-Security-Policy", contentSecurityPolicy)
			if tls {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MaxBytes limits request bodies to limit bytes.
func MaxBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
