package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tiergate/internal/gate"
	"tiergate/internal/models"
	"tiergate/internal/ratelimit"

	"github.com/gorilla/mux"
)

type contextKey string

const authorizedKey contextKey = "gate_authorized"

// CurrentUser returns the user established by an authorized route, or nil.
func CurrentUser(r *http.Request) *models.User {
	if d, ok := r.Context().Value(authorizedKey).(gate.Decision); ok {
		return d.User
	}
	return nil
}

func currentToken(r *http.Request) string {
	if d, ok := r.Context().Value(authorizedKey).(gate.Decision); ok {
		return d.Token
	}
	return ""
}

// gateMiddleware runs every request through gate.Check. Rate limit headers
// are set whenever a counter was consulted. Anonymous callers are keyed on
// the address proxies resolves, which is the TCP peer unless it is trusted.
func gateMiddleware(g *gate.Gate, proxies *ratelimit.TrustedProxies) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := g.Check(r.Context(), gate.Request{
				Authorization: r.Header.Get("Authorization"),
				Path:          r.URL.Path,
				RemoteAddr:    proxies.ClientIP(r),
			})
			if err != nil {
				writeUnavailable(w, "Service is starting")
				return
			}

			if d.Counted {
				ratelimit.SetHeaders(w.Header(), d.Info, !d.Allowed())
			}
			if !d.Allowed() {
				writeDecision(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authorized wraps next with gate.Authorize for req.
func authorized(g *gate.Gate, req gate.Requirement, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := g.Authorize(r.Context(), r.Header.Get("Authorization"), req)
		if err != nil {
			var rej *gate.Rejection
			if !errors.As(err, &rej) {
				writeUnavailable(w, "Service is starting")
				return
			}
			if d.StatusCode == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			writeDecision(w, d)
			return
		}

		ctx := context.WithValue(r.Context(), authorizedKey, d)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeDecision(w http.ResponseWriter, d gate.Decision) {
	writeJSON(w, d.StatusCode, models.NewErrorResponse(d.Message, d.Code))
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusServiceUnavailable, models.NewErrorResponse(message, models.ErrorCodeServiceUnavailable))
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(proxies *ratelimit.TrustedProxies) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			slog.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"remote_addr", proxies.ClientIP(r),
			)
		})
	}
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError,
					models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
