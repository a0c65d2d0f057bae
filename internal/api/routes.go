package api

import (
	"net/http"

	"tiergate/internal/gate"
	"tiergate/internal/models"
	"tiergate/internal/quota"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes. Every /api/v1 route passes through
// the gate; /health does not.
func SetupRoutes(handlers *Handlers, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	g := handlers.gate
	user := gate.Requirement{}
	superuser := gate.Requirement{Superuser: true}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(gateMiddleware(g, handlers.proxies))

	api.HandleFunc("/login", handlers.Login).Methods("POST")
	api.HandleFunc("/refresh", handlers.Refresh).Methods("POST")
	api.Handle("/logout", authorized(g, user, handlers.Logout)).Methods("POST")

	api.HandleFunc("/user", handlers.CreateUser).Methods("POST")
	// Registered before /user/{username} so "me" is not taken as a username.
	api.Handle("/user/me", authorized(g, user, handlers.Me)).Methods("GET")
	api.HandleFunc("/user/{username}", handlers.GetUser).Methods("GET")
	api.Handle("/user/{username}", authorized(g, user, handlers.DeleteUser)).Methods("DELETE")
	api.HandleFunc("/user/{username}/tier", handlers.GetUserTier).Methods("GET")
	api.Handle("/user/{username}/tier", authorized(g, superuser, handlers.UpdateUserTier)).Methods("PATCH")
	api.Handle("/user/{username}/rate_limits", authorized(g, superuser, handlers.UserRateLimits)).Methods("GET")

	api.HandleFunc("/tiers", handlers.ListTiers).Methods("GET")
	api.Handle("/tier", authorized(g, superuser, handlers.CreateTier)).Methods("POST")
	api.HandleFunc("/tier/{name}", handlers.GetTier).Methods("GET")
	api.HandleFunc("/tier/{tier_name}/rate_limits", handlers.ListRateLimits).Methods("GET")
	api.Handle("/tier/{tier_name}/rate_limit", authorized(g, superuser, handlers.CreateRateLimit)).Methods("POST")
	api.HandleFunc("/tier/{tier_name}/rate_limit/{id}", handlers.GetRateLimit).Methods("GET")
	api.Handle("/tier/{tier_name}/rate_limit/{id}", authorized(g, superuser, handlers.UpdateRateLimit)).Methods("PATCH")
	api.Handle("/tier/{tier_name}/rate_limit/{id}", authorized(g, superuser, handlers.DeleteRateLimit)).Methods("DELETE")

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	router.Use(loggingMiddleware(handlers.proxies))
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Not found", models.ErrorCodeNotFound))
	})

	return router
}

// RegisterRouteTemplates feeds every path template of the router to the
// normalizer, so quota keys follow the routes actually served.
func RegisterRouteTemplates(router *mux.Router, normalizer *quota.Normalizer) error {
	return router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		tpl, err := route.GetPathTemplate()
		if err != nil {
			// Routes without a path, such as prefix-only subrouters.
			return nil
		}
		normalizer.Register(tpl)
		return nil
	})
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, models.NewErrorResponse("Method not allowed", models.ErrorCodeBadRequest))
}
