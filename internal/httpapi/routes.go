package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coordination-labs/messaging-gateway/internal/metrics"
	"github.com/coordination-labs/messaging-gateway/internal/middleware"
)

// RouterDeps carries the middleware chain the router composes.
type RouterDeps struct {
	Auth          *middleware.AuthMiddleware
	BroadLimit    *middleware.RateLimiter
	MutationLimit *middleware.RateLimiter
	CORS          *middleware.CORSMiddleware
	Logging       mux.MiddlewareFunc
	Metrics       mux.MiddlewareFunc
}

// Router wires the gateway routes. Every /api/whatsapp route passes the
// broad admission window; group-mutating routes additionally pass the
// mutation window and require authentication.
func (h *Handler) Router(deps RouterDeps) *mux.Router {
	r := mux.NewRouter()

	if deps.CORS != nil {
		r.Use(deps.CORS.Handler)
	}
	if deps.Logging != nil {
		r.Use(deps.Logging)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics)
	}

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/whatsapp").Subrouter()
	if deps.BroadLimit != nil {
		api.Use(deps.BroadLimit.Handler)
	}

	// Connection routes are open: the QR code is itself the credential
	// being distributed.
	api.HandleFunc("/qr-code", h.QRCode).Methods(http.MethodGet)
	api.HandleFunc("/status", h.Status).Methods(http.MethodGet)

	protected := api.NewRoute().Subrouter()
	if deps.Auth != nil {
		protected.Use(deps.Auth.Handler)
	}
	protected.HandleFunc("/groups", h.ListGroups).Methods(http.MethodGet)
	protected.HandleFunc("/groups/recorded", h.RecordedGroups).Methods(http.MethodGet)
	protected.HandleFunc("/groups/{groupId}", h.GroupInfo).Methods(http.MethodGet)

	mutating := protected.NewRoute().Subrouter()
	if deps.MutationLimit != nil {
		mutating.Use(deps.MutationLimit.Handler)
	}
	mutating.HandleFunc("/groups/create", h.CreateGroup).Methods(http.MethodPost)
	mutating.HandleFunc("/groups/{groupId}/members/add", h.AddMembers).Methods(http.MethodPost)
	mutating.HandleFunc("/groups/{groupId}/members/remove", h.RemoveMembers).Methods(http.MethodDelete)

	return r
}
