package api

import (
	"net/http"

	"go.uber.org/zap"

	"naming_events/pkg/naming"
	"naming_events/pkg/security"
)

// StatsFunc returns the body of GET /stats
type StatsFunc func() any

// NewRouter serves member commands keyed by the X-User-ID header and admin
// commands behind RequireAdmin.
func NewRouter(engine *naming.Engine, health HealthChecker, stats StatsFunc, tokens *security.TokenManager, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	events := NewEventHandler(engine, logger)
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, WithLogging(logger, h))
	}
	admin := func(pattern string, h http.HandlerFunc) {
		route(pattern, RequireAdmin(tokens, logger, h))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if !health.IsHealthy(r.Context()) {
			ErrorResponse(w, logger, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		JSONResponse(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		JSONResponse(w, logger, http.StatusOK, stats())
	})

	route("GET /tenants/{tenant}/event", events.Status)
	route("POST /tenants/{tenant}/event/submissions", events.Submit)
	route("POST /tenants/{tenant}/event/votes", events.Vote)

	admin("POST /tenants/{tenant}/event", events.Start)
	admin("DELETE /tenants/{tenant}/event", events.Cancel)
	admin("DELETE /tenants/{tenant}/event/candidates/{name}", events.Remove)
	admin("POST /tenants/{tenant}/event/extend", events.Extend)
	admin("POST /tenants/{tenant}/event/force-end", events.ForceEnd)
	admin("GET /tenants/{tenant}/event/tally", events.Tally)
	admin("PUT /tenants/{tenant}/destination", events.SetDestination)

	return mux
}
