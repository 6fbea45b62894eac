// Package httpapi is the HTTP transport: routing, authentication
// middleware, error mapping and CSV response streaming.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"orgpulse.org/internal/auth"
	"orgpulse.org/internal/extract"
	"orgpulse.org/internal/obs"
)

// Probes reports reachability of the backing stores for /health.
type Probes struct {
	Store     func(ctx context.Context) error
	Warehouse func(ctx context.Context) error
}

// API is the HTTP layer.
type API struct {
	mux       *http.ServeMux
	svc       *extract.Service
	validator *auth.Validator // nil disables credential validation
	probes    Probes
	version   string
	log       *zap.Logger

	rateBurst  int
	ratePerSec int
	maxBody    int64
}

// New builds the router. A nil validator turns off token checks for every
// endpoint (local development mode).
func New(svc *extract.Service, validator *auth.Validator, probes Probes, version string, log *zap.Logger) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		validator:  validator,
		probes:     probes,
		version:    version,
		log:        log,
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    1 << 20,
	}

	a.mux.HandleFunc("POST /report/org/{orgId}", a.OrgReport)
	a.mux.HandleFunc("POST /report/orgs", a.OrgsReport)
	a.mux.HandleFunc("POST /report/org/enrolment/{orgId}", a.OrgEnrolmentReport)
	a.mux.HandleFunc("POST /report/user/sync/{orgId}", a.UserSyncReport)
	a.mux.HandleFunc("POST /report/org/user/{orgId}", a.OrgUserReport)

	a.mux.HandleFunc("GET /health", a.Health)
	a.mux.HandleFunc("GET /liveness", a.Liveness)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// SetLimits overrides the default rate limit and body size bounds.
func (a *API) SetLimits(burst, perSec int, maxBody int64) {
	a.rateBurst = burst
	a.ratePerSec = perSec
	a.maxBody = maxBody
}

// Handler returns the fully wrapped server handler.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = RequestLog(h, a.log)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// Health reports service status plus backing store reachability.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	stores := map[string]string{}
	healthy := true
	for name, probe := range map[string]func(context.Context) error{
		"postgres":  a.probes.Store,
		"warehouse": a.probes.Warehouse,
	} {
		if probe == nil {
			stores[name] = "unconfigured"
			continue
		}
		if err := probe(ctx); err != nil {
			stores[name] = "unreachable"
			healthy = false
			continue
		}
		stores[name] = "ok"
	}

	code := http.StatusOK
	status := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": a.version,
		"stores":  stores,
	})
}

// Liveness is the bare process probe.
func (a *API) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "alive"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
