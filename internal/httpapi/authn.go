package httpapi

import (
	"net/http"
	"strings"

	"orgpulse.org/internal/auth"
)

// tokenHeader carries the bearer credential on report requests.
const tokenHeader = "x-authenticated-user-token"

// withAuth verifies the bearer credential on every report endpoint and
// attaches the resulting identity to the request context. Non-report
// paths (health, liveness, metrics) stay open. A nil validator disables
// the check entirely.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.validator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/report/") {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(tokenHeader))
		if token == "" {
			respondError(w, http.StatusUnauthorized, "missing "+tokenHeader+" header")
			return
		}
		identity, err := a.validator.Verify(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	})
}

// scope returns the verified identity for the request, or nil when
// validation is disabled.
func (a *API) scope(r *http.Request) *auth.Identity {
	if a.validator == nil {
		return nil
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		// withAuth always runs first on report paths; treat a missing
		// identity as an empty scope so authorization fails closed.
		return &auth.Identity{}
	}
	return &id
}
