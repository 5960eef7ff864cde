package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/castradar/sponsor-analytics/internal/domain"
)

// TenantHeader carries the tenant identity resolved at the edge. The
// session/JWT verification happens upstream; by the time a request
// reaches the core routes the identity is already a plain tenant id.
const TenantHeader = "X-Tenant-ID"

// TenantMiddleware requires a tenant identity on every core route and
// stashes it on the request context.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(TenantHeader)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "missing tenant identity")
			return
		}
		tenantID, err := uuid.Parse(raw)
		if err != nil || tenantID == uuid.Nil {
			respondError(w, http.StatusUnauthorized, "invalid tenant identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(domain.WithTenant(r.Context(), tenantID)))
	})
}
