package api

import (
	"net/http"

	"github.com/ternarybob/netctl/internal/apperr"
	"github.com/ternarybob/netctl/internal/tenant"
)

// principalHeader carries the authenticated user id, set by whatever
// upstream authentication layer validates the JWT/API-key.
// requestedCustomerHeader lets a multi-membership caller pick which
// tenant it is acting as.
const (
	principalHeader         = "X-User-Id"
	requestedCustomerHeader = "X-Customer-Id"
)

// resolveContext resolves the caller's TenantContext from request
// headers, the glue between the transport layer and internal/tenant.
func resolveContext(r *http.Request, core *tenant.Core) (tenant.TenantContext, error) {
	userID := r.Header.Get(principalHeader)
	if userID == "" {
		return tenant.TenantContext{}, apperr.ErrUnauthenticated
	}

	var requested *string
	if v := r.Header.Get(requestedCustomerHeader); v != "" {
		requested = &v
	}
	if requested == nil {
		if v := r.URL.Query().Get("customer_id"); v != "" {
			requested = &v
		}
	}

	ctx, err := core.ResolveContext(r.Context(), userID, requested)
	if err != nil {
		return tenant.TenantContext{}, err
	}
	return ctx, nil
}
